package planner_test

import (
	"context"
	"errors"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport"
	"lumen-gatherer/internal/transport/fake"
	mocktransport "lumen-gatherer/test/unit/doubles/transport"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

const (
	kitchen protocol.Serial = "d073d5000001"
	den     protocol.Serial = "d073d5000002"
	hallway protocol.Serial = "d073d5000003"
	ceiling protocol.Serial = "d073d5000004"
	missing protocol.Serial = "d073d50000ff"
)

func plansFor(labels ...string) planner.Plans {
	plans, err := planner.MakePlans(planner.DefaultRegistry, labels, nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return plans
}

func countType(types []protocol.PacketType, t protocol.PacketType) int {
	n := 0
	for _, sent := range types {
		if sent == t {
			n++
		}
	}
	return n
}

var _ = ginkgo.Describe("Gatherer", func() {
	var (
		ctx      context.Context
		fleet    *fake.Fleet
		clock    *planner.FakeClock
		gatherer *planner.Gatherer
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		fleet = fake.NewFleet(
			fake.Bulb(kitchen, "kitchen"),
			fake.Bulb(den, "den"),
		)
		clock = planner.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		gatherer = planner.NewGatherer(fleet, discovery.NewFinder(fleet, nil, 0), clock,
			planner.WithMessageTimeout(50*time.Millisecond))
	})

	ginkgo.Context("GatherAll", func() {
		ginkgo.When("one device ignores a request", func() {
			ginkgo.It("should return what was gathered along with the timeout", func() {
				fleet.Ignore(den, protocol.GetPower)

				results, err := gatherer.GatherAll(ctx, plansFor("label", "power"), discovery.Serials(kitchen, den))

				var bad *planner.BadRunWithResults
				gomega.Expect(errors.As(err, &bad)).To(gomega.BeTrue())
				gomega.Expect(bad.Errors).To(gomega.HaveLen(1))
				var timeout *transport.TimeoutError
				gomega.Expect(errors.As(bad.Errors[0], &timeout)).To(gomega.BeTrue())
				gomega.Expect(timeout.Serial).To(gomega.Equal(den))
				gomega.Expect(timeout.Type).To(gomega.Equal(protocol.GetPower))

				gomega.Expect(results).To(gomega.Equal(map[protocol.Serial]planner.DeviceResult{
					kitchen: {Serial: kitchen, Complete: true, Info: map[string]planner.Result{
						"label": planner.ResultOf("kitchen"),
						"power": planner.ResultOf(planner.Power{Level: 65535, On: true}),
					}},
					den: {Serial: den, Complete: false, Info: map[string]planner.Result{
						"label": planner.ResultOf("den"),
					}},
				}))
				gomega.Expect(bad.Results).To(gomega.Equal(results))
			})
		})

		ginkgo.When("every device answers", func() {
			ginkgo.It("should return no error", func() {
				results, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.All())

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(results).To(gomega.HaveLen(2))
				gomega.Expect(results[kitchen].Complete).To(gomega.BeTrue())
				gomega.Expect(results[den].Info["label"]).To(gomega.Equal(planner.ResultOf("den")))
			})
		})

		ginkgo.When("a device cannot be found", func() {
			ginkgo.It("should report it and still gather the others", func() {
				results, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen, missing))

				gomega.Expect(err).To(gomega.MatchError(planner.ErrDeviceNotFound))
				var notFound *planner.DeviceNotFoundError
				gomega.Expect(errors.As(err, &notFound)).To(gomega.BeTrue())
				gomega.Expect(notFound.Serial).To(gomega.Equal(missing))
				gomega.Expect(results).To(gomega.HaveKey(kitchen))
				gomega.Expect(results).NotTo(gomega.HaveKey(missing))
			})
		})

		ginkgo.When("no plans are given", func() {
			ginkgo.It("should send nothing", func() {
				results, err := gatherer.GatherAll(ctx, planner.Plans{}, discovery.All())

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(results).To(gomega.BeEmpty())
				gomega.Expect(fleet.Sent(kitchen)).To(gomega.BeEmpty())
			})
		})

		ginkgo.When("the call is cancelled", func() {
			ginkgo.It("should return promptly with the context error", func() {
				fleet.SetDelay(kitchen, time.Hour)
				cancelled, cancel := context.WithCancel(ctx)
				time.AfterFunc(50*time.Millisecond, cancel)

				started := time.Now()
				_, err := gatherer.GatherAll(cancelled, plansFor("label"), discovery.Serials(kitchen))

				gomega.Expect(err).To(gomega.MatchError(context.Canceled))
				gomega.Expect(time.Since(started)).To(gomega.BeNumerically("<", 5*time.Second))
			})
		})
	})

	ginkgo.Context("sending", func() {
		ginkgo.When("two plans need the same request", func() {
			ginkgo.It("should send it once", func() {
				custom := planner.Plans{
					"raw_label": planner.NewPacketPlan(protocol.NewMessage(protocol.GetLabel, nil), protocol.StateLabel),
				}
				plans, err := planner.MakePlans(planner.DefaultRegistry, []string{"label"}, custom)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				results, err := gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(fleet.SentTypes(kitchen)).To(gomega.Equal([]protocol.PacketType{protocol.GetLabel}))
				gomega.Expect(results[kitchen].Complete).To(gomega.BeTrue())

				pkt, ok := results[kitchen].Info["raw_label"].Value.(*protocol.Packet)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(pkt.Payload.String("label")).To(gomega.Equal("kitchen"))
			})
		})

		ginkgo.When("the results are cached", func() {
			ginkgo.It("should answer a second call without sending", func() {
				first, err := gatherer.GatherAll(ctx, plansFor("label", "power"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				fleet.ResetSent()

				second, err := gatherer.GatherAll(ctx, plansFor("label", "power"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				gomega.Expect(fleet.Sent(kitchen)).To(gomega.BeEmpty())
				gomega.Expect(second).To(gomega.Equal(first))
			})
		})

		ginkgo.When("the cache is cleared", func() {
			ginkgo.It("should ask the devices again", func() {
				_, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				fleet.ResetSent()

				gatherer.ClearCache()
				_, err = gatherer.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				gomega.Expect(fleet.SentTypes(kitchen)).To(gomega.Equal([]protocol.PacketType{protocol.GetLabel}))
			})
		})

		ginkgo.When("the refresh period passes", func() {
			ginkgo.It("should reuse results until it expires and ask again after", func() {
				plans := plansFor("label")
				_, err := gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				fleet.ResetSent()

				clock.Advance(5*time.Second - time.Millisecond)
				_, err = gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(fleet.Sent(kitchen)).To(gomega.BeEmpty())

				clock.Advance(2 * time.Millisecond)
				fleet.Update(kitchen, func(d *fake.Device) { d.Label = "pantry" })
				results, err := gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(fleet.SentTypes(kitchen)).To(gomega.Equal([]protocol.PacketType{protocol.GetLabel}))
				gomega.Expect(results[kitchen].Info["label"]).To(gomega.Equal(planner.ResultOf("pantry")))
			})
		})

		ginkgo.When("a plan never refreshes", func() {
			ginkgo.It("should keep its result forever", func() {
				plans := planner.Plans{"label": planner.NewLabelPlan(planner.WithRefresh(planner.RefreshNever))}
				_, err := gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				fleet.ResetSent()

				clock.Advance(24 * time.Hour)
				_, err = gatherer.GatherAll(ctx, plans, discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(fleet.Sent(kitchen)).To(gomega.BeEmpty())
			})
		})

		ginkgo.When("the number of devices at once is limited", func() {
			ginkgo.It("should still gather every device", func() {
				fleet.Add(fake.Bulb(hallway, "hallway"))
				fleet.Add(fake.Bulb(ceiling, "ceiling"))

				results, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.All(), planner.WithLimit(1))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(results).To(gomega.HaveLen(4))
			})
		})
	})

	ginkgo.Context("dependencies", func() {
		ginkgo.When("a plan does not apply to the device", func() {
			ginkgo.It("should skip it without sending its requests", func() {
				results, err := gatherer.GatherAll(ctx, plansFor("zones"), discovery.Serials(kitchen))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(results[kitchen].Complete).To(gomega.BeTrue())
				gomega.Expect(results[kitchen].Info["zones"].IsSkip()).To(gomega.BeTrue())

				types := fleet.SentTypes(kitchen)
				gomega.Expect(types).To(gomega.ContainElements(protocol.GetHostFirmware, protocol.GetVersion))
				gomega.Expect(types).NotTo(gomega.ContainElement(protocol.GetColorZones))
				gomega.Expect(types).NotTo(gomega.ContainElement(protocol.GetExtendedColorZones))
			})

			ginkgo.It("should keep skipping on later calls", func() {
				_, err := gatherer.GatherAll(ctx, plansFor("zones"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				fleet.ResetSent()

				results, err := gatherer.GatherAll(ctx, plansFor("zones"), discovery.Serials(kitchen))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(results[kitchen].Info["zones"].IsSkip()).To(gomega.BeTrue())
				gomega.Expect(fleet.Sent(kitchen)).To(gomega.BeEmpty())
			})
		})

		ginkgo.When("the device is a strip", func() {
			ginkgo.It("should read every zone in order", func() {
				fleet.Add(fake.Strip(hallway, "hallway", 20, products.FirmwareVersion{Major: 2, Minor: 70}))

				results, err := gatherer.GatherAll(ctx, plansFor("zones"), discovery.Serials(hallway))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				zones, ok := results[hallway].Info["zones"].Value.([]planner.Zone)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(zones).To(gomega.HaveLen(20))
				for i, zone := range zones {
					gomega.Expect(zone.Index).To(gomega.Equal(i))
					gomega.Expect(zone.Color.Hue).To(gomega.Equal(uint16(i * 1000)))
				}
				gomega.Expect(countType(fleet.SentTypes(hallway), protocol.GetColorZones)).To(gomega.Equal(1))
			})
		})

		ginkgo.When("the device is a tile chain", func() {
			ginkgo.It("should read the colors of every tile", func() {
				fleet.Add(fake.TileChain(ceiling, "ceiling", 3))

				results, err := gatherer.GatherAll(ctx, plansFor("colors", "chain"), discovery.Serials(ceiling))

				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				chain, ok := results[ceiling].Info["chain"].Value.(planner.Chain)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(chain.Tiles).To(gomega.HaveLen(3))
				gomega.Expect(chain.Orientations).To(gomega.HaveEach(planner.RightSideUp))

				colors, ok := results[ceiling].Info["colors"].Value.([][]protocol.HSBK)
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(colors).To(gomega.HaveLen(3))
				gomega.Expect(colors[2][5].Hue).To(gomega.Equal(uint16(205)))
			})
		})

		ginkgo.When("a dependency cannot complete", func() {
			ginkgo.It("should drop the plans depending on it", func() {
				fleet.Ignore(kitchen, protocol.GetVersion)

				results, err := gatherer.GatherAll(ctx, plansFor("label", "zones"), discovery.Serials(kitchen))

				gomega.Expect(err).To(gomega.HaveOccurred())
				gomega.Expect(results[kitchen].Complete).To(gomega.BeFalse())
				gomega.Expect(results[kitchen].Info).To(gomega.Equal(map[string]planner.Result{
					"label": planner.ResultOf("kitchen"),
				}))
			})
		})
	})

	ginkgo.Context("shapes", func() {
		ginkgo.It("should stream the same results the aggregate returns", func() {
			fleet.Ignore(den, protocol.GetPower)
			plans := plansFor("label", "power", "capability")

			streamed := planner.NewGatherer(fleet, discovery.NewFinder(fleet, nil, 0), clock,
				planner.WithMessageTimeout(50*time.Millisecond))
			items, streamErr := streamed.Gather(ctx, plans, discovery.All()).All()

			byDevice := make(map[protocol.Serial]map[string]planner.Result)
			for _, item := range items {
				if byDevice[item.Serial] == nil {
					byDevice[item.Serial] = make(map[string]planner.Result)
				}
				gomega.Expect(byDevice[item.Serial]).NotTo(gomega.HaveKey(item.Label))
				byDevice[item.Serial][item.Label] = item.Result
			}

			results, allErr := gatherer.GatherAll(ctx, plans, discovery.All())

			gomega.Expect(streamErr).To(gomega.HaveOccurred())
			gomega.Expect(allErr).To(gomega.HaveOccurred())
			gomega.Expect(byDevice).To(gomega.HaveLen(len(results)))
			for serial, res := range results {
				gomega.Expect(byDevice[serial]).To(gomega.Equal(res.Info))
			}
		})

		ginkgo.It("should emit incomplete devices last", func() {
			fleet.Ignore(kitchen, protocol.GetPower)

			devices, err := gatherer.GatherPerSerial(ctx, plansFor("label", "power"), discovery.All()).All()

			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(devices).To(gomega.HaveLen(2))
			gomega.Expect(devices[0].Serial).To(gomega.Equal(den))
			gomega.Expect(devices[0].Complete).To(gomega.BeTrue())
			gomega.Expect(devices[1].Serial).To(gomega.Equal(kitchen))
			gomega.Expect(devices[1].Complete).To(gomega.BeFalse())
		})

		ginkgo.It("should hand errors to the given catcher instead of returning them", func() {
			fleet.Ignore(den, protocol.GetPower)
			collector := &planner.ErrorCollector{}

			results, err := gatherer.GatherAll(ctx, plansFor("power"), discovery.All(), planner.WithErrorCatcher(collector))

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.HaveKey(kitchen))
			gomega.Expect(results).NotTo(gomega.HaveKey(den))
			gomega.Expect(collector.Errors()).To(gomega.HaveLen(1))
		})

		ginkgo.It("should serialize the calls to the given catcher", func() {
			fleet.Add(fake.Bulb(hallway, "hallway"))
			fleet.Add(fake.Bulb(ceiling, "ceiling"))
			for _, serial := range []protocol.Serial{kitchen, den, hallway, ceiling} {
				fleet.Ignore(serial, protocol.GetPower)
			}

			var caught []error
			catcher := transport.ErrorCatcherFunc(func(err error) { caught = append(caught, err) })

			_, err := gatherer.GatherAll(ctx, plansFor("power"), discovery.All(), planner.WithErrorCatcher(catcher))

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(caught).To(gomega.HaveLen(4))
		})
	})

	ginkgo.Context("streaming", func() {
		ginkgo.It("should emit cached results before the device answers", func() {
			_, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			fleet.SetDelay(kitchen, 500*time.Millisecond)

			call, cancel := context.WithCancel(ctx)
			defer cancel()

			started := time.Now()
			stream := gatherer.Gather(call, plansFor("label", "power"), discovery.Serials(kitchen))

			var first planner.Item
			gomega.Eventually(stream.C()).Should(gomega.Receive(&first))
			gomega.Expect(time.Since(started)).To(gomega.BeNumerically("<", 250*time.Millisecond))
			gomega.Expect(first).To(gomega.Equal(planner.Item{Serial: kitchen, Label: "label", Result: planner.ResultOf("kitchen")}))

			cancel()
			for range stream.C() {
			}
		})

		ginkgo.It("should finish a call on the session it started with when the cache is cleared", func() {
			fleet.SetDelay(kitchen, 200*time.Millisecond)
			before := gatherer.Session()

			done := make(chan map[protocol.Serial]planner.DeviceResult, 1)
			go func() {
				defer ginkgo.GinkgoRecover()
				results, err := gatherer.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen))
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				done <- results
			}()

			gomega.Eventually(func() []protocol.PacketType {
				return fleet.SentTypes(kitchen)
			}).Should(gomega.ContainElement(protocol.GetLabel))

			gatherer.ClearCache()
			after := gatherer.Session()
			gomega.Expect(after).NotTo(gomega.BeIdenticalTo(before))

			var results map[protocol.Serial]planner.DeviceResult
			gomega.Eventually(done, 2*time.Second).Should(gomega.Receive(&results))
			gomega.Expect(results[kitchen].Info["label"]).To(gomega.Equal(planner.ResultOf("kitchen")))

			_, ok := before.Completed("label", kitchen)
			gomega.Expect(ok).To(gomega.BeTrue())
			_, ok = after.Completed("label", kitchen)
			gomega.Expect(ok).To(gomega.BeFalse())
			gomega.Expect(after.KnownPackets(kitchen)).To(gomega.BeEmpty())
		})
	})

	ginkgo.Context("unreachable devices", func() {
		ginkgo.It("should report an offline device once when its plans have dependencies", func() {
			fleet.SetOffline(kitchen, true)
			collector := &planner.ErrorCollector{}

			g := planner.NewGatherer(fleet, nil, clock)
			results, err := g.GatherAll(ctx, plansFor("label", "zones"), discovery.Serials(kitchen), planner.WithErrorCatcher(collector))

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.BeEmpty())
			gomega.Expect(collector.Errors()).To(gomega.HaveLen(1))
			gomega.Expect(collector.Errors()[0]).To(gomega.MatchError(transport.ErrDeviceUnreachable))
		})
	})

	ginkgo.Context("with a sender that cannot reach the device", func() {
		var (
			ctrl   *gomock.Controller
			sender *mocktransport.MockSender
		)

		ginkgo.BeforeEach(func() {
			ctrl = gomock.NewController(ginkgo.GinkgoT())
			sender = mocktransport.NewMockSender(ctrl)
		})

		ginkgo.AfterEach(func() {
			ctrl.Finish()
		})

		ginkgo.It("should report the device as unreachable", func() {
			sender.EXPECT().
				Send(gomock.Any(), kitchen, gomock.Any(), gomock.Any()).
				Return(nil, &transport.UnreachableError{Serial: kitchen}).
				Times(1)

			g := planner.NewGatherer(sender, nil, clock)
			results, err := g.GatherAll(ctx, plansFor("label"), discovery.Serials(kitchen))

			gomega.Expect(err).To(gomega.MatchError(transport.ErrDeviceUnreachable))
			gomega.Expect(results).To(gomega.BeEmpty())
		})

		ginkgo.It("should not send the plans once their dependencies found the device unreachable", func() {
			sender.EXPECT().
				Send(gomock.Any(), kitchen, gomock.Any(), gomock.Any()).
				Return(nil, &transport.UnreachableError{Serial: kitchen}).
				Times(1)

			g := planner.NewGatherer(sender, nil, clock)
			results, err := g.GatherAll(ctx, plansFor("label", "zones"), discovery.Serials(kitchen))

			var bad *planner.BadRunWithResults
			gomega.Expect(errors.As(err, &bad)).To(gomega.BeTrue())
			gomega.Expect(bad.Errors).To(gomega.HaveLen(1))
			gomega.Expect(results).To(gomega.BeEmpty())
		})

		ginkgo.It("should refuse to gather every device without a finder", func() {
			g := planner.NewGatherer(sender, nil, clock)
			_, err := g.GatherAll(ctx, plansFor("label"), discovery.All())

			gomega.Expect(err).To(gomega.MatchError(discovery.ErrNoDiscoverer))
		})
	})
})
