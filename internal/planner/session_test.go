package planner_test

import (
	"time"

	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/protocol"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Session", func() {
	var (
		clock   *planner.FakeClock
		session *planner.Session
		getter  protocol.Message
		reply   *protocol.Packet
	)

	ginkgo.BeforeEach(func() {
		clock = planner.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		session = planner.NewSession(clock)
		getter = protocol.NewMessage(protocol.GetLabel, nil)
		reply = &protocol.Packet{Serial: kitchen, Type: protocol.StateLabel, Request: getter.Key(), Payload: protocol.Fields{"label": "kitchen"}}
	})

	ginkgo.Context("received replies", func() {
		ginkgo.It("should remember replies per request and device", func() {
			session.Receive(reply)

			gomega.Expect(session.HasReceived(getter.Key(), kitchen)).To(gomega.BeTrue())
			gomega.Expect(session.HasReceived(getter.Key(), den)).To(gomega.BeFalse())
			gomega.Expect(session.KnownPackets(kitchen)).To(gomega.Equal([]*protocol.Packet{reply}))
		})

		ginkgo.It("should keep replies grouped by request in the order requests were first seen", func() {
			power := protocol.NewMessage(protocol.GetPower, nil)
			first := &protocol.Packet{Serial: kitchen, Type: protocol.StatePower, Request: power.Key()}
			second := &protocol.Packet{Serial: kitchen, Type: protocol.StatePower, Request: power.Key()}

			session.Receive(first)
			session.Receive(reply)
			session.Receive(second)

			gomega.Expect(session.KnownPackets(kitchen)).To(gomega.Equal([]*protocol.Packet{first, second, reply}))
		})

		ginkgo.It("should evict stale replies only once the refresh period has passed", func() {
			session.Receive(reply)
			refresh := planner.RefreshAfter(time.Second)

			clock.Advance(time.Second - time.Nanosecond)
			session.RefreshReceived(getter.Key(), kitchen, refresh)
			gomega.Expect(session.HasReceived(getter.Key(), kitchen)).To(gomega.BeTrue())

			clock.Advance(time.Nanosecond)
			session.RefreshReceived(getter.Key(), kitchen, refresh)
			gomega.Expect(session.HasReceived(getter.Key(), kitchen)).To(gomega.BeFalse())
			gomega.Expect(session.KnownPackets(kitchen)).To(gomega.BeEmpty())
		})

		ginkgo.It("should never evict with a never refresh", func() {
			session.Receive(reply)
			clock.Advance(365 * 24 * time.Hour)

			session.RefreshReceived(getter.Key(), kitchen, planner.RefreshNever)
			gomega.Expect(session.HasReceived(getter.Key(), kitchen)).To(gomega.BeTrue())
		})

		ginkgo.It("should always evict with an always refresh", func() {
			session.Receive(reply)

			session.RefreshReceived(getter.Key(), kitchen, planner.RefreshAlways)
			gomega.Expect(session.HasReceived(getter.Key(), kitchen)).To(gomega.BeFalse())
		})

		ginkgo.It("should not remember devices that were only looked up", func() {
			gomega.Expect(session.HasReceived(getter.Key(), den)).To(gomega.BeFalse())
			gomega.Expect(session.KnownPackets(den)).To(gomega.BeEmpty())
			session.RefreshReceived(getter.Key(), den, planner.RefreshAlways)

			gomega.Expect(session.Devices()).To(gomega.BeEmpty())
		})

		ginkgo.It("should forget a device once its last reply expired", func() {
			power := protocol.NewMessage(protocol.GetPower, nil)
			session.Receive(reply)
			session.Receive(&protocol.Packet{Serial: kitchen, Type: protocol.StatePower, Request: power.Key()})
			session.Receive(&protocol.Packet{Serial: den, Type: protocol.StatePower, Request: power.Key()})

			session.RefreshReceived(getter.Key(), kitchen, planner.RefreshAlways)
			gomega.Expect(session.Devices()).To(gomega.Equal([]protocol.Serial{kitchen, den}))

			session.RefreshReceived(power.Key(), kitchen, planner.RefreshAlways)
			gomega.Expect(session.Devices()).To(gomega.Equal([]protocol.Serial{den}))
		})
	})

	ginkgo.Context("filled results", func() {
		ginkgo.It("should return the last filled result", func() {
			session.Fill("label", kitchen, planner.ResultOf("old"))
			session.Fill("label", kitchen, planner.ResultOf("new"))

			result, ok := session.Completed("label", kitchen)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(result).To(gomega.Equal(planner.ResultOf("new")))

			_, ok = session.Completed("label", den)
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("should forget results past their refresh period", func() {
			session.Fill("label", kitchen, planner.ResultOf("kitchen"))
			refresh := planner.RefreshAfter(5 * time.Second)

			clock.Advance(5*time.Second - time.Millisecond)
			session.RefreshFilled("label", kitchen, refresh)
			_, ok := session.Completed("label", kitchen)
			gomega.Expect(ok).To(gomega.BeTrue())

			clock.Advance(time.Millisecond)
			session.RefreshFilled("label", kitchen, refresh)
			_, ok = session.Completed("label", kitchen)
			gomega.Expect(ok).To(gomega.BeFalse())
		})
	})
})
