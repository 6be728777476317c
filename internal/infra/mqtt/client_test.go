package mqtt_test

import (
	"sync"

	"lumen-gatherer/internal/infra/mqtt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/vmihailenco/msgpack/v5"
)

type received struct {
	mu     sync.Mutex
	topics []string
	bodies []map[string]any
}

func (r *received) handler(_ mqtt.Client, msg mqtt.Message) {
	var body map[string]any
	gomega.Expect(msgpack.Unmarshal(msg.Payload(), &body)).To(gomega.Succeed())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, msg.Topic())
	r.bodies = append(r.bodies, body)
}

func (r *received) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

var _ = ginkgo.Describe("MQTT Client", func() {
	ginkgo.Context("Message", func() {
		ginkgo.It("should be satisfied by paho messages", func() {
			var _ mqtt.Message = (paho.Message)(nil)
		})
	})

	ginkgo.DescribeTable("Matches",
		func(filter, topic string, expected bool) {
			gomega.Expect(mqtt.Matches(filter, topic)).To(gomega.Equal(expected))
		},
		ginkgo.Entry("exact", "lumen/d073d5000001/reply", "lumen/d073d5000001/reply", true),
		ginkgo.Entry("different level", "lumen/d073d5000001/reply", "lumen/d073d5000002/reply", false),
		ginkgo.Entry("single level wildcard", "lumen/+/reply", "lumen/d073d5000001/reply", true),
		ginkgo.Entry("single level wildcard is one level", "lumen/+/reply", "lumen/a/b/reply", false),
		ginkgo.Entry("multi level wildcard", "lumen/#", "lumen/d073d5000001/request", true),
		ginkgo.Entry("multi level wildcard matches the parent", "lumen/#", "lumen", true),
		ginkgo.Entry("shorter topic", "lumen/+/reply", "lumen/d073d5000001", false),
		ginkgo.Entry("longer topic", "lumen/+", "lumen/d073d5000001/reply", false),
	)

	ginkgo.Context("MemoryBroker", func() {
		var (
			broker    *mqtt.MemoryBroker
			publisher *mqtt.MemoryClient
			listener  *mqtt.MemoryClient
			got       *received
		)

		ginkgo.BeforeEach(func() {
			broker = mqtt.NewMemoryBroker()
			publisher = broker.Client()
			listener = broker.Client()
			got = &received{}
		})

		ginkgo.AfterEach(func() {
			publisher.Disconnect()
			listener.Disconnect()
		})

		ginkgo.When("a client subscribes with a wildcard", func() {
			ginkgo.It("should get every matching message in order", func() {
				gomega.Expect(listener.Subscribe("lumen/+/reply", 0, got.handler)).To(gomega.Succeed())

				gomega.Expect(publisher.Publish("lumen/d073d5000001/reply", map[string]any{"n": 1})).To(gomega.Succeed())
				gomega.Expect(publisher.Publish("lumen/d073d5000001/request", map[string]any{"n": 2})).To(gomega.Succeed())
				gomega.Expect(publisher.Publish("lumen/d073d5000002/reply", map[string]any{"n": 3})).To(gomega.Succeed())

				gomega.Eventually(got.Topics).Should(gomega.Equal([]string{
					"lumen/d073d5000001/reply",
					"lumen/d073d5000002/reply",
				}))
			})
		})

		ginkgo.When("a client unsubscribes", func() {
			ginkgo.It("should stop getting messages", func() {
				gomega.Expect(listener.Subscribe("lumen/#", 0, got.handler)).To(gomega.Succeed())
				gomega.Expect(listener.Unsubscribe("lumen/#")).To(gomega.Succeed())

				gomega.Expect(publisher.Publish("lumen/discover", map[string]any{})).To(gomega.Succeed())
				gomega.Consistently(got.Topics, "100ms").Should(gomega.BeEmpty())
			})
		})

		ginkgo.When("the filter is invalid", func() {
			ginkgo.It("should refuse it", func() {
				gomega.Expect(listener.Subscribe("lumen/#/reply", 0, got.handler)).NotTo(gomega.Succeed())
				gomega.Expect(listener.Subscribe("lumen/a+/reply", 0, got.handler)).NotTo(gomega.Succeed())
			})
		})
	})
})
