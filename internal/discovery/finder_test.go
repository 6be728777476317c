package discovery_test

import (
	"context"
	"errors"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/infra/cache"
	"lumen-gatherer/internal/protocol"
	mocktransport "lumen-gatherer/test/unit/doubles/transport"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = ginkgo.Describe("ParseReference", func() {
	ginkgo.It("should treat empty and underscore as every device", func() {
		for _, value := range []string{"", "_", "  "} {
			ref, err := discovery.ParseReference(value)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ref.IsAll()).To(gomega.BeTrue())
		}
	})

	ginkgo.It("should split a comma separated list of serials", func() {
		ref, err := discovery.ParseReference("d073d5000001, D073D5000002,d073d5000001")
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ref.IsAll()).To(gomega.BeFalse())
		gomega.Expect(ref.Serials()).To(gomega.Equal([]protocol.Serial{"d073d5000001", "d073d5000002"}))
		gomega.Expect(ref.String()).To(gomega.Equal("d073d5000001,d073d5000002"))
	})

	ginkgo.It("should reject malformed serials", func() {
		_, err := discovery.ParseReference("d073d5000001,nope")
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})

var _ = ginkgo.Describe("Finder", func() {
	var (
		ctrl       *gomock.Controller
		discoverer *mocktransport.MockDiscoverer
		store      *cache.RistrettoCache[[]protocol.Serial]
		finder     *discovery.Finder
		ctx        context.Context
	)

	ginkgo.BeforeEach(func() {
		ctrl = gomock.NewController(ginkgo.GinkgoT())
		discoverer = mocktransport.NewMockDiscoverer(ctrl)

		var err error
		store, err = cache.New[[]protocol.Serial](cache.DefaultConfig())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		finder = discovery.NewFinder(discoverer, store, time.Minute)
		ctx = context.Background()
	})

	ginkgo.AfterEach(func() {
		store.Close()
	})

	ginkgo.When("referencing every device", func() {
		ginkgo.It("should return everything discovered", func() {
			discoverer.EXPECT().Discover(gomock.Any()).Return([]protocol.Serial{"d073d5000001", "d073d5000002"}, nil)

			res, err := finder.Find(ctx, discovery.All(), time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res.Found).To(gomega.HaveLen(2))
			gomega.Expect(res.Missing).To(gomega.BeEmpty())
		})
	})

	ginkgo.When("referencing explicit serials", func() {
		ginkgo.It("should split found and missing in request order", func() {
			discoverer.EXPECT().Discover(gomock.Any()).Return([]protocol.Serial{"d073d5000001", "d073d5000002"}, nil)

			ref := discovery.Serials("d073d5000002", "d073d5000009", "d073d5000001")
			res, err := finder.Find(ctx, ref, time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res.Found).To(gomega.Equal([]protocol.Serial{"d073d5000002", "d073d5000001"}))
			gomega.Expect(res.Missing).To(gomega.Equal([]protocol.Serial{"d073d5000009"}))
		})
	})

	ginkgo.When("finding twice within the ttl", func() {
		ginkgo.It("should discover once", func() {
			discoverer.EXPECT().Discover(gomock.Any()).Return([]protocol.Serial{"d073d5000001"}, nil).Times(1)

			_, err := finder.Find(ctx, discovery.All(), time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			res, err := finder.Find(ctx, discovery.Serials("d073d5000001"), time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(res.Found).To(gomega.HaveLen(1))
		})

		ginkgo.It("should discover again after Forget", func() {
			discoverer.EXPECT().Discover(gomock.Any()).Return([]protocol.Serial{"d073d5000001"}, nil).Times(2)

			_, err := finder.Find(ctx, discovery.All(), time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			finder.Forget(ctx)
			_, err = finder.Find(ctx, discovery.All(), time.Second)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})
	})

	ginkgo.When("discovery fails", func() {
		ginkgo.It("should report every requested serial as missing", func() {
			discoverer.EXPECT().Discover(gomock.Any()).Return(nil, errors.New("network down"))

			res, err := finder.Find(ctx, discovery.Serials("d073d5000001"), time.Second)
			gomega.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("network down")))
			gomega.Expect(res.Missing).To(gomega.Equal([]protocol.Serial{"d073d5000001"}))
		})
	})

	ginkgo.When("the finder has no discoverer", func() {
		ginkgo.It("should fail with ErrNoDiscoverer", func() {
			_, err := discovery.NewFinder(nil, nil, 0).Find(ctx, discovery.All(), time.Second)
			gomega.Expect(err).To(gomega.MatchError(discovery.ErrNoDiscoverer))
		})
	})

	ginkgo.It("should bound discovery by the timeout", func() {
		discoverer.EXPECT().Discover(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]protocol.Serial, error) {
			deadline, ok := ctx.Deadline()
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(time.Until(deadline)).To(gomega.BeNumerically("<=", time.Second))
			return nil, nil
		})

		_, err := finder.Find(ctx, discovery.All(), time.Second)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
	})
})
