package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"lumen-gatherer/internal/infra/cache"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Cache", func() {
	var (
		store *cache.RistrettoCache[[]string]
		ctx   context.Context
	)

	ginkgo.BeforeEach(func() {
		var err error
		store, err = cache.New[[]string](cache.DefaultConfig())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		ctx = context.Background()
	})

	ginkgo.AfterEach(func() {
		store.Close()
	})

	ginkgo.Context("Set", func() {
		ginkgo.When("setting and getting a value", func() {
			ginkgo.It("should return the stored value straight away", func() {
				gomega.Expect(store.Set(ctx, "devices", []string{"d073d5000001"}, 0)).To(gomega.BeTrue())

				value, found := store.Get(ctx, "devices")
				gomega.Expect(found).To(gomega.BeTrue())
				gomega.Expect(value).To(gomega.Equal([]string{"d073d5000001"}))
			})
		})

		ginkgo.When("the ttl elapses", func() {
			ginkgo.It("should forget the value", func() {
				store.Set(ctx, "devices", []string{"d073d5000001"}, 50*time.Millisecond)

				gomega.Eventually(func() bool {
					_, found := store.Get(ctx, "devices")
					return found
				}, "2s", "20ms").Should(gomega.BeFalse())
			})
		})

		ginkgo.When("deleting a value", func() {
			ginkgo.It("should remove it", func() {
				store.Set(ctx, "devices", []string{"d073d5000001"}, 0)
				store.Delete(ctx, "devices")

				_, found := store.Get(ctx, "devices")
				gomega.Expect(found).To(gomega.BeFalse())
			})
		})
	})

	ginkgo.Context("GetOrLoad", func() {
		ginkgo.When("the key is missing", func() {
			ginkgo.It("should load and cache the value", func() {
				calls := 0
				loader := func(context.Context) ([]string, error) {
					calls++
					return []string{"d073d5000002"}, nil
				}

				first, err := store.GetOrLoad(ctx, "devices", time.Minute, loader)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				second, err := store.GetOrLoad(ctx, "devices", time.Minute, loader)
				gomega.Expect(err).NotTo(gomega.HaveOccurred())

				gomega.Expect(first).To(gomega.Equal(second))
				gomega.Expect(calls).To(gomega.Equal(1))
			})
		})

		ginkgo.When("the loader fails", func() {
			ginkgo.It("should return the error and cache nothing", func() {
				boom := errors.New("boom")
				_, err := store.GetOrLoad(ctx, "devices", time.Minute, func(context.Context) ([]string, error) {
					return nil, boom
				})
				gomega.Expect(err).To(gomega.MatchError(boom))

				_, found := store.Get(ctx, "devices")
				gomega.Expect(found).To(gomega.BeFalse())
			})
		})

		ginkgo.When("using a cancelled context", func() {
			ginkgo.It("should return the context error", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()

				_, err := store.GetOrLoad(cancelled, "devices", time.Minute, func(context.Context) ([]string, error) {
					return []string{"never"}, nil
				})
				gomega.Expect(err).To(gomega.MatchError(context.Canceled))
			})
		})

		ginkgo.When("many callers ask at once", func() {
			ginkgo.It("should run the loader once", func() {
				var (
					calls   atomic.Int32
					release = make(chan struct{})
					wg      sync.WaitGroup
				)

				loader := func(context.Context) ([]string, error) {
					calls.Add(1)
					<-release
					return []string{"d073d5000003"}, nil
				}

				for range 10 {
					wg.Add(1)
					go func() {
						defer ginkgo.GinkgoRecover()
						defer wg.Done()
						value, err := store.GetOrLoad(ctx, "devices", time.Minute, loader)
						gomega.Expect(err).NotTo(gomega.HaveOccurred())
						gomega.Expect(value).To(gomega.Equal([]string{"d073d5000003"}))
					}()
				}

				gomega.Eventually(calls.Load).Should(gomega.Equal(int32(1)))
				time.Sleep(20 * time.Millisecond)
				close(release)
				wg.Wait()

				gomega.Expect(calls.Load()).To(gomega.Equal(int32(1)))
			})
		})
	})
})
