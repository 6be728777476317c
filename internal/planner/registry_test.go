package planner_test

import (
	"lumen-gatherer/internal/planner"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Registry", func() {
	ginkgo.Context("DefaultRegistry", func() {
		ginkgo.It("should hold the built in plans", func() {
			gomega.Expect(planner.DefaultRegistry.Labels()).To(gomega.ConsistOf(
				"address", "capability", "chain", "colors", "firmware", "firmware_effects",
				"hev_config", "hev_status", "label", "power", "presence", "state", "version", "zones",
			))
		})

		ginkgo.It("should build a fresh plan honouring the options", func() {
			plan, err := planner.DefaultRegistry.New("label", planner.WithRefresh(planner.RefreshNever))

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(plan.Key()).To(gomega.Equal(planner.PlanKey("label")))
			gomega.Expect(plan.Refresh()).To(gomega.Equal(planner.RefreshNever))
		})

		ginkgo.It("should reject unknown labels", func() {
			_, err := planner.DefaultRegistry.New("weather")
			gomega.Expect(err).To(gomega.MatchError(planner.ErrUnknownPlan))
		})
	})

	ginkgo.Context("Register", func() {
		ginkgo.It("should refuse a label twice", func() {
			r := planner.NewRegistry()
			factory := func(opts ...planner.Option) planner.Plan { return planner.NewPresencePlan(opts...) }

			gomega.Expect(r.Register("here", factory)).To(gomega.Succeed())
			gomega.Expect(r.Register("here", factory)).To(gomega.MatchError(planner.ErrAlreadyRegistered))
		})
	})

	ginkgo.Context("MakePlans", func() {
		ginkgo.It("should merge labels and custom plans", func() {
			plans, err := planner.MakePlans(planner.DefaultRegistry, []string{"label", "power"}, planner.Plans{
				"here": planner.NewPresencePlan(),
			})

			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(plans.Labels()).To(gomega.Equal([]string{"here", "label", "power"}))
		})

		ginkgo.It("should reject a label given twice", func() {
			_, err := planner.MakePlans(planner.DefaultRegistry, []string{"label", "label"}, nil)
			gomega.Expect(err).To(gomega.MatchError(planner.ErrDuplicateLabel))
		})

		ginkgo.It("should reject a label given both ways", func() {
			_, err := planner.MakePlans(planner.DefaultRegistry, []string{"label"}, planner.Plans{
				"label": planner.NewLabelPlan(),
			})
			gomega.Expect(err).To(gomega.MatchError(planner.ErrPlanSpecifiedTwice))
		})

		ginkgo.It("should reject unknown labels", func() {
			_, err := planner.MakePlans(planner.DefaultRegistry, []string{"weather"}, nil)
			gomega.Expect(err).To(gomega.MatchError(planner.ErrUnknownPlan))
		})
	})
})
