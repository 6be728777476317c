package httpapi_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"lumen-gatherer/internal/discovery"
	"lumen-gatherer/internal/httpapi"
	"lumen-gatherer/internal/planner"
	"lumen-gatherer/internal/products"
	"lumen-gatherer/internal/protocol"
	"lumen-gatherer/internal/transport/fake"
	mockhttpapi "lumen-gatherer/test/unit/doubles/httpapi"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

const (
	attic   protocol.Serial = "d073d5000021"
	cellar  protocol.Serial = "d073d5000022"
	nowhere protocol.Serial = "d073d50000dd"
)

type infoBody struct {
	Devices []struct {
		Serial   protocol.Serial            `json:"serial"`
		Complete bool                       `json:"complete"`
		Info     map[string]json.RawMessage `json:"info"`
	} `json:"devices"`
	Errors []string `json:"errors"`
}

type errorBody struct {
	Message string   `json:"message"`
	Details []string `json:"details"`
}

var _ = Describe("InfoController", func() {
	var (
		fleet    *fake.Fleet
		router   *http.ServeMux
		recorder *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		fleet = fake.NewFleet(
			fake.Bulb(attic, "attic"),
			fake.Strip(cellar, "cellar", 16, products.FirmwareVersion{Major: 2, Minor: 80}),
		)
		gatherer := planner.NewGatherer(fleet, discovery.NewFinder(fleet, nil, 0), nil,
			planner.WithMessageTimeout(50*time.Millisecond))

		router = http.NewServeMux()
		httpapi.NewInfoController(gatherer, planner.DefaultRegistry).AddRoutes(router)
		recorder = httptest.NewRecorder()
	})

	serve := func(target string) {
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	}

	Context("listPlans", func() {
		It("should list the registered labels", func() {
			serve("/v1/plans")

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var body map[string][]string
			Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
			Expect(body["plans"]).To(ContainElements("label", "power", "zones", "chain"))
		})
	})

	Context("gatherInfo", func() {
		When("every device answers", func() {
			It("should return the devices sorted by serial", func() {
				serve("/v1/devices/info?plans=label,zones")

				Expect(recorder.Code).To(Equal(http.StatusOK))
				var body infoBody
				Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Errors).To(BeEmpty())
				Expect(body.Devices).To(HaveLen(2))

				Expect(body.Devices[0].Serial).To(Equal(attic))
				Expect(body.Devices[0].Complete).To(BeTrue())
				Expect(string(body.Devices[0].Info["label"])).To(Equal(`"attic"`))
				Expect(string(body.Devices[0].Info["zones"])).To(Equal(`"skip"`))

				Expect(body.Devices[1].Serial).To(Equal(cellar))
				var zones []planner.Zone
				Expect(json.Unmarshal(body.Devices[1].Info["zones"], &zones)).To(Succeed())
				Expect(zones).To(HaveLen(16))
				Expect(zones[3].Color.Hue).To(BeNumerically("==", 3000))
			})
		})

		When("a referenced device does not exist", func() {
			It("should still answer with the errors", func() {
				serve("/v1/devices/info?plans=label&reference=d073d5000021,d073d50000dd&timeout=50ms")

				Expect(recorder.Code).To(Equal(http.StatusOK))
				var body infoBody
				Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Devices).To(HaveLen(1))
				Expect(body.Devices[0].Serial).To(Equal(attic))
				Expect(body.Errors).To(ConsistOf(ContainSubstring(nowhere.String())))
			})
		})

		DescribeTable("rejecting bad requests",
			func(target, message string) {
				serve(target)

				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
				var body errorBody
				Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Message).To(Equal(message))
			},
			Entry("no plans", "/v1/devices/info", "invalid plans"),
			Entry("unknown plan", "/v1/devices/info?plans=brightness", "invalid plans"),
			Entry("duplicated plan", "/v1/devices/info?plans=label,label", "invalid plans"),
			Entry("bad serial", "/v1/devices/info?plans=label&reference=kitchen", "invalid reference"),
			Entry("bad timeout", "/v1/devices/info?plans=label&timeout=soon", "invalid timeout"),
			Entry("negative limit", "/v1/devices/info?plans=label&limit=-1", "invalid limit"),
		)
	})

	Context("with a gatherer that fails outright", func() {
		var (
			ctrl     *gomock.Controller
			gatherer *mockhttpapi.MockInfoGatherer
		)

		BeforeEach(func() {
			ctrl = gomock.NewController(GinkgoT())
			gatherer = mockhttpapi.NewMockInfoGatherer(ctrl)
			router = http.NewServeMux()
			httpapi.NewInfoController(gatherer, planner.DefaultRegistry).AddRoutes(router)
		})

		It("should report an internal error", func() {
			gatherer.EXPECT().
				GatherAll(gomock.Any(), gomock.Any(), discovery.All(), gomock.Any()).
				Return(nil, errors.New("transport closed"))

			serve("/v1/devices/info?plans=label&limit=2")

			Expect(recorder.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
