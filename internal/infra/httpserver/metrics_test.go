package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var _ = ginkgo.Describe("Metrics", func() {
	ginkgo.Context("MetricsMiddleware", func() {
		ginkgo.When("a request is served", func() {
			ginkgo.It("should count it under its route and outcome", func() {
				reader := metric.NewManualReader()
				otel.SetMeterProvider(metric.NewMeterProvider(metric.WithReader(reader)))
				ResetMetricsForTesting()

				handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTeapot)
					_, _ = w.Write([]byte("short and stout"))
				}))

				req := httptest.NewRequest(http.MethodGet, "/v1/devices/d073d5000001", nil)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				gomega.Expect(rec.Code).To(gomega.Equal(http.StatusTeapot))
				gomega.Expect(rec.Body.String()).To(gomega.Equal("short and stout"))
				gomega.Expect(IsMetricsInitialized()).To(gomega.BeTrue())

				var rm metricdata.ResourceMetrics
				gomega.Expect(reader.Collect(context.Background(), &rm)).To(gomega.Succeed())

				sums := make(map[string]metricdata.Sum[int64])
				for _, sm := range rm.ScopeMetrics {
					for _, m := range sm.Metrics {
						if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
							sums[m.Name] = sum
						}
					}
				}

				requests, ok := sums["lumen_gatherer.api.requests"]
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(requests.DataPoints).To(gomega.HaveLen(1))
				gomega.Expect(requests.DataPoints[0].Value).To(gomega.Equal(int64(1)))

				route, ok := requests.DataPoints[0].Attributes.Value("api.route")
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(route.AsString()).To(gomega.Equal("/v1/devices/_serial"))
				outcome, ok := requests.DataPoints[0].Attributes.Value("api.outcome")
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(outcome.AsString()).To(gomega.Equal("client_error"))

				size, ok := sums["lumen_gatherer.api.response.size"]
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(size.DataPoints[0].Value).To(gomega.Equal(int64(len("short and stout"))))

				inflight, ok := sums["lumen_gatherer.api.requests.inflight"]
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(inflight.DataPoints[0].Value).To(gomega.Equal(int64(0)))
			})
		})
	})

	ginkgo.DescribeTable("routeOf",
		func(path, expected string) {
			gomega.Expect(routeOf(path)).To(gomega.Equal(expected))
		},
		ginkgo.Entry("root path", "/", "root"),
		ginkgo.Entry("empty path", "", "root"),
		ginkgo.Entry("single segment", "/healthz", "/healthz"),
		ginkgo.Entry("nested endpoint", "/v1/devices/info", "/v1/devices/info"),
		ginkgo.Entry("device serial", "/v1/devices/d073d5000001", "/v1/devices/_serial"),
		ginkgo.Entry("upper case serial", "/v1/devices/D073D5000001/latest", "/v1/devices/_serial/latest"),
		ginkgo.Entry("request id", "/v1/requests/123e4567-e89b-12d3-a456-426614174000", "/v1/requests/_id"),
		ginkgo.Entry("longer hex is not a serial", "/v1/blobs/d073d500000123", "/v1/blobs/d073d500000123"),
	)

	ginkgo.DescribeTable("outcomeOf",
		func(status int, expected string) {
			gomega.Expect(outcomeOf(status)).To(gomega.Equal(expected))
		},
		ginkgo.Entry("gathered", http.StatusOK, "ok"),
		ginkgo.Entry("bad plans", http.StatusBadRequest, "client_error"),
		ginkgo.Entry("never gathered", http.StatusNotFound, "client_error"),
		ginkgo.Entry("gathering failed", http.StatusInternalServerError, "server_error"),
	)

	ginkgo.Context("ResponseWriter", func() {
		var (
			recorder      *httptest.ResponseRecorder
			wrappedWriter *responseWriter
		)

		ginkgo.BeforeEach(func() {
			recorder = httptest.NewRecorder()
			wrappedWriter = &responseWriter{ResponseWriter: recorder, statusCode: http.StatusOK}
		})

		ginkgo.It("should remember the status code", func() {
			wrappedWriter.WriteHeader(http.StatusNotFound)
			gomega.Expect(wrappedWriter.statusCode).To(gomega.Equal(http.StatusNotFound))
			gomega.Expect(recorder.Code).To(gomega.Equal(http.StatusNotFound))
		})

		ginkgo.It("should count the bytes written", func() {
			_, _ = wrappedWriter.Write([]byte(`{"plans":`))
			_, _ = wrappedWriter.Write([]byte(`["label"]}`))

			gomega.Expect(wrappedWriter.written).To(gomega.Equal(int64(19)))
			gomega.Expect(wrappedWriter.statusCode).To(gomega.Equal(http.StatusOK))
		})
	})
})
