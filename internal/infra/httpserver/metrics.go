package httpserver

import (
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const _meterName = "lumen-gatherer"

var (
	// device serials and request ids would give every path its own series
	serialPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{12}\b`)
	uuidPattern   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

	metricsMu sync.Mutex
	metrics   *apiMetrics
)

// apiMetrics are the instruments of the status API.
type apiMetrics struct {
	duration     metric.Float64Histogram
	requests     metric.Int64Counter
	inflight     metric.Int64UpDownCounter
	responseSize metric.Int64Counter
}

func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	var (
		m   apiMetrics
		err error
	)

	m.duration, err = meter.Float64Histogram("lumen_gatherer.api.request.duration",
		metric.WithDescription("Time spent answering status API requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.requests, err = meter.Int64Counter("lumen_gatherer.api.requests",
		metric.WithDescription("Status API requests answered"),
	)
	if err != nil {
		return nil, err
	}

	m.inflight, err = meter.Int64UpDownCounter("lumen_gatherer.api.requests.inflight",
		metric.WithDescription("Status API requests being answered, gatherings included"),
	)
	if err != nil {
		return nil, err
	}

	m.responseSize, err = meter.Int64Counter("lumen_gatherer.api.response.size",
		metric.WithDescription("Bytes written in status API responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// loadMetrics creates the instruments on the global meter provider the
// first time it is called.
func loadMetrics() *apiMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if metrics != nil {
		return metrics
	}

	m, err := newAPIMetrics(otel.GetMeterProvider().Meter(_meterName))
	if err != nil {
		slog.Warn("status API metrics disabled", slog.Any("error", err))
		m, _ = newAPIMetrics(noop.NewMeterProvider().Meter(_meterName))
	}
	metrics = m
	return metrics
}

// ResetMetricsForTesting makes the next middleware pick up the current
// meter provider.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metrics = nil
}

func IsMetricsInitialized() bool {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return metrics != nil
}

// MetricsMiddleware measures every request by route and outcome.
func MetricsMiddleware() func(http.Handler) http.Handler {
	m := loadMetrics()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ctx := r.Context()

			route := attribute.String("api.route", routeOf(r.URL.Path))
			method := attribute.String("http.request.method", r.Method)

			m.inflight.Add(ctx, 1, metric.WithAttributes(method, route))
			defer m.inflight.Add(ctx, -1, metric.WithAttributes(method, route))

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			attrs := metric.WithAttributes(
				method,
				route,
				attribute.Int("http.response.status_code", rw.statusCode),
				attribute.String("api.outcome", outcomeOf(rw.statusCode)),
			)
			m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
			m.requests.Add(ctx, 1, attrs)
			m.responseSize.Add(ctx, rw.written, attrs)
		})
	}
}

// responseWriter remembers the status code and counts the body bytes.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func routeOf(path string) string {
	if path == "" || path == "/" {
		return "root"
	}
	route := uuidPattern.ReplaceAllString(path, "_id")
	return serialPattern.ReplaceAllString(route, "_serial")
}

func outcomeOf(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error"
	case status >= http.StatusBadRequest:
		return "client_error"
	default:
		return "ok"
	}
}
