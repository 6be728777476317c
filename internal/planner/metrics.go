package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricPrefix = "lumen_gatherer"

var (
	messagesSent       metric.Int64Counter
	packetsReceived    metric.Int64Counter
	plansCompleted     metric.Int64Counter
	plansFailed        metric.Int64Counter
	deviceErrors       metric.Int64Counter
	followDuration     metric.Float64Histogram
	metricsInitialized bool
	metricsMutex       sync.Mutex
)

func initMetrics() {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if metricsInitialized {
		return
	}

	meter := otel.GetMeterProvider().Meter("lumen-gatherer")

	var err error
	messagesSent, err = meter.Int64Counter(
		fmt.Sprintf("%s.%s", metricPrefix, "messages.sent"),
		metric.WithDescription("Requests handed to the sender"),
	)
	if err != nil {
		panic(err)
	}

	packetsReceived, err = meter.Int64Counter(
		fmt.Sprintf("%s.%s", metricPrefix, "packets.received"),
		metric.WithDescription("Replies received from devices"),
	)
	if err != nil {
		panic(err)
	}

	plansCompleted, err = meter.Int64Counter(
		fmt.Sprintf("%s.%s", metricPrefix, "plans.completed"),
		metric.WithDescription("Plan results produced, cached or fresh"),
	)
	if err != nil {
		panic(err)
	}

	plansFailed, err = meter.Int64Counter(
		fmt.Sprintf("%s.%s", metricPrefix, "plans.failed"),
		metric.WithDescription("Plans whose result could not be computed"),
	)
	if err != nil {
		panic(err)
	}

	deviceErrors, err = meter.Int64Counter(
		fmt.Sprintf("%s.%s", metricPrefix, "devices.errors"),
		metric.WithDescription("Devices that were not found or could not be reached"),
	)
	if err != nil {
		panic(err)
	}

	followDuration, err = meter.Float64Histogram(
		fmt.Sprintf("%s.%s", metricPrefix, "device.follow.duration.seconds"),
		metric.WithDescription("Time spent gathering from one device"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		panic(err)
	}

	metricsInitialized = true
}

func recordMessagesSent(ctx context.Context, n int) {
	initMetrics()
	messagesSent.Add(ctx, int64(n))
}

func recordPacketReceived(ctx context.Context) {
	initMetrics()
	packetsReceived.Add(ctx, 1)
}

func recordPlanCompleted(ctx context.Context, key PlanKey, cached bool) {
	initMetrics()
	plansCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", string(key)),
		attribute.Bool("cached", cached),
	))
}

func recordPlanFailed(ctx context.Context, key PlanKey) {
	initMetrics()
	plansFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("plan", string(key))))
}

func recordDeviceError(ctx context.Context, kind string) {
	initMetrics()
	deviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordFollowDuration(ctx context.Context, started time.Time) {
	initMetrics()
	followDuration.Record(ctx, time.Since(started).Seconds())
}
