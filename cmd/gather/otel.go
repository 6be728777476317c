package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lumen-gatherer/cmd/config"
	"lumen-gatherer/internal/infra/node"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type ShutdownFunc func() error

const (
	_collectPeriod   = 30 * time.Second
	_collectTimeout  = 35 * time.Second
	_minimumInterval = time.Minute
)

var (
	// follow durations are in seconds, http durations too
	_histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}
)

func startOTel(cfg config.OtelConfig) ShutdownFunc {
	if !cfg.Enabled {
		slog.Debug("OTel exporters disabled")
		return func() error { return nil }
	}

	slog.Info("starting OTel providers", slog.String("endpoint", cfg.Endpoint))
	shutdown, err := otelStart(context.Background(), cfg.Endpoint)
	if err != nil {
		panic(err)
	}

	return shutdown
}

func otelStart(ctx context.Context, endpoint string) (ShutdownFunc, error) {
	res := resource.NewWithAttributes(semconv.SchemaURL, node.GetNodeInfo().Attributes()...)

	metricsShutdownFunc, err := startMetricsProvider(ctx, endpoint, res)
	if err != nil {
		return nil, err
	}

	traceShutdownFunc, err := startTraceProvider(ctx, endpoint, res)
	if err != nil {
		return nil, errors.Join(err, metricsShutdownFunc())
	}

	return func() error {
		return errors.Join(metricsShutdownFunc(), traceShutdownFunc())
	}, nil
}

func startTraceProvider(ctx context.Context, endpoint string, res *resource.Resource) (ShutdownFunc, error) {
	exp, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() error {
		return tp.Shutdown(ctx)
	}, nil
}

func startMetricsProvider(ctx context.Context, endpoint string, res *resource.Resource) (ShutdownFunc, error) {
	exp, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := newMeterProvider(exp, res)
	otel.SetMeterProvider(mp)

	err = runtime.Start(runtime.WithMinimumReadMemStatsInterval(_minimumInterval))
	if err != nil {
		return nil, err
	}

	return func() error {
		return mp.Shutdown(ctx)
	}, nil
}

func newMeterProvider(metricExporter metric.Exporter, res *resource.Resource) *metric.MeterProvider {
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(
			metric.NewPeriodicReader(
				metricExporter,
				metric.WithTimeout(_collectTimeout),
				metric.WithInterval(_collectPeriod))),
		metric.WithView(metric.NewView(
			metric.Instrument{
				Name: "*",
				Kind: metric.InstrumentKindHistogram,
			},
			metric.Stream{
				Aggregation: metric.AggregationExplicitBucketHistogram{
					Boundaries: _histogramBuckets,
				},
			},
		)),
	)
}
