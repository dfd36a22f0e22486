package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects what Setup wires
type Config struct {
	ServiceName    string
	ServiceVersion string

	// TracesEnabled and MetricsEnabled turn on OTLP/HTTP export of spans and
	// metrics. Endpoint is the collector base URL; when empty the exporters
	// read the standard OTEL_EXPORTER_OTLP_* variables.
	TracesEnabled  bool
	MetricsEnabled bool
	Endpoint       string

	// MetricReaders are attached to the meter provider in addition to the exporter
	MetricReaders []sdkmetric.Reader
}

// Setup builds the tracer and meter providers and a Recorder on top of them.
// The returned shutdown function flushes pending spans and metrics and should be deferred
// by the caller.
func Setup(ctx context.Context, cfg Config) (*Recorder, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TracesEnabled {
		var exporterOpts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(signalURL(cfg.Endpoint, "traces")))
		}
		exporter, err := otlptracehttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
		tpOpts = append(tpOpts,
			sdktrace.WithBatcher(exporter),
			sdktrace.WithSampler(sdktrace.AlwaysSample()))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range cfg.MetricReaders {
		mpOpts = append(mpOpts, sdkmetric.WithReader(reader))
	}
	if cfg.MetricsEnabled {
		var exporterOpts []otlpmetrichttp.Option
		if cfg.Endpoint != "" {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithEndpointURL(signalURL(cfg.Endpoint, "metrics")))
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	recorder, err := NewRecorder(tp, mp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create telemetry instruments: %w", err)
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return recorder, shutdown, nil
}

// signalURL appends the OTLP/HTTP path of a signal to a collector base URL
func signalURL(endpoint, signal string) string {
	return strings.TrimRight(endpoint, "/") + "/v1/" + signal
}
