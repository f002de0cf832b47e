package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where queue spans are exported and how many are kept.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Sampler follows the caller's decision for propagated traces and keeps
// SampleRatio of new ones.
func (c Config) Sampler() sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case c.SampleRatio >= 1:
		root = sdktrace.AlwaysSample()
	case c.SampleRatio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(c.SampleRatio)
	}
	return sdktrace.ParentBased(root)
}

// Propagator carries trace context and baggage across kiosk, display and
// staff console requests.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Setup installs the propagator and, when an endpoint is configured, an OTLP
// trace exporter for the queue engine and HTTP spans. The returned function
// flushes and stops the exporter.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) func(context.Context) error {
	otel.SetTextMapPropagator(Propagator())

	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		logger.Debug("tracing disabled")
		return noop
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Error("otel exporter", "error", err)
		return noop
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, append(attrs, resource.WithHost())...)
	if err != nil {
		logger.Warn("otel resource", "error", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.Sampler()),
	)
	otel.SetTracerProvider(provider)
	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)

	return provider.Shutdown
}
