package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig describes the process whose telemetry is exported.
type ProviderConfig struct {
	// Role is SideClient or SideServer. It becomes the service name suffix
	// and the voicebridge.role resource attribute.
	Role string

	// Version is reported as service.version.
	Version string

	// SpanExporter receives finished spans. Without one, spans are sampled
	// for log correlation but never leave the process.
	SpanExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of new traces kept when SpanExporter is
	// set. Zero keeps all of them.
	SampleRatio float64
}

// InitProvider installs global meter and tracer providers. Metrics are served
// through the Prometheus default registry, which the /metrics endpoint
// exposes. The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		topts = append(topts, sdktrace.WithBatcher(cfg.SpanExporter))
		if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
			topts = append(topts, sdktrace.WithSampler(
				sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))))
		}
	}
	tp := sdktrace.NewTracerProvider(topts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first: the batcher may still record span-derived metrics.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func serviceResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	name := "voicebridge"
	if cfg.Role != "" {
		name += "-" + cfg.Role
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	if cfg.Role != "" {
		attrs = append(attrs, attribute.String("voicebridge.role", cfg.Role))
	}
	return resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
}
