package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps the process's OpenTelemetry TracerProvider. The spans it
// exports are the per-request spans HTTPMetrics records; the workflow
// engine records no spans of its own.
type Tracer struct {
	provider *sdktrace.TracerProvider
}

// NewTracer builds a TracerProvider from cfg. The default "stdout" exporter
// needs no collector; "otlp-grpc" is accepted for completeness but the
// reference build only wires stdout.
func NewTracer(ctx context.Context, cfg *TracingConfig) (*Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("observability: create stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{provider: provider}, nil
}

func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// GetTracer returns a named tracer off the global provider, used by
// components that only need a tracer and not the whole Manager.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
