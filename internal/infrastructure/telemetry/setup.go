package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// InitTracer installs a stdout tracer provider when enabled. The returned
// shutdown func is always safe to call.
func InitTracer(ctx context.Context, log *zap.Logger, serviceName string, enabled bool) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !enabled {
		return noop
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		log.Warn("telemetry exporter init failed", zap.Error(err))
		return noop
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown
}
