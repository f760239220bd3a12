// Package observability installs the OpenTelemetry tracer provider used by
// the pipeline stages.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kiranshivaraju/sitepulse/internal/config"
)

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

// InitTracing installs a global tracer provider for the configured exporter.
// With exporter "none" spans are still created but sampled out.
func InitTracing(ctx context.Context, cfg config.TracingConfig, service, env string) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("deployment.environment", env),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		opts = append(opts,
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		)
	case "", "none":
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	slog.Info("tracing initialized", "service", service, "exporter", cfg.Exporter)
	return tp.Shutdown, nil
}
