package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/couchcryptid/civicfix-service/internal/config"
)

// ServiceName identifies this process in logs and exported spans.
const ServiceName = "civicfix"

// SetupTracing installs the global tracer provider selected by
// OTEL_TRACES_EXPORTER and returns its shutdown, which flushes buffered
// spans. With no exporter the global no-op provider stays in place and the
// shutdown does nothing.
func SetupTracing(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	tp, err := newTracerProvider(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	if tp == nil {
		return func(context.Context) error { return nil }, nil
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg *config.Config, stdout io.Writer) (*sdktrace.TracerProvider, error) {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.TracesExporter {
	case config.TracesOTLP:
		exporter, err = otlptracehttp.New(ctx)
	case config.TracesStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", cfg.TracesExporter, err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TracesSampleRatio))),
	), nil
}
