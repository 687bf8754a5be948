// Package telemetry wires OpenTelemetry tracing for the JIT. Without an
// endpoint the global no-op provider stays installed and spans cost nothing.
package telemetry

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/gekko/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/colorfulnotion/gekko/jit"

// Span names and attribute keys shared by the compiler and the fault handler.
const (
	SpanCompile   = "jit.compile"
	SpanBackpatch = "jit.backpatch"
	SpanClear     = "jit.clear_cache"

	AttrGuestAddress = "guest.address"
	AttrInstructions = "block.instructions"
	AttrNearBytes    = "block.near_bytes"
	AttrFarBytes     = "block.far_bytes"
	AttrRetry        = "jit.retry"
)

// Init installs a batching OTLP/HTTP exporter when cfg names an endpoint.
// The returned shutdown flushes pending spans.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	return Install(exp, cfg.ServiceName).Shutdown, nil
}

// Install registers a tracer provider exporting through exp.
func Install(exp sdktrace.SpanExporter, serviceName string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns the JIT tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}
