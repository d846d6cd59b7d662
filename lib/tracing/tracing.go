package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

// Init installs the global tracer provider for service. Spans are exported over
// OTLP/gRPC only when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise they are
// sampled and dropped. The returned func flushes and stops the provider.
func Init(ctx context.Context, service, version string) (func(context.Context) error, error) {
	opts := []trace.TracerProviderOption{
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		)),
	}

	if _, ok := os.LookupEnv(`OTEL_EXPORTER_OTLP_ENDPOINT`); ok {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
		)
		exporter, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf(`creating OTLP trace exporter: %w`, err)
		}
		opts = append(opts, trace.WithBatcher(
			exporter,
			trace.WithBatchTimeout(time.Second),
		))
	}

	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
