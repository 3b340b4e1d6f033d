// Package observability wires the OpenTelemetry tracer used by pkg/rpc:
// one span per JSON-RPC call, with no OTLP exporter configured. Wiring an
// exporter is out of scope (see DESIGN.md); the tracer provider is installed
// so span creation in pkg/rpc is never a no-op and downstream processors can
// be attached later without touching call sites.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InstallTracerProvider registers a trace.TracerProvider with no span
// processor attached, so spans are created and sampled but not exported
// anywhere. Callers that later want spans shipped somewhere add a
// BatchSpanProcessor to the returned provider's configuration.
func InstallTracerProvider(serviceName string) (shutdown func(context.Context) error) {
	res := resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
