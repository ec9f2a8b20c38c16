// Package telemetry exposes the ambient OpenTelemetry tracer MockForge
// Core emits spans onto. The core never configures its own exporter or
// TracerProvider — that is the embedding application's job (see
// cmd/mockforge-coredemo for an example using otlptracegrpc); the core
// only asks the global otel provider for a named Tracer, so it traces
// correctly whether the embedder wired a real exporter or left the
// no-op default in place.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies this module's spans in whatever backend
// the embedding application's TracerProvider exports to.
const instrumentationName = "github.com/mockforge/core"

// Tracer returns the core's ambient tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span named name under ctx, tagging it with
// workspaceID when non-empty. Callers are responsible for calling End on
// the returned span.
func StartSpan(ctx context.Context, name, workspaceID string) (context.Context, trace.Span) {
	attrs := []trace.SpanStartOption{}
	if workspaceID != "" {
		attrs = append(attrs, trace.WithAttributes(attribute.String("workspace_id", workspaceID)))
	}
	return Tracer().Start(ctx, name, attrs...)
}
