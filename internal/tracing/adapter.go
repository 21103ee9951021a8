package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const adapterTracerName = "agentbridged-adapter"

func adapterTracer() trace.Tracer {
	return Tracer(adapterTracerName)
}

// TraceAdapterStart creates a span around an adapter's StartSession call.
func TraceAdapterStart(ctx context.Context, adapterName, projectPath string) (context.Context, trace.Span) {
	ctx, span := adapterTracer().Start(ctx, "adapter.start_session",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("adapter", adapterName),
		attribute.String("project_path", projectPath),
	)
	return ctx, span
}

// TraceAdapterCommand creates a span around a command routed to a session's
// adapter (execute).
func TraceAdapterCommand(ctx context.Context, sessionID string, command string) (context.Context, trace.Span) {
	ctx, span := adapterTracer().Start(ctx, "adapter.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("command", command),
	)
	return ctx, span
}

// TraceAdapterResult records the outcome of a traced adapter call on its
// span.
func TraceAdapterResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
