package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "edustream"

// StartTurnSpan starts a span covering one chat turn.
func StartTurnSpan(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "chat.turn",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
		),
	)
}

// StartCompletionSpan starts a span for the upstream completion call.
func StartCompletionSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.completion",
		trace.WithAttributes(
			attribute.String("llm.model", model),
		),
	)
}
