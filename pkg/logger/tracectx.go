package logger

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

func AttrsFromCtx(ctx context.Context) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}

	return []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}

// FromCtx возвращает логгер с trace_id/span_id, если в контексте есть span.
func FromCtx(ctx context.Context) *slog.Logger {
	attrs := AttrsFromCtx(ctx)
	if len(attrs) == 0 {
		return L()
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return L().With(args...)
}
