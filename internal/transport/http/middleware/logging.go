package httpmw

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/developeragencia/conselhoscursor-sub003/internal/transport/http")

// Logging открывает span на запрос и пишет итоговую строку лога с trace_id.
// Тела запросов не логируются: в них переписка консультаций.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		lrw := &logResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lrw, r.WithContext(ctx))

		if lrw.status == 0 {
			lrw.status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", lrw.status))

		level := slog.LevelInfo
		if lrw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.FromCtx(ctx).Log(ctx, level, "http request",
			"req_id", RequestIDFromCtx(ctx),
			"method", r.Method,
			"path", r.URL.Path,
			"status", lrw.status,
			"bytes", lrw.bytes,
			"duration", time.Since(start).String(),
		)
	})
}

type logResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *logResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *logResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n

	return n, err
}
