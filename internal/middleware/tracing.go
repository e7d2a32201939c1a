package middleware

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"paperchat/internal/telemetry"
)

// Tracing opens a server span per request, tags it with a ksuid request id
// and writes one access log line when the handler returns.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ksuid.New().String()
		ctx, span := telemetry.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.Path),
			attribute.String("http.user_agent", r.Header.Get("User-Agent")),
			attribute.String("request.id", requestID),
		)
		defer span.End()
		ctx = telemetry.WithRequestID(ctx, requestID)

		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		w.Header().Set("X-Request-ID", requestID)
		start := time.Now()

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(
			attribute.Int("http.status_code", wrapped.statusCode),
			attribute.Int64("http.response_time_ms", elapsed.Milliseconds()),
		)
		if wrapped.statusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
		}
		log.Printf("[%s] %s %s - %d (%dms)", requestID, r.Method, r.URL.Path, wrapped.statusCode, elapsed.Milliseconds())
	})
}

// Recovery turns a handler panic into a 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				span := trace.SpanFromContext(r.Context())
				span.RecordError(fmt.Errorf("panic: %v", rec))
				span.SetStatus(codes.Error, "panic recovered")
				log.Printf("[%s] PANIC: %v\n%s", telemetry.RequestID(r.Context()), rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal", "PC-API-5000", "Internal server error. Please retry or check service logs.")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
