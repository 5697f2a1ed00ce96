package observe

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusWriter remembers the status code sent by the wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// TraceHeader carries the trace ID of a diagnostics request back to the
// caller, so a failing probe can be matched with its log lines.
const TraceHeader = "X-Trace-Id"

// Middleware instruments the diagnostics listener. Each request runs in a
// server span and its latency lands on [Metrics.HTTPRequestDuration] keyed
// by method, path and status. Scrapes and passing probes are logged at
// debug level; a failing probe (5xx) is logged as a warning since it means
// the database or speech model is unusable.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(r.Context(), r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()
			if id := TraceID(ctx); id != "" {
				w.Header().Set(TraceHeader, id)
			}

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.code))
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
				attribute.String("status", strconv.Itoa(sw.code)),
			))

			log := Logger(ctx)
			if sw.code >= http.StatusInternalServerError {
				log.Warn("diagnostics request failed", "path", r.URL.Path, "status", sw.code, "duration", elapsed)
				return
			}
			log.Debug("diagnostics request", "method", r.Method, "path", r.URL.Path, "status", sw.code, "duration", elapsed)
		})
	}
}
