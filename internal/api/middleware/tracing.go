package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/epam/modular-api/internal/pkg/tracing"
)

// TraceIDHeader exposes the trace id so operators can jump from a CLI error
// to the collector.
const TraceIDHeader = "X-Trace-ID"

// Tracing wraps the handler chain with OpenTelemetry instrumentation. Trace
// context arrives on traceparent; the resulting trace id is echoed back.
func Tracing(next http.Handler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if traceID := tracing.TraceIDFromContext(r.Context()); traceID != "" {
			w.Header().Set(TraceIDHeader, traceID)
		}
		next.ServeHTTP(w, r)
	})
	return otelhttp.NewHandler(inner, "modular-api",
		otelhttp.WithSpanNameFormatter(spanName),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
	)
}

func spanName(_ string, r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
