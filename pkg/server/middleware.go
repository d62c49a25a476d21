package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/observability"
)

const (
	HeaderTraceID     = "X-Trace-ID"
	HeaderProcessTime = "X-Process-Time"
)

type traceKey struct{}

// TraceID returns the request trace id, or "" outside a request.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// responseWriter captures the status code and stamps the processing time
// header when the status line is written.
type responseWriter struct {
	http.ResponseWriter
	start      time.Time
	statusCode int
	size       int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if rw.wrote {
		return
	}
	rw.wrote = true
	rw.statusCode = statusCode
	rw.Header().Set(HeaderProcessTime, fmt.Sprintf("%.4f", time.Since(rw.start).Seconds()))
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wrote {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush keeps SSE streaming working through the wrapper.
func (rw *responseWriter) Flush() {
	if !rw.wrote {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// traceMiddleware assigns every request a trace id, honouring an inbound
// X-Trace-ID header.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderTraceID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderTraceID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceKey{}, id)))
	})
}

// observabilityMiddleware traces and measures every request and logs its
// outcome.
func observabilityMiddleware(tracer trace.Tracer, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), observability.SpanHTTPRequest, trace.WithAttributes(
				attribute.String(observability.AttrHTTPMethod, r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String(observability.AttrTraceID, TraceID(r.Context())),
			))
			defer span.End()

			wrapped := &responseWriter{ResponseWriter: w, start: start, statusCode: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routePattern(r)
			span.SetAttributes(
				attribute.String(observability.AttrHTTPRoute, route),
				attribute.Int(observability.AttrHTTPStatusCode, wrapped.statusCode),
			)
			if wrapped.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
			}
			metrics.RecordHTTPRequest(ctx, r.Method, route, wrapped.statusCode, duration)

			slog.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"bytes", wrapped.size,
				"duration", duration,
				"trace_id", TraceID(ctx),
			)
		})
	}
}

// routePattern returns the matched chi pattern, falling back to the path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderTraceID)
		w.Header().Set("Access-Control-Expose-Headers", HeaderTraceID+", "+HeaderProcessTime)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
