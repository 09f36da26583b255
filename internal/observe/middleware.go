package observe

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace ID back to the caller.
const CorrelationHeader = "X-Correlation-ID"

// quietPaths are polled by probes and scrapers and log at debug level.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// responseTap records the status written downstream. It passes Hijack
// through so a peer can upgrade to WebSocket behind the middleware.
type responseTap struct {
	http.ResponseWriter
	code     int
	hijacked bool
}

func (t *responseTap) WriteHeader(code int) {
	t.code = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := t.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observe: %T cannot be hijacked", t.ResponseWriter)
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		t.code, t.hijacked = http.StatusSwitchingProtocols, true
	}
	return conn, rw, err
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (t *responseTap) Unwrap() http.ResponseWriter { return t.ResponseWriter }

// Middleware traces every request, continuing a W3C trace from the request
// headers, and echoes the trace ID in [CorrelationHeader].
//
// Plain requests are recorded in [Metrics.HTTPRequestDuration]. Upgraded
// WebSocket requests are not: their handler returns when the peer session
// ends, so the elapsed time is a session length and is only logged.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set(CorrelationHeader, cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &responseTap{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(tap, r.WithContext(ctx))
			elapsed := time.Since(began)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.code))

			log := Logger(ctx).With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.code),
				slog.Duration("duration", elapsed),
			)
			switch {
			case tap.hijacked:
				log.Info("websocket connection closed", slog.String("remote", r.RemoteAddr))
			case quietPaths[r.URL.Path]:
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), routeAttrs(r))
				log.Debug("request completed")
			default:
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), routeAttrs(r))
				log.Info("request completed")
			}
		})
	}
}

func routeAttrs(r *http.Request) metric.RecordOption {
	return metric.WithAttributes(
		attribute.String("method", r.Method),
		attribute.String("path", r.URL.Path),
	)
}
