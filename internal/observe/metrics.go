// Package observe provides application-wide observability primitives for
// voicebridge: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scopeName is the instrumentation scope of every voicebridge meter and tracer.
const scopeName = "github.com/MrWong99/voicebridge"

// Side attribute values distinguishing the two endpoints.
const (
	SideClient = "client"
	SideServer = "server"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Frame counters ---

	// FramesSent counts PCM messages written to the connection. Use with
	// attribute.String("side", ...).
	FramesSent metric.Int64Counter

	// FramesReceived counts PCM messages read from the connection. Use with
	// attribute.String("side", ...).
	FramesReceived metric.Int64Counter

	// QueueDropped counts captured frames discarded because the frame queue
	// was full.
	QueueDropped metric.Int64Counter

	// RepliesSent counts synthesized tone replies sent by the server.
	RepliesSent metric.Int64Counter

	// --- Connection lifecycle ---

	// ConnectAttempts counts dial attempts. Use with
	// attribute.String("result", ...) where result is "ok" or a failure kind.
	ConnectAttempts metric.Int64Counter

	// TransportErrors counts non-fatal read/write errors. Use with
	// attribute.String("direction", "send"|"receive"|"playback").
	TransportErrors metric.Int64Counter

	// PingDuration tracks the round-trip time of liveness pings.
	PingDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live peer sessions on the server.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// round trips on a local network.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(scopeName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voicebridge.frames.sent",
		metric.WithDescription("Total PCM frames written to the peer connection."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("voicebridge.frames.received",
		metric.WithDescription("Total PCM frames read from the peer connection."),
	); err != nil {
		return nil, err
	}
	if met.QueueDropped, err = m.Int64Counter("voicebridge.queue.dropped",
		metric.WithDescription("Captured frames discarded because the frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.RepliesSent, err = m.Int64Counter("voicebridge.replies.sent",
		metric.WithDescription("Synthesized tone replies sent to clients."),
	); err != nil {
		return nil, err
	}
	if met.ConnectAttempts, err = m.Int64Counter("voicebridge.connect.attempts",
		metric.WithDescription("Connection attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("voicebridge.transport.errors",
		metric.WithDescription("Transient transport and playback errors by direction."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.PingDuration, err = m.Float64Histogram("voicebridge.ping.duration",
		metric.WithDescription("Round-trip time of connection liveness pings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicebridge.sessions.active",
		metric.WithDescription("Number of live peer sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameSent increments the sent-frame counter for side.
func (m *Metrics) RecordFrameSent(ctx context.Context, side string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordFrameReceived increments the received-frame counter for side.
func (m *Metrics) RecordFrameReceived(ctx context.Context, side string) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// RecordConnectAttempt records one dial attempt. result is "ok" on success
// or the failure kind label otherwise.
func (m *Metrics) RecordConnectAttempt(ctx context.Context, result string) {
	m.ConnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTransportError records a transient error in the given direction.
func (m *Metrics) RecordTransportError(ctx context.Context, direction string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}
