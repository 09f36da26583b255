// Package app wires the voicebridge subsystems into a running client or
// server.
//
// [Client] owns the desktop side: capture, the relay manager, playback and
// the optional one-shot capture file. [Server] owns the mobile side: the
// HTTP listener, the per-connection peer sessions and the restart loop.
//
// For testing, inject doubles via functional options (WithDevice,
// WithDialer, WithFileSink, etc.). When an option is not provided, the
// constructor builds the production implementation from the config.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/health"
	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/status"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/audio/wav"
)

// shutdownTimeout bounds the graceful stop of an HTTP server.
const shutdownTimeout = 5 * time.Second

// deps holds the collaborators shared by [Client] and [Server].
type deps struct {
	device   audio.Device
	dialer   transport.Dialer
	sink     audio.FileSink
	reporter status.Reporter
	metrics  *observe.Metrics
	listen   func(network, address string) (net.Listener, error)
	start    <-chan struct{}
}

// Option is a functional option for [NewClient] and [NewServer]. Use these
// to inject test doubles.
type Option func(*deps)

// WithDevice sets the audio hardware. Required for both roles.
func WithDevice(d audio.Device) Option {
	return func(o *deps) { o.device = d }
}

// WithDialer injects a dialer instead of the WebSocket dialer built from
// config.
func WithDialer(d transport.Dialer) Option {
	return func(o *deps) { o.dialer = d }
}

// WithFileSink injects the sink for the capture file instead of the WAV
// writer.
func WithFileSink(s audio.FileSink) Option {
	return func(o *deps) { o.sink = s }
}

// WithReporter sets where client status lines go. Defaults to
// [status.Log].
func WithReporter(r status.Reporter) Option {
	return func(o *deps) { o.reporter = r }
}

// WithMetrics injects the metric instruments instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *deps) { o.metrics = m }
}

// WithListen replaces [net.Listen] for the server listener.
func WithListen(fn func(network, address string) (net.Listener, error)) Option {
	return func(o *deps) { o.listen = fn }
}

// WithStartSignal makes a client configured without auto_start wait for
// ch to be closed before it opens any device.
func WithStartSignal(ch <-chan struct{}) Option {
	return func(o *deps) { o.start = ch }
}

func newDeps(cfg *config.Config, opts []Option) deps {
	d := deps{}
	for _, o := range opts {
		o(&d)
	}
	if d.dialer == nil {
		d.dialer = &transport.WebSocketDialer{HandshakeTimeout: cfg.Client.Reconnect.HandshakeTimeout}
	}
	if d.sink == nil {
		d.sink = wav.Sink{}
	}
	if d.reporter == nil {
		d.reporter = status.Log{}
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	if d.listen == nil {
		d.listen = net.Listen
	}
	return d
}

// formatOf returns the wire format described by cfg.
func formatOf(cfg config.AudioConfig) audio.Format {
	return audio.Format{
		SampleRate:  cfg.SampleRate,
		Channels:    cfg.Channels,
		SampleWidth: cfg.SampleWidth,
	}
}

// StatusHandler returns the side-channel HTTP handler serving /healthz,
// /readyz and /metrics, instrumented with m. extra, when non-nil, is
// mounted at "/".
func StatusHandler(m *observe.Metrics, extra http.Handler, checkers ...health.Checker) http.Handler {
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if extra != nil {
		mux.Handle("/", extra)
	}
	return observe.Middleware(m)(mux)
}

// serve runs srv on ln until ctx ends, then shuts it down gracefully.
// It returns the listener error if serving stopped on its own.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "addr", ln.Addr().String(), "err", err)
		}
		<-errCh
		return nil
	}
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
