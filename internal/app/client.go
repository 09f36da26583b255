package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/health"
	"github.com/MrWong99/voicebridge/internal/relay"
	"github.com/MrWong99/voicebridge/internal/status"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Client runs the desktop endpoint: it captures the microphone, relays the
// audio to the peer, and plays back whatever the peer sends.
//
// A Client runs at most once at a time. All exported methods are safe for
// concurrent use.
type Client struct {
	cfg *config.Config
	d   deps

	mu      sync.Mutex
	mgr     *relay.Manager
	cancel  context.CancelFunc
	closers []func() error
}

// NewClient creates a client from cfg. An audio device must be supplied
// with [WithDevice].
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := newDeps(cfg, opts)
	if d.device == nil {
		return nil, errors.New("app: audio device is required")
	}
	return &Client{cfg: cfg, d: d}, nil
}

// Connected reports whether the client currently holds a live peer
// connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	mgr := c.mgr
	c.mu.Unlock()
	return mgr != nil && mgr.Connected()
}

// Stop ends a running Run. It is a no-op when the client is not running.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run streams until ctx is cancelled or Stop is called. It returns nil on
// an orderly stop, [config.ErrPeerNotConfigured] when no peer address is
// set, and an *[audio.OpenError] when a device cannot be opened. The final
// status reported on every path is [status.Stopped].
func (c *Client) Run(ctx context.Context) error {
	defer c.d.reporter.Report(status.Stopped)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if !c.cfg.Client.AutoStart && c.d.start != nil {
		c.d.reporter.Report(status.Ready)
		select {
		case <-c.d.start:
		case <-ctx.Done():
			return nil
		}
	}

	if err := config.ValidateClient(c.cfg); err != nil {
		c.d.reporter.Report(status.ConfigurePeer)
		return err
	}

	c.d.reporter.Report(status.Initializing)
	mgr, in, err := c.open(ctx)
	defer c.closeAll()
	if err != nil {
		return c.fail(err)
	}
	if err := in.Start(); err != nil {
		return c.fail(audio.NewOpenError(audio.Input, err))
	}
	c.d.reporter.Report(status.MicOpen)

	g, gctx := errgroup.WithContext(ctx)
	if addr := c.cfg.Client.StatusAddr; addr != "" {
		g.Go(func() error { return c.serveStatus(gctx, addr) })
	}
	g.Go(func() error {
		defer cancel()
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.d.reporter.Report(status.Stopping)
		return nil
	})
	err = g.Wait()

	c.mu.Lock()
	c.mgr = nil
	c.mu.Unlock()
	return err
}

// open acquires every resource of one run in dependency order: playback,
// manager, then capture, so the capture callback never pushes into a queue
// nothing drains. Each acquired resource registers a closer.
func (c *Client) open(ctx context.Context) (*relay.Manager, audio.InputStream, error) {
	cfg := c.cfg.Client
	format := formatOf(c.cfg.Audio)
	fpb := c.cfg.Audio.FramesPerBuffer

	var capture *relay.CaptureSession
	if cfg.OutputFile != "" {
		var err error
		capture, err = relay.NewCaptureSession(cfg.OutputFile, cfg.CaptureDuration(), format, c.d.sink)
		if err != nil {
			return nil, nil, err
		}
	}

	out, err := c.d.device.OpenOutput(format, fpb)
	if err != nil {
		return nil, nil, err
	}
	c.addCloser(out.Close)

	queue := relay.NewQueue(cfg.QueueSize)
	rc := cfg.Reconnect
	mgr, err := relay.NewManager(relay.ManagerConfig{
		Dialer:   c.d.dialer,
		URL:      cfg.PeerURL(),
		Queue:    queue,
		Output:   out,
		Capture:  capture,
		Reporter: c.d.reporter,
		Metrics:  c.d.metrics,
		Timing: relay.Timing{
			ConnectTimeout: rc.ConnectTimeout,
			PingInterval:   rc.PingInterval,
			PingTimeout:    rc.PingTimeout,
			PollInterval:   rc.PollInterval,
			InitialBackoff: rc.InitialBackoff,
			MaxBackoff:     rc.MaxBackoff,
			WriteTimeout:   rc.WriteTimeout,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	c.mgr = mgr
	c.mu.Unlock()

	// The driver invokes the callback serially, so offset needs no lock.
	var offset int
	in, err := c.d.device.OpenInput(format, fpb, func(buf []byte, _ int) bool {
		queue.Push(audio.AudioFrame{Data: bytes.Clone(buf), Timestamp: format.Duration(offset)})
		offset += len(buf)
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, nil, err
	}
	c.addCloser(in.Close)
	return mgr, in, nil
}

func (c *Client) addCloser(fn func() error) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// closeAll releases resources in reverse acquisition order: capture before
// playback.
func (c *Client) closeAll() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
}

// fail reports a fatal startup error and returns it wrapped.
func (c *Client) fail(err error) error {
	var oe *audio.OpenError
	if errors.As(err, &oe) {
		c.d.reporter.Report(status.CriticalPrefix + oe.UserMessage())
	} else {
		c.d.reporter.Report(status.CriticalPrefix + err.Error())
	}
	slog.Error("client failed to start", "err", err)
	return fmt.Errorf("app: start client: %w", err)
}

// serveStatus serves the health and metrics endpoints on addr until ctx
// ends. A listener failure is logged and does not stop streaming.
func (c *Client) serveStatus(ctx context.Context, addr string) error {
	ln, err := c.d.listen("tcp", addr)
	if err != nil {
		slog.Warn("status server disabled", "addr", addr, "err", err)
		return nil
	}
	srv := &http.Server{
		Handler:           StatusHandler(c.d.metrics, nil, health.PeerChecker(c)),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	slog.Info("status server listening", "addr", ln.Addr().String())
	if err := serve(ctx, srv, ln); err != nil {
		slog.Warn("status server stopped", "addr", addr, "err", err)
	}
	return nil
}
