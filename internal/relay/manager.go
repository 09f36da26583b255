package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/status"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ErrAlreadyRunning is returned by [Manager.Run] when another Run is active.
var ErrAlreadyRunning = errors.New("relay: manager already running")

// errConnectionLost ends a pipeline whose connection was closed underneath
// it. It never escapes the package.
var errConnectionLost = errors.New("relay: connection lost")

// Timing holds every interval and timeout the manager uses. Zero fields fall
// back to [DefaultTiming].
type Timing struct {
	// ConnectTimeout bounds one whole connection attempt.
	ConnectTimeout time.Duration

	// PingInterval is the delay between liveness probes while connected.
	PingInterval time.Duration

	// PingTimeout bounds one liveness probe.
	PingTimeout time.Duration

	// PollInterval bounds a queue wait and is the pause after a transient
	// pipeline error.
	PollInterval time.Duration

	// InitialBackoff and MaxBackoff bound the reconnection delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// WriteTimeout bounds sending one frame.
	WriteTimeout time.Duration
}

// DefaultTiming returns the production timing values.
func DefaultTiming() Timing {
	return Timing{
		ConnectTimeout: 6 * time.Second,
		PingInterval:   1 * time.Second,
		PingTimeout:    3 * time.Second,
		PollInterval:   100 * time.Millisecond,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
		WriteTimeout:   5 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = d.ConnectTimeout
	}
	if t.PingInterval <= 0 {
		t.PingInterval = d.PingInterval
	}
	if t.PingTimeout <= 0 {
		t.PingTimeout = d.PingTimeout
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.InitialBackoff <= 0 {
		t.InitialBackoff = d.InitialBackoff
	}
	if t.MaxBackoff <= 0 {
		t.MaxBackoff = d.MaxBackoff
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	return t
}

// ManagerConfig configures a [Manager].
type ManagerConfig struct {
	// Dialer opens connections to the peer. Required.
	Dialer transport.Dialer

	// URL is the peer endpoint, e.g. "ws://192.168.1.50:8765/". Required.
	URL string

	// Queue supplies captured frames to the sender. Required.
	Queue *Queue

	// Output receives every inbound frame. May be nil to discard playback.
	Output audio.OutputStream

	// Capture, when non-nil, records the first seconds of received audio.
	Capture *CaptureSession

	// Reporter receives user-facing status lines. Defaults to
	// [status.Discard].
	Reporter status.Reporter

	// Metrics records frame and connection metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Timing overrides intervals and timeouts.
	Timing Timing
}

// Manager owns the single logical connection to the peer. It dials, keeps
// the connection alive with pings, runs one sender and one receiver per
// connection generation, and reconnects with exponential backoff.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	dialer   transport.Dialer
	url      string
	queue    *Queue
	output   audio.OutputStream
	capture  *CaptureSession
	reporter status.Reporter
	metrics  *observe.Metrics
	timing   Timing
	backoff  *Backoff

	// sleep waits for d or until ctx ends. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	active atomic.Bool
	state  atomic.Int32

	mu      sync.Mutex
	conn    transport.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewManager validates cfg and returns a stopped manager. When the queue
// has no OnDrop hook, one that counts dropped frames is installed; call
// NewManager before the capture callback starts pushing.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	var errs []error
	if cfg.Dialer == nil {
		errs = append(errs, errors.New("relay: dialer is required"))
	}
	if cfg.URL == "" {
		errs = append(errs, errors.New("relay: peer URL is required"))
	}
	if cfg.Queue == nil {
		errs = append(errs, errors.New("relay: frame queue is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Reporter == nil {
		cfg.Reporter = status.Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	timing := cfg.Timing.withDefaults()

	m := &Manager{
		dialer:   cfg.Dialer,
		url:      cfg.URL,
		queue:    cfg.Queue,
		output:   cfg.Output,
		capture:  cfg.Capture,
		reporter: cfg.Reporter,
		metrics:  cfg.Metrics,
		timing:   timing,
		backoff:  NewBackoff(timing.InitialBackoff, timing.MaxBackoff),
		sleep:    sleepCtx,
	}
	if cfg.Queue.OnDrop == nil {
		met := cfg.Metrics
		cfg.Queue.OnDrop = func() { met.QueueDropped.Add(context.Background(), 1) }
	}
	return m, nil
}

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Connected reports whether the pipelines are currently running.
func (m *Manager) Connected() bool { return m.State() == StateConnected }

// RemoteAddr returns the address of the connected peer, or "" while
// disconnected.
func (m *Manager) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.RemoteAddr()
}

// Active reports whether Run is executing and Stop has not been requested.
func (m *Manager) Active() bool { return m.active.Load() }

// Run connects to the peer and relays audio until ctx is cancelled or Stop
// is called. Connection failures never end Run; they are reported and
// retried with backoff. Run returns nil on an orderly stop.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done, m.running = cancel, done, true
	m.active.Store(true)
	m.mu.Unlock()

	defer func() {
		m.active.Store(false)
		cancel()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	slog.Info("relay started", "url", m.url)
	for m.active.Load() && ctx.Err() == nil {
		gen, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil || !m.active.Load() {
				break
			}
			kind := transport.Classify(err)
			delay := m.backoff.Next()
			slog.Warn("connect failed", "url", m.url, "kind", kind.String(), "backoff", delay, "err", err)
			m.reporter.Report(status.Retrying(kind.Reason(), delay))
			if err := m.sleep(ctx, delay); err != nil {
				break
			}
			continue
		}

		lost := m.supervise(ctx, gen)
		if !lost {
			m.shutdown(gen)
			break
		}
		m.teardown(gen)
	}

	m.flushCapture()
	m.state.Store(int32(StateDisconnected))
	slog.Info("relay stopped", "url", m.url)
	return nil
}

// Stop ends Run and waits for it to return. The pipelines are cancelled and
// awaited before the connection is closed. Calling Stop when Run is not
// executing is a no-op. Safe to call more than once.
func (m *Manager) Stop() {
	m.active.Store(false)
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// generation is one connection together with the two pipelines bound to it.
type generation struct {
	conn   transport.Conn
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// connect performs one connection attempt and, on success, starts the
// pipelines for the new generation.
func (m *Manager) connect(ctx context.Context) (*generation, error) {
	m.state.Store(int32(StateConnecting))
	if m.backoff.AtInitial() {
		m.reporter.Report(status.Connecting(m.url))
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, m.timing.ConnectTimeout)
	dialCtx, span := observe.StartDialSpan(dialCtx, m.url)
	conn, err := m.dialer.Dial(dialCtx, m.url)
	observe.EndSpan(span, err)
	cancelDial()
	if err != nil {
		m.state.Store(int32(StateDisconnected))
		m.metrics.RecordConnectAttempt(ctx, transport.Classify(err).String())
		return nil, err
	}
	if ctx.Err() != nil || !m.active.Load() {
		_ = conn.CloseNow()
		m.state.Store(int32(StateDisconnected))
		return nil, context.Canceled
	}
	m.metrics.RecordConnectAttempt(ctx, "ok")
	m.backoff.Reset()

	genCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(genCtx)
	gen := &generation{conn: conn, ctx: groupCtx, cancel: cancel, group: group}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	group.Go(func() error { return m.sendLoop(groupCtx, conn) })
	group.Go(func() error { return m.receiveLoop(groupCtx, conn) })

	m.state.Store(int32(StateConnected))
	slog.Info("connected to peer", "url", m.url, "remote", conn.RemoteAddr())
	m.reporter.Report(status.Connected)
	return gen, nil
}

// supervise pings the peer while the generation lives. It returns true when
// the connection was lost and false when the manager is stopping.
func (m *Manager) supervise(ctx context.Context, gen *generation) bool {
	ticker := time.NewTicker(m.timing.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-gen.ctx.Done():
			// A pipeline ended on a closed connection.
			return m.active.Load() && ctx.Err() == nil
		case <-ticker.C:
			if !m.active.Load() {
				return false
			}
			if err := m.ping(gen); err != nil {
				if ctx.Err() != nil || !m.active.Load() {
					return false
				}
				slog.Warn("liveness check failed", "url", m.url, "err", err)
				return true
			}
		}
	}
}

func (m *Manager) ping(gen *generation) error {
	ctx, cancel := context.WithTimeout(gen.ctx, m.timing.PingTimeout)
	defer cancel()
	start := time.Now()
	if err := gen.conn.Ping(ctx); err != nil {
		return fmt.Errorf("relay: ping: %w", err)
	}
	m.metrics.PingDuration.Record(gen.ctx, time.Since(start).Seconds())
	m.backoff.Reset()
	return nil
}

// teardown discards a lost generation so the next iteration can reconnect.
func (m *Manager) teardown(gen *generation) {
	m.state.Store(int32(StateDisconnected))
	gen.cancel()
	m.await(gen)
	m.clearConn()
	_ = gen.conn.CloseNow()
	slog.Info("connection torn down", "url", m.url)
	m.reporter.Report(status.Reconnecting)
}

// shutdown ends the generation for good: pipelines first, then a graceful
// close of the connection.
func (m *Manager) shutdown(gen *generation) {
	m.state.Store(int32(StateClosing))
	gen.cancel()
	m.await(gen)
	m.clearConn()
	if err := gen.conn.Close(); err != nil {
		slog.Debug("close connection", "url", m.url, "err", err)
	}
}

func (m *Manager) await(gen *generation) {
	if err := gen.group.Wait(); err != nil &&
		!errors.Is(err, errConnectionLost) && !errors.Is(err, context.Canceled) {
		slog.Warn("pipeline ended with error", "url", m.url, "err", err)
	}
}

func (m *Manager) clearConn() {
	m.mu.Lock()
	m.conn = nil
	m.mu.Unlock()
}

func (m *Manager) flushCapture() {
	if m.capture == nil {
		return
	}
	saved, err := m.capture.FlushPartial()
	switch {
	case err != nil:
		slog.Error("save partial capture", "path", m.capture.Path(), "err", err)
	case saved:
		slog.Info("saved partial capture", "path", m.capture.Path(), "duration", m.capture.Duration())
		m.reporter.Report(status.Saved(m.capture.Path(), m.capture.Duration()))
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
