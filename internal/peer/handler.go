// Package peer is the server side of the audio bridge. Each accepted
// WebSocket connection gets its own [Session], which plays the client's
// audio and answers with a synthesized tone.
package peer

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Config configures a [Handler].
type Config struct {
	// Device opens the playback stream of each session. Required.
	Device audio.Device

	// Format is the PCM format both endpoints agreed on.
	// Defaults to [audio.DefaultFormat].
	Format audio.Format

	// FramesPerBuffer is the playback buffer size.
	// Defaults to [audio.DefaultFramesPerBuffer].
	FramesPerBuffer int

	// Tone is the synthesized reply. Defaults to [audio.DefaultTone].
	Tone audio.Tone

	// Mode selects the reply cadence. Defaults to [ReplyPerMessage].
	Mode ReplyMode

	// ReplyInterval is the cadence of [ReplyPeriodic] replies.
	ReplyInterval time.Duration

	// ReadLimit caps inbound message size; see [transport.DefaultReadLimit].
	ReadLimit int64

	// WriteTimeout bounds sending one reply. Defaults to 5s.
	WriteTimeout time.Duration

	// Metrics records session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Handler upgrades HTTP requests to WebSocket sessions. Sessions are fully
// isolated: a failure in one never affects another.
type Handler struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
	total  atomic.Int64
}

var _ http.Handler = (*Handler)(nil)

// NewHandler validates cfg, fills in defaults, and checks that the reply
// tone renders in the configured format.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Device == nil {
		return nil, errors.New("peer: playback device is required")
	}
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = audio.DefaultFramesPerBuffer
	}
	if cfg.Tone == (audio.Tone{}) {
		cfg.Tone = audio.DefaultTone
	}
	if cfg.Mode == "" {
		cfg.Mode = ReplyPerMessage
	}
	if cfg.ReplyInterval <= 0 {
		cfg.ReplyInterval = cfg.Tone.Duration
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if _, err := NewResponder(cfg.Mode, cfg.ReplyInterval, cfg.Tone, cfg.Format); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := transport.Accept(w, r, h.cfg.ReadLimit)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = transport.CloseWithError(conn, "server shutting down")
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	h.active.Add(1)
	h.total.Add(1)
	h.cfg.Metrics.ActiveSessions.Add(r.Context(), 1)
	defer func() {
		h.active.Add(-1)
		h.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}()

	// Hijacked connections outlive server shutdown unless cancelled here.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	s := h.newSession(conn)
	slog.Info("client connected", "session_id", s.ID(), "remote", conn.RemoteAddr())
	_ = s.Run(ctx)
}

func (h *Handler) newSession(conn transport.Conn) *Session {
	return &Session{id: uuid.NewString(), conn: conn, cfg: h.cfg}
}

// ActiveSessions returns the number of sessions currently running.
func (h *Handler) ActiveSessions() int64 { return h.active.Load() }

// Accepting reports whether new connections are admitted.
func (h *Handler) Accepting() bool { return h.ctx.Err() == nil }

// TotalSessions returns the number of sessions started since creation.
func (h *Handler) TotalSessions() int64 { return h.total.Load() }

// Close ends every running session and waits for them to release their
// playback streams, or for ctx to end.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
