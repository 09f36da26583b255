package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/internal/config"
	"github.com/MrWong99/voicebridge/internal/health"
	"github.com/MrWong99/voicebridge/internal/peer"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Server runs the mobile endpoint: it accepts WebSocket clients on "/",
// plays their audio and answers with the configured tone. /healthz,
// /readyz and /metrics share the listener.
type Server struct {
	cfg     *config.Config
	d       deps
	handler *peer.Handler

	mu    sync.Mutex
	addr  string
	ready chan struct{}
	once  sync.Once
}

// NewServer creates a server from cfg. An audio device must be supplied
// with [WithDevice].
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := newDeps(cfg, opts)
	if d.device == nil {
		return nil, errors.New("app: audio device is required")
	}
	s := cfg.Server
	h, err := peer.NewHandler(peer.Config{
		Device:          d.device,
		Format:          formatOf(cfg.Audio),
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Tone: audio.Tone{
			Frequency: s.Tone.Frequency,
			Duration:  s.Tone.Duration,
			Amplitude: s.Tone.Amplitude,
		},
		Mode:          peer.ReplyMode(s.ReplyMode),
		ReplyInterval: s.ReplyInterval,
		Metrics:       d.metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, d: d, handler: h, ready: make(chan struct{})}, nil
}

// Ready is closed once the first listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or "" before [Server.Ready].
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Handler returns the peer handler serving WebSocket sessions.
func (s *Server) Handler() *peer.Handler { return s.handler }

// Run serves until ctx is cancelled. When listening or serving fails, the
// error is logged and the listener is re-created after restart_delay. On
// return every session has been closed and its playback released.
func (s *Server) Run(ctx context.Context) error {
	handler := StatusHandler(s.d.metrics, s.handler, health.ListenerChecker(s.handler))
	addr := s.cfg.Server.ListenAddr
	delay := s.cfg.Server.RestartDelay

	for ctx.Err() == nil {
		err := s.listenAndServe(ctx, addr, handler)
		if ctx.Err() != nil {
			break
		}
		slog.Error("server failed; restarting", "addr", addr, "restart_delay", delay, "err", err)
		if sleepCtx(ctx, delay) != nil {
			break
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.handler.Close(closeCtx); err != nil {
		slog.Warn("peer sessions did not finish", "err", err)
	}
	slog.Info("server stopped", "sessions", s.handler.TotalSessions())
	return nil
}

func (s *Server) listenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := s.d.listen("tcp", addr)
	if err != nil {
		return err
	}
	bound := ln.Addr().String()
	s.mu.Lock()
	s.addr = bound
	s.mu.Unlock()
	s.once.Do(func() { close(s.ready) })
	slog.Info("server listening", "addr", bound, "reply_mode", s.cfg.Server.ReplyMode)

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := serve(ctx, srv, ln); err != nil {
		return err
	}
	if ctx.Err() == nil {
		return errors.New("listener closed")
	}
	return nil
}
