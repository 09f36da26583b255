package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/transport"
	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ErrPlaybackInactive ends a session whose playback stream stopped.
var ErrPlaybackInactive = errors.New("peer: playback stream inactive")

// Session serves one accepted connection. It owns its playback stream and
// its responder; nothing is shared with other sessions.
type Session struct {
	id     string
	conn   transport.Conn
	cfg    Config
	output audio.OutputStream
}

// ID returns the session identifier used in logs and spans.
func (s *Session) ID() string { return s.id }

// Run plays inbound frames and sends replies until the client disconnects,
// ctx ends, or an error occurs. The playback stream is released on every
// exit path. A clean disconnect returns nil.
func (s *Session) Run(ctx context.Context) error {
	ctx, span := observe.StartSessionSpan(ctx, s.id, s.conn.RemoteAddr())
	defer span.End()
	log := observe.Logger(ctx).With("session_id", s.id, "remote", s.conn.RemoteAddr())

	out, err := s.cfg.Device.OpenOutput(s.cfg.Format, s.cfg.FramesPerBuffer)
	if err != nil {
		var oe *audio.OpenError
		if !errors.As(err, &oe) {
			oe = audio.NewOpenError(audio.Output, err)
		}
		log.Error("open playback failed", "err", err)
		span.RecordError(oe)
		span.SetStatus(codes.Error, oe.UserMessage())
		_ = transport.CloseWithError(s.conn, oe.UserMessage())
		return oe
	}
	s.output = out
	defer func() {
		if cerr := out.Close(); cerr != nil {
			log.Warn("close playback", "err", cerr)
		}
	}()

	responder, err := NewResponder(s.cfg.Mode, s.cfg.ReplyInterval, s.cfg.Tone, s.cfg.Format)
	if err != nil {
		_ = transport.CloseWithError(s.conn, "tone synthesis failed")
		return err
	}

	log.Info("session started", "mode", string(responder.Mode()), "reply_bytes", len(responder.Frame()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, responder) })
	g.Go(func() error { return responder.Run(gctx, s.send) })
	err = g.Wait()

	switch {
	case err == nil, ctx.Err() != nil, transport.IsClosed(err):
		_ = s.conn.CloseNow()
		log.Info("session ended")
		return nil
	default:
		_ = transport.CloseWithError(s.conn, "session error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("session ended with error", "err", err)
		return err
	}
}

func (s *Session) readLoop(ctx context.Context, responder *Responder) error {
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.cfg.Metrics.RecordFrameReceived(ctx, observe.SideServer)

		if !s.output.Active() {
			return ErrPlaybackInactive
		}
		if err := s.output.Write(data); err != nil {
			s.cfg.Metrics.RecordTransportError(ctx, "playback")
			return fmt.Errorf("peer: playback: %w", err)
		}
		if err := responder.OnFrame(ctx, s.send); err != nil {
			return err
		}
	}
}

func (s *Session) send(ctx context.Context, frame []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, frame); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("peer: send reply: %w", err)
	}
	s.cfg.Metrics.RepliesSent.Add(ctx, 1)
	s.cfg.Metrics.RecordFrameSent(ctx, observe.SideServer)
	slog.Debug("reply sent", "session_id", s.id, "bytes", len(frame))
	return nil
}

// defaultWriteTimeout bounds sending one reply.
const defaultWriteTimeout = 5 * time.Second
