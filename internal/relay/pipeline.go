package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/voicebridge/internal/observe"
	"github.com/MrWong99/voicebridge/internal/status"
	"github.com/MrWong99/voicebridge/internal/transport"
)

// sendLoop moves captured frames from the queue onto the connection, one
// message per frame, until ctx ends or the connection closes.
func (m *Manager) sendLoop(ctx context.Context, conn transport.Conn) error {
	for m.active.Load() {
		frame, err := m.queue.Pop(ctx, m.timing.PollInterval)
		if errors.Is(err, ErrPopTimeout) {
			continue
		}
		if err != nil {
			return nil
		}

		writeCtx, cancel := context.WithTimeout(ctx, m.timing.WriteTimeout)
		err = conn.Write(writeCtx, frame.Data)
		cancel()
		if err == nil {
			m.metrics.RecordFrameSent(ctx, observe.SideClient)
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if transport.IsClosed(err) {
			slog.Info("send pipeline: connection closed", "url", m.url, "err", err)
			m.reporter.Report(status.LostSend)
			return errConnectionLost
		}
		slog.Warn("send pipeline: write failed", "url", m.url, "err", err)
		m.metrics.RecordTransportError(ctx, "send")
		m.reporter.Report(status.SendError)
		if m.sleep(ctx, m.timing.PollInterval) != nil {
			return nil
		}
	}
	return nil
}

// receiveLoop plays every inbound message and feeds the capture session
// until ctx ends or the connection closes.
func (m *Manager) receiveLoop(ctx context.Context, conn transport.Conn) error {
	for m.active.Load() {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if transport.IsClosed(err) {
				slog.Info("receive pipeline: connection closed", "url", m.url, "err", err)
				m.reporter.Report(status.LostReceive)
				return errConnectionLost
			}
			slog.Warn("receive pipeline: read failed", "url", m.url, "err", err)
			m.metrics.RecordTransportError(ctx, "receive")
			m.reporter.Report(status.ReceiveError)
			if m.sleep(ctx, m.timing.PollInterval) != nil {
				return nil
			}
			continue
		}
		m.metrics.RecordFrameReceived(ctx, observe.SideClient)
		m.play(ctx, data)
		m.record(data)
	}
	return nil
}

func (m *Manager) play(ctx context.Context, data []byte) {
	if m.output == nil {
		return
	}
	if err := m.output.Write(data); err != nil {
		slog.Warn("playback write failed", "bytes", len(data), "err", err)
		m.metrics.RecordTransportError(ctx, "playback")
	}
}

func (m *Manager) record(data []byte) {
	if m.capture == nil || !m.capture.Active() {
		return
	}
	saved, err := m.capture.Append(data)
	switch {
	case err != nil && !errors.Is(err, ErrCaptureInactive):
		slog.Error("save capture", "path", m.capture.Path(), "err", err)
	case saved && err == nil:
		slog.Info("saved capture", "path", m.capture.Path(), "duration", m.capture.Duration())
		m.reporter.Report(status.Saved(m.capture.Path(), m.capture.Duration()))
	}
}
