package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ReplyMode selects when a session answers with the synthesized tone.
type ReplyMode string

const (
	// ReplyPerMessage sends exactly one tone frame after every inbound frame.
	ReplyPerMessage ReplyMode = "per_message"

	// ReplyPeriodic sends a tone frame every reply interval, independent of
	// inbound traffic.
	ReplyPeriodic ReplyMode = "periodic"
)

// IsValid reports whether m is a known reply mode.
func (m ReplyMode) IsValid() bool {
	return m == ReplyPerMessage || m == ReplyPeriodic
}

// SendFunc writes one reply frame to the client.
type SendFunc func(ctx context.Context, frame []byte) error

// Responder produces the simulated response of one session. The tone is
// rendered once when the Responder is created and never modified.
type Responder struct {
	mode     ReplyMode
	interval time.Duration
	frame    []byte
}

// NewResponder renders tone in format f. interval is only used in
// [ReplyPeriodic] mode and must then be positive.
func NewResponder(mode ReplyMode, interval time.Duration, tone audio.Tone, f audio.Format) (*Responder, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("peer: unknown reply mode %q", mode)
	}
	if mode == ReplyPeriodic && interval <= 0 {
		return nil, fmt.Errorf("peer: reply interval must be positive, got %s", interval)
	}
	frame, err := tone.Render(f)
	if err != nil {
		return nil, fmt.Errorf("peer: render tone: %w", err)
	}
	return &Responder{mode: mode, interval: interval, frame: frame}, nil
}

// Frame returns the rendered tone. Callers must not modify it.
func (r *Responder) Frame() []byte { return r.frame }

// Mode returns the reply mode.
func (r *Responder) Mode() ReplyMode { return r.mode }

// OnFrame is called after an inbound frame was played. In per-message mode
// it sends the reply; otherwise it does nothing.
func (r *Responder) OnFrame(ctx context.Context, send SendFunc) error {
	if r.mode != ReplyPerMessage {
		return nil
	}
	return send(ctx, r.frame)
}

// Run sends a reply every interval until ctx ends or a send fails. In
// per-message mode it returns immediately.
func (r *Responder) Run(ctx context.Context, send SendFunc) error {
	if r.mode != ReplyPeriodic {
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := send(ctx, r.frame); err != nil {
				return err
			}
		}
	}
}
