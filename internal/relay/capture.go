package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ErrCaptureInactive is returned by [CaptureSession.Append] once the session
// has already written its file.
var ErrCaptureInactive = errors.New("relay: capture session inactive")

// CaptureSession records the first few seconds of received audio and writes
// them to a WAV file exactly once per run. After the flush it stays inactive
// until the process restarts.
type CaptureSession struct {
	path   string
	target int // samples per channel
	format audio.Format
	sink   audio.FileSink

	mu     sync.Mutex
	buf    []byte
	active bool
	saved  time.Duration
}

// NewCaptureSession returns an active session that flushes to path once
// duration worth of samples has been appended.
func NewCaptureSession(path string, duration time.Duration, f audio.Format, sink audio.FileSink) (*CaptureSession, error) {
	if path == "" {
		return nil, errors.New("relay: capture path is empty")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("relay: capture duration must be positive, got %s", duration)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("relay: capture: %w", err)
	}
	if sink == nil {
		return nil, errors.New("relay: capture sink is nil")
	}
	target := int(duration.Seconds() * float64(f.SampleRate))
	return &CaptureSession{
		path:   path,
		target: target,
		format: f,
		sink:   sink,
		buf:    make([]byte, 0, target*f.BytesPerFrame()),
		active: true,
	}, nil
}

// Path returns the destination file.
func (c *CaptureSession) Path() string { return c.path }

// Active reports whether the session still accepts audio.
func (c *CaptureSession) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Samples returns the number of samples per channel accumulated so far.
func (c *CaptureSession) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format.Samples(len(c.buf))
}

// Append adds received PCM. When the target is reached the accumulated audio
// is written to the file sink and the session deactivates; saved reports
// whether that happened during this call. The sink is invoked at most once
// over the session's lifetime, even if it fails.
func (c *CaptureSession) Append(pcm []byte) (saved bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false, ErrCaptureInactive
	}
	c.buf = append(c.buf, pcm...)
	if c.format.Samples(len(c.buf)) < c.target {
		return false, nil
	}
	return true, c.flushLocked()
}

// FlushPartial writes whatever has been accumulated if the session is still
// active and holds at least one sample. It is called once on shutdown.
func (c *CaptureSession) FlushPartial() (saved bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false, nil
	}
	if c.format.Samples(len(c.buf)) == 0 {
		c.active = false
		c.buf = nil
		return false, nil
	}
	return true, c.flushLocked()
}

// Duration returns the length of audio accumulated so far, or the length
// written once the session has flushed.
func (c *CaptureSession) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return c.saved
	}
	return c.format.Duration(len(c.buf))
}

func (c *CaptureSession) flushLocked() error {
	c.active = false
	pcm := c.buf
	c.buf = nil
	c.saved = c.format.Duration(len(pcm))
	if err := c.sink.WriteWAV(c.path, pcm, c.format); err != nil {
		return fmt.Errorf("relay: save capture to %s: %w", c.path, err)
	}
	return nil
}
