package audio

import (
	"fmt"
	"time"
)

// Wire format shared by both endpoints. There is no negotiation: a peer
// configured with different values produces garbage, not an error.
const (
	DefaultSampleRate      = 44100
	DefaultChannels        = 1
	DefaultSampleWidth     = 2
	DefaultFramesPerBuffer = 1024
)

// DefaultFormat is signed 16-bit little-endian mono PCM at 44.1 kHz.
var DefaultFormat = Format{
	SampleRate:  DefaultSampleRate,
	Channels:    DefaultChannels,
	SampleWidth: DefaultSampleWidth,
}

// AudioFrame is a single chunk of PCM audio flowing through the relay.
// Frames are created once (by the capture callback or the tone
// synthesizer) and never mutated afterwards.
type AudioFrame struct {
	// Data holds interleaved little-endian PCM samples.
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the PCM layout of an audio stream.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample, per channel
}

// BytesPerFrame returns the size of one multi-channel sample frame.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.SampleWidth
}

// Samples returns how many sample frames fit in n bytes of PCM.
func (f Format) Samples(n int) int {
	bpf := f.BytesPerFrame()
	if bpf <= 0 {
		return 0
	}
	return n / bpf
}

// Duration returns the playback duration of n bytes of PCM.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples(n)) * time.Second / time.Duration(f.SampleRate)
}

// Validate reports whether the format can be rendered by this package.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", f.Channels)
	}
	if f.SampleWidth != 2 {
		return fmt.Errorf("audio: only 16-bit samples are supported, got %d bytes", f.SampleWidth)
	}
	return nil
}

// String returns a human-readable form, e.g. "44100Hz mono s16le".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels) + fmt.Sprintf(" s%dle", f.SampleWidth*8)
}
