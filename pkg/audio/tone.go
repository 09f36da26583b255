package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Tone describes a fixed-frequency sine signal. It stands in for a real
// speech backend: the peer answers every request with the same tone.
type Tone struct {
	// Frequency in Hz. Default 440 (A4).
	Frequency float64

	// Duration of the rendered signal. Default 500ms.
	Duration time.Duration

	// Amplitude as a fraction of full scale, in (0, 1]. Default 0.5.
	Amplitude float64
}

// DefaultTone is the 440 Hz, half-second, half-scale reply tone.
var DefaultTone = Tone{
	Frequency: 440,
	Duration:  500 * time.Millisecond,
	Amplitude: 0.5,
}

// SampleCount returns the number of sample frames the tone occupies at
// the given sample rate.
func (t Tone) SampleCount(sampleRate int) int {
	return int(math.Round(t.Duration.Seconds() * float64(sampleRate)))
}

// Validate reports whether t can be rendered at sampleRate.
func (t Tone) Validate(sampleRate int) error {
	var errs []error
	if t.Frequency <= 0 || t.Frequency >= float64(sampleRate)/2 {
		errs = append(errs, fmt.Errorf("audio: tone frequency %.1f Hz outside (0, %d)", t.Frequency, sampleRate/2))
	}
	if t.Duration <= 0 {
		errs = append(errs, fmt.Errorf("audio: tone duration must be positive, got %s", t.Duration))
	}
	if t.Amplitude <= 0 || t.Amplitude > 1 {
		errs = append(errs, fmt.Errorf("audio: tone amplitude %g outside (0, 1]", t.Amplitude))
	}
	return errors.Join(errs...)
}

// Render synthesizes the tone as PCM in format f. The same sample is
// written to every channel. Output is deterministic for equal inputs.
func (t Tone) Render(f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(f.SampleRate); err != nil {
		return nil, err
	}
	n := t.SampleCount(f.SampleRate)
	samples := make([]int16, 0, n*f.Channels)
	step := 2 * math.Pi * t.Frequency / float64(f.SampleRate)
	for i := range n {
		v := clamp16(t.Amplitude * math.Sin(step*float64(i)) * 32767)
		for range f.Channels {
			samples = append(samples, v)
		}
	}
	return Int16ToPCM(samples), nil
}
