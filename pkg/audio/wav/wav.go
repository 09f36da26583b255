// Package wav implements [audio.FileSink] by writing RIFF/WAVE files with
// github.com/youpy/go-wav.
package wav

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	gowav "github.com/youpy/go-wav"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Sink writes PCM buffers to WAV files on the local filesystem.
type Sink struct{}

var _ audio.FileSink = Sink{}

// WriteWAV creates (or truncates) path and writes pcm as a 16-bit PCM WAV
// file. Parent directories are created as needed.
func (Sink) WriteWAV(path string, pcm []byte, f audio.Format) (err error) {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("wav: %w", err)
	}
	if f.Channels > 2 {
		return fmt.Errorf("wav: at most 2 channels supported, got %d", f.Channels)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("wav: create directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wav: create %q: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	numSamples := f.Samples(len(pcm))
	w := gowav.NewWriter(file, uint32(numSamples), uint16(f.Channels), uint32(f.SampleRate), uint16(f.SampleWidth*8))

	raw := audio.PCMToInt16(pcm[:numSamples*f.BytesPerFrame()])
	samples := make([]gowav.Sample, numSamples)
	for i := range samples {
		for ch := range f.Channels {
			samples[i].Values[ch] = int(raw[i*f.Channels+ch])
		}
	}
	if err := w.WriteSamples(samples); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	return nil
}
