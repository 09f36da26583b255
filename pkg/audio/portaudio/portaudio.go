// Package portaudio implements [audio.Device] on top of PortAudio via
// github.com/gordonklaus/portaudio. Capture streams use the callback API so
// the driver thread hands buffers directly to the relay; playback streams
// use blocking writes.
//
// Requires the PortAudio C library (libportaudio2 / portaudio19-dev) at
// build and run time.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// Device opens streams on the host's default PortAudio devices.
// Create with [New]; call [Device.Terminate] when all streams are closed.
type Device struct {
	mu sync.Mutex
}

var _ audio.Device = (*Device)(nil)

// New initialises PortAudio.
func New() (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Device{}, nil
}

// Terminate releases PortAudio. Streams must be closed first.
func (d *Device) Terminate() error {
	return pa.Terminate()
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(f audio.Format, framesPerBuffer int, cb audio.CaptureFunc) (audio.InputStream, error) {
	if err := f.Validate(); err != nil {
		return nil, audio.NewOpenError(audio.Input, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := pa.DefaultInputDevice(); err != nil {
		return nil, audio.NewOpenError(audio.Input, fmt.Errorf("%w: %v", audio.ErrNoDevice, err))
	}

	in := &inputStream{cb: cb, format: f}
	stream, err := pa.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), framesPerBuffer, in.process)
	if err != nil {
		return nil, audio.NewOpenError(audio.Input, mapError(err))
	}
	in.stream = stream
	return in, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(f audio.Format, framesPerBuffer int) (audio.OutputStream, error) {
	if err := f.Validate(); err != nil {
		return nil, audio.NewOpenError(audio.Output, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := pa.DefaultOutputDevice(); err != nil {
		return nil, audio.NewOpenError(audio.Output, fmt.Errorf("%w: %v", audio.ErrNoDevice, err))
	}

	out := &outputStream{buf: make([]int16, framesPerBuffer*f.Channels)}
	stream, err := pa.OpenDefaultStream(0, f.Channels, float64(f.SampleRate), framesPerBuffer, out.buf)
	if err != nil {
		return nil, audio.NewOpenError(audio.Output, mapError(err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, audio.NewOpenError(audio.Output, mapError(err))
	}
	out.stream = stream
	out.active.Store(true)
	return out, nil
}

// mapError attaches the audio sentinel matching a PortAudio error code.
func mapError(err error) error {
	switch {
	case errors.Is(err, pa.InvalidDevice):
		return fmt.Errorf("%w: %v", audio.ErrNoDevice, err)
	case errors.Is(err, pa.DeviceUnavailable):
		return fmt.Errorf("%w: %v", audio.ErrDeviceBusy, err)
	}
	return err
}

// ─── input ────────────────────────────────────────────────────────────────────

type inputStream struct {
	stream  *pa.Stream
	format  audio.Format
	cb      audio.CaptureFunc
	stopped atomic.Bool
	once    sync.Once
}

// process runs on the PortAudio callback thread.
func (s *inputStream) process(in []int16) {
	if s.stopped.Load() {
		return
	}
	if !s.cb(audio.Int16ToPCM(in), len(in)/s.format.Channels) {
		s.stopped.Store(true)
	}
}

func (s *inputStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start input: %w", err)
	}
	return nil
}

func (s *inputStream) Close() error {
	var err error
	s.once.Do(func() {
		s.stopped.Store(true)
		if stopErr := s.stream.Stop(); stopErr != nil && !errors.Is(stopErr, pa.StreamIsStopped) {
			slog.Debug("portaudio: stop input", "err", stopErr)
		}
		err = s.stream.Close()
	})
	return err
}

// ─── output ───────────────────────────────────────────────────────────────────

type outputStream struct {
	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16
	active atomic.Bool
	once   sync.Once
}

// Write plays pcm in buffer-sized chunks, zero-padding the final chunk.
func (s *outputStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return errors.New("portaudio: output stream closed")
	}

	samples := audio.PCMToInt16(pcm)
	for len(samples) > 0 {
		n := copy(s.buf, samples)
		clear(s.buf[n:])
		samples = samples[n:]
		if err := s.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (s *outputStream) Active() bool {
	return s.active.Load()
}

func (s *outputStream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.active.Store(false)
		if stopErr := s.stream.Stop(); stopErr != nil && !errors.Is(stopErr, pa.StreamIsStopped) {
			slog.Debug("portaudio: stop output", "err", stopErr)
		}
		err = s.stream.Close()
	})
	return err
}
