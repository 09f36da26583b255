// Package mock provides in-memory implementations of the [audio.Device],
// [audio.InputStream], [audio.OutputStream], and [audio.FileSink]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	in, _ := dev.OpenInput(audio.DefaultFormat, 1024, cb)
//	_ = in.Start()
//	dev.LastInput().Emit(make([]byte, 2048)) // drives cb like a driver would
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/voicebridge/pkg/audio"
)

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenInputError, when non-nil, is wrapped in an [audio.OpenError] and
	// returned by OpenInput.
	OpenInputError error

	// OpenOutputError, when non-nil, is wrapped in an [audio.OpenError] and
	// returned by OpenOutput.
	OpenOutputError error

	// OutputWriteError is copied into every OutputStream opened afterwards.
	OutputWriteError error

	// Inputs records every input stream opened, in order.
	Inputs []*InputStream

	// Outputs records every output stream opened, in order.
	Outputs []*OutputStream
}

// OpenInput implements [audio.Device].
func (d *Device) OpenInput(f audio.Format, framesPerBuffer int, cb audio.CaptureFunc) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenInputError != nil {
		return nil, audio.NewOpenError(audio.Input, d.OpenInputError)
	}
	in := &InputStream{Format: f, FramesPerBuffer: framesPerBuffer, cb: cb}
	d.Inputs = append(d.Inputs, in)
	return in, nil
}

// OpenOutput implements [audio.Device].
func (d *Device) OpenOutput(f audio.Format, framesPerBuffer int) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenOutputError != nil {
		return nil, audio.NewOpenError(audio.Output, d.OpenOutputError)
	}
	out := &OutputStream{Format: f, WriteError: d.OutputWriteError}
	d.Outputs = append(d.Outputs, out)
	return out, nil
}

// LastInput returns the most recently opened input stream, or nil.
func (d *Device) LastInput() *InputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Inputs) == 0 {
		return nil
	}
	return d.Inputs[len(d.Inputs)-1]
}

// LastOutput returns the most recently opened output stream, or nil.
func (d *Device) LastOutput() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

// OutputCount returns how many output streams were opened.
func (d *Device) OutputCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Outputs)
}

// ─── InputStream ──────────────────────────────────────────────────────────────

// InputStream is a mock implementation of [audio.InputStream]. Tests drive
// the capture callback through [InputStream.Emit].
type InputStream struct {
	mu sync.Mutex

	// Format and FramesPerBuffer record the OpenInput arguments.
	Format          audio.Format
	FramesPerBuffer int

	// StartError is returned by Start.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	cb      audio.CaptureFunc
	started bool
	stopped bool
}

// Start implements [audio.InputStream].
func (s *InputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartError != nil {
		return s.StartError
	}
	s.started = true
	return nil
}

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.started = false
	return nil
}

// Emit delivers buf to the capture callback as the driver would. It returns
// false when the stream is not running or the callback asked to stop.
func (s *InputStream) Emit(buf []byte) bool {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return false
	}
	cb := s.cb
	frames := s.Format.Samples(len(buf))
	s.mu.Unlock()

	if cb(buf, frames) {
		return true
	}
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return false
}

// Closed reports whether Close has been called at least once.
func (s *InputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── OutputStream ─────────────────────────────────────────────────────────────

// OutputStream is a mock implementation of [audio.OutputStream] that keeps
// every written buffer.
type OutputStream struct {
	mu sync.Mutex

	// Format records the OpenOutput argument.
	Format audio.Format

	// WriteError is returned by every Write call while set.
	WriteError error

	// Inactive makes Active report false.
	Inactive bool

	// Writes holds a copy of every buffer passed to Write.
	Writes [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.OutputStream].
func (s *OutputStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	s.Writes = append(s.Writes, slices.Clone(pcm))
	return nil
}

// Active implements [audio.OutputStream].
func (s *OutputStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.Inactive && s.CallCountClose == 0
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Written returns a snapshot of the buffers written so far.
func (s *OutputStream) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Writes)
}

// Closed reports whether Close has been called at least once.
func (s *OutputStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── FileSink ─────────────────────────────────────────────────────────────────

// WriteWAVCall records the arguments of a single [FileSink.WriteWAV] invocation.
type WriteWAVCall struct {
	Path   string
	PCM    []byte
	Format audio.Format
}

// FileSink is a mock implementation of [audio.FileSink].
type FileSink struct {
	mu sync.Mutex

	// Error is returned by WriteWAV.
	Error error

	// Calls records all WriteWAV invocations.
	Calls []WriteWAVCall
}

// WriteWAV implements [audio.FileSink].
func (s *FileSink) WriteWAV(path string, pcm []byte, f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, WriteWAVCall{Path: path, PCM: slices.Clone(pcm), Format: f})
	return s.Error
}

// CallCount returns how many times WriteWAV was called.
func (s *FileSink) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Recorded returns a snapshot of all WriteWAV calls.
func (s *FileSink) Recorded() []WriteWAVCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Calls)
}
