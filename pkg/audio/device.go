// Package audio defines the PCM data model and the hardware collaborator
// interfaces used by voicebridge.
//
// The primary abstractions are:
//
//   - [Device] opens capture and playback streams on audio hardware.
//   - [InputStream] is a running capture stream that delivers fixed-size
//     buffers to a [CaptureFunc] on the driver's own goroutine or thread.
//   - [OutputStream] is a playback handle accepting raw PCM writes.
//   - [FileSink] persists a PCM buffer as a WAV file.
//
// Concrete implementations live in sub-packages (audio/portaudio,
// audio/wav) so the relay core never depends on cgo or the filesystem.
package audio

// CaptureFunc receives one captured buffer of frameCount sample frames.
// It is invoked on the driver's callback context and must return quickly;
// returning false asks the driver to stop delivering buffers.
//
// buf is only valid for the duration of the call.
type CaptureFunc func(buf []byte, frameCount int) bool

// InputStream is an open capture stream.
type InputStream interface {
	// Start begins invoking the capture callback.
	Start() error

	// Close stops the stream and releases the device. Safe to call more
	// than once.
	Close() error
}

// OutputStream is an open playback handle.
type OutputStream interface {
	// Write plays pcm, blocking until the driver accepted it.
	Write(pcm []byte) error

	// Active reports whether the stream still accepts writes.
	Active() bool

	// Close stops playback and releases the device. Safe to call more than
	// once.
	Close() error
}

// Device opens streams on audio hardware.
//
// Implementations must be safe for concurrent use: the server opens one
// output stream per connected peer.
type Device interface {
	// OpenInput opens and returns a capture stream that calls cb with
	// framesPerBuffer sample frames per invocation once started. Failures
	// are reported as *[OpenError].
	OpenInput(f Format, framesPerBuffer int, cb CaptureFunc) (InputStream, error)

	// OpenOutput opens a playback stream. Failures are reported as
	// *[OpenError].
	OpenOutput(f Format, framesPerBuffer int) (OutputStream, error)
}

// FileSink persists captured PCM. voicebridge calls it at most once per run.
type FileSink interface {
	WriteWAV(path string, pcm []byte, f Format) error
}
