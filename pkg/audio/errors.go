package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel causes for hardware open failures. Device implementations wrap
// driver errors with these so callers can use [errors.Is].
var (
	// ErrNoDevice means no default device exists or the configured one is invalid.
	ErrNoDevice = errors.New("no audio device")

	// ErrDeviceBusy means the device exists but is held by another process.
	ErrDeviceBusy = errors.New("audio device busy or unavailable")
)

// Direction tells whether a stream captures or plays audio.
type Direction int

const (
	// Input is a capture stream (microphone).
	Input Direction = iota

	// Output is a playback stream (speaker).
	Output
)

// String returns "input" or "output".
func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// OpenFailure classifies why a device could not be opened.
type OpenFailure int

const (
	// OpenFailureGeneric covers every cause not listed below.
	OpenFailureGeneric OpenFailure = iota

	// OpenFailureNoDevice means the device is absent or invalid.
	OpenFailureNoDevice

	// OpenFailureBusy means the device is in use or temporarily unavailable.
	OpenFailureBusy
)

// String returns the human-readable name of the failure kind.
func (k OpenFailure) String() string {
	switch k {
	case OpenFailureNoDevice:
		return "no-device"
	case OpenFailureBusy:
		return "busy"
	default:
		return "generic"
	}
}

// OpenError is returned when a capture or playback stream cannot be
// opened. Retrying is not expected to help, so callers abort the run.
type OpenError struct {
	Direction Direction
	Kind      OpenFailure
	Err       error
}

// NewOpenError wraps err and classifies it by [ErrNoDevice], [ErrDeviceBusy]
// or, failing that, by the driver's message text.
func NewOpenError(dir Direction, err error) *OpenError {
	return &OpenError{Direction: dir, Kind: classifyOpen(err), Err: err}
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("audio: open %s stream (%s): %v", e.Direction, e.Kind, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// UserMessage returns the status line shown to a non-technical user.
func (e *OpenError) UserMessage() string {
	if e.Direction == Input {
		switch e.Kind {
		case OpenFailureNoDevice:
			return "Error: No microphone found or invalid input device."
		case OpenFailureBusy:
			return "Error: Microphone is busy or unavailable."
		default:
			return "Error: Could not open microphone. Check audio settings."
		}
	}
	switch e.Kind {
	case OpenFailureNoDevice:
		return "Error: No speaker found or invalid output device."
	case OpenFailureBusy:
		return "Error: Speaker is busy or unavailable."
	default:
		return "Error: Could not open speaker. Check audio settings."
	}
}

func classifyOpen(err error) OpenFailure {
	switch {
	case err == nil:
		return OpenFailureGeneric
	case errors.Is(err, ErrNoDevice):
		return OpenFailureNoDevice
	case errors.Is(err, ErrDeviceBusy):
		return OpenFailureBusy
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid input device"),
		strings.Contains(msg, "invalid output device"),
		strings.Contains(msg, "invalid device"),
		strings.Contains(msg, "no default"):
		return OpenFailureNoDevice
	case strings.Contains(msg, "device unavailable"),
		strings.Contains(msg, "resource busy"):
		return OpenFailureBusy
	}
	return OpenFailureGeneric
}
