// Package transport is the message-oriented duplex connection that carries
// PCM frames between the two endpoints. Every message is one opaque binary
// payload; framing is provided by WebSocket (github.com/coder/websocket),
// there is no additional header.
//
// A [Conn] supports exactly one concurrent reader and one concurrent writer;
// [Conn.Ping] may run alongside them.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/coder/websocket"
)

// Conn is an established connection to the peer.
type Conn interface {
	// Read blocks until the next message arrives or ctx is done.
	Read(ctx context.Context) ([]byte, error)

	// Write sends p as a single binary message.
	Write(ctx context.Context, p []byte) error

	// Ping performs a round trip to confirm the connection is still usable.
	// A concurrent Read must be in progress for the reply to be observed.
	Ping(ctx context.Context) error

	// Close performs a graceful close handshake. Safe to call more than once.
	Close() error

	// CloseNow drops the connection without a handshake. Safe to call more
	// than once.
	CloseNow() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// Dialer establishes connections to a peer URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ErrClosed is returned by Conn implementations once the connection is closed.
var ErrClosed = net.ErrClosed

// IsClosed reports whether err means the connection is gone for good, as
// opposed to a transient failure worth retrying on the same connection.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// FailureKind classifies a failed connection attempt.
type FailureKind int

const (
	// FailureOther is any failure not covered below.
	FailureOther FailureKind = iota

	// FailureTimeout means the attempt did not finish within its deadline.
	FailureTimeout

	// FailureRefused means nothing accepted the connection at the address.
	FailureRefused

	// FailureUnreachable means the network or host could not be reached.
	FailureUnreachable
)

// String returns a short label used in metrics and logs.
func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureRefused:
		return "refused"
	case FailureUnreachable:
		return "unreachable"
	default:
		return "error"
	}
}

// Reason returns the phrase shown to users for this failure kind.
func (k FailureKind) Reason() string {
	switch k {
	case FailureTimeout:
		return "Connection timed out"
	case FailureRefused:
		return "Connection failed (refused)"
	case FailureUnreachable:
		return "Connection failed (network unreachable)"
	default:
		return "Connection error"
	}
}

// Classify maps a dial error to a [FailureKind].
func Classify(err error) FailureKind {
	var netErr net.Error
	switch {
	case err == nil:
		return FailureOther
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return FailureUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	}
	return FailureOther
}
