// Package status carries human-readable state transitions from the relay
// core to whatever front-end displays them.
//
// Producers call [Reporter.Report] from any goroutine, including audio
// callbacks, and never wait for the update to be shown. The front-end owns
// the delivery context: wrap its sink in an [Async] reporter so updates
// are marshalled onto one goroutine in order.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Common status lines.
const (
	Ready          = "Status: Ready"
	Initializing   = "Status: Initializing..."
	MicOpen        = "Status: Mic open, connecting..."
	Connected      = "Status: Connected. Streaming..."
	LostSend       = "Status: Connection lost (send). Retrying..."
	LostReceive    = "Status: Connection lost (receive). Retrying..."
	Reconnecting   = "Status: Connection lost. Reconnecting..."
	SendError      = "Status: Error sending audio. Retrying..."
	ReceiveError   = "Status: Error receiving audio. Retrying..."
	Stopping       = "Status: Stopping..."
	Stopped        = "Status: Stopped."
	ConfigurePeer  = "Status: Configure peer address first!"
	CriticalPrefix = "Status: Critical Error - "
)

// Connecting returns the status shown before a fresh connection attempt.
func Connecting(addr string) string {
	return fmt.Sprintf("Status: Connecting to %s...", addr)
}

// Retrying returns the status shown before sleeping for the given backoff.
// reason is a short phrase such as "Connection timed out".
func Retrying(reason string, backoff time.Duration) string {
	return fmt.Sprintf("Status: %s. Retrying in %ds...", reason, int(backoff.Seconds()))
}

// Saved returns the status shown after received audio was written to disk.
func Saved(path string, d time.Duration) string {
	return fmt.Sprintf("Status: Saved %.1fs of received audio to %s", d.Seconds(), path)
}

// Reporter is a one-way sink for status lines. Report must not block the
// caller for more than a negligible time.
type Reporter interface {
	Report(text string)
}

// Func adapts a plain function to [Reporter].
type Func func(text string)

// Report implements [Reporter].
func (f Func) Report(text string) { f(text) }

// Discard drops every status update.
var Discard Reporter = Func(func(string) {})

// Log reports status lines through slog at info level.
type Log struct {
	Logger *slog.Logger
}

// Report implements [Reporter].
func (l Log) Report(text string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("status", "text", text)
}

// Multi fans each update out to every reporter in order.
type Multi []Reporter

// Report implements [Reporter].
func (m Multi) Report(text string) {
	for _, r := range m {
		r.Report(text)
	}
}

// defaultAsyncBuffer is the number of pending updates an [Async] reporter
// holds before it starts dropping.
const defaultAsyncBuffer = 32

// Async delivers status updates to Sink on a single dedicated goroutine, in
// the order they were reported. Report never blocks: when the buffer is
// full the update is dropped and counted. Create with [NewAsync].
type Async struct {
	sink    Reporter
	updates chan string
	done    chan struct{}

	mu      sync.Mutex
	last    string
	dropped int
	closed  bool
}

// NewAsync starts the delivery goroutine. bufferSize ≤ 0 selects a default.
func NewAsync(sink Reporter, bufferSize int) *Async {
	if bufferSize <= 0 {
		bufferSize = defaultAsyncBuffer
	}
	a := &Async{
		sink:    sink,
		updates: make(chan string, bufferSize),
		done:    make(chan struct{}),
	}
	go a.deliver()
	return a
}

// Report implements [Reporter].
func (a *Async) Report(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.last = text
	select {
	case a.updates <- text:
	default:
		a.dropped++
	}
}

// Last returns the most recently reported status, delivered or not.
func (a *Async) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Dropped returns how many updates were discarded because the buffer was full.
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close stops accepting updates, delivers everything still buffered and
// waits for the delivery goroutine to exit. Safe to call more than once.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.updates)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) deliver() {
	defer close(a.done)
	for text := range a.updates {
		a.sink.Report(text)
	}
}
