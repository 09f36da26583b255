// Package mock provides test doubles for the transport package.
//
// [Conn] is driven from the test side: push inbound messages with [Conn.Deliver],
// inspect outbound messages with [Conn.Written]. [Dialer] hands out pre-queued
// connections or errors in order and records every dial.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicebridge/internal/transport"
)

// Conn is an in-memory [transport.Conn].
type Conn struct {
	// PingError, when non-nil, is returned by every Ping call.
	PingError error

	// WriteError, when non-nil, is returned by every Write call on an open
	// connection.
	WriteError error

	// Remote is returned by RemoteAddr.
	Remote string

	inbound chan []byte

	mu                sync.Mutex
	closed            bool
	closedCh          chan struct{}
	writes            [][]byte
	writesAfterClose  int
	pings             int
	CallCountClose    int
	CallCountCloseNow int
}

var _ transport.Conn = (*Conn)(nil)

// NewConn returns an open connection with room for buffered inbound messages.
func NewConn() *Conn {
	return &Conn{
		Remote:   "mock",
		inbound:  make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

// Deliver queues an inbound message for the next Read. It returns false if
// the connection is already closed.
func (c *Conn) Deliver(p []byte) bool {
	select {
	case <-c.closedCh:
		return false
	case c.inbound <- p:
		return true
	}
}

// Drop simulates the peer vanishing: pending and future reads fail with
// [transport.ErrClosed].
func (c *Conn) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Read implements [transport.Conn].
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-c.inbound:
		return p, nil
	default:
	}
	select {
	case p := <-c.inbound:
		return p, nil
	case <-c.closedCh:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements [transport.Conn].
func (c *Conn) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.writesAfterClose++
		return transport.ErrClosed
	}
	if c.WriteError != nil {
		return c.WriteError
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

// Ping implements [transport.Conn].
func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	c.pings++
	closed, pingErr := c.closed, c.PingError
	c.mu.Unlock()
	switch {
	case closed:
		return transport.ErrClosed
	case pingErr != nil:
		return pingErr
	}
	return ctx.Err()
}

// Close implements [transport.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.closeLocked()
	return nil
}

// CloseNow implements [transport.Conn].
func (c *Conn) CloseNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountCloseNow++
	c.closeLocked()
	return nil
}

// RemoteAddr implements [transport.Conn].
func (c *Conn) RemoteAddr() string { return c.Remote }

func (c *Conn) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
}

// SetPingError replaces PingError while the connection is in use.
func (c *Conn) SetPingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PingError = err
}

// Closed reports whether Close, CloseNow or Drop has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.closedCh }

// Written returns a copy of every successfully written message.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// WritesAfterClose counts Write calls made after the connection was closed.
func (c *Conn) WritesAfterClose() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writesAfterClose
}

// Pings returns how many times Ping was called.
func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// DialCall records one invocation of [Dialer.Dial].
type DialCall struct {
	URL string
}

// Dialer is a scripted [transport.Dialer]. Each Dial consumes the next entry
// of Results. Once Results is exhausted, Dial returns Fallback, or blocks
// until ctx is done when Fallback is nil.
type Dialer struct {
	mu       sync.Mutex
	Results  []DialResult
	Fallback error
	Calls    []DialCall
	dialed   chan struct{}
}

// DialResult is one scripted outcome.
type DialResult struct {
	Conn *Conn
	Err  error
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer returns a dialer that will hand out results in order.
func NewDialer(results ...DialResult) *Dialer {
	return &Dialer{Results: results, dialed: make(chan struct{}, 256)}
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, DialCall{URL: url})
	var (
		next  DialResult
		found bool
	)
	if len(d.Results) > 0 {
		next, found = d.Results[0], true
		d.Results = d.Results[1:]
	}
	fallback := d.Fallback
	d.mu.Unlock()

	if d.dialed != nil {
		select {
		case d.dialed <- struct{}{}:
		default:
		}
	}

	switch {
	case found && next.Err != nil:
		return nil, next.Err
	case found:
		return next.Conn, nil
	case fallback != nil:
		return nil, fallback
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// Dialed receives one value per Dial call.
func (d *Dialer) Dialed() <-chan struct{} { return d.dialed }

// CallCount returns the number of Dial calls so far.
func (d *Dialer) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
