package transport_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/MrWong99/voicebridge/internal/transport"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server whose handler receives the
// accepted connection. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn transport.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Accept(w, r, 0)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocket_EchoLargeMessage(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn transport.Conn) {
		ctx := context.Background()
		for {
			msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := conn.Write(ctx, msg); err != nil {
				return
			}
		}
	})

	d := &transport.WebSocketDialer{HandshakeTimeout: 3 * time.Second}
	conn, err := d.Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Larger than the library's 32 KiB default read limit.
	payload := bytes.Repeat([]byte{0xAB, 0xCD}, 22050)
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("echo mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestWebSocket_PingWhileReading(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn transport.Conn) {
		_, _ = conn.Read(context.Background())
	})

	d := &transport.WebSocketDialer{}
	conn, err := d.Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	readCtx, stopRead := context.WithCancel(t.Context())
	defer stopRead()
	go func() { _, _ = conn.Read(readCtx) }()

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestWebSocket_ReadAfterPeerCloseIsClosed(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn transport.Conn) {
		_ = conn.Close()
	})

	d := &transport.WebSocketDialer{}
	conn, err := d.Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, err = conn.Read(ctx)
	if !transport.IsClosed(err) {
		t.Errorf("IsClosed(%v) = false, want true", err)
	}
}

func TestWebSocket_CloseIdempotent(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn transport.Conn) {
		_, _ = conn.Read(context.Background())
	})
	conn, err := (&transport.WebSocketDialer{}).Dial(t.Context(), wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_ = conn.Close()
	if err := conn.CloseNow(); err != nil {
		t.Errorf("second close returned %v", err)
	}
}

func TestDial_RefusedIsClassified(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = (&transport.WebSocketDialer{}).Dial(t.Context(), "ws://"+addr)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if got := transport.Classify(err); got != transport.FailureRefused {
		t.Errorf("Classify = %v, want refused (err: %v)", got, err)
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	d := &transport.WebSocketDialer{HandshakeTimeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := d.Dial(t.Context(), wsURL(srv))
	if err == nil {
		t.Fatal("expected timeout")
	}
	if got := transport.Classify(err); got != transport.FailureTimeout {
		t.Errorf("Classify = %v, want timeout (err: %v)", got, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dial took %v, handshake timeout not applied", elapsed)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want transport.FailureKind
	}{
		{fmt.Errorf("dial: %w", context.DeadlineExceeded), transport.FailureTimeout},
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, transport.FailureRefused},
		{&net.OpError{Op: "dial", Err: syscall.ENETUNREACH}, transport.FailureUnreachable},
		{&net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, transport.FailureUnreachable},
		{errors.New("bad handshake"), transport.FailureOther},
	}
	for _, tc := range tests {
		if got := transport.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsClosed(t *testing.T) {
	t.Parallel()
	if transport.IsClosed(nil) {
		t.Error("nil must not be closed")
	}
	if !transport.IsClosed(fmt.Errorf("read: %w", io.EOF)) {
		t.Error("EOF should count as closed")
	}
	if !transport.IsClosed(fmt.Errorf("write: %w", net.ErrClosed)) {
		t.Error("net.ErrClosed should count as closed")
	}
	if transport.IsClosed(errors.New("temporary hiccup")) {
		t.Error("arbitrary error must not count as closed")
	}
}
