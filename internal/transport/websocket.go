package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound message. The library default of
// 32 KiB is smaller than one half-second reply tone.
const DefaultReadLimit = 1 << 20

// WebSocketDialer dials peers over WebSocket.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. It is applied inside
	// whatever deadline the caller's context already carries. Zero means no
	// extra bound.
	HandshakeTimeout time.Duration

	// ReadLimit caps inbound message size. Zero selects [DefaultReadLimit].
	ReadLimit int64

	// HTTPClient overrides the client used for the opening handshake.
	HTTPClient *http.Client
}

var _ Dialer = (*WebSocketDialer)(nil)

// Dial implements [Dialer]. ctx governs the handshake only; the returned
// connection lives until closed.
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return wrap(ws, url, d.ReadLimit), nil
}

// Accept upgrades an HTTP request to a [Conn].
func Accept(w http.ResponseWriter, r *http.Request, readLimit int64) (Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return wrap(ws, r.RemoteAddr, readLimit), nil
}

// CloseWithError closes c with an internal-error status when c was created
// by this package, otherwise it falls back to CloseNow.
func CloseWithError(c Conn, reason string) error {
	if wc, ok := c.(*wsConn); ok {
		var err error
		wc.closeOnce.Do(func() {
			err = wc.ws.Close(websocket.StatusInternalError, reason)
		})
		return err
	}
	return c.CloseNow()
}

func wrap(ws *websocket.Conn, remote string, readLimit int64) *wsConn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	ws.SetReadLimit(readLimit)
	return &wsConn{ws: ws, remote: remote}
}

// wsConn adapts *websocket.Conn to [Conn].
type wsConn struct {
	ws        *websocket.Conn
	remote    string
	closeOnce sync.Once
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, p []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, p)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func (c *wsConn) CloseNow() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.CloseNow()
	})
	return err
}

func (c *wsConn) RemoteAddr() string { return c.remote }
