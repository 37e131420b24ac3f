package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes used by the client.
const (
	CloseNormal           = websocket.CloseNormalClosure
	CloseHeartbeatTimeout = 4000
)

// ErrUnauthorized is returned when the server rejects the upgrade for bad credentials.
var ErrUnauthorized = errors.New("websocket handshake unauthorized")

// Conn is one open transport to the realtime gateway.
type Conn interface {
	// ReadMessage blocks until the next data frame arrives or the connection ends.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close sends a close frame with code and releases the connection.
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// IsCleanClose reports whether err is the peer closing with a normal-closure code.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

// WebSocketDialer dials the gateway with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Dial opens a WebSocket connection. A 401 or 403 answer to the upgrade is
// reported as ErrUnauthorized.
func (d *WebSocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", Redact(rawURL), err)
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsConn{conn: c, writeTimeout: writeTimeout}, nil
}

// Redact strips the token query parameter from a gateway URL for logging.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
