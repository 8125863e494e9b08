package socket

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the minimal surface the connection needs from an open
// socket. It exists so tests can drive the connection with an in-memory
// fake instead of a live websocket.
type Transport interface {
	ReadFrame() (*Frame, error)
	WriteFrame(*Frame) error
	Ping() error
	SetReadLimit(bytes int64)
	Close() error
}

// Dialer opens a Transport to a resolved host using a session token.
type Dialer interface {
	Dial(ctx context.Context, host, token string) (Transport, error)
}

// WebsocketDialer dials the chat service over a websocket. The library's
// own keepalive and redial machinery is not used: the connection layer
// owns the single reconnect policy.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to wss://{host}/socket?token={token}.
func (d *WebsocketDialer) Dial(ctx context.Context, host, token string) (Transport, error) {
	u := url.URL{
		Scheme:   "wss",
		Host:     host,
		Path:     "/socket",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, NewError(ErrCodeConnection, "websocket dial", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func (t *wsTransport) ReadFrame() (*Frame, error) {
	var f Frame
	if err := t.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (t *wsTransport) WriteFrame(f *Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Ping() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (t *wsTransport) SetReadLimit(bytes int64) {
	t.conn.SetReadLimit(bytes)
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}
