package engine

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one established bidirectional channel to the engine. The
// manager is the only owner of the handle; subscribers only ever see copies
// of inbound payloads.
type Transport interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// Ping sends a heartbeat probe.
	Ping() error
	// Close releases the underlying resource. Safe to call more than once.
	Close() error
}

// Dialer establishes transports. The websocket implementation is the
// production one; tests inject fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WebsocketDialer dials the engine over a plain gorilla websocket connection
// without relying on an SDK.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	t := &wsTransport{conn: conn, readTimeout: d.ReadTimeout}
	if t.readTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		})
	}
	return t, nil
}

type wsTransport struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	if t.readTimeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			return nil, err
		}
	}
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
