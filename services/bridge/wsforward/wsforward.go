// Package wsforward registers a "ws" bridge.Transport backed by
// github.com/gorilla/websocket, the way bridge.go's uart transport is
// backed by an injected UARTDial. Importing this package for its side
// effect (init registering the transport) is enough to make
// {"transport":{"type":"ws","ws":{"url":"..."}}} usable from bridge
// config.
package wsforward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"devicecode-go/services/bridge"
)

func init() {
	bridge.RegisterTransport("ws", newTransport)
}

// Config is the JSON shape expected under transport.ws.
type Config struct {
	URL         string `json:"url"`
	HandshakeMS int    `json:"handshake_timeout_ms,omitempty"`
}

type transport struct {
	cfg Config
}

func newTransport(t bridge.TransportConfig) (bridge.Transport, error) {
	var cfg Config
	if len(t.WS) > 0 {
		if err := json.Unmarshal(t.WS, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.URL == "" {
		return nil, errors.New("ws transport requires a url")
	}
	return &transport{cfg: cfg}, nil
}

func (t *transport) String() string { return "ws" }

func (t *transport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(t.cfg.HandshakeMS) * time.Millisecond,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a *websocket.Conn (message-oriented) to io.ReadWriteCloser
// (stream-oriented), the shape bridge.go's framedReader/framedWriter
// expect, by buffering partially-read binary messages.
type wsConn struct {
	conn *websocket.Conn
	buf  []byte
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		c.buf = data
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error { return c.conn.Close() }
