// Package transport carries node calls over a websocket multiplexed with
// smux.
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"
)

// WebSocketConn wraps a WebSocket connection to implement io.ReadWriteCloser.
// smux expects a byte stream, websocket delivers messages.
type WebSocketConn struct {
	conn       *websocket.Conn
	readBuffer []byte

	writeMu sync.Mutex
}

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Read returns buffered data from the previous message before reading the
// next one.
func (w *WebSocketConn) Read(b []byte) (int, error) {
	if len(w.readBuffer) > 0 {
		n := copy(b, w.readBuffer)
		w.readBuffer = w.readBuffer[n:]
		return n, nil
	}

	_, msg, err := w.conn.ReadMessage()
	if err != nil {
		return 0, err
	}

	n := copy(b, msg)
	if n < len(msg) {
		w.readBuffer = msg[n:]
	}
	return n, nil
}

// Write sends b as one binary message. gorilla allows a single concurrent
// writer, smux may write from its keepalive goroutine too.
func (w *WebSocketConn) Write(b []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (w *WebSocketConn) Close() error {
	return w.conn.Close()
}

var _ io.ReadWriteCloser = (*WebSocketConn)(nil)

const (
	keepAliveInterval = 10 * time.Second
	keepAliveTimeout  = 30 * time.Second
	maxReceiveBuffer  = 4 * 1024 * 1024
	maxStreamBuffer   = 1024 * 1024
)

// SmuxConfig is shared by both ends of a node session.
func SmuxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.Version = 2
	cfg.KeepAliveInterval = keepAliveInterval
	cfg.KeepAliveTimeout = keepAliveTimeout
	cfg.MaxReceiveBuffer = maxReceiveBuffer
	cfg.MaxStreamBuffer = maxStreamBuffer
	return cfg
}
