package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Options tunes the transport's liveness and buffering knobs.
type Options struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 512 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

// WebSocket wraps a gorilla connection with a context tied to its
// lifetime. Abrupt disconnects surface through the transport's own
// ping/pong deadline, not through application logic.
type WebSocket struct {
	*websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
}

func NewWebSocket(parent context.Context, conn *websocket.Conn, opts Options) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{Conn: conn, ctx: ctx, cancel: cancel, opts: opts.withDefaults()}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.Conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) Ping() error {
	w.Conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return w.Conn.WriteMessage(websocket.PingMessage, nil)
}

// ReadLoop pumps inbound frames into onMsg until the peer goes away or
// the pong deadline lapses.
func (w *WebSocket) ReadLoop(onMsg func([]byte)) {
	defer w.Close()

	// Protects against memory exhaustion from a single frame.
	w.Conn.SetReadLimit(w.opts.MaxMessageBytes)
	w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongTimeout))
	w.Conn.SetPongHandler(func(string) error {
		w.Conn.SetReadDeadline(time.Now().Add(w.opts.PongTimeout))
		return nil
	})

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("ws - read loop - unexpected close", "err", err)
			}
			break
		}
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}

func (w *WebSocket) Done() <-chan struct{} {
	return w.ctx.Done()
}
