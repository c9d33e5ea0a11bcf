package ws

import (
	"context"
	"sync"
	"time"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

// RuntimeClient binds one live socket to its user identity and owns
// the write side: all outbound frames funnel through a buffered
// channel drained by a single write loop, so concurrent broadcasters
// never interleave writes on the wire.
type RuntimeClient struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	connID string
	userID string
	out    chan []byte
	once   sync.Once
}

func NewClient(
	parent context.Context,
	ws *WebSocket,
	connID, userID string,
) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		connID: connID,
		userID: userID,
		out:    make(chan []byte, ws.opts.SendBuffer),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() string     { return c.connID }
func (c *RuntimeClient) UserID() string { return c.userID }

func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	ticker := time.NewTicker(c.ws.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.ws.Done():
			// Socket died underneath us; no point draining the buffer.
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.Ping(); err != nil {
				return
			}
		}
	}
}
