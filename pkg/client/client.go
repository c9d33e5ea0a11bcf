// Package client is the connection coordinator for chat frontends: it
// owns the websocket, tracks which conversation the client believes it
// is in, and replays join requests after a dropped-and-restored
// connection so the server's room state converges back to the client's
// desired state.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/gorilla/websocket"
)

// State is the coordinator's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var ErrNotConnected = errors.New("client: not connected")

// Options configures a Client. URL and Token are required; everything
// else has a workable default.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// Token is the identity token; it is passed as a query parameter
	// because browser websocket clients cannot set headers, and this
	// client mirrors that wire contract.
	Token string

	Log     *slog.Logger
	Dialer  *websocket.Dialer
	Backoff Backoff
	// MaxAttempts bounds each reconnection cycle. Zero retries until
	// the context is cancelled.
	MaxAttempts  int
	WriteTimeout time.Duration
	// OnStateChange observes connection state transitions. Called from
	// the coordinator's goroutine; keep it fast.
	OnStateChange func(State)
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	o.Backoff = o.Backoff.withDefaults()
	return o
}

// Client is the reconnection coordinator. The active room set holds
// desired state, not confirmed state: it survives disconnects and is
// replayed on every reconnect.
type Client struct {
	opts Options
	log  *slog.Logger
	subs *subscriptions

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	activeRooms   map[string]struct{}
	everConnected bool

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:        opts,
		log:         opts.Log,
		subs:        newSubscriptions(),
		activeRooms: make(map[string]struct{}),
		closed:      make(chan struct{}),
	}
}

// Subscribe registers a handler for one named server event and returns
// a handle for symmetric removal.
func (c *Client) Subscribe(event string, fn Handler) Subscription {
	return c.subs.add(event, fn)
}

func (c *Client) Unsubscribe(sub Subscription) {
	c.subs.remove(sub)
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the server, blocking until the first connection is
// established (subject to the backoff policy), then keeps the
// connection alive in the background until Close or context
// cancellation.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.dialRetry(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.onConnected(conn)
	go c.run(ctx)
	return nil
}

// Close tears the connection down permanently. Active rooms are
// cleared: a closed client has no desired state left to replay.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.activeRooms = make(map[string]struct{})
		c.mu.Unlock()
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		}
		c.setState(StateClosed)
	})
}

// JoinConversation records the conversation as the desired active room
// and asks the server to join it. Joining the room the client is
// already in while connected is a no-op, so reconnection replay and
// UI-level re-renders never double-send. Joining a different room
// replaces the previous one: the server enforces a single active room
// and the local set mirrors that.
func (c *Client) JoinConversation(conversationID string) error {
	c.mu.Lock()
	_, already := c.activeRooms[conversationID]
	connected := c.state == StateConnected
	if already && connected {
		c.mu.Unlock()
		return nil
	}
	c.activeRooms = map[string]struct{}{conversationID: {}}
	c.mu.Unlock()
	if !connected {
		// Desired state recorded; the reconnect path replays it.
		return nil
	}
	return c.send(domain.EventJoinConversation, conversationID)
}

// LeaveConversation drops the conversation from the desired set and,
// when connected, tells the server. No-op if the client never joined.
func (c *Client) LeaveConversation(conversationID string) error {
	c.mu.Lock()
	_, member := c.activeRooms[conversationID]
	connected := c.state == StateConnected
	delete(c.activeRooms, conversationID)
	c.mu.Unlock()
	if !member || !connected {
		return nil
	}
	return c.send(domain.EventLeaveConversation, conversationID)
}

// SendMessage relays an already-composed message for live delivery.
func (c *Client) SendMessage(conversationID, senderID, content string) error {
	return c.send(domain.EventSendMessage, domain.SendMessagePayload{
		Content:        content,
		ConversationID: conversationID,
		SenderID:       senderID,
	})
}

// RequestOnlineUsers asks for the current online set; the answer
// arrives as an initial-online-users event.
func (c *Client) RequestOnlineUsers() error {
	return c.send(domain.EventGetOnlineUsers, nil)
}

func (c *Client) send(event string, payload any) error {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// run owns the read loop and the reconnect cycle for the lifetime of
// the client.
func (c *Client) run(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		err := c.readLoop(conn)
		if c.isClosed() || ctx.Err() != nil {
			return
		}
		c.log.Warn("connection lost, reconnecting", "err", err)
		c.setState(StateReconnecting)

		next, dialErr := c.dialRetry(ctx)
		if dialErr != nil {
			c.log.Error("reconnect abandoned", "err", dialErr)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			c.setState(StateDisconnected)
			return
		}
		c.onConnected(next)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		c.subs.dispatch(env.Event, env.Data)
	}
}

// dialRetry dials with capped exponential backoff until it succeeds,
// the context is cancelled, or the configured attempt limit is hit.
func (c *Client) dialRetry(ctx context.Context) (*websocket.Conn, error) {
	url := c.opts.URL
	if c.opts.Token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "token=" + c.opts.Token
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if c.opts.MaxAttempts > 0 && attempt >= c.opts.MaxAttempts {
			return nil, lastErr
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.closed:
				return nil, ErrNotConnected
			case <-time.After(c.opts.Backoff.Delay(attempt - 1)):
			}
		}

		conn, resp, err := c.opts.Dialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			// Not recoverable by retrying: the token is bad.
			return nil, err
		}
		c.log.Warn("dial failed", "attempt", attempt+1, "err", err)
	}
}

// onConnected installs the fresh connection and replays desired state:
// a recorded active room is re-joined, and the very first connection
// also asks for the current online set.
func (c *Client) onConnected(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	first := !c.everConnected
	c.everConnected = true
	rooms := make([]string, 0, len(c.activeRooms))
	for id := range c.activeRooms {
		rooms = append(rooms, id)
	}
	c.state = StateConnected
	c.mu.Unlock()

	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(StateConnected)
	}
	for _, id := range rooms {
		if err := c.send(domain.EventJoinConversation, id); err != nil {
			c.log.Error("join replay failed", "conversation_id", id, "err", err)
		}
	}
	if first {
		if err := c.send(domain.EventGetOnlineUsers, nil); err != nil {
			c.log.Error("online users request failed", "err", err)
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
