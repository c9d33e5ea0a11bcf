package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/andrewmcl6081/cloudchat/internal/app/rooms"
	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

// Registry is the process-local connection table. It authenticates
// each incoming connection, keeps connection -> user bookkeeping,
// writes the cluster-wide presence record, and announces status
// changes. One instance per process, constructed at startup and passed
// by reference to every handler.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]contracts.Client // connID -> client

	rooms    *rooms.Manager
	presence contracts.PresenceStore
	bridge   contracts.BroadcastBridge
	serverID string
	log      *slog.Logger

	// StatusHook mirrors online/offline transitions into the directory
	// store. Optional; called outside the registry lock.
	StatusHook func(ctx context.Context, userID string, online bool)
}

func NewRegistry(
	log *slog.Logger,
	roomMgr *rooms.Manager,
	presence contracts.PresenceStore,
	bridge contracts.BroadcastBridge,
	serverID string,
) *Registry {
	return &Registry{
		conns:    make(map[string]contracts.Client),
		rooms:    roomMgr,
		presence: presence,
		bridge:   bridge,
		serverID: serverID,
		log:      log,
	}
}

// Handshake admits an authenticated connection. A connection without a
// user identity is refused before any room operation can happen. The
// presence write and the online status broadcast are best-effort: a
// store hiccup degrades presence visibility, it does not refuse the
// connection.
func (r *Registry) Handshake(ctx context.Context, client contracts.Client) error {
	userID := client.UserID()
	if userID == "" {
		r.log.WarnContext(ctx, "registry - handshake - refused, missing user id", "conn_id", client.ID())
		return domain.ErrAuthenticationRequired
	}

	r.mu.Lock()
	r.conns[client.ID()] = client
	r.mu.Unlock()

	if err := r.presence.SetPresence(ctx, userID, domain.PresenceRecord{
		ServerID: r.serverID,
		SocketID: client.ID(),
	}); err != nil {
		r.log.ErrorContext(ctx, "registry - handshake - set presence failed", "user_id", userID, "err", err)
	}
	r.broadcastStatus(ctx, userID, client.ID(), domain.StatusOnline)
	if r.StatusHook != nil {
		r.StatusHook(ctx, userID, true)
	}
	r.log.InfoContext(ctx, "registry - handshake - connection admitted", "conn_id", client.ID(), "user_id", userID)
	return nil
}

// Teardown unwinds a connection: leaves its rooms with reason
// "disconnected", clears the presence record, and announces offline.
// Idempotent; every disconnect path funnels through here and calling
// it twice is safe. The presence clear is scoped to this connection's
// socket: when the user has already reconnected elsewhere, their fresh
// record survives the stale teardown.
func (r *Registry) Teardown(ctx context.Context, connID string) {
	r.mu.Lock()
	client, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	userID := client.UserID()

	r.rooms.LeaveAll(ctx, client, domain.LeaveReasonDisconnected)

	if err := r.presence.ClearPresence(ctx, userID, connID); err != nil {
		r.log.ErrorContext(ctx, "registry - teardown - clear presence failed", "user_id", userID, "err", err)
	}
	r.broadcastStatus(ctx, userID, connID, domain.StatusOffline)
	if r.StatusHook != nil {
		r.StatusHook(ctx, userID, false)
	}
	client.Close()
	r.log.InfoContext(ctx, "registry - teardown - connection removed", "conn_id", connID, "user_id", userID)
}

// OnlineUsers answers a client's get-online-users request from the
// shared presence store, excluding the caller. A store failure is
// "unknown", not "offline": the error propagates so the handler can
// decline to answer rather than report an empty cluster.
func (r *Registry) OnlineUsers(ctx context.Context, excludeUserID string) ([]domain.OnlineUser, error) {
	users, err := r.presence.ListOnline(ctx, excludeUserID)
	if err != nil {
		r.log.ErrorContext(ctx, "registry - online users - list failed", "err", err)
		return nil, err
	}
	return users, nil
}

// ConnCount reports the number of live local connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HandleRoomFrame satisfies the bridge handler by delegating room
// traffic to the membership manager.
func (r *Registry) HandleRoomFrame(ctx context.Context, frame contracts.RoomFrame) {
	r.rooms.HandleRoomFrame(ctx, frame)
}

// HandleStatusFrame delivers a status change that originated on
// another server process to every local connection.
func (r *Registry) HandleStatusFrame(ctx context.Context, frame contracts.StatusFrame) {
	r.mu.RLock()
	recipients := make([]contracts.Client, 0, len(r.conns))
	for _, c := range r.conns {
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()
	for _, c := range recipients {
		if err := c.Send(ctx, frame.Data); err != nil {
			r.log.WarnContext(ctx, "registry - status frame - send failed", "conn_id", c.ID(), "err", err)
		}
	}
}

// broadcastStatus emits user-status-change to every other local
// connection and hands the frame to the bridge for the rest of the
// cluster.
func (r *Registry) broadcastStatus(ctx context.Context, userID, excludeConnID string, status domain.UserStatus) {
	raw := domain.MustEnvelope(domain.EventUserStatusChange, domain.UserStatusPayload{
		UserID: userID,
		Status: status,
	})

	r.mu.RLock()
	recipients := make([]contracts.Client, 0, len(r.conns))
	for id, c := range r.conns {
		if id == excludeConnID {
			continue
		}
		recipients = append(recipients, c)
	}
	r.mu.RUnlock()

	for _, c := range recipients {
		if err := c.Send(ctx, raw); err != nil {
			r.log.WarnContext(ctx, "registry - status broadcast - send failed", "conn_id", c.ID(), "err", err)
		}
	}
	if err := r.bridge.PublishStatus(ctx, contracts.StatusFrame{Data: raw}); err != nil {
		r.log.WarnContext(ctx, "registry - status broadcast - bridge publish failed", "user_id", userID, "err", err)
	}
}
