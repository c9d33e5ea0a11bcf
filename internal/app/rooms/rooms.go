package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

// Manager owns the process-local room table: which connections are
// joined to which conversation. A connection holds at most one room;
// joining a new one implicitly leaves the previous one. All table
// mutation happens here, under one lock, so a leave+join pair is never
// observed half-done.
type Manager struct {
	mu        sync.Mutex
	members   map[string]map[string]contracts.Client // roomID -> connID -> client
	connRoom  map[string]string                      // connID -> roomID
	workers   map[string]context.CancelFunc
	runWorker func(ctx context.Context, convID string) error

	bridge            contracts.BroadcastBridge
	serverID          string
	emitMessageErrors bool
	log               *slog.Logger
}

func NewManager(log *slog.Logger, bridge contracts.BroadcastBridge, serverID string, emitMessageErrors bool) *Manager {
	return &Manager{
		members:           make(map[string]map[string]contracts.Client),
		connRoom:          make(map[string]string),
		workers:           make(map[string]context.CancelFunc),
		bridge:            bridge,
		serverID:          serverID,
		emitMessageErrors: emitMessageErrors,
		log:               log,
	}
}

// RunWorker registers the consumer loop started for each room while it
// has local members.
func (m *Manager) RunWorker(runWorker func(ctx context.Context, convID string) error) {
	m.runWorker = runWorker
}

// Join adds the connection to roomID. Idempotent: a connection already
// in the room succeeds without side effects, which lets a reconnecting
// client replay its join safely. Any previously held room is left
// first, with user-left delivered to its remaining members.
func (m *Manager) Join(ctx context.Context, client contracts.Client, roomID string) error {
	connID := client.ID()

	m.mu.Lock()
	if cur, ok := m.connRoom[connID]; ok && cur == roomID {
		m.mu.Unlock()
		m.log.InfoContext(ctx, "rooms - join - already a member", "conn_id", connID, "room_id", roomID)
		return nil
	}
	var leftRoom string
	var leftRecipients []contracts.Client
	if cur, ok := m.connRoom[connID]; ok {
		leftRoom = cur
		leftRecipients = m.removeLocked(connID, cur)
	}
	if m.members[roomID] == nil {
		m.members[roomID] = make(map[string]contracts.Client)
		m.startWorkerLocked(roomID)
	}
	m.members[roomID][connID] = client
	m.connRoom[connID] = roomID
	joinRecipients := m.othersLocked(roomID, connID)
	m.mu.Unlock()

	if leftRoom != "" {
		m.emitUserLeft(ctx, client, leftRoom, domain.LeaveReasonLeft, leftRecipients)
	}
	m.emit(ctx, roomID, connID, domain.EventUserJoined, domain.UserJoinedPayload{
		UserID:         client.UserID(),
		ConversationID: roomID,
	}, joinRecipients)
	m.log.InfoContext(ctx, "rooms - join - success", "conn_id", connID, "user_id", client.UserID(), "room_id", roomID)
	return nil
}

// Leave removes the connection from roomID. A connection that is not a
// member is a no-op: no event, no error.
func (m *Manager) Leave(ctx context.Context, client contracts.Client, roomID string) error {
	connID := client.ID()

	m.mu.Lock()
	if cur, ok := m.connRoom[connID]; !ok || cur != roomID {
		m.mu.Unlock()
		m.log.InfoContext(ctx, "rooms - leave - not a member", "conn_id", connID, "room_id", roomID)
		return nil
	}
	recipients := m.removeLocked(connID, roomID)
	m.mu.Unlock()

	m.emitUserLeft(ctx, client, roomID, domain.LeaveReasonLeft, recipients)
	m.log.InfoContext(ctx, "rooms - leave - success", "conn_id", connID, "room_id", roomID)
	return nil
}

// LeaveAll clears every membership the connection holds, emitting
// user-left with the given reason. Used by connection teardown.
func (m *Manager) LeaveAll(ctx context.Context, client contracts.Client, reason domain.LeaveReason) {
	connID := client.ID()

	m.mu.Lock()
	roomID, ok := m.connRoom[connID]
	var recipients []contracts.Client
	if ok {
		recipients = m.removeLocked(connID, roomID)
	}
	m.mu.Unlock()

	if ok {
		m.emitUserLeft(ctx, client, roomID, reason, recipients)
		m.log.InfoContext(ctx, "rooms - leave all - left room", "conn_id", connID, "room_id", roomID, "reason", string(reason))
	}
}

// Relay delivers an event from a connection to the other members of
// the room, after verifying the sender's membership. A non-member's
// event is dropped; the sender only hears about it when the server is
// configured to emit message-error.
func (m *Manager) Relay(ctx context.Context, client contracts.Client, roomID string, event string, payload any) error {
	connID := client.ID()

	m.mu.Lock()
	cur, ok := m.connRoom[connID]
	var recipients []contracts.Client
	if ok && cur == roomID {
		recipients = m.othersLocked(roomID, connID)
	}
	m.mu.Unlock()

	if !ok || cur != roomID {
		m.log.WarnContext(ctx, "rooms - relay - dropped, sender not a member", "conn_id", connID, "room_id", roomID, "event", event)
		if m.emitMessageErrors {
			raw := domain.MustEnvelope(domain.EventMessageError, domain.MessageErrorPayload{
				ConversationID: roomID,
				Code:           "not-a-member",
				Message:        "join the conversation before sending",
			})
			if err := client.Send(ctx, raw); err != nil {
				m.log.WarnContext(ctx, "rooms - relay - message-error send failed", "conn_id", connID, "err", err)
			}
		}
		return domain.ErrNotAMember
	}
	m.emit(ctx, roomID, connID, event, payload, recipients)
	return nil
}

// BroadcastToRoom delivers an event to every current member of the
// room, locally and across the bridge. Used by the message store's
// durable new-message path, which is not tied to any one connection.
func (m *Manager) BroadcastToRoom(ctx context.Context, roomID string, event string, payload any) {
	m.mu.Lock()
	recipients := m.othersLocked(roomID, "")
	m.mu.Unlock()
	m.emit(ctx, roomID, "", event, payload, recipients)
}

// HandleRoomFrame delivers a frame published by another server process
// to this process's members of the room. A frame that arrives after
// the last local member left is undeliverable and silently dropped.
func (m *Manager) HandleRoomFrame(ctx context.Context, frame contracts.RoomFrame) {
	m.mu.Lock()
	recipients := m.othersLocked(frame.Room, frame.Exclude)
	m.mu.Unlock()
	for _, c := range recipients {
		if err := c.Send(ctx, frame.Data); err != nil {
			m.log.WarnContext(ctx, "rooms - bridge frame - send failed", "conn_id", c.ID(), "room_id", frame.Room, "err", err)
		}
	}
}

// RoomOf reports the room the connection currently holds, if any.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.connRoom[connID]
	return roomID, ok
}

// MemberCount reports the local membership size of a room.
func (m *Manager) MemberCount(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[roomID])
}

// removeLocked drops the membership and returns the remaining members,
// for event delivery after the lock is released. Stops the room worker
// when the last local member is gone.
func (m *Manager) removeLocked(connID, roomID string) []contracts.Client {
	recipients := m.othersLocked(roomID, connID)
	delete(m.members[roomID], connID)
	delete(m.connRoom, connID)
	if len(m.members[roomID]) == 0 {
		delete(m.members, roomID)
		if cancel := m.workers[roomID]; cancel != nil {
			cancel()
			delete(m.workers, roomID)
		}
	}
	return recipients
}

func (m *Manager) othersLocked(roomID, excludeConnID string) []contracts.Client {
	room := m.members[roomID]
	if len(room) == 0 {
		return nil
	}
	recipients := make([]contracts.Client, 0, len(room))
	for id, c := range room {
		if id == excludeConnID {
			continue
		}
		recipients = append(recipients, c)
	}
	return recipients
}

func (m *Manager) startWorkerLocked(roomID string) {
	if m.runWorker == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.workers[roomID] = cancel
	go func() {
		if err := m.runWorker(ctx, roomID); err != nil {
			m.log.Error("rooms - worker - run failed", "room_id", roomID, "err", err)
		}
	}()
}

func (m *Manager) emitUserLeft(ctx context.Context, client contracts.Client, roomID string, reason domain.LeaveReason, recipients []contracts.Client) {
	m.emit(ctx, roomID, client.ID(), domain.EventUserLeft, domain.UserLeftPayload{
		UserID:         client.UserID(),
		ConversationID: roomID,
		Reason:         reason,
	}, recipients)
}

// emit delivers locally first, then hands the frame to the bridge for
// the other processes. Bridge failure degrades to local-only delivery.
func (m *Manager) emit(ctx context.Context, roomID, excludeConnID, event string, payload any, recipients []contracts.Client) {
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		m.log.ErrorContext(ctx, "rooms - emit - encode failed", "event", event, "err", err)
		return
	}
	raw, _ := json.Marshal(env)
	for _, c := range recipients {
		if err := c.Send(ctx, raw); err != nil {
			m.log.WarnContext(ctx, "rooms - emit - send failed", "conn_id", c.ID(), "room_id", roomID, "event", event, "err", err)
		}
	}
	if err := m.bridge.PublishToRoom(ctx, contracts.RoomFrame{
		Room:    roomID,
		Exclude: excludeConnID,
		Data:    raw,
	}); err != nil {
		m.log.WarnContext(ctx, "rooms - emit - bridge publish failed", "room_id", roomID, "event", event, "err", err)
	}
}
