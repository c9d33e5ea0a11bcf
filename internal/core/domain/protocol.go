package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client-to-server events.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventGetOnlineUsers    = "get-online-users"
)

// Server-to-client events.
const (
	EventNewMessage         = "new-message"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventUserStatusChange   = "user-status-change"
	EventInitialOnlineUsers = "initial-online-users"
	EventMessageError       = "message-error"
)

// LeaveReason distinguishes an explicit leave from a dropped connection.
type LeaveReason string

const (
	LeaveReasonLeft         LeaveReason = "left"
	LeaveReasonDisconnected LeaveReason = "disconnected"
)

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// Envelope is the wire frame for every event in both directions.
// Data holds the event payload; join/leave carry a bare JSON string.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// MustEnvelope frames payloads built from our own structs, which
// cannot fail to marshal.
func MustEnvelope(event string, payload any) []byte {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return raw
}

// SendMessagePayload is the inbound send-message shape.
type SendMessagePayload struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
}

// UserJoinedPayload is emitted to the other members of a room on join.
type UserJoinedPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type UserLeftPayload struct {
	UserID         string      `json:"userId"`
	ConversationID string      `json:"conversationId"`
	Reason         LeaveReason `json:"reason"`
}

type UserStatusPayload struct {
	UserID string     `json:"userId"`
	Status UserStatus `json:"status"`
}

// OnlineUser is one entry of the initial-online-users payload.
type OnlineUser struct {
	UserID   string  `json:"userId"`
	SocketID *string `json:"socketId"`
}

// MessageErrorPayload is sent to the sender of a rejected broadcast
// when the server is configured to surface membership failures.
type MessageErrorPayload struct {
	ConversationID string `json:"conversationId"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// WireSender mirrors the sender projection the directory store attaches
// to a serialized message.
type WireSender struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"displayName"`
	Picture     *string   `json:"picture"`
	IsOnline    bool      `json:"isOnline"`
	LastActive  time.Time `json:"lastActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WireMessage is the serialized message carried by new-message. The
// ephemeral relay path fills it with a temporary id and a stub sender;
// the durable path serializes a persisted Message.
type WireMessage struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	Sender         WireSender `json:"sender"`
}

// NewEphemeralMessage shapes an accepted send-message payload for
// immediate delivery. It is never persisted; the authoritative record
// arrives later through the message store's own broadcast.
func NewEphemeralMessage(p SendMessagePayload) WireMessage {
	now := time.Now().UTC()
	return WireMessage{
		ID:             fmt.Sprintf("temp-%d", now.UnixMilli()),
		Content:        p.Content,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Sender: WireSender{
			ID:         p.SenderID,
			IsOnline:   true,
			LastActive: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}
