package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the durable directory identity. ID is the stable identifier
// the identity provider hands us at connection time.
type User struct {
	ID          string
	Email       string
	DisplayName *string
	Picture     *string
	IsOnline    bool
	LastActive  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Conversation is a two-party chat room.
type Conversation struct {
	ID        uuid.UUID
	CreatedAt time.Time
}

// Message is the persisted record. The core only shapes it for
// delivery; persistence belongs to the message store.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       string
	Content        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Serialize renders a persisted message into the wire shape carried
// by new-message, joining in the sender's directory record.
func (m *Message) Serialize(sender *User) WireMessage {
	wm := WireMessage{
		ID:             m.ID.String(),
		Content:        m.Content,
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if sender != nil {
		wm.Sender = WireSender{
			ID:          sender.ID,
			Email:       sender.Email,
			DisplayName: sender.DisplayName,
			Picture:     sender.Picture,
			IsOnline:    sender.IsOnline,
			LastActive:  sender.LastActive,
			CreatedAt:   sender.CreatedAt,
			UpdatedAt:   sender.UpdatedAt,
		}
	} else {
		wm.Sender = WireSender{ID: m.SenderID}
	}
	return wm
}

// PresenceRecord marks a live connection somewhere in the cluster.
// It exists exactly as long as the user has a live connection.
type PresenceRecord struct {
	ServerID string `json:"server_id"`
	SocketID string `json:"socket_id"`
}

// MessagePayload travels through the ingest stream between acceptance
// and persistence.
type MessagePayload struct {
	ClientMsgID    string    `json:"client_msg_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
