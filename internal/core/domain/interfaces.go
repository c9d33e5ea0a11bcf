package domain

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository handles the durable directory identity.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	// UpsertUser creates the user on first sync and refreshes the
	// mutable profile fields afterwards.
	UpsertUser(ctx context.Context, u *User) (*User, error)
	SearchUsers(ctx context.Context, query string, excludeID string) ([]User, error)
	SetOnline(ctx context.Context, id string, online bool) error
}

// ConversationRepository handles conversation lifecycle.
type ConversationRepository interface {
	GetConversationByID(ctx context.Context, convID uuid.UUID) (*Conversation, error)
	// FindBetween returns the existing two-party conversation for the
	// pair, or ErrConversationNotFound.
	FindBetween(ctx context.Context, userA, userB string) (*Conversation, error)
	CreateConversation(ctx context.Context, convID uuid.UUID, userA, userB string) (*Conversation, error)
}

// MessageRepository handles message persistence for the message store.
type MessageRepository interface {
	Save(ctx context.Context, msg *Message) error
	GetRecent(ctx context.Context, convID uuid.UUID, limit int) ([]Message, error)
}
