package postgres

import (
	"context"
	"database/sql"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

/*
	-- Conversations (two-party)
	CREATE TABLE conversations (
		id          UUID PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE conversation_participants (
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id         TEXT NOT NULL REFERENCES users(id),
		PRIMARY KEY (conversation_id, user_id)
	);
*/

func (r *ConversationRepo) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	conversation := &domain.Conversation{ID: convID}
	query := `SELECT created_at FROM conversations WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, query, convID).Scan(&conversation.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return conversation, nil
}

// FindBetween locates the existing conversation whose participant set
// is exactly {userA, userB}.
func (r *ConversationRepo) FindBetween(ctx context.Context, userA, userB string) (*domain.Conversation, error) {
	conversation := &domain.Conversation{}
	query := `
		SELECT c.id, c.created_at
		FROM conversations c
		JOIN conversation_participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN conversation_participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		LIMIT 1`
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, query, userA, userB).Scan(&conversation.ID, &conversation.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	return conversation, nil
}

func (r *ConversationRepo) CreateConversation(ctx context.Context, convID uuid.UUID, userA, userB string) (*domain.Conversation, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	conversation := &domain.Conversation{ID: convID}
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `
		INSERT INTO conversations (id)
		VALUES ($1)
		RETURNING created_at`, convID).Scan(&conversation.CreatedAt)
	if err != nil {
		return nil, err
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)`, convID, userA, userB)
	if err != nil {
		return nil, err
	}
	return conversation, nil
}
