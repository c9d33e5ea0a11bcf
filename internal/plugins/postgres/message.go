package postgres

import (
	"context"
	"database/sql"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"

	"github.com/google/uuid"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

/*
	-- Messages
	CREATE TABLE messages (
		id              UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       TEXT NOT NULL REFERENCES users(id),
		content         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX messages_conversation_created_idx
		ON messages (conversation_id, created_at);
*/

func (r *MessageRepo) Save(ctx context.Context, msg *domain.Message) error {
	if msg.ConversationID == uuid.Nil {
		return domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.ErrConversationNotFound
	}
	return err
}

func (r *MessageRepo) GetRecent(ctx context.Context, convID uuid.UUID, limit int) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidConversationID
	}
	if limit <= 0 {
		limit = 100
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, content, created_at, updated_at
		FROM (
			SELECT id, conversation_id, sender_id, content, created_at, updated_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.Content,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
