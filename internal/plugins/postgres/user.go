package postgres

import (
	"context"
	"database/sql"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

/*
	-- Users (directory)
	CREATE TABLE users (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT,
		picture      TEXT,
		is_online    BOOLEAN NOT NULL DEFAULT false,
		last_active  TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	);
*/

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	user := &domain.User{ID: id}
	query := `
		SELECT email, display_name, picture, is_online, last_active, created_at, updated_at
		FROM users WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, query, id).Scan(
		&user.Email,
		&user.DisplayName,
		&user.Picture,
		&user.IsOnline,
		&user.LastActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	if u == nil || u.ID == "" {
		return nil, domain.ErrInvalidUserID
	}
	query := `
		INSERT INTO users (id, email, display_name, picture)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			picture = EXCLUDED.picture,
			updated_at = now()
		RETURNING is_online, last_active, created_at, updated_at`
	exec := GetExecutor(ctx, r.db)
	out := *u
	err := exec.QueryRowContext(ctx, query, u.ID, u.Email, u.DisplayName, u.Picture).Scan(
		&out.IsOnline,
		&out.LastActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *UserRepo) SearchUsers(ctx context.Context, query string, excludeID string) ([]domain.User, error) {
	sqlQuery := `
		SELECT id, email, display_name, picture, is_online, last_active, created_at, updated_at
		FROM users
		WHERE id <> $1
		AND ($2 = '' OR email ILIKE '%' || $2 || '%' OR display_name ILIKE '%' || $2 || '%')
		ORDER BY display_name NULLS LAST, email
		LIMIT 50`
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, sqlQuery, excludeID, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.DisplayName,
			&u.Picture,
			&u.IsOnline,
			&u.LastActive,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetOnline mirrors the realtime presence signal into the directory so
// offline readers (search results, profile pages) see a status too.
func (r *UserRepo) SetOnline(ctx context.Context, id string, online bool) error {
	if id == "" {
		return domain.ErrInvalidUserID
	}
	query := `UPDATE users SET is_online = $2, last_active = now(), updated_at = now() WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, id, online)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
