package contracts

import (
	"context"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

// PresenceStore records which users currently hold a live connection,
// keyed cluster-wide by user id. The redis plugin is the production
// implementation; the memory plugin backs unit tests.
type PresenceStore interface {
	// SetPresence writes presence:<userID>. Overwrites any previous
	// record: a reconnect on another server simply takes over the key.
	SetPresence(ctx context.Context, userID string, rec domain.PresenceRecord) error
	// ClearPresence deletes the record only while it still names
	// socketID. After a reconnect elsewhere the key belongs to the new
	// connection and the old one's teardown must leave it alone.
	ClearPresence(ctx context.Context, userID, socketID string) error
	// ListOnline returns every current presence record except the
	// caller's own.
	ListOnline(ctx context.Context, excludeUserID string) ([]domain.OnlineUser, error)
}
