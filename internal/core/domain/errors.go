package domain

import "errors"

var (
	// ErrAuthenticationRequired refuses a handshake without a user id.
	ErrAuthenticationRequired = errors.New("authentication required: missing user id")
	// ErrPresenceUnavailable means the shared presence store could not
	// be reached. Fatal at startup, logged-and-ignored afterwards.
	ErrPresenceUnavailable = errors.New("presence store unavailable")
	// ErrNotAMember rejects a broadcast from a connection that is not
	// currently joined to the target room.
	ErrNotAMember = errors.New("connection is not a member of the room")

	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrInvalidUserID         = errors.New("invalid user id")
	ErrUserNotFound          = errors.New("user not found")
	ErrConnectionClosed      = errors.New("connection closed")
)
