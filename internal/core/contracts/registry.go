package contracts

import "context"

// Client is the minimal surface the registry and room manager need to
// talk to an individual live connection.
type Client interface {
	ID() string
	UserID() string
	Send(ctx context.Context, data []byte) error
	Close()
}
