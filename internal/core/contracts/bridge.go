package contracts

import "context"

// RoomFrame is one cross-process broadcast hop. Origin identifies the
// publishing server so subscribers can drop their own frames; Exclude
// names the sender's connection, skipped on delivery if it happens to
// be local.
type RoomFrame struct {
	Origin  string `json:"origin"`
	Room    string `json:"room"`
	Exclude string `json:"exclude,omitempty"`
	Data    []byte `json:"data"`
}

// StatusFrame carries a user-status-change across processes.
type StatusFrame struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

// BridgeHandler receives frames published by other server processes.
type BridgeHandler interface {
	HandleRoomFrame(ctx context.Context, frame RoomFrame)
	HandleStatusFrame(ctx context.Context, frame StatusFrame)
}

// BroadcastBridge makes one process's room broadcasts and status
// changes visible to every other process. Publishing is fire-and-forget
// from the hot path: the local copy of an event is delivered
// synchronously, the cross-process copy arrives when the bridge does.
type BroadcastBridge interface {
	PublishToRoom(ctx context.Context, frame RoomFrame) error
	PublishStatus(ctx context.Context, frame StatusFrame) error
	// Listen consumes frames until ctx is cancelled. Frames whose
	// Origin matches this process are dropped before the handler
	// sees them.
	Listen(ctx context.Context, handler BridgeHandler) error
}
