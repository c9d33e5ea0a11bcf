package contracts

import "context"

// RoomBroadcaster delivers an event to every current member of a room,
// on this process and, through the bridge, on every other one. The
// message store uses it for the durable new-message broadcast.
type RoomBroadcaster interface {
	BroadcastToRoom(ctx context.Context, roomID string, event string, payload any)
}
