package memory

import (
	"context"
	"sync"

	"github.com/andrewmcl6081/cloudchat/internal/core/contracts"
)

// Bus is the shared medium behind one or more memory bridges. Each
// bridge attached to the same bus acts as an independent server
// process: frames it publishes are delivered synchronously to every
// other bridge's handler.
type Bus struct {
	mu      sync.RWMutex
	bridges []*Bridge
}

func NewBus() *Bus {
	return &Bus{}
}

// Bridge attaches a new simulated server process to the bus.
func (b *Bus) Bridge(serverID string) *Bridge {
	br := &Bridge{bus: b, serverID: serverID}
	b.mu.Lock()
	b.bridges = append(b.bridges, br)
	b.mu.Unlock()
	return br
}

type Bridge struct {
	bus      *Bus
	serverID string

	mu      sync.RWMutex
	handler contracts.BridgeHandler
}

func (b *Bridge) PublishToRoom(ctx context.Context, frame contracts.RoomFrame) error {
	frame.Origin = b.serverID
	b.bus.mu.RLock()
	defer b.bus.mu.RUnlock()
	for _, peer := range b.bus.bridges {
		if peer.serverID == b.serverID {
			continue
		}
		peer.mu.RLock()
		h := peer.handler
		peer.mu.RUnlock()
		if h != nil {
			h.HandleRoomFrame(ctx, frame)
		}
	}
	return nil
}

func (b *Bridge) PublishStatus(ctx context.Context, frame contracts.StatusFrame) error {
	frame.Origin = b.serverID
	b.bus.mu.RLock()
	defer b.bus.mu.RUnlock()
	for _, peer := range b.bus.bridges {
		if peer.serverID == b.serverID {
			continue
		}
		peer.mu.RLock()
		h := peer.handler
		peer.mu.RUnlock()
		if h != nil {
			h.HandleStatusFrame(ctx, frame)
		}
	}
	return nil
}

func (b *Bridge) Listen(_ context.Context, handler contracts.BridgeHandler) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	return nil
}
