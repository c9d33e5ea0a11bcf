// Package memory provides in-process implementations of the presence
// store and broadcast bridge contracts. Unit tests use them to exercise
// the realtime layer without a Redis dependency; the bridge links
// several registries in one process to simulate a multi-server cluster.
package memory

import (
	"context"
	"sync"

	"github.com/andrewmcl6081/cloudchat/internal/core/domain"
)

type PresenceStore struct {
	mu      sync.RWMutex
	records map[string]domain.PresenceRecord
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{records: make(map[string]domain.PresenceRecord)}
}

func (p *PresenceStore) SetPresence(_ context.Context, userID string, rec domain.PresenceRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[userID] = rec
	return nil
}

func (p *PresenceStore) ClearPresence(_ context.Context, userID, socketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[userID]; ok && rec.SocketID == socketID {
		delete(p.records, userID)
	}
	return nil
}

func (p *PresenceStore) ListOnline(_ context.Context, excludeUserID string) ([]domain.OnlineUser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var users []domain.OnlineUser
	for userID, rec := range p.records {
		if userID == excludeUserID {
			continue
		}
		sid := rec.SocketID
		users = append(users, domain.OnlineUser{UserID: userID, SocketID: &sid})
	}
	return users, nil
}

// Has reports whether a presence record exists. Test helper.
func (p *PresenceStore) Has(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.records[userID]
	return ok
}
