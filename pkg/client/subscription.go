package client

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw data of one named event.
type Handler func(data json.RawMessage)

// Subscription identifies one registered handler so add/remove pairs
// stay symmetric: removing by the returned handle never detaches
// someone else's handler, even when the same function value was
// registered twice.
type Subscription struct {
	event string
	id    uint64
}

type subscriptions struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func newSubscriptions() *subscriptions {
	return &subscriptions{handlers: make(map[string]map[uint64]Handler)}
}

func (s *subscriptions) add(event string, fn Handler) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][s.nextID] = fn
	return Subscription{event: event, id: s.nextID}
}

func (s *subscriptions) remove(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.handlers[sub.event]; ok {
		delete(m, sub.id)
		if len(m) == 0 {
			delete(s.handlers, sub.event)
		}
	}
}

// dispatch resolves the handler set at delivery time, so a handler
// swapped in after the event was subscribed is the one that runs.
// Handlers are invoked outside the lock.
func (s *subscriptions) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	fns := make([]Handler, 0, len(s.handlers[event]))
	for _, fn := range s.handlers[event] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}
