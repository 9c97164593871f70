package audit

import (
	"context"
	"sync"
)

// MaxPerVisitor bounds each visitor's trail; the oldest entries go first.
const MaxPerVisitor = 50

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]Event)
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trail := append(s.events[event.Visitor], event)
	if len(trail) > MaxPerVisitor {
		trail = append([]Event(nil), trail[len(trail)-MaxPerVisitor:]...)
	}
	s.events[event.Visitor] = trail
	return nil
}

func (s *InMemoryStore) ListByVisitor(_ context.Context, visitor string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[visitor]...), nil
}
