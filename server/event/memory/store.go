// memory based implementation for testing purposes
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cyp0633/librecur/server/event"
)

// Store implements event.Store using an in-memory map
type Store struct {
	mu     sync.RWMutex
	events map[string]event.Event
}

// New creates a new in-memory event store
func New() *Store {
	return &Store{events: make(map[string]event.Event)}
}

func (s *Store) GetByID(_ context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", event.ErrNotFound, id)
	}
	return &evt, nil
}

func (s *Store) Create(_ context.Context, evt *event.Event) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *evt
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.events[stored.ID]; exists {
		return nil, fmt.Errorf("event already exists: %s", stored.ID)
	}
	s.events[stored.ID] = stored
	return &stored, nil
}

func (s *Store) Update(_ context.Context, evt *event.Event) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[evt.ID]; !ok {
		return nil, fmt.Errorf("%w: %s", event.ErrNotFound, evt.ID)
	}
	s.events[evt.ID] = *evt
	stored := *evt
	return &stored, nil
}

// Delete removes an event. The engine never calls it; it exists so hosts and
// tests can simulate records removed behind the engine's back.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
