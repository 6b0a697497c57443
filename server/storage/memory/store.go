// memory based implementation for testing purposes
package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// Store implements storage.Storage interface using in-memory maps
type Store struct {
	mu       sync.RWMutex
	series   map[string]*storage.RecurringEvent // key: series ID
	byParent map[string]string                  // key: parent event ID, value: series ID
	now      func() time.Time
	logger   *slog.Logger
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for Created/Modified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		series:   make(map[string]*storage.RecurringEvent),
		byParent: make(map[string]string),
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func notFound(id string) error {
	return &storage.Error{
		Type:    storage.ErrNotFound,
		Message: "recurring event not found: " + id,
	}
}

func (s *Store) CreateRecurringEvent(_ context.Context, rec *storage.RecurringEvent) (*storage.RecurringEvent, error) {
	if rec == nil || rec.ParentEventID == "" {
		return nil, &storage.Error{Type: storage.ErrInvalidInput, Message: "parent event id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The parent index is checked and written under the same lock, which is
	// what makes it a uniqueness constraint rather than a check-then-write.
	if existing, ok := s.byParent[rec.ParentEventID]; ok {
		s.logger.Warn("recurring event already exists for parent",
			"parent_event_id", rec.ParentEventID,
			"series_id", existing)
		return nil, &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "parent event already has a recurring event",
		}
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.series[stored.ID]; exists {
		return nil, &storage.Error{Type: storage.ErrAlreadyExists, Message: "recurring event id already in use"}
	}
	now := s.now()
	stored.Created = now
	stored.Modified = now
	stored.Version = 1

	s.series[stored.ID] = stored
	s.byParent[stored.ParentEventID] = stored.ID

	s.logger.Debug("recurring event created",
		"series_id", stored.ID,
		"parent_event_id", stored.ParentEventID)

	return stored.Clone(), nil
}

func (s *Store) GetRecurringEvent(_ context.Context, id string) (*storage.RecurringEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.series[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec.Clone(), nil
}

func (s *Store) GetRecurringEventByParent(_ context.Context, parentEventID string) (*storage.RecurringEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byParent[parentEventID]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "no recurring event for parent " + parentEventID,
		}
	}
	return s.series[id].Clone(), nil
}

func (s *Store) DeleteRecurringEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.series[id]
	if !ok {
		return notFound(id)
	}
	delete(s.series, id)
	delete(s.byParent, rec.ParentEventID)

	s.logger.Debug("recurring event deleted", "series_id", id)
	return nil
}

func (s *Store) UpdateRecurringEvent(ctx context.Context, id string, upd storage.Update) (*storage.RecurringEvent, error) {
	return s.mutate(id, upd.ExpectedVersion, func(rec *storage.RecurringEvent) {
		if upd.Pattern != nil {
			rec.Pattern = *upd.Pattern
		}
		if upd.ExcludedDates != nil {
			rec.Overlay = recurrence.NewOverlay(*upd.ExcludedDates, rec.Overlay.Modifications())
		}
	})
}

func (s *Store) AddExclusion(_ context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(id, 0, func(rec *storage.RecurringEvent) {
		rec.Overlay.Exclude(date)
	})
}

func (s *Store) RemoveExclusion(_ context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(id, 0, func(rec *storage.RecurringEvent) {
		rec.Overlay.Include(date)
	})
}

func (s *Store) SetModification(_ context.Context, id string, date time.Time, substituteEventID string) (*storage.RecurringEvent, error) {
	return s.mutate(id, 0, func(rec *storage.RecurringEvent) {
		rec.Overlay.SetModification(date, substituteEventID)
	})
}

func (s *Store) ClearModification(_ context.Context, id string, date time.Time) (*storage.RecurringEvent, error) {
	return s.mutate(id, 0, func(rec *storage.RecurringEvent) {
		rec.Overlay.ClearModification(date)
	})
}

// mutate applies fn to the stored series under the write lock.
func (s *Store) mutate(id string, expectedVersion int64, fn func(*storage.RecurringEvent)) (*storage.RecurringEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.series[id]
	if !ok {
		return nil, notFound(id)
	}
	if expectedVersion != 0 && rec.Version != expectedVersion {
		return nil, &storage.Error{
			Type:    storage.ErrVersionMismatch,
			Message: "recurring event was modified concurrently",
		}
	}

	fn(rec)
	rec.Version++
	rec.Modified = s.now()
	return rec.Clone(), nil
}
