// Package series implements the recurring event aggregate on top of a
// storage.Storage and the host's event.Store: creating and editing series,
// maintaining the exclusion/modification overlay, and projecting occurrences
// for a date window.
//
// All operations are safe for concurrent use. Each write is delegated to a
// single atomic storage call, so two concurrent exclusions on the same series
// both survive, and projections are computed from one consistent read.
package series

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// Service is the entry point for series queries and mutations.
type Service struct {
	store  storage.Storage
	events event.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option represents a configuration option for the Service
type Option func(*Service)

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used by NextOccurrence when no
// reference time is given.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a service backed by store and events.
func New(store storage.Storage, events event.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: events,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSeries returns the series with the given id.
func (s *Service) GetSeries(ctx context.Context, id string) (*storage.RecurringEvent, error) {
	rec, err := s.store.GetRecurringEvent(ctx, id)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	return rec, nil
}

// GetSeriesByParent returns the series attached to parentEventID, or nil
// without error when the event does not recur.
func (s *Service) GetSeriesByParent(ctx context.Context, parentEventID string) (*storage.RecurringEvent, error) {
	rec, err := s.store.GetRecurringEventByParent(ctx, parentEventID)
	if err != nil {
		if storage.IsType(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fromStorage(err, "failed to load recurring event")
	}
	return rec, nil
}

// authorize loads the series and checks that actorID created it.
func (s *Service) authorize(ctx context.Context, actorID, id string) (*storage.RecurringEvent, error) {
	rec, err := s.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID == "" || rec.CreatorID != actorID {
		s.logger.Warn("series mutation rejected",
			"series_id", id,
			"actor", actorID,
			"creator", rec.CreatorID)
		return nil, newError(KindForbidden, nil, "only the creator may modify this recurring event")
	}
	return rec, nil
}

// patternError wraps a validation failure as KindInvalidInput.
func patternError(err error) error {
	return newError(KindInvalidInput, err, "invalid recurrence pattern")
}

func overlayOf(rec *storage.RecurringEvent) *recurrence.Overlay {
	if rec.Overlay == nil {
		return &recurrence.Overlay{}
	}
	return rec.Overlay
}
