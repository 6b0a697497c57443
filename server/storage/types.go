package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cyp0633/librecur/server/recurrence"
)

// Error types
type ErrorType string

const (
	ErrNotFound        ErrorType = "not_found"
	ErrAlreadyExists   ErrorType = "already_exists"
	ErrInvalidInput    ErrorType = "invalid_input"
	ErrVersionMismatch ErrorType = "version_mismatch"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err is a storage *Error of type t.
func IsType(err error, t ErrorType) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == t
}

// RecurringEvent is the persisted series aggregate: a parent event, its
// pattern and the overlay of excluded and modified occurrences.
type RecurringEvent struct {
	ID            string
	ParentEventID string
	CreatorID     string
	Pattern       recurrence.Pattern
	Overlay       *recurrence.Overlay
	// Version is bumped on every write and serves as an optimistic
	// concurrency token.
	Version  int64
	Created  time.Time
	Modified time.Time
}

// Clone returns a deep copy, so stores can hand out values callers may mutate.
func (r *RecurringEvent) Clone() *RecurringEvent {
	c := *r
	c.Pattern.DaysOfWeek = slices.Clone(r.Pattern.DaysOfWeek)
	if r.Overlay != nil {
		c.Overlay = r.Overlay.Clone()
	} else {
		c.Overlay = &recurrence.Overlay{}
	}
	return &c
}

// Update describes a whole-series edit. Nil fields are left untouched.
type Update struct {
	Pattern       *recurrence.Pattern
	ExcludedDates *[]time.Time
	// ExpectedVersion, when non-zero, makes the update fail with
	// ErrVersionMismatch if the stored version differs.
	ExpectedVersion int64
}

// Storage persists recurring events. Every method that changes a series is
// applied as a single atomic update and returns the stored result.
type Storage interface {
	// CreateRecurringEvent stores a new series. Implementations must enforce
	// one series per parent event and return ErrAlreadyExists otherwise.
	// ID, Version and timestamps are assigned by the store when empty.
	CreateRecurringEvent(ctx context.Context, rec *RecurringEvent) (*RecurringEvent, error)
	GetRecurringEvent(ctx context.Context, id string) (*RecurringEvent, error)
	// GetRecurringEventByParent returns ErrNotFound when the parent has no series.
	GetRecurringEventByParent(ctx context.Context, parentEventID string) (*RecurringEvent, error)
	// DeleteRecurringEvent removes the series and its overlay.
	DeleteRecurringEvent(ctx context.Context, id string) error
	UpdateRecurringEvent(ctx context.Context, id string, upd Update) (*RecurringEvent, error)

	// AddExclusion excludes date, dropping any modification on it.
	AddExclusion(ctx context.Context, id string, date time.Time) (*RecurringEvent, error)
	RemoveExclusion(ctx context.Context, id string, date time.Time) (*RecurringEvent, error)
	// SetModification maps date to a substitute event, lifting any exclusion.
	SetModification(ctx context.Context, id string, date time.Time, substituteEventID string) (*RecurringEvent, error)
	ClearModification(ctx context.Context, id string, date time.Time) (*RecurringEvent, error)
}
