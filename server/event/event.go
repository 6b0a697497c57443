// Package event defines the boundary to the event records owned by the host
// application. The series engine reads parent events and creates or updates
// substitute events through it; the rest of the event lifecycle lives
// elsewhere.
package event

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an event does not exist
var ErrNotFound = errors.New("event not found")

// Event is the subset of an event record the engine works with.
type Event struct {
	ID          string
	Name        string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	CreatorID   string
}

// Store is implemented by the host application's event storage.
type Store interface {
	// GetByID returns ErrNotFound (possibly wrapped) for unknown ids.
	GetByID(ctx context.Context, id string) (*Event, error)
	// Create stores a new event and returns it with its assigned ID.
	Create(ctx context.Context, evt *Event) (*Event, error)
	Update(ctx context.Context, evt *Event) (*Event, error)
}

// Overrides is the closed set of fields a modified occurrence may change.
// Nil fields keep the value inherited from the template event.
type Overrides struct {
	Name        *string
	Description *string
	Location    *string
	Start       *time.Time
	End         *time.Time
}

// Apply returns base with the overrides applied.
func (o Overrides) Apply(base Event) Event {
	if o.Name != nil {
		base.Name = *o.Name
	}
	if o.Description != nil {
		base.Description = *o.Description
	}
	if o.Location != nil {
		base.Location = *o.Location
	}
	if o.Start != nil {
		base.Start = *o.Start
	}
	if o.End != nil {
		base.End = *o.End
	}
	return base
}
