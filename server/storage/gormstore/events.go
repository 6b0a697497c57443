package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cyp0633/librecur/server/event"
)

// eventModel backs the standalone daemon's event records. Hosts embedding
// the library usually bring their own event.Store instead.
type eventModel struct {
	ID          string     `gorm:"column:id;type:uuid;primaryKey"`
	Name        string     `gorm:"column:name;not null"`
	Description string     `gorm:"column:description"`
	Location    string     `gorm:"column:location"`
	StartsAt    time.Time  `gorm:"column:starts_at;type:timestamptz;not null"`
	EndsAt      *time.Time `gorm:"column:ends_at;type:timestamptz"`
	CreatorID   string     `gorm:"column:creator_id;index"`
}

func (eventModel) TableName() string { return "events" }

func eventToModel(evt *event.Event) *eventModel {
	m := &eventModel{
		ID:          evt.ID,
		Name:        evt.Name,
		Description: evt.Description,
		Location:    evt.Location,
		StartsAt:    evt.Start,
		CreatorID:   evt.CreatorID,
	}
	if !evt.End.IsZero() {
		end := evt.End
		m.EndsAt = &end
	}
	return m
}

func (m *eventModel) event() *event.Event {
	evt := &event.Event{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Location:    m.Location,
		Start:       m.StartsAt,
		CreatorID:   m.CreatorID,
	}
	if m.EndsAt != nil {
		evt.End = *m.EndsAt
	}
	return evt
}

// EventStore implements event.Store on the events table.
type EventStore struct {
	db *gorm.DB
}

// Events returns an event store sharing the series store's connection.
func (s *Store) Events() *EventStore {
	return &EventStore{db: s.db}
}

func (s *EventStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	var m eventModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", event.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	return m.event(), nil
}

func (s *EventStore) Create(ctx context.Context, evt *event.Event) (*event.Event, error) {
	m := eventToModel(evt)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return m.event(), nil
}

func (s *EventStore) Update(ctx context.Context, evt *event.Event) (*event.Event, error) {
	m := eventToModel(evt)
	res := s.db.WithContext(ctx).Model(&eventModel{}).Where("id = ?", evt.ID).Updates(map[string]any{
		"name":        m.Name,
		"description": m.Description,
		"location":    m.Location,
		"starts_at":   m.StartsAt,
		"ends_at":     m.EndsAt,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", event.ErrNotFound, evt.ID)
	}
	return m.event(), nil
}
