package gormstore

import (
	"time"

	"github.com/lib/pq"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// recurringEventModel is one row per series with the pattern flattened.
type recurringEventModel struct {
	ID            string        `gorm:"column:id;type:uuid;primaryKey"`
	ParentEventID string        `gorm:"column:parent_event_id;not null;uniqueIndex:idx_recurring_events_parent"`
	CreatorID     string        `gorm:"column:creator_id;not null;index"`
	Frequency     string        `gorm:"column:frequency;type:varchar(16);not null"`
	Interval      int           `gorm:"column:repeat_interval;not null;default:1"`
	StartDate     time.Time     `gorm:"column:start_date;type:date;not null"`
	DaysOfWeek    pq.Int64Array `gorm:"column:days_of_week;type:integer[]"`
	DayOfMonth    *int          `gorm:"column:day_of_month"`
	MonthOfYear   *int          `gorm:"column:month_of_year"`
	EndDate       *time.Time    `gorm:"column:end_date;type:date"`
	Count         *int          `gorm:"column:occurrence_count"`
	Version       int64         `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time     `gorm:"column:created_at;type:timestamptz;not null"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;type:timestamptz;not null"`

	Exclusions    []exclusionModel    `gorm:"foreignKey:SeriesID;constraint:OnDelete:CASCADE"`
	Modifications []modificationModel `gorm:"foreignKey:SeriesID;constraint:OnDelete:CASCADE"`
}

func (recurringEventModel) TableName() string { return "recurring_events" }

type exclusionModel struct {
	SeriesID string    `gorm:"column:series_id;type:uuid;primaryKey"`
	Date     time.Time `gorm:"column:date;type:date;primaryKey"`
}

func (exclusionModel) TableName() string { return "recurring_event_exclusions" }

type modificationModel struct {
	SeriesID          string    `gorm:"column:series_id;type:uuid;primaryKey"`
	Date              time.Time `gorm:"column:date;type:date;primaryKey"`
	SubstituteEventID string    `gorm:"column:substitute_event_id;not null"`
}

func (modificationModel) TableName() string { return "recurring_event_modifications" }

// patternColumns flattens a pattern into the column values used by Updates.
func patternColumns(p recurrence.Pattern) map[string]any {
	m := &recurringEventModel{}
	m.setPattern(p)
	return map[string]any{
		"frequency":        m.Frequency,
		"repeat_interval":  m.Interval,
		"start_date":       m.StartDate,
		"days_of_week":     m.DaysOfWeek,
		"day_of_month":     m.DayOfMonth,
		"month_of_year":    m.MonthOfYear,
		"end_date":         m.EndDate,
		"occurrence_count": m.Count,
	}
}

func (m *recurringEventModel) setPattern(p recurrence.Pattern) {
	p = p.Normalized()
	m.Frequency = string(p.Frequency)
	m.Interval = p.Interval
	m.StartDate = p.Start
	m.DaysOfWeek = make(pq.Int64Array, 0, len(p.DaysOfWeek))
	for _, d := range p.DaysOfWeek {
		m.DaysOfWeek = append(m.DaysOfWeek, int64(d))
	}
	m.DayOfMonth = optionPtr(p.DayOfMonth)
	m.MonthOfYear = optionPtr(p.MonthOfYear)
	m.EndDate = optionPtr(p.EndDate)
	m.Count = optionPtr(p.Count)
}

func (m *recurringEventModel) pattern() recurrence.Pattern {
	p := recurrence.Pattern{
		Frequency:   recurrence.Frequency(m.Frequency),
		Interval:    m.Interval,
		Start:       recurrence.DateOf(m.StartDate),
		DayOfMonth:  ptrOption(m.DayOfMonth),
		MonthOfYear: ptrOption(m.MonthOfYear),
		Count:       ptrOption(m.Count),
	}
	for _, d := range m.DaysOfWeek {
		p.DaysOfWeek = append(p.DaysOfWeek, time.Weekday(d))
	}
	if m.EndDate != nil {
		p.EndDate = mo.Some(recurrence.DateOf(*m.EndDate))
	}
	return p
}

func toModel(rec *storage.RecurringEvent) *recurringEventModel {
	m := &recurringEventModel{
		ID:            rec.ID,
		ParentEventID: rec.ParentEventID,
		CreatorID:     rec.CreatorID,
		Version:       rec.Version,
		CreatedAt:     rec.Created,
		UpdatedAt:     rec.Modified,
	}
	m.setPattern(rec.Pattern)
	if rec.Overlay != nil {
		for _, d := range rec.Overlay.ExcludedDates() {
			m.Exclusions = append(m.Exclusions, exclusionModel{SeriesID: rec.ID, Date: d})
		}
		for _, mod := range rec.Overlay.Modifications() {
			m.Modifications = append(m.Modifications, modificationModel{
				SeriesID:          rec.ID,
				Date:              mod.Date,
				SubstituteEventID: mod.SubstituteEventID,
			})
		}
	}
	return m
}

func fromModel(m *recurringEventModel) *storage.RecurringEvent {
	excluded := make([]time.Time, 0, len(m.Exclusions))
	for _, e := range m.Exclusions {
		excluded = append(excluded, e.Date)
	}
	mods := make([]recurrence.Modification, 0, len(m.Modifications))
	for _, mod := range m.Modifications {
		mods = append(mods, recurrence.Modification{Date: recurrence.DateOf(mod.Date), SubstituteEventID: mod.SubstituteEventID})
	}
	return &storage.RecurringEvent{
		ID:            m.ID,
		ParentEventID: m.ParentEventID,
		CreatorID:     m.CreatorID,
		Pattern:       m.pattern(),
		Overlay:       recurrence.NewOverlay(excluded, mods),
		Version:       m.Version,
		Created:       m.CreatedAt,
		Modified:      m.UpdatedAt,
	}
}

func optionPtr[T any](o mo.Option[T]) *T {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}

func ptrOption[T any](p *T) mo.Option[T] {
	if p == nil {
		return mo.None[T]()
	}
	return mo.Some(*p)
}
