package series

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

const productID = "-//librecur//Recurring Events//EN"

// ExportCalendar renders the series as an iCalendar object: a master VEVENT
// carrying RRULE and EXDATE, plus one RECURRENCE-ID override per modified
// occurrence whose substitute event still exists.
func (s *Service) ExportCalendar(ctx context.Context, id string) (*ical.Calendar, error) {
	rec, err := s.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := s.events.GetByID(ctx, rec.ParentEventID)
	if err != nil {
		return nil, fromStorage(err, "parent event not found")
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	master := ical.NewEvent()
	setEventProps(master, rec.ID, parent)
	master.Props.SetDateTime(ical.PropDateTimeStamp, rec.Modified.UTC())
	overlay := overlayOf(rec)
	if err := recurrence.SetRecurrenceProps(master.Props, rec.Pattern, overlay, parent.Start); err != nil {
		return nil, newError(KindInvalidInput, err, "invalid recurrence pattern")
	}
	if !parent.End.IsZero() {
		start := recurrence.OnDate(rec.Pattern.Start, parent.Start)
		master.Props.SetDateTime(ical.PropDateTimeEnd, start.Add(parent.End.Sub(parent.Start)))
	}
	cal.Children = append(cal.Children, master.Component)

	for _, mod := range overlay.Modifications() {
		substitute, err := s.events.GetByID(ctx, mod.SubstituteEventID)
		if err != nil {
			if errors.Is(err, event.ErrNotFound) {
				s.logger.Warn("substitute event missing from export",
					"series_id", rec.ID,
					"date", recurrence.FormatDate(mod.Date),
					"substitute_event_id", mod.SubstituteEventID)
				continue
			}
			return nil, fromStorage(err, "failed to load substitute event")
		}

		override := ical.NewEvent()
		setEventProps(override, rec.ID, substitute)
		override.Props.SetDateTime(ical.PropDateTimeStamp, rec.Modified.UTC())
		override.Props.SetDateTime(ical.PropRecurrenceID, recurrence.OnDate(mod.Date, parent.Start))
		override.Props.SetDateTime(ical.PropDateTimeStart, substitute.Start)
		if !substitute.End.IsZero() {
			override.Props.SetDateTime(ical.PropDateTimeEnd, substitute.End)
		}
		cal.Children = append(cal.Children, override.Component)
	}

	return cal, nil
}

func setEventProps(comp *ical.Event, uid string, evt *event.Event) {
	comp.Props.SetText(ical.PropUID, uid)
	comp.Props.SetText(ical.PropSummary, evt.Name)
	if evt.Description != "" {
		comp.Props.SetText(ical.PropDescription, evt.Description)
	}
	if evt.Location != "" {
		comp.Props.SetText(ical.PropLocation, evt.Location)
	}
}

// ImportCalendar creates a series for parentEventID from the first VEVENT in
// r that carries an RRULE. EXDATE values become exclusions; those the rule
// never generates are dropped.
func (s *Service) ImportCalendar(ctx context.Context, actorID, parentEventID string, r io.Reader) (*storage.RecurringEvent, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, newError(KindInvalidInput, err, "failed to decode calendar")
	}

	var (
		pattern  recurrence.Pattern
		excluded []time.Time
		found    bool
	)
	for _, evt := range cal.Events() {
		if evt.Props.Get(ical.PropRecurrenceRule) == nil {
			continue
		}
		pattern, excluded, err = recurrence.PatternFromComponent(evt.Component)
		if err != nil {
			return nil, newError(KindInvalidInput, err, "unsupported recurrence rule")
		}
		found = true
		break
	}
	if !found {
		return nil, newError(KindInvalidInput, nil, "calendar has no recurring event")
	}

	return s.createSeries(ctx, actorID, parentEventID, pattern, excluded)
}
