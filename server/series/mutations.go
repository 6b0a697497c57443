package series

import (
	"context"
	"errors"
	"time"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// Update is a whole-series edit. Nil fields are left untouched.
type Update struct {
	Pattern *recurrence.PatternPatch
	// ExcludedDates replaces the exclusion set. Dates the resulting pattern
	// does not generate are dropped.
	ExcludedDates *[]time.Time
	// Version, when non-zero, must match the stored version.
	Version int64
}

// CreateSeries attaches a recurrence pattern to an existing event. A zero
// pattern Start defaults to the parent event's start date.
func (s *Service) CreateSeries(ctx context.Context, actorID, parentEventID string, pattern recurrence.Pattern) (*storage.RecurringEvent, error) {
	return s.createSeries(ctx, actorID, parentEventID, pattern, nil)
}

// createSeries writes the series and its initial exclusions in one store
// call. Excluded dates the pattern never generates are dropped.
func (s *Service) createSeries(ctx context.Context, actorID, parentEventID string, pattern recurrence.Pattern, excluded []time.Time) (*storage.RecurringEvent, error) {
	if parentEventID == "" {
		return nil, newError(KindInvalidInput, nil, "parent event id is required")
	}
	parent, err := s.events.GetByID(ctx, parentEventID)
	if err != nil {
		return nil, fromStorage(err, "parent event not found")
	}
	if parent.CreatorID != "" && parent.CreatorID != actorID {
		return nil, newError(KindForbidden, nil, "only the event creator may make it recurring")
	}

	if pattern.Start.IsZero() {
		pattern.Start = parent.Start
	}
	if err := pattern.Validate(); err != nil {
		return nil, patternError(err)
	}

	pattern = pattern.Normalized()
	kept := make([]time.Time, 0, len(excluded))
	for _, d := range excluded {
		if recurrence.Matches(pattern, d) {
			kept = append(kept, recurrence.DateOf(d))
		}
	}

	rec, err := s.store.CreateRecurringEvent(ctx, &storage.RecurringEvent{
		ParentEventID: parentEventID,
		CreatorID:     actorID,
		Pattern:       pattern,
		Overlay:       recurrence.NewOverlay(kept, nil),
	})
	if err != nil {
		return nil, fromStorage(err, "failed to create recurring event")
	}

	s.logger.Info("recurring event created",
		"series_id", rec.ID,
		"parent_event_id", parentEventID,
		"frequency", rec.Pattern.Frequency)
	return rec, nil
}

// UpdateSeries merges upd into the series. The merged pattern is validated
// as a whole before anything is written.
func (s *Service) UpdateSeries(ctx context.Context, actorID, id string, upd Update) (*storage.RecurringEvent, error) {
	rec, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if upd.Version != 0 && upd.Version != rec.Version {
		return nil, newError(KindConflict, nil, "recurring event was modified concurrently")
	}

	var sto storage.Update
	sto.ExpectedVersion = upd.Version
	pattern := rec.Pattern
	if upd.Pattern != nil && !upd.Pattern.Empty() {
		pattern = upd.Pattern.Apply(rec.Pattern)
		if err := pattern.Validate(); err != nil {
			return nil, patternError(err)
		}
		pattern = pattern.Normalized()
		sto.Pattern = &pattern
	}
	if upd.ExcludedDates != nil {
		kept := make([]time.Time, 0, len(*upd.ExcludedDates))
		for _, d := range *upd.ExcludedDates {
			if recurrence.Matches(pattern, d) {
				kept = append(kept, recurrence.DateOf(d))
			} else {
				s.logger.Debug("ignoring exclusion outside the series",
					"series_id", id,
					"date", recurrence.FormatDate(d))
			}
		}
		sto.ExcludedDates = &kept
	}
	if sto.Pattern == nil && sto.ExcludedDates == nil {
		return rec, nil
	}

	updated, err := s.store.UpdateRecurringEvent(ctx, id, sto)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	s.logger.Info("recurring event updated",
		"series_id", id,
		"version", updated.Version)
	return updated, nil
}

// DeleteSeries removes the series and its overlay. Substitute events are
// left to the host.
func (s *Service) DeleteSeries(ctx context.Context, actorID, id string) error {
	if _, err := s.authorize(ctx, actorID, id); err != nil {
		return err
	}
	if err := s.store.DeleteRecurringEvent(ctx, id); err != nil {
		return fromStorage(err, "recurring event not found")
	}
	s.logger.Info("recurring event deleted", "series_id", id)
	return nil
}

// ExcludeDate removes one occurrence from the series. Excluding an already
// excluded date, or a date the pattern never generates, leaves the series
// unchanged. A modification on the date is detached; its substitute event
// is kept.
func (s *Service) ExcludeDate(ctx context.Context, actorID, id string, date time.Time) (*storage.RecurringEvent, error) {
	rec, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	date = recurrence.DateOf(date)
	overlay := overlayOf(rec)
	if overlay.IsExcluded(date) {
		return rec, nil
	}
	if !recurrence.Matches(rec.Pattern, date) {
		s.logger.Debug("ignoring exclusion outside the series",
			"series_id", id,
			"date", recurrence.FormatDate(date))
		return rec, nil
	}

	detached, _ := overlay.Modification(date)
	updated, err := s.store.AddExclusion(ctx, id, date)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	if detached != "" {
		s.logger.Info("modified occurrence excluded, substitute detached",
			"series_id", id,
			"date", recurrence.FormatDate(date),
			"substitute_event_id", detached)
	}
	return updated, nil
}

// IncludeDate lifts an exclusion. Dates that are not excluded are a no-op.
func (s *Service) IncludeDate(ctx context.Context, actorID, id string, date time.Time) (*storage.RecurringEvent, error) {
	rec, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	date = recurrence.DateOf(date)
	if !overlayOf(rec).IsExcluded(date) {
		return rec, nil
	}
	updated, err := s.store.RemoveExclusion(ctx, id, date)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	return updated, nil
}

// ModifyOccurrence replaces the occurrence on date with a substitute event.
// The first modification creates the substitute from the parent event moved
// onto date; later ones update the existing substitute in place. Modifying
// an excluded date lifts the exclusion.
func (s *Service) ModifyOccurrence(ctx context.Context, actorID, id string, date time.Time, overrides event.Overrides) (*storage.RecurringEvent, error) {
	rec, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	date = recurrence.DateOf(date)
	if !recurrence.Matches(rec.Pattern, date) {
		return nil, newError(KindInvalidInput, nil, "%s is not an occurrence of this series", recurrence.FormatDate(date))
	}

	substitute, err := s.upsertSubstitute(ctx, rec, date, overrides)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.SetModification(ctx, id, date, substitute.ID)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	s.logger.Info("occurrence modified",
		"series_id", id,
		"date", recurrence.FormatDate(date),
		"substitute_event_id", substitute.ID)
	return updated, nil
}

func (s *Service) upsertSubstitute(ctx context.Context, rec *storage.RecurringEvent, date time.Time, overrides event.Overrides) (*event.Event, error) {
	if existingID, ok := overlayOf(rec).Modification(date); ok {
		existing, err := s.events.GetByID(ctx, existingID)
		switch {
		case err == nil:
			next := overrides.Apply(*existing)
			if err := validateTimes(next); err != nil {
				return nil, err
			}
			updated, err := s.events.Update(ctx, &next)
			if err != nil {
				return nil, fromStorage(err, "failed to update substitute event")
			}
			return updated, nil
		case errors.Is(err, event.ErrNotFound):
			s.logger.Warn("substitute event missing, creating a new one",
				"series_id", rec.ID,
				"substitute_event_id", existingID)
		default:
			return nil, fromStorage(err, "failed to load substitute event")
		}
	}

	parent, err := s.events.GetByID(ctx, rec.ParentEventID)
	if err != nil {
		return nil, fromStorage(err, "parent event not found")
	}
	template := *parent
	template.ID = ""
	template.CreatorID = rec.CreatorID
	template.Start = recurrence.OnDate(date, parent.Start)
	template.End = template.Start.Add(parent.End.Sub(parent.Start))
	if parent.End.IsZero() {
		template.End = time.Time{}
	}

	next := overrides.Apply(template)
	if err := validateTimes(next); err != nil {
		return nil, err
	}
	created, err := s.events.Create(ctx, &next)
	if err != nil {
		return nil, fromStorage(err, "failed to create substitute event")
	}
	return created, nil
}

func validateTimes(evt event.Event) error {
	if !evt.End.IsZero() && evt.End.Before(evt.Start) {
		return newError(KindInvalidInput, nil, "event end must not be before its start")
	}
	return nil
}

// RestoreOccurrence drops the modification on date so the occurrence is
// regular again. The substitute event is left in place.
func (s *Service) RestoreOccurrence(ctx context.Context, actorID, id string, date time.Time) (*storage.RecurringEvent, error) {
	rec, err := s.authorize(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	date = recurrence.DateOf(date)
	if _, ok := overlayOf(rec).Modification(date); !ok {
		return rec, nil
	}
	updated, err := s.store.ClearModification(ctx, id, date)
	if err != nil {
		return nil, fromStorage(err, "recurring event not found")
	}
	return updated, nil
}
