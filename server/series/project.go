package series

import (
	"context"
	"time"

	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

// Project returns every occurrence of the series in [from, to], including
// excluded ones, each classified against the overlay. Occurrences are never
// stored; a later edit to the pattern or overlay changes the next projection.
func (s *Service) Project(ctx context.Context, id string, from, to time.Time) ([]recurrence.Occurrence, error) {
	rec, err := s.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	return project(rec, from, to, false)
}

// ProjectActive is Project without the excluded occurrences.
func (s *Service) ProjectActive(ctx context.Context, id string, from, to time.Time) ([]recurrence.Occurrence, error) {
	rec, err := s.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	return project(rec, from, to, true)
}

func project(rec *storage.RecurringEvent, from, to time.Time, activeOnly bool) ([]recurrence.Occurrence, error) {
	slots, err := recurrence.Expand(rec.Pattern, from, to)
	if err != nil {
		return nil, newError(KindInvalidInput, err, "invalid projection window")
	}

	overlay := overlayOf(rec)
	out := make([]recurrence.Occurrence, 0, len(slots))
	for _, slot := range slots {
		status, substitute := overlay.Classify(slot.Date)
		if activeOnly && status == recurrence.StatusExcluded {
			continue
		}
		out = append(out, recurrence.Occurrence{
			Index:             slot.Index,
			Date:              slot.Date,
			Status:            status,
			SubstituteEventID: substitute,
		})
	}
	return out, nil
}

// NextOccurrence returns the first non-excluded occurrence strictly after
// after (the service clock when zero). ok is false once the series has ended.
func (s *Service) NextOccurrence(ctx context.Context, id string, after time.Time) (occ recurrence.Occurrence, ok bool, err error) {
	rec, err := s.GetSeries(ctx, id)
	if err != nil {
		return recurrence.Occurrence{}, false, err
	}
	if after.IsZero() {
		after = s.now()
	}

	overlay := overlayOf(rec)
	for {
		slot, found, err := recurrence.NextAfter(rec.Pattern, after)
		if err != nil {
			return recurrence.Occurrence{}, false, newError(KindInvalidInput, err, "invalid recurrence pattern")
		}
		if !found {
			return recurrence.Occurrence{}, false, nil
		}
		status, substitute := overlay.Classify(slot.Date)
		if status != recurrence.StatusExcluded {
			return recurrence.Occurrence{
				Index:             slot.Index,
				Date:              slot.Date,
				Status:            status,
				SubstituteEventID: substitute,
			}, true, nil
		}
		after = slot.Date
	}
}
