package series

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/server/event"
	eventmemory "github.com/cyp0633/librecur/server/event/memory"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
	"github.com/cyp0633/librecur/server/storage/memory"
)

const (
	alice = "alice"
	bob   = "bob"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	events *eventmemory.Store
	parent *event.Event
}

// newFixture sets up a service with one parent event owned by alice on
// Monday 2024-01-01, 09:00-10:00 UTC.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	events := eventmemory.New()
	parent, err := events.Create(context.Background(), &event.Event{
		Name:      "Standup",
		Location:  "Room 1",
		Start:     time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		CreatorID: alice,
	})
	require.NoError(t, err)
	return &fixture{
		svc:    New(store, events, WithClock(func() time.Time { return day(2024, 1, 1) })),
		store:  store,
		events: events,
		parent: parent,
	}
}

func (f *fixture) weekly(t *testing.T) *storage.RecurringEvent {
	t.Helper()
	rec, err := f.svc.CreateSeries(context.Background(), alice, f.parent.ID, recurrence.Pattern{
		Frequency: recurrence.Weekly,
		Interval:  1,
	})
	require.NoError(t, err)
	return rec
}

func TestCreateSeries(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults start to the parent event", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		assert.Equal(t, day(2024, 1, 1), rec.Pattern.Start)
		assert.Equal(t, alice, rec.CreatorID)
		assert.Equal(t, int64(1), rec.Version)
	})

	t.Run("missing parent", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateSeries(ctx, alice, "nope", recurrence.Pattern{Frequency: recurrence.Daily, Interval: 1})
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("invalid pattern lists offending fields", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateSeries(ctx, alice, f.parent.ID, recurrence.Pattern{
			Frequency:  recurrence.Monthly,
			Interval:   0,
			DayOfMonth: mo.Some(32),
		})
		assert.Equal(t, KindInvalidInput, KindOf(err))
		var verr *recurrence.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Fields, 2)
	})

	t.Run("second series for the same parent conflicts", func(t *testing.T) {
		f := newFixture(t)
		f.weekly(t)
		_, err := f.svc.CreateSeries(ctx, alice, f.parent.ID, recurrence.Pattern{Frequency: recurrence.Daily, Interval: 1})
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("only the parent creator may attach a pattern", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateSeries(ctx, bob, f.parent.ID, recurrence.Pattern{Frequency: recurrence.Daily, Interval: 1})
		assert.Equal(t, KindForbidden, KindOf(err))
	})
}

func TestCreateSeries_ConcurrentOnePerParent(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateSeries(context.Background(), alice, f.parent.ID, recurrence.Pattern{Frequency: recurrence.Daily, Interval: 1})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if KindOf(err) == KindConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 15, conflicts)
}

func TestGetSeriesByParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.GetSeriesByParent(ctx, f.parent.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	created := f.weekly(t)
	rec, err = f.svc.GetSeriesByParent(ctx, f.parent.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, rec.ID)

	_, err = f.svc.GetSeries(ctx, "missing")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateSeries(t *testing.T) {
	ctx := context.Background()

	t.Run("patch is merged and validated", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		interval := 2
		updated, err := f.svc.UpdateSeries(ctx, alice, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{Interval: &interval},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Pattern.Interval)
		assert.Equal(t, recurrence.Weekly, updated.Pattern.Frequency)
		assert.Equal(t, rec.Version+1, updated.Version)

		bad := 0
		_, err = f.svc.UpdateSeries(ctx, alice, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{Interval: &bad},
		})
		assert.Equal(t, KindInvalidInput, KindOf(err))

		stored, err := f.svc.GetSeries(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Pattern.Interval)
	})

	t.Run("clearing an optional field", func(t *testing.T) {
		f := newFixture(t)
		rec, err := f.svc.CreateSeries(ctx, alice, f.parent.ID, recurrence.Pattern{
			Frequency: recurrence.Daily,
			Interval:  1,
			Count:     mo.Some(3),
		})
		require.NoError(t, err)

		none := mo.None[int]()
		updated, err := f.svc.UpdateSeries(ctx, alice, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{Count: &none},
		})
		require.NoError(t, err)
		assert.True(t, updated.Pattern.Count.IsAbsent())
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)

		interval := 3
		_, err = f.svc.UpdateSeries(ctx, alice, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{Interval: &interval},
			Version: rec.Version,
		})
		assert.Equal(t, KindConflict, KindOf(err))
	})

	t.Run("excluded dates are replaced and filtered", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)

		dates := []time.Time{day(2024, 1, 15), day(2024, 1, 16)}
		updated, err := f.svc.UpdateSeries(ctx, alice, rec.ID, Update{ExcludedDates: &dates})
		require.NoError(t, err)
		assert.Equal(t, []time.Time{day(2024, 1, 15)}, updated.Overlay.ExcludedDates())
	})

	t.Run("non-creator is forbidden", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		interval := 2
		_, err := f.svc.UpdateSeries(ctx, bob, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{Interval: &interval},
		})
		assert.Equal(t, KindForbidden, KindOf(err))
	})
}

func TestDeleteSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.weekly(t)

	assert.Equal(t, KindForbidden, KindOf(f.svc.DeleteSeries(ctx, bob, rec.ID)))
	require.NoError(t, f.svc.DeleteSeries(ctx, alice, rec.ID))
	assert.Equal(t, KindNotFound, KindOf(f.svc.DeleteSeries(ctx, alice, rec.ID)))

	// the parent is free again
	f.weekly(t)
}

func TestExcludeDate(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		first, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		second, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		assert.True(t, first.Overlay.Equal(second.Overlay))
		assert.Equal(t, first.Version, second.Version)
	})

	t.Run("date outside the series leaves the overlay unchanged", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		// 2024-01-09 is a Tuesday on a Monday-only series
		updated, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 9))
		require.NoError(t, err)
		assert.Empty(t, updated.Overlay.ExcludedDates())
		assert.Equal(t, rec.Version, updated.Version)
	})

	t.Run("excluded occurrences stay in the projection", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)

		occs, err := f.svc.Project(ctx, rec.ID, day(2024, 1, 1), day(2024, 1, 21))
		require.NoError(t, err)
		require.Len(t, occs, 3)
		assert.Equal(t, recurrence.StatusRegular, occs[0].Status)
		assert.Equal(t, recurrence.StatusExcluded, occs[1].Status)
		assert.Equal(t, recurrence.StatusRegular, occs[2].Status)

		active, err := f.svc.ProjectActive(ctx, rec.ID, day(2024, 1, 1), day(2024, 1, 21))
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, day(2024, 1, 15), active[1].Date)
		assert.Equal(t, 2, active[1].Index)
	})

	t.Run("include restores the occurrence", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)

		updated, err := f.svc.IncludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		assert.Empty(t, updated.Overlay.ExcludedDates())

		again, err := f.svc.IncludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		assert.Equal(t, updated.Version, again.Version)
	})

	t.Run("non-creator is forbidden", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, bob, rec.ID, day(2024, 1, 8))
		assert.Equal(t, KindForbidden, KindOf(err))
		_, err = f.svc.IncludeDate(ctx, bob, rec.ID, day(2024, 1, 8))
		assert.Equal(t, KindForbidden, KindOf(err))
	})

	t.Run("missing series", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ExcludeDate(ctx, alice, "missing", day(2024, 1, 8))
		assert.Equal(t, KindNotFound, KindOf(err))
	})
}

func TestExcludeDate_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.weekly(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(week int) {
			defer wg.Done()
			_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 1).AddDate(0, 0, 7*week))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.svc.GetSeries(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Overlay.ExcludedDates(), 10)
}

func TestModifyOccurrence(t *testing.T) {
	ctx := context.Background()
	name := "Planning"

	t.Run("creates a substitute from the parent", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		updated, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		subID, ok := updated.Overlay.Modification(day(2024, 1, 8))
		require.True(t, ok)

		sub, err := f.events.GetByID(ctx, subID)
		require.NoError(t, err)
		assert.Equal(t, "Planning", sub.Name)
		assert.Equal(t, "Room 1", sub.Location)
		assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), sub.Start)
		assert.Equal(t, time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), sub.End)

		occs, err := f.svc.Project(ctx, rec.ID, day(2024, 1, 8), day(2024, 1, 8))
		require.NoError(t, err)
		require.Len(t, occs, 1)
		assert.Equal(t, recurrence.StatusModified, occs[0].Status)
		assert.Equal(t, subID, occs[0].SubstituteEventID)
	})

	t.Run("second modification updates the same substitute", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		first, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		loc := "Room 2"
		second, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Location: &loc})
		require.NoError(t, err)

		firstID, _ := first.Overlay.Modification(day(2024, 1, 8))
		secondID, _ := second.Overlay.Modification(day(2024, 1, 8))
		assert.Equal(t, firstID, secondID)
		assert.Equal(t, 2, f.events.Len())

		sub, err := f.events.GetByID(ctx, secondID)
		require.NoError(t, err)
		assert.Equal(t, "Planning", sub.Name)
		assert.Equal(t, "Room 2", sub.Location)
	})

	t.Run("missing substitute is recreated", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		first, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		oldID, _ := first.Overlay.Modification(day(2024, 1, 8))
		f.events.Delete(oldID)

		second, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		newID, _ := second.Overlay.Modification(day(2024, 1, 8))
		assert.NotEqual(t, oldID, newID)
	})

	t.Run("excluding a modified date detaches the substitute", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		modified, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		subID, _ := modified.Overlay.Modification(day(2024, 1, 8))

		excluded, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		assert.True(t, excluded.Overlay.IsExcluded(day(2024, 1, 8)))
		_, stillModified := excluded.Overlay.Modification(day(2024, 1, 8))
		assert.False(t, stillModified)

		_, err = f.events.GetByID(ctx, subID)
		assert.NoError(t, err, "substitute event is left in place")
	})

	t.Run("modifying an excluded date lifts the exclusion", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)

		updated, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)
		assert.False(t, updated.Overlay.IsExcluded(day(2024, 1, 8)))
		status, _ := updated.Overlay.Classify(day(2024, 1, 8))
		assert.Equal(t, recurrence.StatusModified, status)
	})

	t.Run("date outside the series", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 9), event.Overrides{Name: &name})
		assert.Equal(t, KindInvalidInput, KindOf(err))
		assert.Equal(t, 1, f.events.Len())
	})

	t.Run("end before start", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		end := time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)
		_, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{End: &end})
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})

	t.Run("non-creator is forbidden", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ModifyOccurrence(ctx, bob, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		assert.Equal(t, KindForbidden, KindOf(err))
	})

	t.Run("restore makes the occurrence regular again", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.ModifyOccurrence(ctx, alice, rec.ID, day(2024, 1, 8), event.Overrides{Name: &name})
		require.NoError(t, err)

		restored, err := f.svc.RestoreOccurrence(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		status, _ := restored.Overlay.Classify(day(2024, 1, 8))
		assert.Equal(t, recurrence.StatusRegular, status)

		again, err := f.svc.RestoreOccurrence(ctx, alice, rec.ID, day(2024, 1, 8))
		require.NoError(t, err)
		assert.Equal(t, restored.Version, again.Version)
	})
}

func TestProject(t *testing.T) {
	ctx := context.Background()

	t.Run("reversed window", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)
		_, err := f.svc.Project(ctx, rec.ID, day(2024, 2, 1), day(2024, 1, 1))
		assert.Equal(t, KindInvalidInput, KindOf(err))
	})

	t.Run("missing series", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Project(ctx, "missing", day(2024, 1, 1), day(2024, 2, 1))
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("pattern edits show up on the next projection", func(t *testing.T) {
		f := newFixture(t)
		rec := f.weekly(t)

		before, err := f.svc.Project(ctx, rec.ID, day(2024, 1, 1), day(2024, 1, 31))
		require.NoError(t, err)
		assert.Len(t, before, 5)

		days := []time.Weekday{time.Monday, time.Wednesday}
		_, err = f.svc.UpdateSeries(ctx, alice, rec.ID, Update{
			Pattern: &recurrence.PatternPatch{DaysOfWeek: &days},
		})
		require.NoError(t, err)

		after, err := f.svc.Project(ctx, rec.ID, day(2024, 1, 1), day(2024, 1, 31))
		require.NoError(t, err)
		assert.Len(t, after, 10)
	})

	t.Run("count bounds the series, not the window", func(t *testing.T) {
		f := newFixture(t)
		rec, err := f.svc.CreateSeries(ctx, alice, f.parent.ID, recurrence.Pattern{
			Frequency: recurrence.Daily,
			Interval:  1,
			Count:     mo.Some(5),
		})
		require.NoError(t, err)

		occs, err := f.svc.Project(ctx, rec.ID, day(2024, 1, 4), day(2024, 1, 31))
		require.NoError(t, err)
		require.Len(t, occs, 2)
		assert.Equal(t, 3, occs[0].Index)
		assert.Equal(t, day(2024, 1, 5), occs[1].Date)
	})
}

func TestNextOccurrence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec, err := f.svc.CreateSeries(ctx, alice, f.parent.ID, recurrence.Pattern{
		Frequency: recurrence.Weekly,
		Interval:  1,
		Count:     mo.Some(3),
	})
	require.NoError(t, err)
	_, err = f.svc.ExcludeDate(ctx, alice, rec.ID, day(2024, 1, 8))
	require.NoError(t, err)

	occ, ok, err := f.svc.NextOccurrence(ctx, rec.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day(2024, 1, 15), occ.Date)
	assert.Equal(t, 2, occ.Index)

	_, ok, err = f.svc.NextOccurrence(ctx, rec.ID, day(2024, 1, 15))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
	assert.Equal(t, KindConflict, KindOf(fromStorage(&storage.Error{Type: storage.ErrVersionMismatch}, "x")))
	assert.Equal(t, KindNotFound, KindOf(fromStorage(event.ErrNotFound, "x")))
}
