package recurrence

import (
	"fmt"
	"time"
)

// Iterator walks the dates of a pattern lazily and in ascending order. The
// series may be unbounded, so callers must stop on their own (Generate stops
// at the window end).
type Iterator struct {
	p       Pattern
	period  int         // next period to expand
	pending []time.Time // candidates of the current period not yet returned
	emitted int         // occurrences before the next one, counted from Start
	done    bool
}

// NewIterator validates p and returns an iterator positioned at the series start.
func NewIterator(p Pattern) (*Iterator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Iterator{p: p.Normalized()}, nil
}

// SeekTo moves the iterator to the first period that can contain t, without
// walking the periods before it. Dates before t may still be returned from
// that period. Seeking backwards is a no-op.
func (it *Iterator) SeekTo(t time.Time) {
	t = DateOf(t)
	start := it.p.Start
	if !t.After(start) || it.done {
		return
	}

	var n int
	switch it.p.Frequency {
	case Daily:
		n = daysBetween(start, t) / it.p.Interval
	case Weekly:
		n = daysBetween(weekStart(start), t) / 7 / it.p.Interval
	case Monthly:
		months := (t.Year()-start.Year())*12 + int(t.Month()-start.Month())
		n = months / it.p.Interval
	case Yearly:
		n = (t.Year() - start.Year()) / it.p.Interval
	}
	if n <= it.period {
		return
	}

	// Every period after the first is entirely on or after Start, so the
	// skipped count is exact.
	perPeriod := 1
	if it.p.Frequency == Weekly {
		perPeriod = len(it.p.weekdays())
	}
	beforeStart := 0
	for _, c := range it.candidates(0) {
		if c.Before(start) {
			beforeStart++
		}
	}

	it.period = n
	it.pending = nil
	it.emitted = n*perPeriod - beforeStart
}

// Next returns the next occurrence, or false once EndDate or Count is reached.
func (it *Iterator) Next() (Slot, bool) {
	for !it.done {
		if len(it.pending) == 0 {
			it.pending = it.candidates(it.period)
			it.period++
			continue
		}
		d := it.pending[0]
		it.pending = it.pending[1:]

		if d.Before(it.p.Start) {
			continue
		}
		if end, ok := it.p.EndDate.Get(); ok && !d.Before(end) {
			it.done = true
			break
		}
		if n, ok := it.p.Count.Get(); ok && it.emitted >= n {
			it.done = true
			break
		}
		slot := Slot{Index: it.emitted, Date: d}
		it.emitted++
		return slot, true
	}
	return Slot{}, false
}

// candidates returns the sorted dates selected by the pattern in period n,
// which starts n*Interval units after the unit containing Start.
func (it *Iterator) candidates(n int) []time.Time {
	p := it.p
	step := n * p.Interval
	switch p.Frequency {
	case Daily:
		return []time.Time{p.Start.AddDate(0, 0, step)}
	case Weekly:
		base := weekStart(p.Start).AddDate(0, 0, 7*step)
		days := p.weekdays()
		out := make([]time.Time, 0, len(days))
		for _, wd := range days {
			out = append(out, base.AddDate(0, 0, int(wd)))
		}
		return out
	case Monthly:
		months := int(p.Start.Month()-1) + step
		year := p.Start.Year() + months/12
		month := time.Month(months%12 + 1)
		return []time.Time{clampedDate(year, month, p.dayOfMonth())}
	case Yearly:
		return []time.Time{clampedDate(p.Start.Year()+step, p.month(), p.dayOfMonth())}
	}
	return nil
}

// weekStart returns the Sunday on or before d.
func weekStart(d time.Time) time.Time {
	return d.AddDate(0, 0, -int(d.Weekday()))
}

func clampedDate(year int, month time.Month, day int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Expand returns the occurrences of p whose date falls in the inclusive
// window [windowStart, windowEnd], with their absolute series index. The
// window must be finite; cost is proportional to the occurrences inside it.
func Expand(p Pattern, windowStart, windowEnd time.Time) ([]Slot, error) {
	from, to := DateOf(windowStart), DateOf(windowEnd)
	if to.Before(from) {
		return nil, fmt.Errorf("window end %s is before window start %s", FormatDate(to), FormatDate(from))
	}

	it, err := NewIterator(p)
	if err != nil {
		return nil, err
	}
	it.SeekTo(from)

	var out []Slot
	for {
		slot, ok := it.Next()
		if !ok || slot.Date.After(to) {
			break
		}
		if slot.Date.Before(from) {
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}

// Generate returns the dates of p inside the inclusive window, strictly
// ascending. It keeps no state between calls.
func Generate(p Pattern, windowStart, windowEnd time.Time) ([]time.Time, error) {
	slots, err := Expand(p, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, len(slots))
	for i, s := range slots {
		dates[i] = s.Date
	}
	return dates, nil
}

// Locate reports whether date is an occurrence of p and, if so, its index.
func Locate(p Pattern, date time.Time) (int, bool, error) {
	slots, err := Expand(p, date, date)
	if err != nil {
		return 0, false, err
	}
	if len(slots) == 0 {
		return 0, false, nil
	}
	return slots[0].Index, true, nil
}

// Matches reports whether date is an occurrence of p. Invalid patterns match nothing.
func Matches(p Pattern, date time.Time) bool {
	_, ok, err := Locate(p, date)
	return err == nil && ok
}

// NextAfter returns the first occurrence strictly after t, if the series has one.
func NextAfter(p Pattern, t time.Time) (Slot, bool, error) {
	it, err := NewIterator(p)
	if err != nil {
		return Slot{}, false, err
	}
	after := DateOf(t)
	it.SeekTo(after)
	for {
		slot, ok := it.Next()
		if !ok {
			return Slot{}, false, nil
		}
		if slot.Date.After(after) {
			return slot, true, nil
		}
	}
}
