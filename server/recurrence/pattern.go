package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/mo"
)

// Pattern describes how often a series repeats. It is a value: edits produce
// a new Pattern instead of mutating one in place.
//
// Selectors that do not apply to the frequency (DaysOfWeek on a monthly
// pattern, for example) are kept but ignored, so switching the frequency back
// round-trips the old selection.
type Pattern struct {
	Frequency Frequency
	// Interval means "every N units of Frequency"; must be at least 1.
	Interval int
	// Start anchors the series. Only its calendar date is used.
	Start time.Time
	// DaysOfWeek applies to weekly patterns. Empty means the weekday of Start.
	DaysOfWeek []time.Weekday
	// DayOfMonth (1-31) applies to monthly and yearly patterns. Days past the
	// end of a month fall on that month's last day.
	DayOfMonth mo.Option[int]
	// MonthOfYear (0-11, 0 is January) applies to yearly patterns.
	MonthOfYear mo.Option[int]
	// EndDate is exclusive: nothing is generated on or after it.
	EndDate mo.Option[time.Time]
	// Count bounds the total number of occurrences from Start.
	Count mo.Option[int]
}

// FieldError names a single invalid pattern field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned by Validate and lists every offending field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid recurrence pattern: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the structural rules of a pattern. Out-of-range values are
// rejected, never clamped.
func (p Pattern) Validate() error {
	verr := &ValidationError{}

	if !p.Frequency.Valid() {
		verr.add("frequency", "must be one of daily, weekly, monthly, yearly")
	}
	if p.Interval < 1 {
		verr.add("interval", "must be at least 1, got %d", p.Interval)
	}
	if p.Start.IsZero() {
		verr.add("start", "is required")
	}
	for _, d := range p.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			verr.add("daysOfWeek", "weekday %d outside 0-6", int(d))
		}
	}
	if dom, ok := p.DayOfMonth.Get(); ok && (dom < 1 || dom > 31) {
		verr.add("dayOfMonth", "must be within 1-31, got %d", dom)
	}
	if moy, ok := p.MonthOfYear.Get(); ok && (moy < 0 || moy > 11) {
		verr.add("monthOfYear", "must be within 0-11, got %d", moy)
	}
	if n, ok := p.Count.Get(); ok && n < 1 {
		verr.add("count", "must be positive, got %d", n)
	}
	if end, ok := p.EndDate.Get(); ok && !p.Start.IsZero() && !DateOf(end).After(DateOf(p.Start)) {
		verr.add("endDate", "must be after the series start")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Normalized returns a copy with dates truncated to midnight UTC and the
// weekday set sorted and de-duplicated.
func (p Pattern) Normalized() Pattern {
	out := p
	out.Start = DateOf(p.Start)
	if end, ok := p.EndDate.Get(); ok {
		out.EndDate = mo.Some(DateOf(end))
	}
	if len(p.DaysOfWeek) > 0 {
		days := slices.Clone(p.DaysOfWeek)
		slices.Sort(days)
		out.DaysOfWeek = slices.Compact(days)
	}
	return out
}

func (p Pattern) weekdays() []time.Weekday {
	if len(p.DaysOfWeek) == 0 {
		return []time.Weekday{p.Start.Weekday()}
	}
	return p.DaysOfWeek
}

func (p Pattern) dayOfMonth() int {
	return p.DayOfMonth.OrElse(p.Start.Day())
}

func (p Pattern) month() time.Month {
	if moy, ok := p.MonthOfYear.Get(); ok {
		return time.Month(moy + 1)
	}
	return p.Start.Month()
}

// PatternPatch is a partial pattern edit. Nil fields are left untouched; an
// Option pointer set to None clears the field.
type PatternPatch struct {
	Frequency   *Frequency
	Interval    *int
	Start       *time.Time
	DaysOfWeek  *[]time.Weekday
	DayOfMonth  *mo.Option[int]
	MonthOfYear *mo.Option[int]
	EndDate     *mo.Option[time.Time]
	Count       *mo.Option[int]
}

// Empty reports whether the patch changes nothing.
func (pp PatternPatch) Empty() bool {
	return pp.Frequency == nil && pp.Interval == nil && pp.Start == nil && pp.DaysOfWeek == nil &&
		pp.DayOfMonth == nil && pp.MonthOfYear == nil && pp.EndDate == nil && pp.Count == nil
}

// Apply merges the patch over p and returns the resulting pattern. p is not
// modified. The result still has to be validated.
func (pp PatternPatch) Apply(p Pattern) Pattern {
	out := p
	out.DaysOfWeek = slices.Clone(p.DaysOfWeek)
	if pp.Frequency != nil {
		out.Frequency = *pp.Frequency
	}
	if pp.Interval != nil {
		out.Interval = *pp.Interval
	}
	if pp.Start != nil {
		out.Start = *pp.Start
	}
	if pp.DaysOfWeek != nil {
		out.DaysOfWeek = slices.Clone(*pp.DaysOfWeek)
	}
	if pp.DayOfMonth != nil {
		out.DayOfMonth = *pp.DayOfMonth
	}
	if pp.MonthOfYear != nil {
		out.MonthOfYear = *pp.MonthOfYear
	}
	if pp.EndDate != nil {
		out.EndDate = *pp.EndDate
	}
	if pp.Count != nil {
		out.Count = *pp.Count
	}
	return out
}
