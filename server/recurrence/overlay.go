package recurrence

import (
	"slices"
	"time"
)

// Modification points one occurrence date at the standalone event that
// replaces it.
type Modification struct {
	Date              time.Time
	SubstituteEventID string
}

// Overlay holds the per-series state layered over the generated dates: the
// excluded dates and the modified occurrences. A date is never both.
//
// The zero value is an empty overlay. Overlay does not know the pattern;
// deciding whether a date belongs to the series is the caller's job.
type Overlay struct {
	excluded map[string]time.Time
	modified map[string]Modification
}

// NewOverlay builds an overlay from stored state. When a date appears in both
// lists the exclusion wins, as it would have through Exclude.
func NewOverlay(excluded []time.Time, modified []Modification) *Overlay {
	o := &Overlay{}
	for _, m := range modified {
		o.SetModification(m.Date, m.SubstituteEventID)
	}
	for _, d := range excluded {
		o.Exclude(d)
	}
	return o
}

func (o *Overlay) init() {
	if o.excluded == nil {
		o.excluded = make(map[string]time.Time)
	}
	if o.modified == nil {
		o.modified = make(map[string]Modification)
	}
}

// Exclude suppresses date. Excluding a modified date detaches its substitute
// event id, which is returned so the caller can decide what to do with the
// event record. Excluding twice is a no-op.
func (o *Overlay) Exclude(date time.Time) (changed bool, detached string) {
	o.init()
	key := FormatDate(date)
	if m, ok := o.modified[key]; ok {
		delete(o.modified, key)
		detached = m.SubstituteEventID
		changed = true
	}
	if _, ok := o.excluded[key]; !ok {
		o.excluded[key] = DateOf(date)
		changed = true
	}
	return changed, detached
}

// Include removes date from the exclusions if present.
func (o *Overlay) Include(date time.Time) bool {
	key := FormatDate(date)
	if _, ok := o.excluded[key]; !ok {
		return false
	}
	delete(o.excluded, key)
	return true
}

// SetModification maps date to a substitute event, replacing any previous
// mapping (returned as previous). A modified date is active, so any exclusion
// on it is lifted.
func (o *Overlay) SetModification(date time.Time, substituteEventID string) (previous string) {
	o.init()
	key := FormatDate(date)
	previous = o.modified[key].SubstituteEventID
	delete(o.excluded, key)
	o.modified[key] = Modification{Date: DateOf(date), SubstituteEventID: substituteEventID}
	return previous
}

// ClearModification removes the mapping for date. The substitute event itself
// is left alone.
func (o *Overlay) ClearModification(date time.Time) (previous string, ok bool) {
	key := FormatDate(date)
	m, ok := o.modified[key]
	if !ok {
		return "", false
	}
	delete(o.modified, key)
	return m.SubstituteEventID, true
}

func (o *Overlay) IsExcluded(date time.Time) bool {
	_, ok := o.excluded[FormatDate(date)]
	return ok
}

// Modification returns the substitute event id mapped to date.
func (o *Overlay) Modification(date time.Time) (string, bool) {
	m, ok := o.modified[FormatDate(date)]
	return m.SubstituteEventID, ok
}

// Classify tags a generated date. Exclusion is checked first.
func (o *Overlay) Classify(date time.Time) (Status, string) {
	if o.IsExcluded(date) {
		return StatusExcluded, ""
	}
	if id, ok := o.Modification(date); ok {
		return StatusModified, id
	}
	return StatusRegular, ""
}

// ExcludedDates returns the exclusions in ascending order.
func (o *Overlay) ExcludedDates() []time.Time {
	out := make([]time.Time, 0, len(o.excluded))
	for _, d := range o.excluded {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// Modifications returns the modified occurrences in ascending date order.
func (o *Overlay) Modifications() []Modification {
	out := make([]Modification, 0, len(o.modified))
	for _, m := range o.modified {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Modification) int { return a.Date.Compare(b.Date) })
	return out
}

// Clone returns an independent copy.
func (o *Overlay) Clone() *Overlay {
	c := &Overlay{}
	c.init()
	for k, v := range o.excluded {
		c.excluded[k] = v
	}
	for k, v := range o.modified {
		c.modified[k] = v
	}
	return c
}

// Equal reports whether both overlays hold the same exclusions and modifications.
func (o *Overlay) Equal(other *Overlay) bool {
	if len(o.excluded) != len(other.excluded) || len(o.modified) != len(other.modified) {
		return false
	}
	for k := range o.excluded {
		if _, ok := other.excluded[k]; !ok {
			return false
		}
	}
	for k, v := range o.modified {
		if other.modified[k] != v {
			return false
		}
	}
	return true
}
