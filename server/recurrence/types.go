package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the unit a Pattern steps by
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// ParseFrequency accepts the lower-case names as well as the RFC 5545 spelling (DAILY, WEEKLY...).
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

// Valid reports whether f is one of the four supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Status classifies a projected occurrence against the overlay
type Status string

const (
	StatusRegular  Status = "regular"
	StatusModified Status = "modified"
	StatusExcluded Status = "excluded"
)

// Slot is one generated date together with its absolute position in the series.
type Slot struct {
	Index int       // 0-based, counted from the series start
	Date  time.Time // midnight UTC
}

// Occurrence is a generated date after overlay classification. It is derived
// on every query and never stored.
type Occurrence struct {
	Index             int
	Date              time.Time
	Status            Status
	SubstituteEventID string // set only when Status is StatusModified
}

const dateLayout = "2006-01-02"

// DateOf truncates t to its calendar date and returns it as midnight UTC.
// The date is read in t's own location; no zone conversion happens.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate renders the calendar date of t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return DateOf(t).Format(dateLayout)
}

// OnDate returns clock's time of day placed on the calendar date of date,
// in clock's location.
func OnDate(date, clock time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
