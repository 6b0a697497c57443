/*
Package server groups the packages of the recurring event series engine.

A series attaches a recurrence pattern to an existing event. Occurrences are
never stored: they are generated for the window a caller asks about and then
classified against the series overlay of excluded and modified dates.

# Packages

  - recurrence: the Pattern value, the pure occurrence generator, the Overlay
    and RFC 5545 (RRULE/EXDATE) conversion.
  - storage: the persisted RecurringEvent aggregate and the Storage interface,
    with in-memory (storage/memory) and PostgreSQL (storage/gormstore)
    implementations.
  - event: the boundary to the host application's event records.
  - series: the service that composes the above into the query and mutation
    operations.
  - auth: principals and HTTP Basic authentication.
  - api: the JSON HTTP API and the iCalendar feed.

# Basic Usage

The simplest way to embed the engine is with the in-memory stores:

	store := memory.New()
	events := eventmemory.New()
	svc := series.New(store, events, series.WithLogger(logger))

	rec, err := svc.CreateSeries(ctx, "alice", parentEventID, recurrence.Pattern{
		Frequency:  recurrence.Weekly,
		Interval:   2,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Count:      mo.Some(10),
	})
	if err != nil {
		log.Fatal(err)
	}

	occurrences, err := svc.Project(ctx, rec.ID, windowStart, windowEnd)

# Dates

Occurrence dates are calendar dates, represented as midnight UTC. Weekly
periods are weeks starting on Sunday. Monthly and yearly patterns whose day
of month does not exist in a given month fall on that month's last day, so a
series on the 31st has an occurrence on February 28 (or 29).

Count bounds the whole series from its start, not a single query window. The
end date is exclusive. When both are set the series stops at whichever comes
first.

# Overlay Policy

Excluding a date the pattern never generates changes nothing. Excluding a
modified date drops the modification and leaves the substitute event record
in place. Modifying an excluded date lifts the exclusion.

# Custom Storage Backend

To use another database, implement storage.Storage. Every method that
changes a series must apply its change atomically and enforce one series per
parent event, returning a storage.Error of type ErrAlreadyExists otherwise.
*/
package server
