package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
	"github.com/spf13/cobra"

	"github.com/cyp0633/librecur/server/recurrence"
)

type expandOptions struct {
	rrule       string
	frequency   string
	interval    int
	days        []int
	dayOfMonth  int
	monthOfYear int
	count       int
	until       string
	start       string
	from        string
	to          string
}

func newExpandCmd(_ *rootOptions) *cobra.Command {
	o := &expandOptions{}
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Print the occurrences of a pattern inside a window",
		Example: `  seriesd expand --start 2024-01-01 --freq weekly --days 1,3 --from 2024-01-01 --to 2024-02-01
  seriesd expand --start 2024-01-31 --rrule "FREQ=MONTHLY;COUNT=6" --from 2024-01-01 --to 2024-12-31`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			slots, err := o.run()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, slot := range slots {
				fmt.Fprintf(out, "%d\t%s\t%s\n", slot.Index, recurrence.FormatDate(slot.Date), slot.Date.Weekday())
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.rrule, "rrule", "", "RFC 5545 RRULE value; overrides the pattern flags")
	f.StringVar(&o.frequency, "freq", "weekly", "frequency: daily, weekly, monthly, yearly")
	f.IntVar(&o.interval, "interval", 1, "periods between occurrences")
	f.IntSliceVar(&o.days, "days", nil, "weekdays for weekly patterns, 0 = Sunday")
	f.IntVar(&o.dayOfMonth, "day-of-month", 0, "day of month for monthly and yearly patterns")
	f.IntVar(&o.monthOfYear, "month", -1, "month of year for yearly patterns, 0 = January")
	f.IntVar(&o.count, "count", 0, "total number of occurrences")
	f.StringVar(&o.until, "until", "", "exclusive end date (YYYY-MM-DD)")
	f.StringVar(&o.start, "start", "", "series start date (YYYY-MM-DD)")
	f.StringVar(&o.from, "from", "", "window start (YYYY-MM-DD), defaults to --start")
	f.StringVar(&o.to, "to", "", "window end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (o *expandOptions) pattern(start time.Time) (recurrence.Pattern, error) {
	if o.rrule != "" {
		return recurrence.ParseRRule(o.rrule, start)
	}

	freq, err := recurrence.ParseFrequency(o.frequency)
	if err != nil {
		return recurrence.Pattern{}, err
	}
	p := recurrence.Pattern{
		Frequency: freq,
		Interval:  o.interval,
		Start:     start,
	}
	for _, d := range o.days {
		p.DaysOfWeek = append(p.DaysOfWeek, time.Weekday(d))
	}
	if o.dayOfMonth != 0 {
		p.DayOfMonth = mo.Some(o.dayOfMonth)
	}
	if o.monthOfYear >= 0 {
		p.MonthOfYear = mo.Some(o.monthOfYear)
	}
	if o.count != 0 {
		p.Count = mo.Some(o.count)
	}
	if o.until != "" {
		until, err := recurrence.ParseDate(o.until)
		if err != nil {
			return recurrence.Pattern{}, err
		}
		p.EndDate = mo.Some(until)
	}
	return p, nil
}

func (o *expandOptions) run() ([]recurrence.Slot, error) {
	start, err := recurrence.ParseDate(o.start)
	if err != nil {
		return nil, err
	}
	from := start
	if o.from != "" {
		if from, err = recurrence.ParseDate(o.from); err != nil {
			return nil, err
		}
	}
	to, err := recurrence.ParseDate(o.to)
	if err != nil {
		return nil, err
	}
	if to.Sub(from) > 100*366*24*time.Hour {
		return nil, errors.New("window may span at most 100 years")
	}

	p, err := o.pattern(start)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return recurrence.Expand(p, from, to)
}
