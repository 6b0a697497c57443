package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var rruleFreq = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

// ROption converts p into an equivalent RFC 5545 rule. Day-of-month clamping
// is expressed with BYSETPOS so that short months behave the same way as in
// Generate. When both EndDate and Count are set only the one that ends the
// series first is emitted, since RFC 5545 forbids having both.
func (p Pattern) ROption() (rrule.ROption, error) {
	if err := p.Validate(); err != nil {
		return rrule.ROption{}, err
	}
	p = p.Normalized()

	opt := rrule.ROption{
		Freq:     rruleFreq[p.Frequency],
		Interval: p.Interval,
		Dtstart:  p.Start,
		Wkst:     rrule.SU,
	}

	switch p.Frequency {
	case Weekly:
		for _, wd := range p.weekdays() {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case Monthly, Yearly:
		opt.Bymonthday, opt.Bysetpos = clampedMonthDays(p.dayOfMonth())
		if p.Frequency == Yearly {
			opt.Bymonth = []int{int(p.month())}
		}
	}

	count, hasCount := p.Count.Get()
	end, hasEnd := p.EndDate.Get()
	switch {
	case hasCount && hasEnd:
		if countEndsFirst(p, count, end) {
			opt.Count = count
		} else {
			opt.Until = end.AddDate(0, 0, -1)
		}
	case hasCount:
		opt.Count = count
	case hasEnd:
		opt.Until = end.AddDate(0, 0, -1)
	}
	return opt, nil
}

// RRule renders the RRULE value (without the "RRULE:" prefix and DTSTART).
func (p Pattern) RRule() (string, error) {
	opt, err := p.ROption()
	if err != nil {
		return "", err
	}
	return opt.RRuleString(), nil
}

func clampedMonthDays(day int) (bymonthday, bysetpos []int) {
	switch {
	case day <= 28:
		return []int{day}, nil
	case day == 31:
		return []int{-1}, nil
	default:
		for d := 28; d <= day; d++ {
			bymonthday = append(bymonthday, d)
		}
		return bymonthday, []int{-1}
	}
}

// countEndsFirst reports whether the count-th occurrence comes before end.
func countEndsFirst(p Pattern, count int, end time.Time) bool {
	p.EndDate = mo.None[time.Time]()
	p.Count = mo.None[int]()
	it, err := NewIterator(p)
	if err != nil {
		return false
	}
	for i := 0; i < count; i++ {
		slot, ok := it.Next()
		if !ok || !slot.Date.Before(end) {
			return false
		}
	}
	return true
}

// PatternFromROption converts the subset of RFC 5545 rules that a Pattern can
// express. Rules using other parts (BYSETPOS other than the clamp form,
// BYYEARDAY, numbered weekdays, sub-daily frequencies...) are rejected.
func PatternFromROption(opt *rrule.ROption) (Pattern, error) {
	if opt == nil {
		return Pattern{}, errors.New("nil rule")
	}

	p := Pattern{Interval: opt.Interval, Start: DateOf(opt.Dtstart)}
	if p.Interval == 0 {
		p.Interval = 1
	}
	for f, rf := range rruleFreq {
		if rf == opt.Freq {
			p.Frequency = f
		}
	}
	if p.Frequency == "" {
		return Pattern{}, fmt.Errorf("unsupported frequency %v", opt.Freq)
	}
	if len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byeaster) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 {
		return Pattern{}, errors.New("unsupported rule part")
	}

	if len(opt.Byweekday) > 0 {
		if p.Frequency != Weekly {
			return Pattern{}, errors.New("BYDAY is only supported on weekly rules")
		}
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return Pattern{}, fmt.Errorf("numbered weekday %s is not supported", wd)
			}
			p.DaysOfWeek = append(p.DaysOfWeek, time.Weekday((wd.Day()+1)%7))
		}
	}

	if len(opt.Bymonthday) > 0 {
		day, err := monthDayFromRule(opt.Bymonthday, opt.Bysetpos)
		if err != nil {
			return Pattern{}, err
		}
		p.DayOfMonth = mo.Some(day)
	} else if len(opt.Bysetpos) > 0 {
		return Pattern{}, errors.New("BYSETPOS is only supported with BYMONTHDAY")
	}

	switch len(opt.Bymonth) {
	case 0:
	case 1:
		p.MonthOfYear = mo.Some(opt.Bymonth[0] - 1)
	default:
		return Pattern{}, errors.New("only a single BYMONTH value is supported")
	}

	if opt.Count > 0 {
		p.Count = mo.Some(opt.Count)
	}
	if !opt.Until.IsZero() {
		p.EndDate = mo.Some(DateOf(opt.Until).AddDate(0, 0, 1))
	}

	if err := p.Validate(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// ParseRRule parses an RRULE value anchored at start.
func ParseRRule(value string, start time.Time) (Pattern, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "RRULE:")
	opt, err := rrule.StrToROption(value)
	if err != nil {
		return Pattern{}, fmt.Errorf("failed to parse RRULE '%s': %w", value, err)
	}
	opt.Dtstart = start
	return PatternFromROption(opt)
}

func monthDayFromRule(days, setpos []int) (int, error) {
	if len(days) == 1 && len(setpos) == 0 {
		switch d := days[0]; {
		case d == -1:
			return 31, nil
		case d >= 1 && d <= 28:
			return d, nil
		}
	}
	if len(setpos) == 1 && setpos[0] == -1 && len(days) > 1 && days[0] == 28 {
		for i, d := range days {
			if d != 28+i {
				return 0, errors.New("unsupported BYMONTHDAY/BYSETPOS combination")
			}
		}
		return days[len(days)-1], nil
	}
	return 0, errors.New("unsupported BYMONTHDAY value")
}

// SetRecurrenceProps writes DTSTART, RRULE and one EXDATE per excluded date
// onto props. Occurrences take their time of day from clock.
func SetRecurrenceProps(props ical.Props, p Pattern, overlay *Overlay, clock time.Time) error {
	opt, err := p.ROption()
	if err != nil {
		return err
	}

	props.SetDateTime(ical.PropDateTimeStart, OnDate(p.Start, clock))
	// UNTIL is the start of the last occurrence, not midnight of its day.
	if !opt.Until.IsZero() {
		opt.Until = OnDate(opt.Until, clock).UTC()
	}

	rule := ical.NewProp(ical.PropRecurrenceRule)
	rule.Value = opt.RRuleString()
	props.Set(rule)

	props.Del(ical.PropExceptionDates)
	if overlay != nil {
		for _, d := range overlay.ExcludedDates() {
			exdate := ical.NewProp(ical.PropExceptionDates)
			exdate.SetDateTime(OnDate(d, clock))
			props.Add(exdate)
		}
	}
	return nil
}

// PatternFromComponent reads DTSTART, RRULE and EXDATE back from a VEVENT.
func PatternFromComponent(comp *ical.Component) (Pattern, []time.Time, error) {
	start, err := comp.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	if err != nil {
		return Pattern{}, nil, fmt.Errorf("failed to read DTSTART: %w", err)
	}
	ruleProp := comp.Props.Get(ical.PropRecurrenceRule)
	if ruleProp == nil || ruleProp.Value == "" {
		return Pattern{}, nil, errors.New("component has no RRULE")
	}
	p, err := ParseRRule(ruleProp.Value, start)
	if err != nil {
		return Pattern{}, nil, err
	}

	var excluded []time.Time
	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		excluded = append(excluded, parseDateList(prop.Value, prop.Params)...)
	}
	return p, excluded, nil
}

// parseDateList parses a comma separated EXDATE/RDATE value into dates.
func parseDateList(value string, params ical.Params) []time.Time {
	var out []time.Time
	dateOnly := strings.EqualFold(params.Get(ical.ParamValue), string(ical.ValueDate))
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		var t time.Time
		var err error
		if dateOnly {
			t, err = time.Parse("20060102", s)
		} else {
			t, err = time.Parse("20060102T150405Z", s)
			if err != nil {
				t, err = time.Parse("20060102T150405", s)
			}
			if err != nil {
				t, err = time.Parse("20060102", s)
			}
		}
		if err == nil {
			out = append(out, DateOf(t))
		}
	}
	return out
}
