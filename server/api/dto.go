package api

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/recurrence"
	"github.com/cyp0633/librecur/server/storage"
)

const dateLayout = "2006-01-02"

var registerOnce sync.Once

// registerValidations adds the domain rules to gin's validator.
func registerValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
			d := fl.Field().Int()
			return d >= int64(time.Sunday) && d <= int64(time.Saturday)
		})
		_ = v.RegisterValidation("frequency", func(fl validator.FieldLevel) bool {
			_, err := recurrence.ParseFrequency(fl.Field().String())
			return err == nil
		})
	})
}

type patternRequest struct {
	Frequency   string  `json:"frequency" binding:"required,frequency"`
	Interval    *int    `json:"interval"`
	Start       string  `json:"start" binding:"omitempty,datetime=2006-01-02"`
	DaysOfWeek  []int   `json:"daysOfWeek" binding:"omitempty,dive,weekday"`
	DayOfMonth  *int    `json:"dayOfMonth"`
	MonthOfYear *int    `json:"monthOfYear"`
	EndDate     *string `json:"endDate" binding:"omitempty,datetime=2006-01-02"`
	Count       *int    `json:"count"`
}

func (r patternRequest) toPattern() (recurrence.Pattern, error) {
	freq, err := recurrence.ParseFrequency(r.Frequency)
	if err != nil {
		return recurrence.Pattern{}, err
	}
	p := recurrence.Pattern{
		Frequency:   freq,
		Interval:    1,
		DaysOfWeek:  weekdays(r.DaysOfWeek),
		DayOfMonth:  intOption(r.DayOfMonth),
		MonthOfYear: intOption(r.MonthOfYear),
		Count:       intOption(r.Count),
	}
	if r.Interval != nil {
		p.Interval = *r.Interval
	}
	if r.Start != "" {
		if p.Start, err = recurrence.ParseDate(r.Start); err != nil {
			return recurrence.Pattern{}, err
		}
	}
	if r.EndDate != nil {
		end, err := recurrence.ParseDate(*r.EndDate)
		if err != nil {
			return recurrence.Pattern{}, err
		}
		p.EndDate = mo.Some(end)
	}
	return p, nil
}

type createSeriesRequest struct {
	ParentEventID string         `json:"parentEventId" binding:"required"`
	Pattern       patternRequest `json:"pattern"`
}

// updateSeriesRequest is a partial edit. Absent fields are kept; optional
// pattern fields named in Clear are unset.
type updateSeriesRequest struct {
	Frequency     *string  `json:"frequency" binding:"omitempty,frequency"`
	Interval      *int     `json:"interval"`
	Start         *string  `json:"start" binding:"omitempty,datetime=2006-01-02"`
	DaysOfWeek    []int    `json:"daysOfWeek" binding:"omitempty,dive,weekday"`
	DayOfMonth    *int     `json:"dayOfMonth"`
	MonthOfYear   *int     `json:"monthOfYear"`
	EndDate       *string  `json:"endDate" binding:"omitempty,datetime=2006-01-02"`
	Count         *int     `json:"count"`
	Clear         []string `json:"clear" binding:"omitempty,dive,oneof=daysOfWeek dayOfMonth monthOfYear endDate count"`
	ExcludedDates []string `json:"excludedDates" binding:"omitempty,dive,datetime=2006-01-02"`
	Version       int64    `json:"version" binding:"omitempty,min=0"`
}

func (r updateSeriesRequest) toPatch() (recurrence.PatternPatch, error) {
	var pp recurrence.PatternPatch
	if r.Frequency != nil {
		freq, err := recurrence.ParseFrequency(*r.Frequency)
		if err != nil {
			return pp, err
		}
		pp.Frequency = &freq
	}
	pp.Interval = r.Interval
	if r.Start != nil {
		start, err := recurrence.ParseDate(*r.Start)
		if err != nil {
			return pp, err
		}
		pp.Start = &start
	}
	if r.DaysOfWeek != nil {
		days := weekdays(r.DaysOfWeek)
		pp.DaysOfWeek = &days
	}
	if r.DayOfMonth != nil {
		v := mo.Some(*r.DayOfMonth)
		pp.DayOfMonth = &v
	}
	if r.MonthOfYear != nil {
		v := mo.Some(*r.MonthOfYear)
		pp.MonthOfYear = &v
	}
	if r.EndDate != nil {
		end, err := recurrence.ParseDate(*r.EndDate)
		if err != nil {
			return pp, err
		}
		v := mo.Some(end)
		pp.EndDate = &v
	}
	if r.Count != nil {
		v := mo.Some(*r.Count)
		pp.Count = &v
	}

	for _, field := range r.Clear {
		switch field {
		case "daysOfWeek":
			none := []time.Weekday(nil)
			pp.DaysOfWeek = &none
		case "dayOfMonth":
			none := mo.None[int]()
			pp.DayOfMonth = &none
		case "monthOfYear":
			none := mo.None[int]()
			pp.MonthOfYear = &none
		case "endDate":
			none := mo.None[time.Time]()
			pp.EndDate = &none
		case "count":
			none := mo.None[int]()
			pp.Count = &none
		default:
			return pp, fmt.Errorf("cannot clear %q", field)
		}
	}
	return pp, nil
}

type occurrencesQuery struct {
	From   string `form:"from" binding:"required,datetime=2006-01-02"`
	To     string `form:"to" binding:"required,datetime=2006-01-02"`
	Active bool   `form:"active"`
}

type modifyOccurrenceRequest struct {
	Name        *string    `json:"name" binding:"omitempty,max=255"`
	Description *string    `json:"description"`
	Location    *string    `json:"location" binding:"omitempty,max=255"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
}

func (r modifyOccurrenceRequest) overrides() event.Overrides {
	return event.Overrides{
		Name:        r.Name,
		Description: r.Description,
		Location:    r.Location,
		Start:       r.Start,
		End:         r.End,
	}
}

type patternResponse struct {
	Frequency   string  `json:"frequency"`
	Interval    int     `json:"interval"`
	Start       string  `json:"start"`
	DaysOfWeek  []int   `json:"daysOfWeek,omitempty"`
	DayOfMonth  *int    `json:"dayOfMonth,omitempty"`
	MonthOfYear *int    `json:"monthOfYear,omitempty"`
	EndDate     *string `json:"endDate,omitempty"`
	Count       *int    `json:"count,omitempty"`
	RRule       string  `json:"rrule,omitempty"`
}

type modificationResponse struct {
	Date              string `json:"date"`
	SubstituteEventID string `json:"substituteEventId"`
}

type seriesResponse struct {
	ID            string                 `json:"id"`
	ParentEventID string                 `json:"parentEventId"`
	CreatorID     string                 `json:"creatorId"`
	Pattern       patternResponse        `json:"pattern"`
	ExcludedDates []string               `json:"excludedDates"`
	Modifications []modificationResponse `json:"modifications"`
	Version       int64                  `json:"version"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

type occurrenceResponse struct {
	Index             int    `json:"index"`
	Date              string `json:"date"`
	Status            string `json:"status"`
	SubstituteEventID string `json:"substituteEventId,omitempty"`
}

func toSeriesResponse(rec *storage.RecurringEvent) seriesResponse {
	p := rec.Pattern
	pr := patternResponse{
		Frequency:   string(p.Frequency),
		Interval:    p.Interval,
		Start:       p.Start.Format(dateLayout),
		DayOfMonth:  optionPtr(p.DayOfMonth),
		MonthOfYear: optionPtr(p.MonthOfYear),
		Count:       optionPtr(p.Count),
	}
	for _, d := range p.DaysOfWeek {
		pr.DaysOfWeek = append(pr.DaysOfWeek, int(d))
	}
	if end, ok := p.EndDate.Get(); ok {
		s := end.Format(dateLayout)
		pr.EndDate = &s
	}
	if rule, err := p.RRule(); err == nil {
		pr.RRule = rule
	}

	resp := seriesResponse{
		ID:            rec.ID,
		ParentEventID: rec.ParentEventID,
		CreatorID:     rec.CreatorID,
		Pattern:       pr,
		ExcludedDates: []string{},
		Modifications: []modificationResponse{},
		Version:       rec.Version,
		CreatedAt:     rec.Created,
		UpdatedAt:     rec.Modified,
	}
	if rec.Overlay != nil {
		for _, d := range rec.Overlay.ExcludedDates() {
			resp.ExcludedDates = append(resp.ExcludedDates, d.Format(dateLayout))
		}
		for _, m := range rec.Overlay.Modifications() {
			resp.Modifications = append(resp.Modifications, modificationResponse{
				Date:              m.Date.Format(dateLayout),
				SubstituteEventID: m.SubstituteEventID,
			})
		}
	}
	return resp
}

func toOccurrenceResponse(occ recurrence.Occurrence) occurrenceResponse {
	return occurrenceResponse{
		Index:             occ.Index,
		Date:              occ.Date.Format(dateLayout),
		Status:            string(occ.Status),
		SubstituteEventID: occ.SubstituteEventID,
	}
}

func parseDates(values []string) ([]time.Time, error) {
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := recurrence.ParseDate(v)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func weekdays(days []int) []time.Weekday {
	if days == nil {
		return nil
	}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, time.Weekday(d))
	}
	slices.Sort(out)
	return out
}

func intOption(v *int) mo.Option[int] {
	if v == nil {
		return mo.None[int]()
	}
	return mo.Some(*v)
}

func optionPtr[T any](o mo.Option[T]) *T {
	if v, ok := o.Get(); ok {
		return &v
	}
	return nil
}
