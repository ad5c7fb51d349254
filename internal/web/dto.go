package web

import (
	"time"

	"evcal/internal/model"
)

// seriesDTO is the JSON view of a stored series. Rule keys match the
// field names accepted in change sets.
type seriesDTO struct {
	UID        string         `json:"uid"`
	Revision   int64          `json:"revision"`
	Master     eventDTO       `json:"master"`
	Rule       *ruleDTO       `json:"rule,omitempty"`
	Exceptions []exceptionDTO `json:"exceptions"`
}

type eventDTO struct {
	Summary        string    `json:"summary"`
	Description    string    `json:"description,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Timezone       string    `json:"timezone"`
	Sequence       int       `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

type ruleDTO struct {
	Freq       string      `json:"freq"`
	Interval   int         `json:"interval,omitempty"`
	Count      int         `json:"count,omitempty"`
	Until      *time.Time  `json:"until,omitempty"`
	ByDay      []string    `json:"byday,omitempty"`
	ByMonth    []int       `json:"bymonth,omitempty"`
	ByMonthDay []int       `json:"bymonthday,omitempty"`
	BySetPos   int         `json:"bysetpos,omitempty"`
	ExDate     []time.Time `json:"exdate,omitempty"`
}

type exceptionDTO struct {
	RecurrenceID time.Time `json:"recurrence_id"`
	eventDTO
}

type occurrenceDTO struct {
	UID          string    `json:"uid"`
	RecurrenceID time.Time `json:"recurrence_id"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	IsException  bool      `json:"is_exception"`
}

type updateResponse struct {
	Series seriesDTO  `json:"series"`
	Split  *seriesDTO `json:"split,omitempty"`
}

// updateBody is the PATCH payload. RecurrenceID accepts the same forms
// as the start field: a date-time string or {"datetime", "tzid"}.
type updateBody struct {
	Scope        string         `json:"scope"`
	RecurrenceID any            `json:"recurrence_id"`
	Revision     int64          `json:"revision"`
	Changes      map[string]any `json:"changes"`
}

func eventToDTO(e model.EventCore) eventDTO {
	return eventDTO{
		Summary:        e.Summary,
		Description:    e.Description,
		Start:          e.Start,
		End:            e.End,
		Timezone:       e.Start.Location().String(),
		Sequence:       e.Sequence,
		CreatedAt:      e.CreatedAt,
		LastModifiedAt: e.LastModifiedAt,
	}
}

func ruleToDTO(r *model.RecurrenceRule) *ruleDTO {
	if r == nil || r.Frequency == "" {
		return nil
	}
	out := &ruleDTO{
		Freq:       string(r.Frequency),
		Interval:   r.Interval,
		Count:      r.Count,
		ByDay:      r.ByDay,
		ByMonth:    r.ByMonth,
		ByMonthDay: r.ByMonthDay,
		BySetPos:   r.BySetPosition,
		ExDate:     r.ExcludedDates,
	}
	if !r.Until.IsZero() {
		until := r.Until
		out.Until = &until
	}
	return out
}

func seriesToDTO(s model.Series) seriesDTO {
	out := seriesDTO{
		UID:        s.UID(),
		Revision:   s.Revision,
		Master:     eventToDTO(s.Master.EventCore),
		Rule:       ruleToDTO(s.Master.Rule),
		Exceptions: make([]exceptionDTO, 0, len(s.Exceptions)),
	}
	for _, ex := range s.Exceptions {
		out.Exceptions = append(out.Exceptions, exceptionDTO{
			RecurrenceID: ex.RecurrenceID,
			eventDTO:     eventToDTO(ex.EventCore),
		})
	}
	return out
}

func occurrencesToDTO(list []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(list))
	for _, o := range list {
		out = append(out, occurrenceDTO{
			UID:          o.UID,
			RecurrenceID: o.RecurrenceID,
			Summary:      o.Summary,
			Description:  o.Description,
			Start:        o.Start,
			End:          o.End,
			IsException:  o.IsException,
		})
	}
	return out
}
