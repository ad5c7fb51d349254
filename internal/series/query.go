package series

import (
	"time"

	"evcal/internal/model"
)

// Query expands a series into displayable occurrences, substituting
// exceptions where they exist.
type Query struct {
	engine
}

func NewQuery(opts Options) *Query {
	return &Query{engine: newEngine(opts)}
}

// Expand lists every occurrence of s, up to the expander cap.
func (q *Query) Expand(s model.Series) []model.Occurrence {
	return q.resolve(s, q.exp.All(s.Master))
}

// Before lists occurrences earlier than date, or equal when inclusive.
func (q *Query) Before(s model.Series, date time.Time, inclusive bool) []model.Occurrence {
	return q.resolve(s, q.exp.Before(s.Master, date, inclusive))
}

// After lists occurrences later than date, or equal when inclusive.
func (q *Query) After(s model.Series, date time.Time, inclusive bool) []model.Occurrence {
	return q.resolve(s, q.exp.After(s.Master, date, inclusive))
}

// Between lists occurrences within [from, to].
func (q *Query) Between(s model.Series, from, to time.Time) []model.Occurrence {
	return q.resolve(s, q.exp.Between(s.Master, from, to))
}

func (q *Query) resolve(s model.Series, starts []time.Time) []model.Occurrence {
	out := make([]model.Occurrence, 0, len(starts))
	dur := s.Master.Duration()
	for _, start := range starts {
		if idx := s.FindException(start); idx >= 0 {
			ex := s.Exceptions[idx]
			out = append(out, model.Occurrence{
				UID:          s.Master.UID,
				RecurrenceID: ex.RecurrenceID,
				Start:        ex.Start,
				End:          ex.End,
				Summary:      ex.Summary,
				Description:  ex.Description,
				IsException:  true,
			})
			continue
		}
		out = append(out, model.Occurrence{
			UID:          s.Master.UID,
			RecurrenceID: start,
			Start:        start,
			End:          start.Add(dur),
			Summary:      s.Master.Summary,
			Description:  s.Master.Description,
		})
	}
	return out
}
