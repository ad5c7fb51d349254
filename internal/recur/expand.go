package recur

import (
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/utils"
)

const (
	DefaultCap = 500
)

// Config controls expansion.
type Config struct {
	// Cap bounds every expansion and window listing. If zero, DefaultCap
	// is used.
	Cap int

	// Clock supplies a start for masters that have none. If nil, the
	// system clock is used.
	Clock utils.Clock
}

// Expander turns a master event into its ascending occurrence starts.
type Expander struct {
	cap   int
	clock utils.Clock
}

func NewExpander(cfg Config) *Expander {
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultCap
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	return &Expander{cap: cfg.Cap, clock: cfg.Clock}
}

// Cap returns the effective occurrence cap.
func (e *Expander) Cap() int {
	return e.cap
}

// Expand yields occurrence starts in ascending order, at most Cap of them.
// EXDATEs are removed. A master without a rule yields its start once.
func (e *Expander) Expand(m model.MasterEvent) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		next := e.iterator(m)
		for i := 0; i < e.cap; i++ {
			t, ok := next()
			if !ok || !yield(t) {
				return
			}
		}
	}
}

// All collects Expand into a slice.
func (e *Expander) All(m model.MasterEvent) []time.Time {
	out := make([]time.Time, 0)
	for t := range e.Expand(m) {
		out = append(out, t)
	}
	return out
}

// First returns the first occurrence, if any.
func (e *Expander) First(m model.MasterEvent) (time.Time, bool) {
	for t := range e.Expand(m) {
		return t, true
	}
	return time.Time{}, false
}

// IsOccurrence reports whether date is generated by m. With includeTime
// false only the calendar day (in the master's zone) has to match.
func (e *Expander) IsOccurrence(m model.MasterEvent, date time.Time, includeTime bool) bool {
	if includeTime {
		_, ok := e.match(m, date, func(occ time.Time) bool { return occ.Equal(date) })
		return ok
	}
	_, ok := e.Occurrence(m, date)
	return ok
}

// Occurrence returns the occurrence of m falling on the same calendar day
// as date, in the master's zone.
func (e *Expander) Occurrence(m model.MasterEvent, date time.Time) (time.Time, bool) {
	loc := e.start(m).Location()
	y, mo, d := date.In(loc).Date()
	dayEnd := time.Date(y, mo, d, 23, 59, 59, 999999999, loc)
	return e.match(m, dayEnd, func(occ time.Time) bool {
		oy, omo, od := occ.In(loc).Date()
		return oy == y && omo == mo && od == d
	})
}

// match scans the ascending expansion and stops once it passes limit.
func (e *Expander) match(m model.MasterEvent, limit time.Time, hit func(time.Time) bool) (time.Time, bool) {
	for occ := range e.Expand(m) {
		if hit(occ) {
			return occ, true
		}
		if occ.After(limit) {
			break
		}
	}
	return time.Time{}, false
}

// Before lists occurrences earlier than date (or equal, when inclusive),
// ascending, capped at Cap results.
func (e *Expander) Before(m model.MasterEvent, date time.Time, inclusive bool) []time.Time {
	out := make([]time.Time, 0)
	for occ := range e.Expand(m) {
		if occ.After(date) || (!inclusive && occ.Equal(date)) {
			break
		}
		out = append(out, occ)
	}
	return out
}

// After lists occurrences later than date (or equal, when inclusive),
// ascending, capped at Cap results. Occurrences before date do not count
// against the cap.
func (e *Expander) After(m model.MasterEvent, date time.Time, inclusive bool) []time.Time {
	out := make([]time.Time, 0)
	next := e.iterator(m)
	for len(out) < e.cap {
		occ, ok := next()
		if !ok {
			break
		}
		if occ.Before(date) || (!inclusive && occ.Equal(date)) {
			continue
		}
		out = append(out, occ)
	}
	return out
}

// Between lists occurrences within [from, to], capped at Cap results.
func (e *Expander) Between(m model.MasterEvent, from, to time.Time) []time.Time {
	out := make([]time.Time, 0)
	next := e.iterator(m)
	for len(out) < e.cap {
		occ, ok := next()
		if !ok || occ.After(to) {
			break
		}
		if occ.Before(from) {
			continue
		}
		out = append(out, occ)
	}
	return out
}

func (e *Expander) start(m model.MasterEvent) time.Time {
	if m.Start.IsZero() {
		return e.clock.Now().Truncate(time.Second)
	}
	return m.Start
}

// iterator returns an uncapped ascending iterator over m.
func (e *Expander) iterator(m model.MasterEvent) rrule.Next {
	start := e.start(m)
	if !m.Repeats() {
		done := false
		return func() (time.Time, bool) {
			if done {
				return time.Time{}, false
			}
			done = true
			return start, true
		}
	}

	opt, err := ROption(m.Rule, start)
	if err != nil {
		appLog.Error("expand: invalid rule", err, "uid", m.UID)
		return func() (time.Time, bool) { return time.Time{}, false }
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("expand: failed to build rule", err, "uid", m.UID)
		return func() (time.Time, bool) { return time.Time{}, false }
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range m.Rule.ExcludedDates {
		set.ExDate(ex.In(start.Location()))
	}
	return set.Iterator()
}
