// Package diff decides which fields an edit really changes and whether an
// exception still differs from what its master would produce.
package diff

import (
	"slices"
	"time"

	"evcal/internal/model"
	"evcal/internal/rule"
)

// FieldSet is a set of changed fields.
type FieldSet map[model.Field]struct{}

// Has reports whether f changed.
func (s FieldSet) Has(f model.Field) bool {
	_, ok := s[f]
	return ok
}

// Any reports whether at least one of fields changed.
func (s FieldSet) Any(fields ...model.Field) bool {
	for _, f := range fields {
		if s.Has(f) {
			return true
		}
	}
	return false
}

// TouchesSchedule reports a change to start, end or any rule field. Such a
// change bumps the sequence.
func (s FieldSet) TouchesSchedule() bool {
	return s.Any(model.DateTimeFields...) || s.Any(model.RuleFields...)
}

// Sorted lists the set in a stable order, for logging and tests.
func (s FieldSet) Sorted() []model.Field {
	out := make([]model.Field, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// ChangedFields compares a change set with stored values (see
// rule.Snapshot). Recurrence fields are compared as a whole rebuilt rule,
// so dropping freq reports every stored rule field as changed.
func ChangedFields(cs model.ChangeSet, stored map[model.Field]any) FieldSet {
	out := make(FieldSet)
	for f, v := range cs {
		if model.IsRuleField(f) {
			continue
		}
		if !rule.ValuesEquivalent(v, stored[f]) {
			out[f] = struct{}{}
		}
	}

	proposed, touched := rule.ProposedRule(cs)
	if !touched {
		return out
	}
	for f, v := range rule.Values(proposed) {
		var changed bool
		if f == model.FieldInterval {
			changed = rule.IntervalChanges(stored[f], v)
		} else {
			changed = !rule.ValuesEquivalent(v, stored[f])
		}
		if changed {
			out[f] = struct{}{}
		}
	}
	return out
}

// IsRedundant reports whether dropping the exception would leave the
// occurrence looking the same: start time-of-day (in the master's zone),
// duration, summary and description all match. The date is fixed by the
// recurrence id and is not compared.
func IsRedundant(ex model.ExceptionEvent, m model.MasterEvent) bool {
	loc := m.Start.Location()
	if clock(ex.Start.In(loc)) != clock(m.Start) {
		return false
	}
	if ex.Duration() != m.Duration() {
		return false
	}
	return ex.Summary == m.Summary && ex.Description == m.Description
}

func clock(t time.Time) time.Duration {
	h, mi, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
