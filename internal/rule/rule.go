package rule

import (
	"slices"
	"time"

	"evcal/internal/model"
)

// ProposedRule builds the rule a change set asks for.
//
// touched is false when the change set holds no recurrence field at all;
// the stored rule then stays as it is. Otherwise the whole rule is
// rebuilt from the change set alone, and an absent or empty freq clears
// it (rule is nil).
func ProposedRule(cs model.ChangeSet) (r *model.RecurrenceRule, touched bool) {
	if !cs.HasRuleFields() {
		return nil, false
	}
	freq, _ := cs.String(model.FieldFreq)
	if freq == "" {
		return nil, true
	}
	r = &model.RecurrenceRule{
		Frequency:     model.Frequency(freq),
		Interval:      cs.Int(model.FieldInterval),
		Count:         cs.Int(model.FieldCount),
		ByDay:         slices.Clone(cs.Strings(model.FieldByDay)),
		ByMonth:       slices.Clone(cs.Ints(model.FieldByMonth)),
		ByMonthDay:    slices.Clone(cs.Ints(model.FieldByMonthDay)),
		BySetPosition: cs.Int(model.FieldBySetPos),
		ExcludedDates: slices.Clone(cs.Times(model.FieldExDate)),
	}
	if until, ok := cs.Time(model.FieldUntil); ok {
		r.Until = until
	}
	if r.Interval == 1 {
		r.Interval = 0
	}
	return r, true
}

// Values lists a rule field by field. Absent parts map to nil so they
// compare as empty.
func Values(r *model.RecurrenceRule) map[model.Field]any {
	out := make(map[model.Field]any, len(model.RuleFields))
	for _, f := range model.RuleFields {
		out[f] = nil
	}
	if r == nil {
		return out
	}
	out[model.FieldFreq] = string(r.Frequency)
	out[model.FieldInterval] = optionalInt(r.Interval)
	out[model.FieldCount] = optionalInt(r.Count)
	out[model.FieldBySetPos] = optionalInt(r.BySetPosition)
	if !r.Until.IsZero() {
		out[model.FieldUntil] = r.Until
	}
	if len(r.ByDay) > 0 {
		out[model.FieldByDay] = r.ByDay
	}
	if len(r.ByMonth) > 0 {
		out[model.FieldByMonth] = r.ByMonth
	}
	if len(r.ByMonthDay) > 0 {
		out[model.FieldByMonthDay] = r.ByMonthDay
	}
	if len(r.ExcludedDates) > 0 {
		out[model.FieldExDate] = r.ExcludedDates
	}
	return out
}

func optionalInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// Snapshot lists the stored values of an event for diffing against a
// change set. rule may be nil for exceptions and single events.
func Snapshot(core model.EventCore, r *model.RecurrenceRule) map[model.Field]any {
	out := Values(r)
	out[model.FieldSummary] = core.Summary
	out[model.FieldDescription] = core.Description
	out[model.FieldUID] = core.UID
	out[model.FieldStart] = core.Start
	out[model.FieldEnd] = core.End
	return out
}

// AddExcludedDate appends d unless an equal instant is already excluded.
func AddExcludedDate(r *model.RecurrenceRule, d time.Time) bool {
	if r == nil {
		return false
	}
	for _, ex := range r.ExcludedDates {
		if ex.Equal(d) {
			return false
		}
	}
	r.ExcludedDates = append(r.ExcludedDates, d)
	return true
}
