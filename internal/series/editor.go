package series

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"evcal/internal/diff"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/rule"
)

var errPartition = errors.New("series: exception partition lost or duplicated records")

// UpdateResult is the outcome of an edit. Split is set when a
// this-and-future edit created a second series; Series is then the closed
// original.
type UpdateResult struct {
	Series model.Series
	Split  *model.Series

	// Pruned counts exceptions dropped because they no longer matched the
	// rule or added nothing over the master.
	Pruned int
}

// Editor applies change sets to a series under an edit scope.
type Editor struct {
	engine
}

func NewEditor(opts Options) *Editor {
	return &Editor{engine: newEngine(opts)}
}

// Prune drops exceptions that are no longer occurrences of the master.
func (e *Editor) Prune(s model.Series) (model.Series, int) {
	return e.prune(s.Clone())
}

// Update applies cs to s. rid names the occurrence being edited and is
// required for every scope but ScopeAll. The input series is never
// modified.
func (e *Editor) Update(s model.Series, cs model.ChangeSet, scope model.Scope, rid *time.Time) (UpdateResult, error) {
	if err := validateRequest(s, scope, rid); err != nil {
		return UpdateResult{}, err
	}
	if err := cs.Validate(); err != nil {
		return UpdateResult{}, err
	}
	if proposed, _ := rule.ProposedRule(cs); proposed != nil {
		if err := proposed.Validate(); err != nil {
			return UpdateResult{}, err
		}
	}

	// uid names the series; it is echoed by clients but never changed.
	cs = maps.Clone(cs)
	delete(cs, model.FieldUID)

	s, orphans := e.prune(s.Clone())

	var (
		res UpdateResult
		err error
	)
	switch scope {
	case model.ScopeInstanceOnly:
		res, err = e.updateInstance(s, cs, *rid)
	case model.ScopeThisAndFuture:
		res, err = e.updateFuture(s, cs, *rid)
	default:
		res = e.updateAll(s, cs)
	}
	res.Pruned += orphans
	return res, err
}

func validateRequest(s model.Series, scope model.Scope, rid *time.Time) error {
	if s.Master.UID == "" {
		return model.NewValidationError(model.ErrMissingIdentifier, "uid", "series has no uid")
	}
	if !scope.Valid() {
		return model.NewValidationError(model.ErrUnknownScope, "scope", fmt.Sprintf("unknown scope %d", int(scope)))
	}
	if scope != model.ScopeAll && (rid == nil || rid.IsZero()) {
		return model.NewValidationError(model.ErrMissingIdentifier, "recurrence_id",
			"recurrence id is required for scope "+scope.String())
	}
	return nil
}

// updateInstance edits one occurrence by creating or updating its
// exception. Recurrence fields and uid are ignored.
func (e *Editor) updateInstance(s model.Series, cs model.ChangeSet, rid time.Time) (UpdateResult, error) {
	cs = cs.WithoutRule()
	now := e.now()

	idx := s.FindException(rid)
	var ex model.ExceptionEvent
	if idx >= 0 {
		ex = s.Exceptions[idx]
	} else {
		if !e.exp.IsOccurrence(s.Master, rid, true) {
			return UpdateResult{}, model.NewValidationError(model.ErrNotAnOccurrence, "recurrence_id",
				rid.Format(time.RFC3339)+" is not an occurrence of "+s.Master.UID)
		}
		ex = model.ExceptionEvent{
			EventCore:    s.Master.EventCore,
			RecurrenceID: rid,
		}
		ex.CreatedAt = now
		ex.Start = rid
		ex.End = rid.Add(s.Master.Duration())
	}

	changed := diff.ChangedFields(cs, rule.Snapshot(ex.EventCore, nil))
	applyScalars(&ex.EventCore, cs, changed)
	applyDateTimes(&ex.EventCore, cs, changed)
	if changed.TouchesSchedule() {
		ex.Sequence++
	}
	if len(changed) > 0 {
		ex.LastModifiedAt = now
	}

	res := UpdateResult{}
	switch {
	case droppable(ex, s.Master) && idx >= 0:
		s.Exceptions = append(s.Exceptions[:idx:idx], s.Exceptions[idx+1:]...)
		res.Pruned++
	case droppable(ex, s.Master):
		// Nothing differs from the master; no exception is needed.
	case idx >= 0:
		s.Exceptions[idx] = ex
	default:
		s.Exceptions = append(s.Exceptions, ex)
		sortExceptions(s.Exceptions)
	}

	appLog.Debug("series: instance updated",
		"uid", s.Master.UID,
		"recurrence_id", rid.Format(time.RFC3339),
		"changed", changed.Sorted(),
	)
	res.Series = s
	return res, nil
}

func (e *Editor) updateFuture(s model.Series, cs model.ChangeSet, rid time.Time) (UpdateResult, error) {
	if !e.exp.IsOccurrence(s.Master, rid, true) {
		return UpdateResult{}, model.NewValidationError(model.ErrNotAnOccurrence, "recurrence_id",
			rid.Format(time.RFC3339)+" is not an occurrence of "+s.Master.UID)
	}
	if first, ok := e.exp.First(s.Master); ok && first.Equal(rid) {
		return e.updateAll(s, cs), nil
	}
	return e.split(s, cs, rid)
}

// updateAll edits the master and rebuilds the exception list against the
// new master.
func (e *Editor) updateAll(s model.Series, cs model.ChangeSet) UpdateResult {
	cs = keepExcludedDates(cs, s.Master.Rule)
	changed := diff.ChangedFields(cs, rule.Snapshot(s.Master.EventCore, s.Master.Rule))
	e.applyMaster(&s.Master, cs, changed)

	kept, dropped := e.rehome(s.Master, s.Exceptions, cs, changed)
	s.Exceptions = kept

	appLog.Debug("series: all occurrences updated",
		"uid", s.Master.UID,
		"changed", changed.Sorted(),
		"dropped", dropped,
	)
	return UpdateResult{Series: s, Pruned: dropped}
}

// split closes s just before rid and starts a new series at rid carrying
// the edit and the exceptions from rid on.
func (e *Editor) split(s model.Series, cs model.ChangeSet, rid time.Time) (UpdateResult, error) {
	now := e.now()
	original := s.Master
	loc := original.Start.Location()

	next := model.MasterEvent{
		EventCore: original.EventCore,
		Rule:      original.Rule.Clone(),
	}
	next.UID = e.newUID()
	next.Sequence = 0
	next.CreatedAt = now
	next.LastModifiedAt = now
	next.Start = rid
	next.End = rid.Add(original.Duration())
	if next.Rule != nil {
		next.Rule.ExcludedDates = excludedFrom(next.Rule.ExcludedDates, rid, true)
	}

	s.Master.Rule = original.Rule.Clone()
	s.Master.Rule.Count = 0
	s.Master.Rule.Until = endOfPreviousDay(rid, loc)
	s.Master.Rule.ExcludedDates = excludedFrom(s.Master.Rule.ExcludedDates, rid, false)
	s.Master.Sequence++
	s.Master.LastModifiedAt = now

	before, candidates, err := partitionExceptions(s.Exceptions, rid)
	if err != nil {
		return UpdateResult{}, err
	}
	s.Exceptions = before

	cs = keepExcludedDates(cs, next.Rule)
	changed := diff.ChangedFields(cs, rule.Snapshot(next.EventCore, next.Rule))
	e.applyMaster(&next, cs, changed)
	next.Sequence = 0

	var kept []model.ExceptionEvent
	dropped := len(candidates)
	if next.Repeats() {
		for i := range candidates {
			candidates[i].UID = next.UID
		}
		kept, dropped = e.rehome(next, candidates, cs, changed)
	}

	split := model.Series{Master: next, Exceptions: kept}
	appLog.Info("series: split",
		"uid", s.Master.UID,
		"new_uid", next.UID,
		"boundary", rid.Format(time.RFC3339),
		"moved", len(kept),
		"dropped", dropped,
	)
	return UpdateResult{Series: s, Split: &split, Pruned: dropped}, nil
}

// applyMaster writes the changed fields onto a master. The rule is
// replaced only if a recurrence field actually changed.
func (e *Editor) applyMaster(m *model.MasterEvent, cs model.ChangeSet, changed diff.FieldSet) {
	applyScalars(&m.EventCore, cs, changed)
	applyDateTimes(&m.EventCore, cs, changed)
	if changed.Any(model.RuleFields...) {
		m.Rule, _ = rule.ProposedRule(cs)
	}
	if changed.TouchesSchedule() {
		m.Sequence++
	}
	if len(changed) > 0 {
		m.LastModifiedAt = e.now()
	}
}

// rehome keeps exceptions that still fall on an occurrence day of m,
// moves their recurrence id onto that occurrence and carries the changed
// fields over. Exceptions that end up equal to the master are dropped.
func (e *Editor) rehome(m model.MasterEvent, list []model.ExceptionEvent, cs model.ChangeSet, changed diff.FieldSet) ([]model.ExceptionEvent, int) {
	var kept []model.ExceptionEvent
	for _, ex := range list {
		occ, ok := e.exp.Occurrence(m, ex.RecurrenceID)
		if !ok {
			appLog.Debug("series: exception no longer an occurrence",
				"uid", m.UID,
				"recurrence_id", ex.RecurrenceID.Format(time.RFC3339),
			)
			continue
		}
		ex.UID = m.UID
		ex.RecurrenceID = occ
		prev := ex.EventCore
		applyToOccurrence(&ex, cs, changed)
		moved := !ex.Start.Equal(prev.Start) || !ex.End.Equal(prev.End)
		if moved {
			ex.Sequence++
		}
		if moved || ex.Summary != prev.Summary || ex.Description != prev.Description {
			ex.LastModifiedAt = e.now()
		}
		if droppable(ex, m) {
			continue
		}
		kept = append(kept, ex)
	}
	sortExceptions(kept)
	return kept, len(list) - len(kept)
}

// keepExcludedDates carries the stored excluded dates into a rule rewrite
// that does not mention exdate, so occurrences deleted one by one stay
// deleted. An explicit exdate (even empty) replaces them.
func keepExcludedDates(cs model.ChangeSet, stored *model.RecurrenceRule) model.ChangeSet {
	if stored == nil || len(stored.ExcludedDates) == 0 || !cs.HasRuleFields() {
		return cs
	}
	if _, ok := cs[model.FieldExDate]; ok {
		return cs
	}
	if freq, _ := cs.String(model.FieldFreq); freq == "" {
		return cs
	}
	out := maps.Clone(cs)
	out[model.FieldExDate] = slices.Clone(stored.ExcludedDates)
	return out
}

// partitionExceptions splits list at boundary into records strictly before
// it and records on or after it. The halves are checked to be disjoint and
// to cover list exactly.
func partitionExceptions(list []model.ExceptionEvent, boundary time.Time) (before, after []model.ExceptionEvent, err error) {
	for _, ex := range list {
		if ex.RecurrenceID.Before(boundary) {
			before = append(before, ex)
		} else {
			after = append(after, ex)
		}
	}

	if len(before)+len(after) != len(list) {
		return nil, nil, errPartition
	}
	seen := make(map[int64]int, len(list))
	for _, ex := range list {
		seen[ex.RecurrenceID.UnixNano()]++
	}
	for _, half := range [][]model.ExceptionEvent{before, after} {
		for _, ex := range half {
			seen[ex.RecurrenceID.UnixNano()]--
		}
	}
	for _, n := range seen {
		if n != 0 {
			return nil, nil, errPartition
		}
	}
	for _, ex := range before {
		if !ex.RecurrenceID.Before(boundary) {
			return nil, nil, errPartition
		}
	}
	for _, ex := range after {
		if ex.RecurrenceID.Before(boundary) {
			return nil, nil, errPartition
		}
	}
	return before, after, nil
}

// excludedFrom keeps dates on or after boundary (onOrAfter) or strictly
// before it.
func excludedFrom(dates []time.Time, boundary time.Time, onOrAfter bool) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if d.Before(boundary) != onOrAfter {
			out = append(out, d)
		}
	}
	return out
}
