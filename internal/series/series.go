// Package series implements edits, deletes and display expansion of
// recurring event series: one master plus its per-occurrence exceptions.
//
// Every operation is a pure function of its inputs. The series passed in
// is copied before any change and the caller persists what is returned.
package series

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"evcal/internal/diff"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/recur"
	"evcal/internal/utils"
)

// Options wires the collaborators shared by Editor, Deleter and Query.
type Options struct {
	Expander *recur.Expander
	Clock    utils.Clock
	// NewUID generates the identity of a series created by a split.
	// If nil, random UUIDs are used.
	NewUID func() string
}

type engine struct {
	exp    *recur.Expander
	clock  utils.Clock
	newUID func() string
}

func newEngine(opts Options) engine {
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock{}
	}
	if opts.Expander == nil {
		opts.Expander = recur.NewExpander(recur.Config{Clock: opts.Clock})
	}
	if opts.NewUID == nil {
		opts.NewUID = uuid.NewString
	}
	return engine{exp: opts.Expander, clock: opts.Clock, newUID: opts.NewUID}
}

func (e engine) now() time.Time {
	return e.clock.Now()
}

// prune drops exceptions whose recurrence id is not an occurrence of the
// master. It returns the number dropped.
func (e engine) prune(s model.Series) (model.Series, int) {
	kept := make([]model.ExceptionEvent, 0, len(s.Exceptions))
	for _, ex := range s.Exceptions {
		if e.exp.IsOccurrence(s.Master, ex.RecurrenceID, true) {
			kept = append(kept, ex)
			continue
		}
		appLog.Debug("series: pruning exception",
			"err", model.ErrOrphanException,
			"uid", s.Master.UID,
			"recurrence_id", ex.RecurrenceID.Format(time.RFC3339),
		)
	}
	dropped := len(s.Exceptions) - len(kept)
	if s.Exceptions == nil && len(kept) == 0 {
		kept = nil
	}
	s.Exceptions = kept
	return s, dropped
}

// droppable reports whether an exception adds nothing over its master: it
// is redundant and still sits on its recurrence id's day.
func droppable(ex model.ExceptionEvent, m model.MasterEvent) bool {
	return diff.IsRedundant(ex, m) && sameDay(ex.Start, ex.RecurrenceID, m.Start.Location())
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// withClock keeps the calendar day of date and takes the wall clock and
// zone of clock.
func withClock(date, clock time.Time) time.Time {
	loc := clock.Location()
	y, m, d := date.In(loc).Date()
	h, mi, s := clock.Clock()
	return time.Date(y, m, d, h, mi, s, clock.Nanosecond(), loc)
}

// endOfPreviousDay is 23:59:59 on the day before t, in loc.
func endOfPreviousDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d-1, 23, 59, 59, 0, loc)
}

func sortExceptions(list []model.ExceptionEvent) {
	slices.SortFunc(list, func(a, b model.ExceptionEvent) int {
		return a.RecurrenceID.Compare(b.RecurrenceID)
	})
}

// applyScalars overwrites summary and description from cs when changed.
func applyScalars(core *model.EventCore, cs model.ChangeSet, changed diff.FieldSet) {
	if changed.Has(model.FieldSummary) {
		core.Summary, _ = cs.String(model.FieldSummary)
	}
	if changed.Has(model.FieldDescription) {
		core.Description, _ = cs.String(model.FieldDescription)
	}
}

// applyDateTimes replaces start and end as whole values.
func applyDateTimes(core *model.EventCore, cs model.ChangeSet, changed diff.FieldSet) {
	if changed.Has(model.FieldStart) {
		if t, ok := cs.Time(model.FieldStart); ok {
			core.Start = t
		}
	}
	if changed.Has(model.FieldEnd) {
		if t, ok := cs.Time(model.FieldEnd); ok {
			core.End = t
		}
	}
}

// applyToOccurrence carries series-wide start/end changes onto one
// exception: it keeps its own day and takes the new wall clock.
func applyToOccurrence(ex *model.ExceptionEvent, cs model.ChangeSet, changed diff.FieldSet) {
	applyScalars(&ex.EventCore, cs, changed)
	if changed.Has(model.FieldStart) {
		if t, ok := cs.Time(model.FieldStart); ok {
			ex.Start = withClock(ex.Start, t)
		}
	}
	if changed.Has(model.FieldEnd) {
		if t, ok := cs.Time(model.FieldEnd); ok {
			ex.End = withClock(ex.End, t)
		}
	}
	if ex.End.Before(ex.Start) {
		ex.End = ex.End.AddDate(0, 0, 1)
	}
}
