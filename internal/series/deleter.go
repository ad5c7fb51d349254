package series

import (
	"time"

	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/rule"
)

// Directive tells the caller what to do with the stored series.
type Directive int

const (
	// DirectiveUpdate means the series survives and must be written back.
	DirectiveUpdate Directive = iota + 1
	// DirectiveDelete means the whole series has to be removed.
	DirectiveDelete
)

func (d Directive) String() string {
	switch d {
	case DirectiveUpdate:
		return "update"
	case DirectiveDelete:
		return "delete"
	}
	return "unknown"
}

type DeleteResult struct {
	Directive Directive
	UID       string
	// Series is the surviving series for DirectiveUpdate.
	Series model.Series
}

// Deleter removes one, all, or all following occurrences of a series.
type Deleter struct {
	engine
}

func NewDeleter(opts Options) *Deleter {
	return &Deleter{engine: newEngine(opts)}
}

// Delete removes occurrences of s under scope. rid is required for every
// scope but ScopeAll. When nothing would be left the directive is
// DirectiveDelete.
func (d *Deleter) Delete(s model.Series, scope model.Scope, rid *time.Time) (DeleteResult, error) {
	if err := validateRequest(s, scope, rid); err != nil {
		return DeleteResult{}, err
	}
	uid := s.Master.UID
	gone := DeleteResult{Directive: DirectiveDelete, UID: uid}

	if scope == model.ScopeAll {
		return gone, nil
	}

	s, _ = d.prune(s.Clone())
	if !d.exp.IsOccurrence(s.Master, *rid, true) {
		return DeleteResult{}, model.NewValidationError(model.ErrNotAnOccurrence, "recurrence_id",
			rid.Format(time.RFC3339)+" is not an occurrence of "+uid)
	}
	if !s.Master.Repeats() {
		return gone, nil
	}

	now := d.now()
	switch scope {
	case model.ScopeInstanceOnly:
		rule.AddExcludedDate(s.Master.Rule, *rid)
		if idx := s.FindException(*rid); idx >= 0 {
			s.Exceptions = append(s.Exceptions[:idx:idx], s.Exceptions[idx+1:]...)
		}
	case model.ScopeThisAndFuture:
		if first, ok := d.exp.First(s.Master); ok && first.Equal(*rid) {
			return gone, nil
		}
		s.Master.Rule.Count = 0
		s.Master.Rule.Until = endOfPreviousDay(*rid, s.Master.Start.Location())
		s.Master.Rule.ExcludedDates = excludedFrom(s.Master.Rule.ExcludedDates, *rid, false)
		before, _, err := partitionExceptions(s.Exceptions, *rid)
		if err != nil {
			return DeleteResult{}, err
		}
		s.Exceptions = before
	}

	if _, ok := d.exp.First(s.Master); !ok {
		appLog.Debug("series: no occurrences left", "uid", uid)
		return gone, nil
	}

	s.Master.Sequence++
	s.Master.LastModifiedAt = now
	appLog.Debug("series: occurrences deleted",
		"uid", uid,
		"scope", scope,
		"recurrence_id", rid.Format(time.RFC3339),
	)
	return DeleteResult{Directive: DirectiveUpdate, UID: uid, Series: s}, nil
}
