package model

import (
	"slices"
	"time"
)

// Frequency is the FREQ part of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

// RecurrenceRule is the normalized rule of a master event.
//
// Zero values mean "absent": Interval 0 behaves as 1, Count 0 and a zero
// Until leave the series unbounded, BySetPosition 0 is unset.
type RecurrenceRule struct {
	Frequency     Frequency
	Interval      int
	Count         int
	Until         time.Time
	ByDay         []string // "MO", "2TU", "-1FR"
	ByMonth       []int
	ByMonthDay    []int
	BySetPosition int
	ExcludedDates []time.Time
}

// Clone returns a deep copy of r. A nil rule clones to nil.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	out := *r
	out.ByDay = slices.Clone(r.ByDay)
	out.ByMonth = slices.Clone(r.ByMonth)
	out.ByMonthDay = slices.Clone(r.ByMonthDay)
	out.ExcludedDates = slices.Clone(r.ExcludedDates)
	return &out
}

// Validate checks the structural invariants of a rule.
func (r *RecurrenceRule) Validate() error {
	if r == nil {
		return nil
	}
	if !r.Frequency.Valid() {
		return NewValidationError(ErrInvalidChangeSet, string(FieldFreq), "unsupported frequency "+string(r.Frequency))
	}
	if r.Interval < 0 {
		return NewValidationError(ErrInvalidChangeSet, string(FieldInterval), "interval must be positive")
	}
	if r.Count < 0 {
		return NewValidationError(ErrInvalidChangeSet, string(FieldCount), "count must be positive")
	}
	if r.Count > 0 && !r.Until.IsZero() {
		return NewValidationError(ErrInvalidChangeSet, string(FieldCount), "count and until are mutually exclusive")
	}
	switch r.BySetPosition {
	case 0, -1, 1, 2, 3, 4:
	default:
		return NewValidationError(ErrInvalidChangeSet, string(FieldBySetPos), "bysetpos must be one of -1,1,2,3,4")
	}
	return nil
}

// EventCore holds the fields shared by master and exception records.
// Start and End carry their timezone in the time.Location.
type EventCore struct {
	UID            string
	Sequence       int
	CreatedAt      time.Time
	LastModifiedAt time.Time

	Start time.Time
	End   time.Time

	Summary     string
	Description string
}

// Duration is End - Start.
func (e EventCore) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// MasterEvent defines the generating rule of a series.
type MasterEvent struct {
	EventCore
	Rule *RecurrenceRule
}

// Repeats reports whether the master carries a usable rule.
func (m MasterEvent) Repeats() bool {
	return m.Rule != nil && m.Rule.Frequency != ""
}

// ExceptionEvent overrides a single occurrence. RecurrenceID is the
// original, rule-generated start it replaces.
type ExceptionEvent struct {
	EventCore
	RecurrenceID time.Time
}

// Series is one master plus its exceptions, all sharing UID.
type Series struct {
	Master     MasterEvent
	Exceptions []ExceptionEvent

	// Revision is the store's optimistic concurrency token. The engine
	// carries it through untouched.
	Revision int64
}

// UID returns the identity of the series.
func (s Series) UID() string {
	return s.Master.UID
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (s Series) Clone() Series {
	out := Series{
		Master:   s.Master,
		Revision: s.Revision,
	}
	out.Master.Rule = s.Master.Rule.Clone()
	if s.Exceptions != nil {
		out.Exceptions = slices.Clone(s.Exceptions)
	}
	return out
}

// FindException returns the index of the exception replacing rid, or -1.
func (s Series) FindException(rid time.Time) int {
	for i, ex := range s.Exceptions {
		if ex.RecurrenceID.Equal(rid) {
			return i
		}
	}
	return -1
}

// Occurrence is a single displayable instance of a series.
type Occurrence struct {
	UID          string
	RecurrenceID time.Time

	Start time.Time
	End   time.Time

	Summary     string
	Description string

	// IsException is set when the values come from an ExceptionEvent.
	IsException bool
}
