package model

import (
	"fmt"
	"slices"
	"time"
)

// Field names an updatable event field.
type Field string

const (
	FieldSummary     Field = "summary"
	FieldDescription Field = "description"
	FieldUID         Field = "uid"
	FieldStart       Field = "start"
	FieldEnd         Field = "end"

	FieldFreq       Field = "freq"
	FieldInterval   Field = "interval"
	FieldCount      Field = "count"
	FieldUntil      Field = "until"
	FieldByDay      Field = "byday"
	FieldByMonth    Field = "bymonth"
	FieldByMonthDay Field = "bymonthday"
	FieldBySetPos   Field = "bysetpos"
	FieldExDate     Field = "exdate"
)

// DateTimeFields carry a timezone and are replaced as one value.
var DateTimeFields = []Field{FieldStart, FieldEnd}

// RuleFields are replaced together as a whole rule.
var RuleFields = []Field{
	FieldFreq, FieldInterval, FieldCount, FieldUntil,
	FieldByDay, FieldByMonth, FieldByMonthDay, FieldBySetPos, FieldExDate,
}

// ScalarFields are simple overwrites.
var ScalarFields = []Field{FieldSummary, FieldDescription, FieldUID}

// IsRuleField reports whether f belongs to the recurrence rule.
func IsRuleField(f Field) bool {
	return slices.Contains(RuleFields, f)
}

// IsDateTimeField reports whether f is start or end.
func IsDateTimeField(f Field) bool {
	return slices.Contains(DateTimeFields, f)
}

// KnownField reports whether f is in the updatable allowlist.
func KnownField(f Field) bool {
	return IsRuleField(f) || IsDateTimeField(f) || slices.Contains(ScalarFields, f)
}

// ChangeSet maps updatable fields to their new, normalized values.
// A nil value clears the field.
type ChangeSet map[Field]any

// Has reports whether f is present in the change set.
func (cs ChangeSet) Has(f Field) bool {
	_, ok := cs[f]
	return ok
}

// HasRuleFields reports whether any recurrence field is present.
func (cs ChangeSet) HasRuleFields() bool {
	for _, f := range RuleFields {
		if cs.Has(f) {
			return true
		}
	}
	return false
}

// WithoutRule returns a copy holding only non-recurrence fields.
func (cs ChangeSet) WithoutRule() ChangeSet {
	out := make(ChangeSet, len(cs))
	for f, v := range cs {
		if !IsRuleField(f) {
			out[f] = v
		}
	}
	return out
}

// Time returns a time value; ok is false when absent or cleared.
func (cs ChangeSet) Time(f Field) (time.Time, bool) {
	t, ok := cs[f].(time.Time)
	return t, ok && !t.IsZero()
}

// String returns a string value and whether f is present.
func (cs ChangeSet) String(f Field) (string, bool) {
	v, ok := cs[f]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// Int returns an int value; absent or cleared fields are 0.
func (cs ChangeSet) Int(f Field) int {
	n, _ := cs[f].(int)
	return n
}

// Strings returns a []string value.
func (cs ChangeSet) Strings(f Field) []string {
	v, _ := cs[f].([]string)
	return v
}

// Ints returns an []int value.
func (cs ChangeSet) Ints(f Field) []int {
	v, _ := cs[f].([]int)
	return v
}

// Times returns a []time.Time value.
func (cs ChangeSet) Times(f Field) []time.Time {
	v, _ := cs[f].([]time.Time)
	return v
}

// Validate rejects unknown fields, mistyped values and count with until.
// Values must already be normalized.
func (cs ChangeSet) Validate() error {
	for f, v := range cs {
		if !KnownField(f) {
			return NewValidationError(ErrInvalidChangeSet, string(f), "field is not updatable")
		}
		if v == nil {
			continue
		}
		if err := checkType(f, v); err != nil {
			return err
		}
	}
	if cs.Int(FieldCount) > 0 {
		if _, ok := cs.Time(FieldUntil); ok {
			return NewValidationError(ErrInvalidChangeSet, string(FieldCount), "count and until are mutually exclusive")
		}
	}
	if f, ok := cs.String(FieldFreq); ok && f != "" && !Frequency(f).Valid() {
		return NewValidationError(ErrInvalidChangeSet, string(FieldFreq), "unsupported frequency "+f)
	}
	switch cs.Int(FieldBySetPos) {
	case 0, -1, 1, 2, 3, 4:
	default:
		return NewValidationError(ErrInvalidChangeSet, string(FieldBySetPos), "bysetpos must be one of -1,1,2,3,4")
	}
	if cs.Int(FieldInterval) < 0 || cs.Int(FieldCount) < 0 {
		return NewValidationError(ErrInvalidChangeSet, string(FieldInterval), "interval and count must be positive")
	}
	return nil
}

func checkType(f Field, v any) error {
	ok := false
	switch f {
	case FieldSummary, FieldDescription, FieldUID, FieldFreq:
		_, ok = v.(string)
	case FieldStart, FieldEnd, FieldUntil:
		_, ok = v.(time.Time)
	case FieldInterval, FieldCount, FieldBySetPos:
		_, ok = v.(int)
	case FieldByDay:
		_, ok = v.([]string)
	case FieldByMonth, FieldByMonthDay:
		_, ok = v.([]int)
	case FieldExDate:
		_, ok = v.([]time.Time)
	}
	if !ok {
		return NewValidationError(ErrInvalidChangeSet, string(f), fmt.Sprintf("unexpected value type %T", v))
	}
	return nil
}
