// Package rule holds the recurrence rule model: field normalization, the
// value-equivalence used by every diff, and rule construction from change
// sets.
package rule

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// ValuesEquivalent reports whether two field values mean the same thing:
// equal, both empty, or both lists holding the same elements in any order.
func ValuesEquivalent(a, b any) bool {
	if IsEmpty(a) && IsEmpty(b) {
		return true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	ka, aList := setKeys(a)
	kb, bList := setKeys(b)
	if aList && bList {
		return slices.Equal(ka, kb)
	}
	if aList || bList {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// IsEmpty reports nil, "", zero time and zero-length lists or maps.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case time.Time:
		return x.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// setKeys renders list elements as sorted comparable keys.
func setKeys(v any) ([]string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	keys := make([]string, rv.Len())
	for i := range rv.Len() {
		keys[i] = elementKey(rv.Index(i).Interface())
	}
	slices.Sort(keys)
	return keys, true
}

func elementKey(v any) string {
	switch x := v.(type) {
	case time.Time:
		return "t:" + strconv.FormatInt(x.UnixNano(), 10)
	case string:
		return "s:" + x
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// IntervalChanges compares two interval values where an absent interval
// means 1. Absent and 1 are interchangeable; any value above 1 only
// matches itself.
func IntervalChanges(oldVal, newVal any) bool {
	oldN := intervalOf(oldVal)
	newN := intervalOf(newVal)
	if oldN <= 1 && newN <= 1 {
		return false
	}
	return oldN != newN
}

// intervalOf maps empty to 1 so the truth table collapses to a compare.
func intervalOf(v any) int {
	if IsEmpty(v) {
		return 1
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 1
}
