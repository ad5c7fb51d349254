package rule

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"evcal/internal/model"
)

var byDayPattern = regexp.MustCompile(`^([+-]?[1-4])?(MO|TU|WE|TH|FR|SA|SU)$`)

// Date-time layouts accepted for string input, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"20060102T150405Z",
	"20060102T150405",
	"2006-01-02",
}

// NormalizeChangeSet converts raw decoded values (e.g. from JSON) into a
// validated ChangeSet. Keys are matched case-insensitively.
func NormalizeChangeSet(raw map[string]any) (model.ChangeSet, error) {
	cs := make(model.ChangeSet, len(raw))
	for k, v := range raw {
		f := model.Field(strings.ToLower(strings.TrimSpace(k)))
		if !model.KnownField(f) {
			return nil, model.NewValidationError(model.ErrInvalidChangeSet, k, "field is not updatable")
		}
		nv, err := Normalize(f, v)
		if err != nil {
			return nil, err
		}
		cs[f] = nv
	}
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	return cs, nil
}

// Normalize converts one raw field value into its canonical Go type.
// Empty input ("" or a zero number for optional integers) becomes nil.
func Normalize(f model.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var (
		v   any
		err error
	)
	switch f {
	case model.FieldSummary, model.FieldDescription, model.FieldUID:
		s, ok := raw.(string)
		if !ok {
			err = fmt.Errorf("expected string, got %T", raw)
		}
		v = s
	case model.FieldFreq:
		var s string
		s, err = toString(raw)
		v = strings.ToUpper(strings.TrimSpace(s))
	case model.FieldInterval, model.FieldCount, model.FieldBySetPos:
		var n int
		var empty bool
		n, empty, err = toInt(raw)
		if empty || (err == nil && n == 0) {
			return nil, nil
		}
		v = n
	case model.FieldStart, model.FieldEnd, model.FieldUntil:
		var t time.Time
		t, err = toTime(raw)
		if err == nil && t.IsZero() {
			return nil, nil
		}
		v = t
	case model.FieldByDay:
		v, err = toByDay(raw)
	case model.FieldByMonth:
		v, err = toIntSet(raw, 1, 12)
	case model.FieldByMonthDay:
		v, err = toIntSet(raw, 1, 31)
	case model.FieldExDate:
		v, err = toTimes(raw)
	default:
		return nil, model.NewValidationError(model.ErrInvalidChangeSet, string(f), "field is not updatable")
	}
	if err != nil {
		return nil, model.NewValidationError(model.ErrInvalidChangeSet, string(f), err.Error())
	}
	return v, nil
}

func toString(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", raw)
	}
	return s, nil
}

func toInt(raw any) (int, bool, error) {
	switch n := raw.(type) {
	case int:
		return n, false, nil
	case int64:
		return int(n), false, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, false, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), false, nil
	case json.Number:
		i, err := n.Int64()
		return int(i), false, err
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true, nil
		}
		i, err := strconv.Atoi(s)
		return i, false, err
	}
	return 0, false, fmt.Errorf("expected integer, got %T", raw)
}

func toTime(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return *v, nil
	case string:
		return parseTime(v, time.UTC)
	case map[string]any:
		// {"datetime": "...", "tzid": "Europe/Paris"}
		loc := time.UTC
		if tz, ok := v["tzid"].(string); ok && tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return time.Time{}, err
			}
			loc = l
		}
		s, _ := v["datetime"].(string)
		return parseTime(s, loc)
	}
	return time.Time{}, fmt.Errorf("expected date-time, got %T", raw)
}

// parseTime parses s in loc unless the layout carries its own offset.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

func toTimes(raw any) ([]time.Time, error) {
	switch v := raw.(type) {
	case []time.Time:
		return v, nil
	case []any:
		out := make([]time.Time, 0, len(v))
		for _, item := range v {
			t, err := toTime(item)
			if err != nil {
				return nil, err
			}
			if !t.IsZero() {
				out = append(out, t)
			}
		}
		return out, nil
	case []string:
		out := make([]time.Time, 0, len(v))
		for _, item := range v {
			t, err := parseTime(item, time.UTC)
			if err != nil {
				return nil, err
			}
			if !t.IsZero() {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of date-times, got %T", raw)
}

// splitList accepts []string, []any or a comma separated string.
func splitList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return strings.Split(v, ","), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch x := item.(type) {
			case string:
				out = append(out, x)
			case float64, int, int64, json.Number:
				out = append(out, fmt.Sprint(x))
			default:
				return nil, fmt.Errorf("unexpected list element %T", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list, got %T", raw)
}

func toByDay(raw any) ([]string, error) {
	items, err := splitList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		tok, err := NormalizeByDay(item)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// NormalizeByDay upper-cases a weekday token and drops a leading "+".
func NormalizeByDay(tok string) (string, error) {
	tok = strings.ToUpper(strings.TrimSpace(tok))
	if !byDayPattern.MatchString(tok) {
		return "", fmt.Errorf("invalid weekday token %q", tok)
	}
	return strings.TrimPrefix(tok, "+"), nil
}

func toIntSet(raw any, lo, hi int) ([]int, error) {
	if ints, ok := raw.([]int); ok {
		for _, n := range ints {
			if n < lo || n > hi {
				return nil, fmt.Errorf("value %d out of range %d..%d", n, lo, hi)
			}
		}
		return ints, nil
	}
	items, err := splitList(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, err
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("value %d out of range %d..%d", n, lo, hi)
		}
		out = append(out, n)
	}
	return out, nil
}
