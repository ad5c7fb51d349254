package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

const (
	layoutUTC      = "20060102T150405Z"
	layoutFloating = "20060102T150405"
	layoutDate     = "20060102"
)

// formatTime renders t as a DATE-TIME value. UTC is written with the Z
// suffix; any other named zone becomes a TZID parameter.
func formatTime(t time.Time) (string, []ical.PropertyParameter) {
	loc := t.Location()
	if loc == time.UTC || loc.String() == "UTC" || loc == time.Local {
		return t.UTC().Format(layoutUTC), nil
	}
	if _, err := time.LoadLocation(loc.String()); err != nil {
		// Fixed offsets have no IANA name to reference.
		return t.UTC().Format(layoutUTC), nil
	}
	return t.Format(layoutFloating), []ical.PropertyParameter{
		&ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}},
	}
}

// parseTime reads a DATE or DATE-TIME property, honoring TZID. Floating
// values and dates are placed in loc.
func parseTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	return parseValue(strings.TrimSpace(p.Value), paramLocation(p, loc))
}

// parseTimes reads a comma separated EXDATE style list.
func parseTimes(p *ical.IANAProperty, loc *time.Location) ([]time.Time, error) {
	zone := paramLocation(p, loc)
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseValue(part, zone)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func paramLocation(p *ical.IANAProperty, loc *time.Location) *time.Location {
	if tzs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tzs) > 0 {
		if zone, err := time.LoadLocation(strings.Trim(tzs[0], `"`)); err == nil {
			return zone
		}
	}
	return loc
}

func parseValue(v string, loc *time.Location) (time.Time, error) {
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse(layoutUTC, v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation(layoutFloating, v, loc)
	default:
		return time.ParseInLocation(layoutDate, v, loc)
	}
}
