package recur

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"evcal/internal/model"
	"evcal/internal/rule"
)

var weekdays = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

var dayTokens = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

var freqs = map[model.Frequency]rrule.Frequency{
	model.FreqDaily:   rrule.DAILY,
	model.FreqWeekly:  rrule.WEEKLY,
	model.FreqMonthly: rrule.MONTHLY,
	model.FreqYearly:  rrule.YEARLY,
}

// ROption converts a model rule into rrule-go options anchored at dtstart.
// EXDATEs are not part of the option; they are applied on a rrule.Set.
func ROption(r *model.RecurrenceRule, dtstart time.Time) (rrule.ROption, error) {
	if r == nil {
		return rrule.ROption{}, fmt.Errorf("nil rule")
	}
	if err := r.Validate(); err != nil {
		return rrule.ROption{}, err
	}
	opt := rrule.ROption{
		Freq:       freqs[r.Frequency],
		Dtstart:    dtstart,
		Interval:   r.Interval,
		Count:      r.Count,
		Until:      r.Until,
		Bymonth:    slices.Clone(r.ByMonth),
		Bymonthday: slices.Clone(r.ByMonthDay),
	}
	if opt.Interval <= 0 {
		opt.Interval = 1
	}
	if r.BySetPosition != 0 {
		opt.Bysetpos = []int{r.BySetPosition}
	}
	for _, tok := range r.ByDay {
		wd, err := parseWeekday(tok)
		if err != nil {
			return rrule.ROption{}, err
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	return opt, nil
}

// RuleString renders the RRULE value (without the "RRULE:" prefix).
func RuleString(r *model.RecurrenceRule, dtstart time.Time) (string, error) {
	opt, err := ROption(r, dtstart)
	if err != nil {
		return "", err
	}
	// Until is written in UTC as RFC 5545 requires for zoned starts.
	if !opt.Until.IsZero() {
		opt.Until = opt.Until.UTC()
	}
	opt.Dtstart = time.Time{}
	if opt.Interval == 1 {
		opt.Interval = 0
	}
	return opt.RRuleString(), nil
}

// ParseRule parses an RRULE value into a model rule. Until is moved into
// loc so it lines up with the master's zone.
func ParseRule(value string, loc *time.Location) (*model.RecurrenceRule, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(strings.TrimSpace(value), "RRULE:"))
	if err != nil {
		return nil, err
	}
	r := &model.RecurrenceRule{
		Interval:   opt.Interval,
		Count:      opt.Count,
		ByMonth:    opt.Bymonth,
		ByMonthDay: opt.Bymonthday,
	}
	for f, rf := range freqs {
		if rf == opt.Freq {
			r.Frequency = f
		}
	}
	if r.Frequency == "" {
		return nil, fmt.Errorf("unsupported frequency %v", opt.Freq)
	}
	if r.Interval == 1 {
		r.Interval = 0
	}
	if !opt.Until.IsZero() {
		r.Until = opt.Until.In(loc)
	}
	if len(opt.Bysetpos) > 0 {
		r.BySetPosition = opt.Bysetpos[0]
	}
	for i := range opt.Byweekday {
		wd := opt.Byweekday[i]
		r.ByDay = append(r.ByDay, formatWeekday(wd.N(), wd.Day()))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// parseWeekday turns "MO", "2TU" or "-1FR" into an rrule weekday.
func parseWeekday(tok string) (rrule.Weekday, error) {
	tok, err := rule.NormalizeByDay(tok)
	if err != nil {
		return rrule.Weekday{}, err
	}
	idx := slices.Index(dayTokens, tok[len(tok)-2:])
	wd := weekdays[idx]
	if prefix := tok[:len(tok)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil {
			return rrule.Weekday{}, err
		}
		return wd.Nth(n), nil
	}
	return wd, nil
}

func formatWeekday(n, day int) string {
	if n == 0 {
		return dayTokens[day]
	}
	return strconv.Itoa(n) + dayTokens[day]
}
