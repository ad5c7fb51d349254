package recur

import (
	"strings"
	"testing"
	"time"

	"evcal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleStringAndParseRule(t *testing.T) {
	r := &model.RecurrenceRule{
		Frequency:  model.FreqWeekly,
		Interval:   2,
		Until:      time.Date(2015, 1, 31, 23, 59, 59, 0, time.UTC),
		ByDay:      []string{"MO", "WE"},
		ByMonth:    []int{1, 2},
		ByMonthDay: nil,
	}

	s, err := RuleString(r, start)
	require.NoError(t, err)
	assert.True(t, strings.Contains(s, "FREQ=WEEKLY"))
	assert.True(t, strings.Contains(s, "INTERVAL=2"))
	assert.True(t, strings.Contains(s, "UNTIL=20150131T235959Z"))

	parsed, err := ParseRule("RRULE:"+s, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, model.FreqWeekly, parsed.Frequency)
	assert.Equal(t, 2, parsed.Interval)
	assert.True(t, parsed.Until.Equal(r.Until))
	assert.ElementsMatch(t, []string{"MO", "WE"}, parsed.ByDay)
	assert.ElementsMatch(t, []int{1, 2}, parsed.ByMonth)
}

func TestParseRule_OrdinalWeekdayAndSetPos(t *testing.T) {
	parsed, err := ParseRule("FREQ=MONTHLY;COUNT=4;BYDAY=-1FR,2TU;BYSETPOS=1", time.UTC)

	require.NoError(t, err)
	assert.Equal(t, model.FreqMonthly, parsed.Frequency)
	assert.Equal(t, 4, parsed.Count)
	assert.Equal(t, 0, parsed.Interval)
	assert.ElementsMatch(t, []string{"-1FR", "2TU"}, parsed.ByDay)
	assert.Equal(t, 1, parsed.BySetPosition)
}

func TestParseRule_RejectsUnsupportedFrequency(t *testing.T) {
	_, err := ParseRule("FREQ=HOURLY;COUNT=2", time.UTC)

	assert.Error(t, err)
}

func TestROption_RejectsCountWithUntil(t *testing.T) {
	_, err := ROption(&model.RecurrenceRule{
		Frequency: model.FreqDaily,
		Count:     2,
		Until:     start.AddDate(0, 0, 3),
	}, start)

	assert.ErrorIs(t, err, model.ErrInvalidChangeSet)
}
