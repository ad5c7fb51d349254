package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"evcal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2014, 11, 9, 9, 0, 0, 0, time.UTC)

func sampleSeries() model.Series {
	moved := start.AddDate(0, 0, 2)
	return model.Series{
		Master: model.MasterEvent{
			EventCore: model.EventCore{
				UID:            "daily@example.com",
				Sequence:       2,
				CreatedAt:      time.Date(2014, 11, 1, 8, 0, 0, 0, time.UTC),
				LastModifiedAt: time.Date(2014, 11, 2, 8, 0, 0, 0, time.UTC),
				Start:          start,
				End:            start.Add(time.Hour),
				Summary:        "Standup",
				Description:    "Daily sync",
			},
			Rule: &model.RecurrenceRule{
				Frequency:     model.FreqDaily,
				Count:         5,
				ExcludedDates: []time.Time{start.AddDate(0, 0, 1)},
			},
		},
		Exceptions: []model.ExceptionEvent{{
			EventCore: model.EventCore{
				UID:     "daily@example.com",
				Start:   moved.Add(2 * time.Hour),
				End:     moved.Add(3 * time.Hour),
				Summary: "Moved",
			},
			RecurrenceID: moved,
		}},
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := sampleSeries()
	var buf bytes.Buffer

	require.NoError(t, Encode(&buf, in))
	body := buf.String()
	assert.Contains(t, body, "RRULE:FREQ=DAILY")
	assert.Contains(t, body, "COUNT=5")
	assert.Contains(t, body, "RECURRENCE-ID:20141111T090000Z")

	out, err := Decode(strings.NewReader(body), time.UTC)
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0]

	assert.Equal(t, in.UID(), got.UID())
	assert.Equal(t, 2, got.Master.Sequence)
	assert.True(t, got.Master.Start.Equal(in.Master.Start))
	assert.True(t, got.Master.End.Equal(in.Master.End))
	assert.True(t, got.Master.CreatedAt.Equal(in.Master.CreatedAt))
	assert.Equal(t, "Standup", got.Master.Summary)
	assert.Equal(t, "Daily sync", got.Master.Description)
	require.NotNil(t, got.Master.Rule)
	assert.Equal(t, model.FreqDaily, got.Master.Rule.Frequency)
	assert.Equal(t, 5, got.Master.Rule.Count)
	require.Len(t, got.Master.Rule.ExcludedDates, 1)
	assert.True(t, got.Master.Rule.ExcludedDates[0].Equal(start.AddDate(0, 0, 1)))

	require.Len(t, got.Exceptions, 1)
	ex := got.Exceptions[0]
	assert.Equal(t, in.UID(), ex.UID)
	assert.True(t, ex.RecurrenceID.Equal(in.Exceptions[0].RecurrenceID))
	assert.True(t, ex.Start.Equal(in.Exceptions[0].Start))
	assert.Equal(t, "Moved", ex.Summary)
}

func TestEncodeDecode_KeepsZone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	first := time.Date(2014, 11, 9, 9, 0, 0, 0, ny)
	in := model.Series{Master: model.MasterEvent{
		EventCore: model.EventCore{UID: "ny", Start: first, End: first.Add(time.Hour)},
		Rule: &model.RecurrenceRule{
			Frequency: model.FreqWeekly,
			Until:     time.Date(2014, 12, 31, 23, 59, 59, 0, ny),
			ByDay:     []string{"SU"},
		},
	}}
	var buf bytes.Buffer

	require.NoError(t, Encode(&buf, in))
	assert.Contains(t, buf.String(), "DTSTART;TZID=America/New_York:20141109T090000")

	out, err := Decode(&buf, time.UTC)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "America/New_York", out[0].Master.Start.Location().String())
	assert.True(t, out[0].Master.Start.Equal(first))
	assert.True(t, out[0].Master.Rule.Until.Equal(in.Master.Rule.Until))
	assert.Equal(t, []string{"SU"}, out[0].Master.Rule.ByDay)
}

func TestDecode_SkipsOrphanedExceptions(t *testing.T) {
	body := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:single
DTSTAMP:20141101T000000Z
DTSTART:20141109T090000Z
DTEND:20141109T100000Z
SUMMARY:Lunch
END:VEVENT
BEGIN:VEVENT
UID:missing-master
DTSTAMP:20141101T000000Z
RECURRENCE-ID:20141110T090000Z
DTSTART:20141110T110000Z
DTEND:20141110T120000Z
SUMMARY:Orphan
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

	out, err := Decode(strings.NewReader(body), time.UTC)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "single", out[0].UID())
	assert.Nil(t, out[0].Master.Rule)
	assert.Empty(t, out[0].Exceptions)
}

func TestDecode_FloatingTimesUseDefaultZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	body := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:floating
DTSTAMP:20141101T000000Z
DTSTART:20141109T090000
DTEND:20141109T100000
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

	out, err := Decode(strings.NewReader(body), berlin)

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Master.Start.Equal(time.Date(2014, 11, 9, 9, 0, 0, 0, berlin)))
}

func TestDecode_DuplicateMaster(t *testing.T) {
	var buf bytes.Buffer
	s := sampleSeries()
	s.Exceptions = nil
	require.NoError(t, Encode(&buf, s, s))

	_, err := Decode(&buf, time.UTC)

	assert.ErrorIs(t, err, ErrDuplicateMaster)
}

func TestEncode_RequiresUID(t *testing.T) {
	s := sampleSeries()
	s.Master.UID = ""

	assert.ErrorIs(t, Encode(&bytes.Buffer{}, s), model.ErrMissingIdentifier)
}
