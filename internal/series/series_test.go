package series

import (
	"testing"
	"time"

	"evcal/internal/model"
	"evcal/internal/recur"
	"evcal/internal/utils"
	"github.com/stretchr/testify/assert"
)

var (
	start = time.Date(2014, 11, 9, 9, 0, 0, 0, time.UTC)
	now   = time.Date(2014, 11, 1, 8, 0, 0, 0, time.UTC)
)

func day(n int) time.Time {
	return start.AddDate(0, 0, n)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func testOptions() Options {
	clock := &utils.MockClock{FixedNow: now}
	return Options{
		Clock:    clock,
		Expander: recur.NewExpander(recur.Config{Clock: clock}),
		NewUID:   func() string { return "new-uid" },
	}
}

func dailySeries(count int) model.Series {
	return model.Series{
		Master: model.MasterEvent{
			EventCore: model.EventCore{
				UID:         "daily",
				Start:       start,
				End:         start.Add(time.Hour),
				Summary:     "Standup",
				Description: "Daily sync",
			},
			Rule: &model.RecurrenceRule{Frequency: model.FreqDaily, Count: count},
		},
		Revision: 3,
	}
}

func exception(uid string, rid time.Time, summary string) model.ExceptionEvent {
	return model.ExceptionEvent{
		EventCore: model.EventCore{
			UID:         uid,
			Start:       rid,
			End:         rid.Add(time.Hour),
			Summary:     summary,
			Description: "Daily sync",
		},
		RecurrenceID: rid,
	}
}

func starts(list []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(list))
	for _, o := range list {
		out = append(out, o.Start)
	}
	return out
}

func assertNoOrphans(t *testing.T, e *recur.Expander, s model.Series) {
	t.Helper()
	for _, ex := range s.Exceptions {
		assert.True(t, e.IsOccurrence(s.Master, ex.RecurrenceID, true),
			"exception %s is not an occurrence", ex.RecurrenceID)
		assert.Equal(t, s.Master.UID, ex.UID)
	}
}
