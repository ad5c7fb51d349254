package store

import (
	"context"
	"testing"
	"time"

	"evcal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2014, 11, 9, 9, 0, 0, 0, time.UTC)

func series(uid string) model.Series {
	rid := start.AddDate(0, 0, 1)
	return model.Series{
		Master: model.MasterEvent{
			EventCore: model.EventCore{UID: uid, Start: start, End: start.Add(time.Hour), Summary: "Standup"},
			Rule: &model.RecurrenceRule{
				Frequency:     model.FreqDaily,
				Count:         5,
				ExcludedDates: []time.Time{start.AddDate(0, 0, 3)},
			},
		},
		Exceptions: []model.ExceptionEvent{{
			EventCore:    model.EventCore{UID: uid, Start: rid.Add(time.Hour), End: rid.Add(2 * time.Hour), Summary: "Late"},
			RecurrenceID: rid,
		}},
	}
}

func stores(t *testing.T) map[string]Store {
	fs, err := NewFileStore(t.TempDir(), time.UTC)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given a created series
			created, err := st.Create(ctx, series("b"))
			require.NoError(t, err)
			assert.Equal(t, int64(1), created.Revision)

			_, err = st.Create(ctx, series("b"))
			assert.ErrorIs(t, err, ErrAlreadyExists)

			// When it is read back
			got, err := st.Get(ctx, "b")
			require.NoError(t, err)

			// Then the document survives
			assert.Equal(t, int64(1), got.Revision)
			assert.Equal(t, "Standup", got.Master.Summary)
			assert.True(t, got.Master.Start.Equal(start))
			require.NotNil(t, got.Master.Rule)
			assert.Equal(t, 5, got.Master.Rule.Count)
			require.Len(t, got.Master.Rule.ExcludedDates, 1)
			require.Len(t, got.Exceptions, 1)
			assert.Equal(t, "Late", got.Exceptions[0].Summary)
			assert.True(t, got.Exceptions[0].RecurrenceID.Equal(start.AddDate(0, 0, 1)))

			// When it is updated
			got.Master.Summary = "Sync"
			updated, err := st.Update(ctx, got)
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Revision)

			// Then a writer holding the old revision conflicts
			_, err = st.Update(ctx, got)
			assert.ErrorIs(t, err, ErrConflict)
			assert.ErrorIs(t, st.Delete(ctx, "b", 1), ErrConflict)

			again, err := st.Get(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "Sync", again.Master.Summary)

			// When it is deleted
			require.NoError(t, st.Delete(ctx, "b", 2))

			_, err = st.Get(ctx, "b")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.Delete(ctx, "b", 0), ErrNotFound)
			_, err = st.Update(ctx, again)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ListIsOrdered(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, uid := range []string{"c", "a", "b"} {
				_, err := st.Create(ctx, series(uid))
				require.NoError(t, err)
			}

			list, err := st.List(ctx)

			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "a", list[0].UID())
			assert.Equal(t, "b", list[1].UID())
			assert.Equal(t, "c", list[2].UID())
		})
	}
}

func TestStore_RejectsBadInput(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Create(context.Background(), series(""))
			assert.ErrorIs(t, err, model.ErrMissingIdentifier)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = st.Get(ctx, "a")
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestMemoryStore_DoesNotAlias(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	in := series("a")
	_, err := st.Create(ctx, in)
	require.NoError(t, err)

	in.Master.Rule.Count = 99
	in.Exceptions[0].Summary = "changed"

	got, err := st.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Master.Rule.Count)
	assert.Equal(t, "Late", got.Exceptions[0].Summary)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := NewFileStore(dir, time.UTC)
	require.NoError(t, err)
	_, err = first.Create(ctx, series("a"))
	require.NoError(t, err)

	second, err := NewFileStore(dir, time.UTC)
	require.NoError(t, err)
	got, err := second.Get(ctx, "a")

	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, "a", got.UID())
}
