package calendar

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evcal/internal/ics"
	"evcal/internal/model"
	"evcal/internal/recur"
	"evcal/internal/series"
	"evcal/internal/store"
	"evcal/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2014, 11, 9, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return start.AddDate(0, 0, n)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func newTestService(st store.Store) *ServiceImpl {
	svc, _ := newTestServiceWithClock(st)
	return svc
}

func newTestServiceWithClock(st store.Store) (*ServiceImpl, *utils.MockClock) {
	clock := &utils.MockClock{FixedNow: time.Date(2014, 11, 1, 0, 0, 0, 0, time.UTC)}
	return NewService(Config{
		Store: st,
		Engine: series.Options{
			Clock:    clock,
			Expander: recur.NewExpander(recur.Config{Clock: clock}),
			NewUID:   func() string { return "split-uid" },
		},
		Location: time.UTC,
		Fetcher:  ics.NewFetcher("", time.Second),
	}), clock
}

// failingUpdates rejects every Update and passes everything else through.
type failingUpdates struct {
	store.Store
}

func (failingUpdates) Update(context.Context, model.Series) (model.Series, error) {
	return model.Series{}, errors.New("disk full")
}

func createDaily(t *testing.T, svc Service) model.Series {
	t.Helper()
	s, err := svc.Create(context.Background(), model.ChangeSet{
		model.FieldUID:     "daily",
		model.FieldSummary: "Standup",
		model.FieldStart:   start,
		model.FieldEnd:     start.Add(time.Hour),
		model.FieldFreq:    "DAILY",
		model.FieldCount:   5,
	})
	require.NoError(t, err)
	return s
}

func TestService_Create(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	ctx := context.Background()

	created := createDaily(t, svc)

	assert.Equal(t, int64(1), created.Revision)
	got, err := svc.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, model.FreqDaily, got.Master.Rule.Frequency)
	assert.Equal(t, 5, got.Master.Rule.Count)

	generated, err := svc.Create(ctx, model.ChangeSet{model.FieldStart: start})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.UID())
	assert.False(t, generated.Master.Repeats())

	_, err = svc.Create(ctx, model.ChangeSet{model.FieldSummary: "no start"})
	assert.ErrorIs(t, err, model.ErrInvalidChangeSet)

	_, err = svc.Create(ctx, model.ChangeSet{model.FieldUID: "daily", model.FieldStart: start})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestService_UpdateThisAndFutureStoresBothSeries(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st)
	ctx := context.Background()
	createDaily(t, svc)

	// When the third occurrence and the following ones are renamed
	res, err := svc.Update(ctx, UpdateRequest{
		UID:          "daily",
		Revision:     1,
		Changes:      model.ChangeSet{model.FieldSummary: "Sync"},
		Scope:        model.ScopeThisAndFuture,
		RecurrenceID: ptr(day(2)),
	})

	// Then both halves are stored
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Series.Revision)
	require.NotNil(t, res.Split)
	assert.Equal(t, "split-uid", res.Split.UID())

	list, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	old, err := svc.Occurrences(ctx, "daily", Window{})
	require.NoError(t, err)
	assert.Len(t, old, 2)
	next, err := svc.Occurrences(ctx, "split-uid", Window{})
	require.NoError(t, err)
	require.Len(t, next, 5)
	assert.Equal(t, "Sync", next[0].Summary)
}

func TestService_UpdateSplitCreateFailureKeepsOriginal(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st)
	ctx := context.Background()
	createDaily(t, svc)
	_, err := svc.Create(ctx, model.ChangeSet{model.FieldUID: "split-uid", model.FieldStart: start})
	require.NoError(t, err)

	// When the continuation cannot be stored
	_, err = svc.Update(ctx, UpdateRequest{
		UID:          "daily",
		Revision:     1,
		Changes:      model.ChangeSet{model.FieldSummary: "Sync"},
		Scope:        model.ScopeThisAndFuture,
		RecurrenceID: ptr(day(2)),
	})

	// Then the original series is untouched
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	got, err := st.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Equal(t, 5, got.Master.Rule.Count)
	assert.True(t, got.Master.Rule.Until.IsZero())
	occ, err := svc.Occurrences(ctx, "daily", Window{})
	require.NoError(t, err)
	assert.Len(t, occ, 5)
}

func TestService_UpdateSplitSaveFailureRemovesContinuation(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := newTestService(failingUpdates{Store: mem})
	ctx := context.Background()
	createDaily(t, svc)

	_, err := svc.Update(ctx, UpdateRequest{
		UID:          "daily",
		Changes:      model.ChangeSet{model.FieldSummary: "Sync"},
		Scope:        model.ScopeThisAndFuture,
		RecurrenceID: ptr(day(2)),
	})

	assert.ErrorContains(t, err, "disk full")
	_, err = mem.Get(ctx, "split-uid")
	assert.ErrorIs(t, err, store.ErrNotFound)
	list, err := mem.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_UpdateStampsModificationTime(t *testing.T) {
	svc, clock := newTestServiceWithClock(store.NewMemoryStore())
	ctx := context.Background()
	created := createDaily(t, svc)
	later := created.Master.CreatedAt.Add(24 * time.Hour)
	clock.SetNow(later)

	res, err := svc.Update(ctx, UpdateRequest{UID: "daily", Changes: model.ChangeSet{model.FieldSummary: "Sync"}, Scope: model.ScopeAll})

	require.NoError(t, err)
	assert.Equal(t, created.Master.CreatedAt, res.Series.Master.CreatedAt)
	assert.Equal(t, later, res.Series.Master.LastModifiedAt)
}

func TestService_UpdateConflictsOnStaleRevision(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	ctx := context.Background()
	createDaily(t, svc)

	_, err := svc.Update(ctx, UpdateRequest{UID: "daily", Revision: 1, Changes: model.ChangeSet{model.FieldSummary: "A"}, Scope: model.ScopeAll})
	require.NoError(t, err)

	_, err = svc.Update(ctx, UpdateRequest{UID: "daily", Revision: 1, Changes: model.ChangeSet{model.FieldSummary: "B"}, Scope: model.ScopeAll})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.Delete(ctx, DeleteRequest{UID: "daily", Revision: 1, Scope: model.ScopeAll})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestService_UpdateValidationErrorsAreWrapped(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	createDaily(t, svc)

	_, err := svc.Update(context.Background(), UpdateRequest{UID: "daily", Scope: model.ScopeInstanceOnly})

	assert.ErrorIs(t, err, model.ErrMissingIdentifier)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "recurrence_id", verr.Field)
}

func TestService_Delete(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	ctx := context.Background()
	createDaily(t, svc)

	// When a single occurrence is deleted
	res, err := svc.Delete(ctx, DeleteRequest{UID: "daily", Scope: model.ScopeInstanceOnly, RecurrenceID: ptr(day(1))})

	// Then the series survives without it
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	require.NotNil(t, res.Series)
	occ, err := svc.Occurrences(ctx, "daily", Window{})
	require.NoError(t, err)
	assert.Len(t, occ, 4)

	// When the whole series is deleted
	res, err = svc.Delete(ctx, DeleteRequest{UID: "daily", Scope: model.ScopeAll})

	// Then it is gone
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	_, err = svc.Get(ctx, "daily")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_OccurrenceWindows(t *testing.T) {
	svc := newTestService(store.NewMemoryStore())
	ctx := context.Background()
	createDaily(t, svc)

	testCases := []struct {
		name   string
		window Window
		want   []time.Time
	}{
		{name: "open", window: Window{}, want: []time.Time{day(0), day(1), day(2), day(3), day(4)}},
		{name: "after inclusive", window: Window{After: ptr(day(3)), Inclusive: true}, want: []time.Time{day(3), day(4)}},
		{name: "before exclusive", window: Window{Before: ptr(day(1))}, want: []time.Time{day(0)}},
		{name: "between inclusive", window: Window{After: ptr(day(1)), Before: ptr(day(3)), Inclusive: true}, want: []time.Time{day(1), day(2), day(3)}},
		{name: "between exclusive", window: Window{After: ptr(day(1)), Before: ptr(day(3))}, want: []time.Time{day(2)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.Occurrences(ctx, "daily", tc.window)
			require.NoError(t, err)
			starts := make([]time.Time, 0, len(got))
			for _, o := range got {
				starts = append(starts, o.Start)
			}
			assert.Equal(t, tc.want, starts)
		})
	}
}

func TestService_ExportImport(t *testing.T) {
	source := newTestService(store.NewMemoryStore())
	ctx := context.Background()
	createDaily(t, source)
	_, err := source.Update(ctx, UpdateRequest{
		UID:          "daily",
		Changes:      model.ChangeSet{model.FieldSummary: "Moved"},
		Scope:        model.ScopeInstanceOnly,
		RecurrenceID: ptr(day(2)),
	})
	require.NoError(t, err)

	var doc bytes.Buffer
	require.NoError(t, source.Export(ctx, &doc))
	body := doc.Bytes()

	target := newTestService(store.NewMemoryStore())
	res, err := target.Import(ctx, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, res.Created)

	occ, err := target.Occurrences(ctx, "daily", Window{})
	require.NoError(t, err)
	require.Len(t, occ, 5)
	assert.True(t, occ[2].IsException)
	assert.Equal(t, "Moved", occ[2].Summary)

	res, err = target.Import(ctx, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, res.Replaced)
	assert.Empty(t, res.Created)
}

func TestService_ImportURL(t *testing.T) {
	source := newTestService(store.NewMemoryStore())
	ctx := context.Background()
	createDaily(t, source)
	var doc bytes.Buffer
	require.NoError(t, source.Export(ctx, &doc, "daily"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write(doc.Bytes())
	}))
	defer srv.Close()

	target := newTestService(store.NewMemoryStore())
	res, err := target.ImportURL(ctx, srv.URL+"/team.ics")

	require.NoError(t, err)
	assert.Equal(t, []string{"daily"}, res.Created)
}

func TestService_ReconcilePrunesOrphans(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newTestService(st)
	ctx := context.Background()
	orphan := day(1).Add(30 * time.Minute)
	_, err := st.Create(ctx, model.Series{
		Master: model.MasterEvent{
			EventCore: model.EventCore{UID: "daily", Start: start, End: start.Add(time.Hour)},
			Rule:      &model.RecurrenceRule{Frequency: model.FreqDaily, Count: 5},
		},
		Exceptions: []model.ExceptionEvent{
			{EventCore: model.EventCore{UID: "daily", Start: orphan, End: orphan.Add(time.Hour)}, RecurrenceID: orphan},
		},
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, model.ChangeSet{model.FieldUID: "clean", model.FieldStart: start})
	require.NoError(t, err)

	res, err := svc.Reconcile(ctx)

	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 2, Repaired: 1, Pruned: 1}, res)
	got, err := st.Get(ctx, "daily")
	require.NoError(t, err)
	assert.Empty(t, got.Exceptions)
	assert.Equal(t, int64(2), got.Revision)

	again, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Repaired)
}
