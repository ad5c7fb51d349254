package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"evcal/internal/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcilerStub struct {
	calls atomic.Int32
	err   error
}

func (r *reconcilerStub) Reconcile(ctx context.Context) (calendar.ReconcileResult, error) {
	n := r.calls.Add(1)
	if r.err != nil {
		return calendar.ReconcileResult{}, r.err
	}
	return calendar.ReconcileResult{Scanned: int(n)}, nil
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := New("every now and then", &reconcilerStub{})

	assert.Error(t, err)
}

func TestScheduler_RunOnce(t *testing.T) {
	rec := &reconcilerStub{}
	s, err := New("*/15 * * * *", rec)
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, res, s.Last())
}

func TestScheduler_RunOnceKeepsLastSuccess(t *testing.T) {
	rec := &reconcilerStub{}
	s, err := New("@hourly", rec)
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)

	rec.err = errors.New("store down")
	_, err = s.RunOnce(context.Background())

	assert.Error(t, err)
	assert.Equal(t, 1, s.Last().Scanned)
}

func TestScheduler_StartRunsOnSchedule(t *testing.T) {
	rec := &reconcilerStub{}
	s, err := New("@every 1s", rec)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return rec.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
