// Package sweep periodically removes orphaned exceptions from stored
// series.
package sweep

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"evcal/internal/calendar"
	appLog "evcal/internal/log"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (calendar.ReconcileResult, error)
}

// Scheduler runs a Reconciler on a cron schedule. Runs never overlap.
type Scheduler struct {
	spec string
	rec  Reconciler
	cron *cron.Cron

	mu      sync.Mutex
	started bool
	last    calendar.ReconcileResult
}

// New validates spec (standard 5-field cron or a @descriptor).
func New(spec string, rec Reconciler) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("sweep: invalid schedule %q: %w", spec, err)
	}
	logger := cron.PrintfLogger(appLog.Logger())
	return &Scheduler{
		spec: spec,
		rec:  rec,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}, nil
}

// Start schedules the sweep and stops it once ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("sweep failed", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	appLog.Info("sweep scheduled", "spec", s.spec)

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		appLog.Info("sweep stopped")
	}()
	return nil
}

// RunOnce performs a single reconciliation pass.
func (s *Scheduler) RunOnce(ctx context.Context) (calendar.ReconcileResult, error) {
	res, err := s.rec.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res, nil
}

// Last returns the result of the most recent successful pass.
func (s *Scheduler) Last() calendar.ReconcileResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
