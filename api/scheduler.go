/*
scheduler.go - Automated monthly batch scheduler

PURPOSE:
  Periodically runs the previous calendar month's batch for every configured
  company, so payroll inputs are ready without anyone pressing a button.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Skips companies whose batch for the month is already Completed
  - An In Progress batch for the month is resumed by the run itself
  - A run refused by the company lock is left to the next tick

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active

USAGE:
  scheduler := NewBatchScheduler(store, orchestrator, []payroll.CompanyID{"ACME"}, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunBatch endpoint (manual runs)
  - batch/orchestrator.go: The run itself
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/payroll"
)

// BatchScheduler runs last month's batch of each company.
type BatchScheduler struct {
	Store     payroll.BatchStore
	Runner    BatchRunner
	Companies []payroll.CompanyID
	Interval  time.Duration
	Enabled   bool
	Log       logrus.FieldLogger

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewBatchScheduler(store payroll.BatchStore, runner BatchRunner, companies []payroll.CompanyID, log logrus.FieldLogger) *BatchScheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BatchScheduler{
		Store:     store,
		Runner:    runner,
		Companies: companies,
		Interval:  time.Hour,
		Enabled:   true,
		Log:       log.WithField("component", "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduler. The first check runs immediately.
func (s *BatchScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Log.Info("scheduler disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.Log.WithField("interval", s.Interval.String()).Info("scheduler started")
}

// Stop stops the scheduler and waits for a run in flight to return.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.Log.Info("scheduler stopped")
}

func (s *BatchScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow checks every company once and returns how many batches completed.
func (s *BatchScheduler) RunNow(ctx context.Context) int {
	period := payroll.PreviousMonth(payroll.DateOf(s.now()))
	completed := 0

	for _, company := range s.Companies {
		if ctx.Err() != nil {
			break
		}
		log := s.Log.WithFields(logrus.Fields{"company": company, "period": period.String()})

		done, err := s.completed(ctx, company, period)
		if err != nil {
			log.WithError(err).Error("failed to check batch status")
			continue
		}
		if done {
			log.Debug("batch already completed, skipped")
			continue
		}

		_, err = s.Runner.Run(ctx, company, period.Start, period.End)
		switch {
		case errors.Is(err, payroll.ErrBatchLocked):
			log.Info("batch run in progress elsewhere, retry on next tick")
		case err != nil:
			log.WithError(err).Error("scheduled batch run failed")
		default:
			completed++
			log.Info("scheduled batch completed")
		}
	}
	return completed
}

func (s *BatchScheduler) completed(ctx context.Context, company payroll.CompanyID, period payroll.Period) (bool, error) {
	batches, err := s.Store.ListBatches(ctx, payroll.BatchFilter{Company: company, Status: payroll.BatchCompleted})
	if err != nil {
		return false, err
	}
	for _, b := range batches {
		if b.Period().Equal(period) {
			return true, nil
		}
	}
	return false, nil
}

// NextRunTime returns when the next scheduled check will occur.
func (s *BatchScheduler) NextRunTime() time.Time {
	return s.now().Add(s.Interval)
}
