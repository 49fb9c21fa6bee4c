/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically releases expired holds and reconciles the derived stock
  counters against unit statuses.

DESIGN:
  - One goroutine per job, each with its own ticker
  - Every job runs once immediately on start
  - The last run of each job is kept for the admin endpoints and logs
  - Jobs never overlap with themselves; a manual RunNow waits for a
    scheduled run in progress

CONFIGURATION:
  - SweepInterval:     How often expired holds are released (default: 30s)
  - ReconcileInterval: How often stock is recomputed (default: 1 hour)
  - Enabled:           Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(ledger, maintainer, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Sweep and Reconcile endpoints (manual runs)
  - inventory/ledger.go: ReleaseExpiredHolds
  - inventory/aggregate.go: Maintainer.Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/unit-ledger/inventory"
)

// HoldSweeper releases holds whose deadline has passed.
type HoldSweeper interface {
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int, error)
	Now() time.Time
}

// StockReconciler recomputes derived stock counters.
type StockReconciler interface {
	Reconcile(ctx context.Context) (inventory.ReconcileReport, error)
}

// Scheduler runs hold sweeps and stock reconciliation in the background.
type Scheduler struct {
	Sweeper           HoldSweeper
	Reconciler        StockReconciler
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	Enabled           bool
	Logger            *logrus.Logger

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	sweepMu     sync.Mutex
	reconcileMu sync.Mutex

	stateMu       sync.Mutex
	lastSweep     SweepDTO
	lastReconcile *inventory.ReconcileReport
}

func NewScheduler(sweeper HoldSweeper, reconciler StockReconciler, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		Sweeper:           sweeper,
		Reconciler:        reconciler,
		SweepInterval:     30 * time.Second,
		ReconcileInterval: time.Hour,
		Enabled:           true,
		Logger:            logger,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("[Scheduler] Disabled, not starting")
		return
	}
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(2)
	go s.loop(s.SweepInterval, func(ctx context.Context) { _, _ = s.RunSweep(ctx) })
	go s.loop(s.ReconcileInterval, func(ctx context.Context) { _, _ = s.RunReconcile(ctx) })

	s.Logger.WithFields(logrus.Fields{
		"sweep_interval":     s.SweepInterval.String(),
		"reconcile_interval": s.ReconcileInterval.String(),
	}).Info("[Scheduler] Started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.running = false
	s.Logger.Info("[Scheduler] Stopped")
}

func (s *Scheduler) loop(interval time.Duration, job func(ctx context.Context)) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	job(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			job(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunSweep releases every expired hold now.
func (s *Scheduler) RunSweep(ctx context.Context) (SweepDTO, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.Sweeper.Now()
	released, err := s.Sweeper.ReleaseExpiredHolds(ctx, now)
	result := SweepDTO{Released: released, RanAt: formatTime(now)}
	if err != nil {
		s.Logger.WithError(err).WithField("released", released).Error("[Scheduler] Hold sweep failed")
		return result, err
	}
	if released > 0 {
		s.Logger.WithField("released", released).Info("[Scheduler] Released expired holds")
	}

	s.stateMu.Lock()
	s.lastSweep = result
	s.stateMu.Unlock()
	return result, nil
}

// RunReconcile recomputes stock counters now.
func (s *Scheduler) RunReconcile(ctx context.Context) (inventory.ReconcileReport, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	report, err := s.Reconciler.Reconcile(ctx)
	if err != nil {
		s.Logger.WithError(err).Error("[Scheduler] Reconciliation failed")
		return report, err
	}
	if len(report.Drifts) > 0 {
		s.Logger.WithFields(logrus.Fields{
			"checked": report.Checked,
			"drifts":  len(report.Drifts),
		}).Warn("[Scheduler] Repaired stock drift")
	}

	s.stateMu.Lock()
	s.lastReconcile = &report
	s.stateMu.Unlock()
	return report, nil
}

// LastSweep returns the result of the most recent successful sweep.
func (s *Scheduler) LastSweep() SweepDTO {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastSweep
}

// LastReconcile returns the most recent successful report, or nil.
func (s *Scheduler) LastReconcile() *inventory.ReconcileReport {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastReconcile
}
