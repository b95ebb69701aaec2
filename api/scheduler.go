/*
scheduler.go - Horizon realignment scheduler

PURPOSE:
  The refresh horizon (current year and next) moves at every year boundary.
  This job keeps planned items' out_of_horizon flags and the Live drafts in
  step with it, so nothing waits for a source edit to become visible.

EACH RUN:
  1. EnsureLiveBudget for every horizon year (creates missing Live drafts)
  2. RealignHorizon: re-derive out_of_horizon on planned items, then
     enqueue a refresh of the horizon years

CONFIGURATION:
  - CheckInterval: How often to run (default: 24 hours)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewHorizonScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/budget-engine/budget"
)

// HorizonScheduler periodically realigns the refresh horizon.
type HorizonScheduler struct {
	Engine        *budget.Engine
	CheckInterval time.Duration
	Enabled       bool

	log    *zap.SugaredLogger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewHorizonScheduler(engine *budget.Engine, log *zap.SugaredLogger) *HorizonScheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HorizonScheduler{
		Engine:        engine,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		log:           log,
		stop:          make(chan struct{}),
	}
}

func (hs *HorizonScheduler) Start() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if !hs.Enabled {
		hs.log.Info("horizon scheduler disabled, not starting")
		return
	}

	hs.ticker = time.NewTicker(hs.CheckInterval)
	hs.wg.Add(1)
	go hs.run()

	hs.log.Infow("horizon scheduler started", "interval", hs.CheckInterval)
}

func (hs *HorizonScheduler) Stop() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.ticker != nil {
		hs.ticker.Stop()
		close(hs.stop)
		hs.wg.Wait()
		hs.ticker = nil
		hs.log.Info("horizon scheduler stopped")
	}
}

func (hs *HorizonScheduler) run() {
	defer hs.wg.Done()

	// Run immediately on start
	hs.RunOnce(context.Background())

	for {
		select {
		case <-hs.ticker.C:
			hs.RunOnce(context.Background())
		case <-hs.stop:
			return
		}
	}
}

// RunOnce performs one realignment. Errors are logged; the next tick retries.
func (hs *HorizonScheduler) RunOnce(ctx context.Context) []string {
	ctx = budget.WithActor(ctx, budget.Actor{User: budget.SystemUser})
	for _, year := range budget.Horizon(hs.Engine.Today()) {
		b, created, err := hs.Engine.EnsureLiveBudget(ctx, year)
		if err != nil {
			hs.log.Warnw("ensure live budget failed", "year", year, "error", err)
			continue
		}
		if created {
			hs.log.Infow("live budget created for horizon", "year", year, "budget", b.Name)
		}
	}
	names, err := hs.Engine.RealignHorizon(ctx)
	if err != nil {
		hs.log.Errorw("horizon realignment failed", "error", err)
		return nil
	}
	hs.log.Infow("horizon realigned", "budgets", names)
	return names
}
