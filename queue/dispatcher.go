/*
Package queue runs budget refreshes in the background.

COALESCING:
  Dispatch(name) while name is already queued is a no-op: the queued run
  will see the latest sources anyway. Dispatch while name is running marks
  it for one more run after the current one finishes, so a change that
  landed mid-refresh is never lost. A budget is never refreshed by two
  workers at once.

USAGE:
  d := queue.New(engine.RunQueuedRefresh, 2, log)
  d.Start(ctx)
  engine.SetDispatcher(d)
  // ... later
  d.Stop()
*/
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/warp/budget-engine/budget"
)

// Handler refreshes one budget.
type Handler func(ctx context.Context, budgetName string) error

type Stats struct {
	Queued    int   `json:"queued"`
	Running   int   `json:"running"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Coalesced int64 `json:"coalesced"`
}

type Dispatcher struct {
	handler Handler
	workers int
	log     *zap.SugaredLogger

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []string
	queued  map[string]bool
	running map[string]bool
	rerun   map[string]bool
	wake    chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
	coalesced atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ budget.Dispatcher = (*Dispatcher)(nil)

func New(handler Handler, workers int, log *zap.SugaredLogger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		handler: handler,
		workers: workers,
		log:     log,
		queued:  map[string]bool{},
		running: map[string]bool{},
		rerun:   map[string]bool{},
		wake:    make(chan struct{}, workers),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.log.Infow("refresh queue started", "workers", d.workers)
}

// Stop cancels the workers and waits for running refreshes to return.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.log.Infow("refresh queue stopped", "processed", d.processed.Load())
}

func (d *Dispatcher) Dispatch(name string) {
	d.mu.Lock()
	switch {
	case d.queued[name]:
		d.coalesced.Add(1)
		d.mu.Unlock()
		return
	case d.running[name]:
		d.rerun[name] = true
		d.coalesced.Add(1)
		d.mu.Unlock()
		return
	}
	d.queued[name] = true
	d.queue = append(d.queue, name)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until nothing is queued or running.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) > 0 || len(d.running) > 0 {
		d.idle.Wait()
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Queued:    len(d.queue),
		Running:   len(d.running),
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		Coalesced: d.coalesced.Load(),
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		name, ok := d.next(ctx)
		if !ok {
			return
		}
		d.run(ctx, name)
	}
}

func (d *Dispatcher) next(ctx context.Context) (string, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			name := d.queue[0]
			d.queue = d.queue[1:]
			delete(d.queued, name)
			d.running[name] = true
			d.mu.Unlock()
			return name, true
		}
		d.mu.Unlock()

		select {
		case <-d.wake:
		case <-ctx.Done():
			return "", false
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, name string) {
	defer d.finish(name)
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Errorw("refresh panicked", "budget", name, "panic", r)
		}
	}()
	if err := d.handler(ctx, name); err != nil {
		d.failed.Add(1)
		d.log.Warnw("queued refresh failed", "budget", name, "error", err)
		return
	}
	d.processed.Add(1)
}

func (d *Dispatcher) finish(name string) {
	d.mu.Lock()
	delete(d.running, name)
	requeued := d.rerun[name]
	if requeued {
		delete(d.rerun, name)
		d.queued[name] = true
		d.queue = append(d.queue, name)
	}
	if len(d.queue) == 0 && len(d.running) == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
	if requeued {
		d.signal()
	}
}
