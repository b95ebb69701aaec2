package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/queue"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) handle(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[name]++
	return nil
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func startQueue(t *testing.T, h queue.Handler, workers int) *queue.Dispatcher {
	t.Helper()
	d := queue.New(h, workers, nil)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcher_RunsEveryBudget(t *testing.T) {
	rec := &recorder{}
	d := startQueue(t, rec.handle, 3)

	for _, name := range []string{"BUD-2025-LIVE-0001", "BUD-2026-LIVE-0001"} {
		d.Dispatch(name)
	}
	d.Wait()

	assert.Equal(t, 1, rec.count("BUD-2025-LIVE-0001"))
	assert.Equal(t, 1, rec.count("BUD-2026-LIVE-0001"))
	assert.Equal(t, int64(2), d.Stats().Processed)
}

func TestDispatcher_CoalescesWhileQueuedAndRerunsWhileRunning(t *testing.T) {
	// GIVEN: a handler that blocks until released
	started := make(chan string, 4)
	release := make(chan struct{})
	rec := &recorder{}
	d := startQueue(t, func(ctx context.Context, name string) error {
		started <- name
		<-release
		return rec.handle(ctx, name)
	}, 1)

	// WHEN: the budget is dispatched, starts running, then is dispatched
	// three more times
	d.Dispatch("B")
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("refresh never started")
	}
	d.Dispatch("B")
	d.Dispatch("B")
	d.Dispatch("B")

	// THEN: exactly one more run follows the current one
	close(release)
	d.Wait()
	assert.Equal(t, 2, rec.count("B"))
	assert.Equal(t, int64(3), d.Stats().Coalesced)
}

func TestDispatcher_CountsFailuresAndPanics(t *testing.T) {
	d := startQueue(t, func(_ context.Context, name string) error {
		if name == "panic" {
			panic("boom")
		}
		return errors.New("refresh failed")
	}, 2)

	d.Dispatch("fail")
	d.Dispatch("panic")
	d.Wait()

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(0), stats.Processed)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.Running)
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	rec := &recorder{}
	d := queue.New(rec.handle, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	cancel()
	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "workers did not stop")
	}
}
