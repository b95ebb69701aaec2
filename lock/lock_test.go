package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/lock"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Obtain(ctx, "budget-refresh:2025:Live")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, unlock(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := lock.NewLocal()
	ctx := context.Background()

	unlockA, err := l.Obtain(ctx, "a")
	require.NoError(t, err)
	defer unlockA(ctx)

	unlockB, err := l.Obtain(ctx, "b")
	require.NoError(t, err)
	assert.NoError(t, unlockB(ctx))
}

func TestLocal_TimesOutWhileHeld(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Obtain(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Obtain(ctx, "k")

	assert.True(t, errors.Is(err, budget.ErrLockNotObtained))
	assert.True(t, budget.IsRetryable(err))

	// unlock is idempotent and frees the key
	require.NoError(t, unlock(context.Background()))
	require.NoError(t, unlock(context.Background()))
	again, err := l.Obtain(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, again(context.Background()))
}
