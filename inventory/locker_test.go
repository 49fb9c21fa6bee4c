package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/unit-ledger/inventory"
)

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, inventory.SortedKeys([]string{"c", "a", "b", "a"}))
	assert.Empty(t, inventory.SortedKeys(nil))
}

func TestLocalLocker_OverlappingSetsAreExclusive(t *testing.T) {
	locker := inventory.NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	sets := [][]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"b", "a"}}
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			release, err := locker.Lock(ctx, keys)
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
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&inside, -1)
			release()
		}(sets[i%len(sets)])
	}
	wg.Wait()

	// every pair of sets overlaps, so no two holders ever coexist
	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_DisjointSetsDoNotBlock(t *testing.T) {
	locker := inventory.NewLocalLocker()
	release, err := locker.Lock(context.Background(), []string{"x"})
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	other, err := locker.Lock(ctx, []string{"y", "z"})
	require.NoError(t, err)
	other()
}

func TestLocalLocker_TimeoutReleasesPartialSet(t *testing.T) {
	// GIVEN: "b" is held
	locker := inventory.NewLocalLocker()
	holdB, err := locker.Lock(context.Background(), []string{"b"})
	require.NoError(t, err)

	// WHEN: a caller wants {a, b} but gives up
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, []string{"b", "a"})

	// THEN: it fails retryably and "a" is free again
	require.Error(t, err)
	assert.ErrorIs(t, err, inventory.ErrLockNotObtained)
	assert.True(t, inventory.IsRetryable(err))

	quick, cancelQuick := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelQuick()
	releaseA, err := locker.Lock(quick, []string{"a"})
	require.NoError(t, err)
	releaseA()
	holdB()
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := inventory.RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	assert.Equal(t, 10*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(40))
}

func TestRetryPolicy_Do(t *testing.T) {
	fast := inventory.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond}
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := fast.Do(ctx, "op", func(int) error {
			calls++
			if calls < 3 {
				return inventory.ErrConcurrentModification
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted budget is transient", func(t *testing.T) {
		calls := 0
		err := fast.Do(ctx, "claim", func(int) error {
			calls++
			return inventory.ErrConcurrentModification
		})
		assert.Equal(t, 3, calls)
		var te *inventory.TransientError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 3, te.Attempts)
		assert.ErrorIs(t, err, inventory.ErrTransient)
		assert.ErrorIs(t, err, inventory.ErrConcurrentModification)
		assert.Equal(t, inventory.KindTransient, inventory.KindOf(err))
	})

	t.Run("non-retryable errors return at once", func(t *testing.T) {
		calls := 0
		err := fast.Do(ctx, "op", func(int) error {
			calls++
			return inventory.ErrNotFound
		})
		assert.Equal(t, 1, calls)
		assert.Equal(t, inventory.ErrNotFound, err)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		slow := inventory.RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := slow.Do(cctx, "op", func(int) error { return inventory.ErrLockNotObtained })
		var te *inventory.TransientError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, 1, te.Attempts)
	})
}
