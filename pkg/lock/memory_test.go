package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobboard/pkg/lock"
)

func TestMemoryLocker(t *testing.T) {
	t.Parallel()

	t.Run("serializes holders of the same key", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		var inside, maxInside int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := l.Acquire(context.Background(), "subscription:1")
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
				release()
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxInside)
		assert.Equal(t, 0, l.Len())
	})

	t.Run("different keys do not block", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		r1, err := l.Acquire(context.Background(), "a")
		require.NoError(t, err)
		defer r1()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		r2, err := l.Acquire(ctx, "b")
		require.NoError(t, err)
		r2()
	})

	t.Run("times out when held", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, "k")
		require.ErrorIs(t, err, lock.ErrTimeout)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		release()
		release()

		again, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		again()
		assert.Equal(t, 0, l.Len())
	})

	t.Run("rejects empty key", func(t *testing.T) {
		t.Parallel()
		_, err := lock.NewMemoryLocker().Acquire(context.Background(), "")
		require.ErrorIs(t, err, lock.ErrEmptyKey)
	})
}

func TestAcquireAll(t *testing.T) {
	t.Parallel()

	t.Run("releases everything", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		release, err := lock.AcquireAll(context.Background(), l, "employer:1", "subscription:1", "subscription:2")
		require.NoError(t, err)
		assert.Equal(t, 3, l.Len())

		release()
		assert.Equal(t, 0, l.Len())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()
		l := lock.NewMemoryLocker()

		held, err := l.Acquire(context.Background(), "subscription:2")
		require.NoError(t, err)
		defer held()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = lock.AcquireAll(ctx, l, "employer:1", "subscription:2")
		require.ErrorIs(t, err, lock.ErrTimeout)

		// employer lock must be free again
		r, err := l.Acquire(context.Background(), "employer:1")
		require.NoError(t, err)
		r()
	})
}
