package lock

import (
	"context"
	"errors"
)

// Locker grants exclusive access to a key.
// Acquire blocks until the lock is held or ctx is done; on ctx expiry it returns ErrTimeout.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AcquireAll takes locks for every key in the given order and returns a single release
// that frees them in reverse. Callers are responsible for a consistent key order.
// If any acquisition fails, locks taken so far are released.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, key := range keys {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	return releaseAll, nil
}

func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
		return errors.Join(ErrTimeout, ctx.Err())
	}
	return ErrTimeout
}
