// Package lock provides keyed mutual exclusion for read-modify-write sequences
// that must never run concurrently for the same key.
//
// Two implementations share the Locker interface:
//
//   - MemoryLocker: per-key locks inside one process. Suitable for tests and
//     single-instance deployments.
//   - RedisLocker: SET NX PX with a random token, released through a
//     compare-and-delete script so an expired holder cannot release a lock
//     someone else owns. Waiters poll until the lock frees or the context ends.
//
// # Usage
//
//	locker := lock.NewRedisLocker(client, lock.WithTTL(30*time.Second))
//
//	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
//	defer cancel()
//
//	release, err := locker.Acquire(ctx, "subscription:"+id.String())
//	if errors.Is(err, lock.ErrTimeout) {
//	    // transient, ask the caller to retry
//	}
//	defer release()
//
// Release functions are idempotent and safe to call from a deferred statement
// even after the context that acquired the lock has ended.
package lock
