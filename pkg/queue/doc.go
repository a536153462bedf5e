// Package queue provides a storage-agnostic task queue for immediate and delayed work
// with bounded retries and a dead-letter queue.
//
// The package is organised around two components:
//
//   - Enqueuer: adds tasks, optionally delayed until a given time.
//   - Worker:   claims ready tasks and dispatches them to typed handlers.
//
// Both talk to storage through small repository interfaces. MemoryStorage backs
// tests and single-process deployments; PGStorage uses FOR UPDATE SKIP LOCKED so
// workers on several instances can share one table.
//
// # Retries
//
// A task gets MaxRetries attempts. After each failure the storage reschedules it
// using a BackoffStrategy (ExponentialBackoff by default). When the last attempt
// fails the worker moves the task to the dead-letter queue, logs it at error level
// and calls the optional DeadLetterHook.
//
// # Usage
//
//	type RetryCancel struct {
//	    SubscriptionID uuid.UUID `json:"subscription_id"`
//	}
//
//	enq, _ := queue.NewEnqueuer(storage)
//	_, err := enq.Enqueue(ctx, RetryCancel{SubscriptionID: id}, queue.WithDelay(time.Minute))
//
//	worker, _ := queue.NewWorker(storage, queue.WithMaxConcurrentTasks(4))
//	worker.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p RetryCancel) error {
//	    return provider.Cancel(ctx, p.SubscriptionID)
//	}))
//	g.Go(worker.Run(ctx))
//
// # Error Handling
//
// Sentinel errors (ErrInvalidPriority, ErrNoHandlers, ErrNoTaskToClaim, ...) can be
// checked with errors.Is.
package queue
