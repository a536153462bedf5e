// Package subscription reconciles employer subscriptions against Stripe, PayPal
// and Paddle.
//
// Providers notify the platform through webhooks that arrive late, twice, out
// of order or concurrently. The package turns each notification into a single
// provider-agnostic event and applies it to the local subscription record so
// that the record ends up where the provider says it is, exactly once.
//
// # Architecture
//
//   - PaymentProvider: one adapter per provider (StripeProvider, PayPalProvider,
//     PaddleProvider) combining signature verification, normalization and
//     outbound calls
//   - Decide: the pure lifecycle function mapping (subscription, input, now)
//     to a decision with follow-up effects
//   - Service: the orchestrator serializing every mutation per subscription
//   - Store: persistence with all-or-nothing commits (MemoryStore for tests)
//   - PlansSource: loads the plan catalog once at startup
//
// # Applying an event
//
// Service.ApplyEvent and Service.Execute follow the same sequence:
//
//  1. resolve the subscription by provider id or echoed subscription_ref
//  2. take the per-subscription lock from pkg/lock, bounded by LockTimeout
//  3. re-read the row and look the event up in the event log
//  4. run Decide; stale inputs are recorded but do not change state
//  5. commit subscription, payment and event log entry in one Store.Commit
//  6. release the lock, then dispatch effects
//
// Effects never run under the lock. Notifications, retried provider calls and
// grace-period deadlines are enqueued as tasks on pkg/queue; Service.TaskHandlers
// returns the handlers a worker registers.
//
// # Usage
//
//	stripe, err := subscription.NewStripeProvider(cfg.Stripe,
//		subscription.WithProviderLogger(log),
//		subscription.WithProviderEnvironment(cfg.Env),
//	)
//	if err != nil {
//		return err
//	}
//
//	svc, err := subscription.NewService(ctx, plans, store, locker,
//		subscription.WithProvider(stripe),
//		subscription.WithTaskQueue(enqueuer),
//		subscription.WithGracePeriod(7*24*time.Hour),
//		subscription.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//
//	result, err := svc.HandleWebhook(ctx, subscription.ProviderStripe, body, r.Header)
//	switch {
//	case errors.Is(err, subscription.ErrInvalidSignature):
//		// 400, the provider should not retry
//	case subscription.IsRetryable(err):
//		// 5xx, the provider redelivers
//	}
//
// Duplicate and stale deliveries are not errors: result.Outcome reports them and
// the handler acknowledges with 200.
//
// # Subscribing
//
// Service.Subscribe creates a pending row, cancels every other non-terminal
// subscription of the employer in the same commit, and then asks the provider
// to start billing. The returned ApprovalURL is where the employer pays.
//
// # Errors
//
// Verification failures wrap ErrInvalidSignature and unparsable payloads wrap
// ErrMalformedPayload. Infrastructure failures (ErrLockTimeout, ErrPersistence,
// ErrConcurrentModification, ErrProviderCall) satisfy IsRetryable.
package subscription
