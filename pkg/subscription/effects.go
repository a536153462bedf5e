package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/queue"
)

// dispatch runs after the lock is released. Provider calls are tried inline and
// queued for retry on failure; notifications and grace checks are always queued.
// Nothing here can undo the committed transition.
func (s *Service) dispatch(ctx context.Context, sub Subscription, effects []Effect) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.With(logger.SubscriptionID(sub.ID.String()), logger.Provider(string(sub.Provider)))

	for _, e := range effects {
		switch {
		case e.Kind.IsProviderCall():
			task := ProviderCallTask{
				SubscriptionID: sub.ID,
				Provider:       sub.Provider,
				ProviderSubID:  sub.ProviderSubID,
				Operation:      e.Kind,
				Immediate:      e.Immediate,
			}
			if task.ProviderSubID == "" {
				log.DebugContext(ctx, "skipping provider call, subscription not confirmed by provider",
					slog.String("operation", string(e.Kind)))
				continue
			}
			if err := s.callProvider(ctx, task); err != nil {
				log.WarnContext(ctx, "provider call failed, queued for retry",
					slog.String("operation", string(e.Kind)), logger.Error(err))
				s.enqueue(ctx, log, task, queue.WithQueue(QueueProviderCalls))
			}

		case e.Kind.IsNotification():
			s.enqueue(ctx, log, NotificationTask{
				SubscriptionID: sub.ID,
				EmployerID:     sub.EmployerID,
				Kind:           e.Kind,
				PlanID:         sub.PlanID,
				Status:         sub.Status,
				AmountPaid:     sub.AmountPaid,
				GraceEndsAt:    sub.GraceEndsAt,
				EntitledUntil:  sub.EntitledUntil,
				OccurredAt:     sub.UpdatedAt,
			}, queue.WithQueue(QueueNotifications))

		case e.Kind == EffectScheduleGraceExpiry:
			s.enqueue(ctx, log, GraceExpiryTask{
				SubscriptionID: sub.ID,
				GraceEndsAt:    e.At,
			}, queue.WithQueue(QueueLifecycle), queue.WithScheduledAt(e.At))

		default:
			log.WarnContext(ctx, "unhandled effect", slog.String("effect", string(e.Kind)))
		}
	}
}

func (s *Service) enqueue(ctx context.Context, log *slog.Logger, payload any, opts ...queue.EnqueueOption) {
	if s.queue == nil {
		log.WarnContext(ctx, "no task queue configured, effect dropped", slog.String("task", fmt.Sprintf("%T", payload)))
		return
	}
	if _, err := s.queue.Enqueue(ctx, payload, opts...); err != nil {
		log.ErrorContext(ctx, "failed to enqueue effect", slog.String("task", fmt.Sprintf("%T", payload)), logger.Error(err))
	}
}

func (s *Service) callProvider(ctx context.Context, task ProviderCallTask) error {
	p, err := s.Provider(task.Provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderCallTimeout)
	defer cancel()

	switch task.Operation {
	case EffectProviderCancel:
		err = p.CancelSubscription(ctx, task.ProviderSubID, task.Immediate)
	case EffectProviderSuspend:
		err = p.SuspendSubscription(ctx, task.ProviderSubID)
	case EffectProviderResume:
		err = p.ResumeSubscription(ctx, task.ProviderSubID)
	default:
		return fmt.Errorf("%w: unsupported operation %q", ErrProviderCall, task.Operation)
	}
	if err != nil {
		s.observer.ProviderCallFailed(task.Provider, task.Operation)
		return errors.Join(ErrProviderCall, err)
	}
	return nil
}

// HandleProviderCallTask retries a queued provider call. The call is skipped
// when the local state has moved on, e.g. a queued suspend after the employer resumed.
func (s *Service) HandleProviderCallTask(ctx context.Context, task ProviderCallTask) error {
	sub, err := s.GetSubscription(ctx, task.SubscriptionID)
	if err != nil {
		return err
	}

	want := map[EffectKind]SubscriptionStatus{
		EffectProviderCancel:  StatusCancelled,
		EffectProviderSuspend: StatusSuspended,
		EffectProviderResume:  StatusActive,
	}[task.Operation]
	if sub.Status != want {
		s.log.InfoContext(ctx, "provider call no longer needed",
			logger.SubscriptionID(sub.ID.String()),
			slog.String("operation", string(task.Operation)),
			logger.Status(string(sub.Status)))
		return nil
	}

	return s.callProvider(ctx, task)
}

// HandleGraceExpiryTask runs the delayed grace-period check. Outcomes other than
// an infrastructure failure are final: a recovered payment simply makes the check a no-op.
func (s *Service) HandleGraceExpiryTask(ctx context.Context, task GraceExpiryTask) error {
	result, err := s.Execute(ctx, task.SubscriptionID, LocalCommand{Kind: CommandGraceExpired})
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !result.Applied {
		s.log.DebugContext(ctx, "grace check had no effect",
			logger.SubscriptionID(task.SubscriptionID.String()),
			slog.String("reason", result.Reason))
	}
	return nil
}

// TaskHandlers returns the queue handlers owned by the orchestrator.
func (s *Service) TaskHandlers() []queue.Handler {
	return []queue.Handler{
		queue.NewTaskHandler(s.HandleProviderCallTask),
		queue.NewTaskHandler(s.HandleGraceExpiryTask),
	}
}
