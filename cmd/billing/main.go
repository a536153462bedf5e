// Command billing serves payment provider webhooks and the employer billing API,
// and runs the worker that delivers notices, retries provider calls and expires
// grace periods.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobboard/migrations"
	"github.com/dmitrymomot/jobboard/pkg/config"
	"github.com/dmitrymomot/jobboard/pkg/email"
	"github.com/dmitrymomot/jobboard/pkg/environment"
	"github.com/dmitrymomot/jobboard/pkg/httpserver"
	"github.com/dmitrymomot/jobboard/pkg/lock"
	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/pg"
	"github.com/dmitrymomot/jobboard/pkg/queue"
	"github.com/dmitrymomot/jobboard/pkg/redis"
	"github.com/dmitrymomot/jobboard/pkg/requestid"
	"github.com/dmitrymomot/jobboard/pkg/subscription"
	"github.com/dmitrymomot/jobboard/svc/billing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "billing: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	env := environment.Parse(cfg.Env)
	log := logger.New(
		logger.WithEnvironment(env, cfg.ServiceName),
		logger.WithConfig(cfg.Log),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, migrations.FS, migrations.Dir, cfg.PG, log); err != nil {
		return err
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis client", logger.Error(err))
		}
	}()

	tasks := queue.NewPGStorage(pool, queue.WithPGBackoff(cfg.Queue.Backoff()))
	enqueuer, err := queue.NewEnqueuer(tasks, queue.WithDefaultMaxRetries(cfg.Queue.MaxRetries))
	if err != nil {
		return err
	}

	providers, err := billing.NewProviders(cfg.Billing, env, log)
	if err != nil {
		return err
	}

	metrics := billing.NewMetrics(cfg.Billing.MetricsNamespace)
	store := billing.NewPGStore(pool)
	locker := lock.NewRedisLocker(rdb, lock.WithConfig(cfg.Lock), lock.WithLogger(log))

	opts := []subscription.ServiceOption{
		subscription.WithConfig(cfg.Billing.Subscription),
		subscription.WithTaskQueue(enqueuer),
		subscription.WithObserver(metrics),
		subscription.WithLogger(log),
	}
	for _, p := range providers {
		opts = append(opts, subscription.WithProvider(p))
	}

	plans := billing.NewYAMLPlansSource(os.DirFS("."), cfg.Billing.PlansFile)
	svc, err := subscription.NewService(ctx, plans, store, locker, opts...)
	if err != nil {
		return err
	}

	contacts := billing.NewPGContacts(pool)
	routerOpts := []billing.RouterOption{
		billing.WithRouterConfig(cfg.Billing),
		billing.WithRouterLogger(log),
		billing.WithRouterMetrics(metrics),
		billing.WithHealthChecks(
			httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
			httpserver.Check{Name: "redis", Fn: redis.Healthcheck(rdb)},
		),
	}
	if cfg.Billing.Archive.Enabled() {
		archive, err := billing.NewS3Archive(ctx, cfg.Billing.Archive)
		if err != nil {
			return err
		}
		routerOpts = append(routerOpts, billing.WithPayloadArchive(archive))
	}
	router := billing.NewRouter(svc, contacts, routerOpts...)

	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, router) })

	if cfg.RunWorker {
		sender, err := email.NewSender(cfg.Email, env, log)
		if err != nil {
			return err
		}
		notifier := billing.NewNotifier(sender, contacts, svc,
			billing.WithNotifierLogger(log),
			billing.WithDashboardURL(cfg.Billing.DashboardURL),
		)

		worker, err := queue.NewWorker(tasks,
			queue.WithQueues(subscription.QueueProviderCalls, subscription.QueueNotifications, subscription.QueueLifecycle),
			queue.WithWorkerConfig(cfg.Queue),
			queue.WithWorkerLogger(log),
			queue.WithDeadLetterHook(metrics.DeadLetterHook()),
		)
		if err != nil {
			return err
		}
		worker.RegisterHandlers(svc.TaskHandlers()...)
		worker.RegisterHandlers(notifier.TaskHandler())
		g.Go(worker.Run(ctx))
	}

	log.Info("billing service started",
		slog.String("addr", cfg.HTTP.Addr),
		slog.Int("providers", len(providers)),
		slog.Bool("worker", cfg.RunWorker),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
