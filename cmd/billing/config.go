package main

import (
	"github.com/dmitrymomot/jobboard/pkg/email"
	"github.com/dmitrymomot/jobboard/pkg/httpserver"
	"github.com/dmitrymomot/jobboard/pkg/lock"
	"github.com/dmitrymomot/jobboard/pkg/logger"
	"github.com/dmitrymomot/jobboard/pkg/pg"
	"github.com/dmitrymomot/jobboard/pkg/queue"
	"github.com/dmitrymomot/jobboard/pkg/redis"
	"github.com/dmitrymomot/jobboard/svc/billing"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billing"`
	RunWorker   bool   `env:"BILLING_RUN_WORKER" envDefault:"true"`

	Log     logger.Config
	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Lock    lock.Config
	Queue   queue.Config
	Email   email.Config
	Billing billing.Config
}

func (c appConfig) Validate() error {
	return c.Billing.Validate()
}
