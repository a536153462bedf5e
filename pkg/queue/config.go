package queue

import "time"

// Config holds the configuration for the task queue
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	MaxRetries         int8          `env:"QUEUE_MAX_RETRIES" envDefault:"8"`
	BackoffInitial     time.Duration `env:"QUEUE_BACKOFF_INITIAL" envDefault:"10s"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"1h"`
}

// Backoff returns the retry strategy described by the config.
func (c Config) Backoff() ExponentialBackoff {
	return ExponentialBackoff{
		InitialInterval: c.BackoffInitial,
		MaxInterval:     c.BackoffMax,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
