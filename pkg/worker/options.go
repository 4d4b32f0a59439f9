package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/strand-jobs/pkg/channel"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// DefaultScheduleTick is how often the scheduler checks for due schedules.
const DefaultScheduleTick = time.Second

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency     int // number of worker channels
	WorkerID        string
	EnableScheduler bool
	ScheduleTick    time.Duration
	// ShutdownTimeout bounds how long a running job may take to honour the
	// cancellation sent at shutdown. Zero waits indefinitely.
	ShutdownTimeout time.Duration
	Factory         channel.Factory
	Logger          *slog.Logger
}

// Concurrency sets the number of worker channels.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// WithScheduler enables the scheduler in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.EnableScheduler = enabled
	})
}

// WithScheduleTick sets the scheduler polling interval.
func WithScheduleTick(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.ScheduleTick = d
		}
	})
}

// WithShutdownTimeout sets how long shutdown waits for a cancelled job.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.ShutdownTimeout = d
	})
}

// WithChannelFactory replaces the in-process channel factory, for example
// with one that spawns isolated worker processes.
func WithChannelFactory(f channel.Factory) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Factory = f
	})
}

// WithWorkerID names the worker in logs.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}
