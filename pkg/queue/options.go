package queue

import (
	"log/slog"
	"time"

	"github.com/jdziat/strand-jobs/pkg/events"
)

// DefaultTerminalCacheSize is how many finished jobs GetJob serves from memory.
const DefaultTerminalCacheSize = 1024

type config struct {
	bus          *events.Bus
	logger       *slog.Logger
	storageRetry RetryConfig
	cacheSize    int
	now          func() time.Time
}

// Option configures a Queue.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithBus publishes lifecycle events on b instead of a private bus.
func WithBus(b *events.Bus) Option {
	return optionFunc(func(c *config) {
		c.bus = b
	})
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithStorageRetry sets the retry policy for terminal writes.
func WithStorageRetry(rc RetryConfig) Option {
	return optionFunc(func(c *config) {
		c.storageRetry = rc
	})
}

// WithTerminalCacheSize bounds the in-memory cache of finished jobs.
func WithTerminalCacheSize(n int) Option {
	return optionFunc(func(c *config) {
		c.cacheSize = n
	})
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}
