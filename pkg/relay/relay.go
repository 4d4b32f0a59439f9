// Package relay mirrors job lifecycle events onto a Redis stream so that
// processes other than the engine can follow jobs.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/events"
)

const (
	DefaultStream        = "strand-jobs:events"
	DefaultMaxLen        = 10000
	DefaultProgressRate  = 5.0
	DefaultProgressBurst = 10
	defaultWriteTimeout  = 2 * time.Second
)

// Config configures a RedisRelay. Zero values fall back to the defaults
// above.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Stream   string `mapstructure:"stream"`
	// MaxLen caps the stream length (approximate trimming). Zero uses
	// DefaultMaxLen; negative disables trimming.
	MaxLen int64 `mapstructure:"max_len"`
	// ProgressRate limits progress events per job per second.
	ProgressRate  float64       `mapstructure:"progress_rate" validate:"gte=0"`
	ProgressBurst int           `mapstructure:"progress_burst" validate:"gte=0"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	Logger        *slog.Logger  `mapstructure:"-"`
}

func (c *Config) setDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.MaxLen == 0 {
		c.MaxLen = DefaultMaxLen
	}
	if c.ProgressRate <= 0 {
		c.ProgressRate = DefaultProgressRate
	}
	if c.ProgressBurst <= 0 {
		c.ProgressBurst = DefaultProgressBurst
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RedisRelay writes every JobEvent it receives to a Redis stream with XADD.
// Progress events are rate limited per job; lifecycle events never are.
// Write failures are logged and counted, never returned to the publisher.
type RedisRelay struct {
	client     *redis.Client
	ownsClient bool
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	sub      *events.Subscription

	relayed   atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*RedisRelay, error) {
	if cfg.Addr == "" {
		return nil, errors.New("relay: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("relay: ping redis: %w", err)
	}
	r := New(client, cfg)
	r.ownsClient = true
	return r, nil
}

// New wraps an existing client. The caller keeps ownership of client.
func New(client *redis.Client, cfg Config) *RedisRelay {
	cfg.setDefaults()
	return &RedisRelay{
		client:   client,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "relay", "stream", cfg.Stream),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Attach subscribes the relay to bus. Calling Attach again moves the relay
// to the new bus.
func (r *RedisRelay) Attach(bus *events.Bus, filters ...events.Filter) {
	sub := bus.SubscribeFunc(r.handle, filters...)
	r.mu.Lock()
	old := r.sub
	r.sub = sub
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (r *RedisRelay) handle(e core.JobEvent) {
	if !r.allow(e) {
		r.throttled.Add(1)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()
	if err := r.Publish(ctx, e); err != nil {
		r.failed.Add(1)
		r.logger.Warn("failed to relay job event", "job_id", e.JobID(), "event", e.Type, "error", err)
	}
}

// allow applies the per-job progress limit and forgets a job's limiter once
// it reaches a terminal state.
func (r *RedisRelay) allow(e core.JobEvent) bool {
	id := e.JobID()
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Type {
	case core.EventProgress:
		l, ok := r.limiters[id]
		if !ok {
			l = rate.NewLimiter(rate.Limit(r.cfg.ProgressRate), r.cfg.ProgressBurst)
			r.limiters[id] = l
		}
		return l.Allow()
	case core.EventCompleted, core.EventFailed, core.EventCancelled:
		delete(r.limiters, id)
	}
	return true
}

// Publish writes e to the stream unconditionally.
func (r *RedisRelay) Publish(ctx context.Context, e core.JobEvent) error {
	if e.Job == nil {
		return errors.New("relay: event without job")
	}
	data, err := json.Marshal(core.ToStored(e.Job))
	if err != nil {
		return fmt.Errorf("relay: encode job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{
			"event":     string(e.Type),
			"job_id":    e.Job.ID,
			"job_type":  string(e.Job.Type),
			"status":    string(e.Job.Status),
			"progress":  e.Job.Progress,
			"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
			"job":       string(data),
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("relay: xadd: %w", err)
	}
	r.relayed.Add(1)
	return nil
}

// Entry is one relayed event as read back from the stream.
type Entry struct {
	StreamID  string          `json:"streamId"`
	Event     core.EventType  `json:"event"`
	JobID     string          `json:"jobId"`
	JobType   core.JobType    `json:"jobType"`
	Status    core.JobStatus  `json:"status"`
	Progress  int             `json:"progress"`
	Timestamp time.Time       `json:"timestamp"`
	Job       *core.StoredJob `json:"job"`
}

// Recent returns up to count entries, oldest first.
func (r *RedisRelay) Recent(ctx context.Context, count int64) ([]Entry, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.cfg.Stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("relay: read stream: %w", err)
	}
	out := make([]Entry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		entry, err := decodeEntry(msgs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func decodeEntry(m redis.XMessage) (Entry, error) {
	str := func(k string) string {
		s, _ := m.Values[k].(string)
		return s
	}
	e := Entry{
		StreamID: m.ID,
		Event:    core.EventType(str("event")),
		JobID:    str("job_id"),
		JobType:  core.JobType(str("job_type")),
		Status:   core.JobStatus(str("status")),
	}
	if p, err := strconv.Atoi(str("progress")); err == nil {
		e.Progress = p
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		e.Timestamp = ts
	}
	if raw := str("job"); raw != "" {
		var job core.StoredJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return Entry{}, fmt.Errorf("relay: decode entry %s: %w", m.ID, err)
		}
		e.Job = &job
	}
	return e, nil
}

// Stats reports relay counters.
type Stats struct {
	Relayed   int64 `json:"relayed"`
	Throttled int64 `json:"throttled"`
	Failed    int64 `json:"failed"`
	Tracked   int   `json:"tracked_jobs"`
}

// Stream returns the Redis stream key events are written to.
func (r *RedisRelay) Stream() string { return r.cfg.Stream }

func (r *RedisRelay) Stats() Stats {
	r.mu.Lock()
	tracked := len(r.limiters)
	r.mu.Unlock()
	return Stats{
		Relayed:   r.relayed.Load(),
		Throttled: r.throttled.Load(),
		Failed:    r.failed.Load(),
		Tracked:   tracked,
	}
}

// Close detaches from the bus and, when the relay dialled its own client,
// closes it.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	if r.ownsClient {
		return r.client.Close()
	}
	return nil
}
