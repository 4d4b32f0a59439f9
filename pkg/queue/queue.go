package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/dedup"
	"github.com/jdziat/strand-jobs/pkg/events"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// entry is the queue's view of one active job. Lock order is Queue.mu
// before entry.mu; events for a job are published while holding its
// entry.mu so subscribers see them in transition order.
type entry struct {
	mu              sync.Mutex
	job             *core.Job
	key             dedup.Key
	canceller       func()
	cancelRequested bool
}

// EnqueueResult reports the outcome of a submission.
type EnqueueResult = core.EnqueueResult

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending     int   `json:"pending"`
	Running     int   `json:"running"`
	InFlight    int   `json:"in_flight"`
	Cached      int   `json:"cached_terminal"`
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"events_published"`
}

// Queue is the job orchestrator.
type Queue struct {
	storage  core.Storage
	registry *registry.Registry
	bus      *events.Bus
	ownsBus  bool
	logger   *slog.Logger
	retry    RetryConfig
	now      func() time.Time

	mu        sync.Mutex
	closed    bool
	pending   []*entry
	entries   map[string]*entry
	dedup     *dedup.Index
	running   int
	available chan struct{}
	terminal  *lru.Cache[string, *core.Job]
	schedules map[string]*ScheduledJob
}

// New creates a queue persisting to storage and executing processors from reg.
func New(storage core.Storage, reg *registry.Registry, opts ...Option) *Queue {
	cfg := config{
		logger:       slog.Default(),
		storageRetry: DefaultRetryConfig(),
		cacheSize:    DefaultTerminalCacheSize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.cacheSize < 1 {
		cfg.cacheSize = 1
	}

	q := &Queue{
		storage:   storage,
		registry:  reg,
		bus:       cfg.bus,
		logger:    cfg.logger,
		retry:     cfg.storageRetry,
		now:       cfg.now,
		entries:   make(map[string]*entry),
		dedup:     dedup.NewIndex(),
		available: make(chan struct{}),
		schedules: make(map[string]*ScheduledJob),
	}
	if q.bus == nil {
		q.bus = events.NewBus(events.WithLogger(cfg.logger))
		q.ownsBus = true
	}
	// Only fails for a non-positive size.
	q.terminal, _ = lru.New[string, *core.Job](cfg.cacheSize)
	return q
}

// Registry returns the processor registry.
func (q *Queue) Registry() *registry.Registry { return q.registry }

// Bus returns the event bus the queue publishes on.
func (q *Queue) Bus() *events.Bus { return q.bus }

// Storage returns the persistence adapter.
func (q *Queue) Storage() core.Storage { return q.storage }

// Enqueue submits a job. A submission whose type and canonical payload match
// an in-flight job returns that job's id with Duplicate set and writes
// nothing. Enqueue never waits for execution.
func (q *Queue) Enqueue(ctx context.Context, t core.JobType, payload any) (EnqueueResult, error) {
	raw, key, err := q.prepare(t, payload)
	if err != nil {
		return EnqueueResult{}, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return EnqueueResult{}, core.ErrQueueClosed
	}

	if id, ok := q.dedup.Lookup(key); ok {
		e := q.entries[id]
		e.mu.Lock()
		q.mu.Unlock()
		q.publish(core.EventDuplicate, e.job)
		e.mu.Unlock()
		q.logger.Debug("duplicate submission collapsed", "job_id", id, "type", t)
		return EnqueueResult{ID: id, Duplicate: true}, nil
	}

	job := &core.Job{
		ID:          uuid.New().String(),
		Type:        t,
		Status:      core.StatusPending,
		Payload:     raw,
		Fingerprint: key.Fingerprint,
		CreatedAt:   q.now().UTC(),
	}
	if err := q.storage.SaveJob(ctx, core.ToStored(job)); err != nil {
		q.mu.Unlock()
		return EnqueueResult{}, fmt.Errorf("jobs: failed to enqueue: %w", err)
	}

	e := &entry{job: job, key: key}
	q.entries[job.ID] = e
	q.dedup.Add(key, job.ID)
	q.pending = append(q.pending, e)
	q.signalLocked()

	e.mu.Lock()
	q.mu.Unlock()
	q.publish(core.EventCreated, job)
	e.mu.Unlock()

	q.logger.Debug("job enqueued", "job_id", job.ID, "type", t)
	return EnqueueResult{ID: job.ID}, nil
}

// EnqueueID is Enqueue returning only the job id.
func (q *Queue) EnqueueID(ctx context.Context, t core.JobType, payload any) (string, error) {
	res, err := q.Enqueue(ctx, t, payload)
	return res.ID, err
}

// prepare runs every synchronous submission check and computes the dedup key.
func (q *Queue) prepare(t core.JobType, payload any) (json.RawMessage, dedup.Key, error) {
	if !core.KnownJobType(t) {
		return nil, dedup.Key{}, fmt.Errorf("%w: %q", core.ErrUnknownJobType, t)
	}
	proc, ok := q.registry.Resolve(t)
	if !ok {
		return nil, dedup.Key{}, fmt.Errorf("%w: %q", core.ErrNoProcessor, t)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, dedup.Key{}, err
	}
	if err := security.ValidatePayloadSize(raw); err != nil {
		return nil, dedup.Key{}, err
	}
	if proc.Validate != nil {
		if err := proc.Validate(raw); err != nil {
			if !errors.Is(err, core.ErrInvalidPayload) {
				err = fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
			}
			return nil, dedup.Key{}, err
		}
	}

	fp, err := fingerprint(proc, t, raw)
	if err != nil {
		return nil, dedup.Key{}, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}
	return raw, dedup.Key{Type: t, Fingerprint: fp}, nil
}

// fingerprint hashes the processor's identity of raw, or raw itself when
// the processor defines none.
func fingerprint(proc *registry.Processor, t core.JobType, raw json.RawMessage) (string, error) {
	ident := raw
	if proc != nil && proc.Identity != nil {
		var err error
		if ident, err = proc.Identity(raw); err != nil {
			return "", err
		}
	}
	return dedup.Fingerprint(t, ident)
}

func encodePayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", core.ErrInvalidPayload)
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// GetJob returns a snapshot of the job. Active and recently finished jobs are
// served from memory; anything else is loaded from storage.
func (q *Queue) GetJob(ctx context.Context, id string) (*core.Job, error) {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil {
		if job, ok := q.terminal.Get(id); ok {
			q.mu.Unlock()
			return job.Clone(), nil
		}
	}
	q.mu.Unlock()

	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.job.Clone(), nil
	}

	rec, err := q.storage.LoadJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("jobs: load %s: %w", id, err)
	}
	if rec == nil {
		return nil, core.ErrJobNotFound
	}
	return core.FromStored(rec)
}

// ListJobs returns stored jobs matching filter when the storage supports
// listing.
func (q *Queue) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	lister, ok := q.storage.(core.Lister)
	if !ok {
		return nil, errors.New("jobs: storage does not support listing")
	}
	recs, err := lister.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Job, 0, len(recs))
	for _, rec := range recs {
		job, err := core.FromStored(rec)
		if err != nil {
			q.logger.Warn("skipping corrupt job record", "job_id", rec.ID, "error", err)
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Cancel stops a job. A pending job is cancelled immediately and its
// processor never runs. A running job is asked to stop cooperatively and
// reaches its terminal state when the processor returns. Finished jobs
// return ErrNotCancellable.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil {
		_, cached := q.terminal.Get(id)
		q.mu.Unlock()
		if cached {
			return core.ErrNotCancellable
		}
		rec, err := q.storage.LoadJob(ctx, id)
		if err != nil {
			return fmt.Errorf("jobs: load %s: %w", id, err)
		}
		if rec == nil {
			return core.ErrJobNotFound
		}
		return core.ErrNotCancellable
	}

	e.mu.Lock()
	switch e.job.Status {
	case core.StatusPending:
		q.removePendingLocked(e)
		q.retireLocked(e, core.StatusCancelled, nil, "")
		q.mu.Unlock()
		q.persistTerminal(ctx, e.job)
		q.publish(core.EventCancelled, e.job)
		e.mu.Unlock()
		q.logger.Info("pending job cancelled", "job_id", id, "type", e.job.Type)
		return nil

	case core.StatusRunning:
		q.mu.Unlock()
		fn := e.canceller
		first := !e.cancelRequested
		e.cancelRequested = true
		e.mu.Unlock()
		if fn != nil && first {
			fn()
		}
		q.logger.Info("cancellation requested", "job_id", id)
		return nil
	}

	q.mu.Unlock()
	e.mu.Unlock()
	return core.ErrNotCancellable
}

func (q *Queue) removePendingLocked(e *entry) {
	for i, p := range q.pending {
		if p == e {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// retireLocked applies a terminal transition. Callers hold q.mu and e.mu.
// The dedup identity is released here, before the terminal event goes out.
func (q *Queue) retireLocked(e *entry, status core.JobStatus, result json.RawMessage, errMsg string) {
	now := q.now().UTC()
	if e.job.Status == core.StatusRunning {
		q.running--
	}
	e.job.Status = status
	e.job.CompletedAt = &now
	switch status {
	case core.StatusCompleted:
		e.job.Progress = 100
		e.job.Result = result
	case core.StatusFailed:
		e.job.Error = errMsg
	}
	e.canceller = nil

	delete(q.entries, e.job.ID)
	q.dedup.Remove(e.key, e.job.ID)
	q.terminal.Add(e.job.ID, e.job.Clone())
}

// persistTerminal writes a terminal record, retrying transient failures.
// The in-memory state stays terminal whatever the outcome.
func (q *Queue) persistTerminal(ctx context.Context, job *core.Job) {
	ctx = context.WithoutCancel(ctx)
	rec := core.ToStored(job)
	err := retryWithBackoff(ctx, q.retry, func() error {
		return q.storage.SaveJob(ctx, rec)
	})
	if err != nil {
		q.logger.Error("failed to persist terminal job state after retries",
			"job_id", job.ID, "status", job.Status, "error", err)
	}
}

func (q *Queue) publish(t core.EventType, job *core.Job) {
	q.bus.Publish(core.JobEvent{Type: t, Job: job.Clone(), Timestamp: q.now().UTC()})
}

// signalLocked wakes every dispatcher blocked in Next.
func (q *Queue) signalLocked() {
	close(q.available)
	q.available = make(chan struct{})
}

// Subscribe returns a channel-backed subscription to lifecycle events.
func (q *Queue) Subscribe(filters ...events.Filter) *events.Subscription {
	return q.bus.Subscribe(filters...)
}

// SubscribeFunc invokes fn for every matching event, in order.
func (q *Queue) SubscribeFunc(fn func(core.JobEvent), filters ...events.Filter) *events.Subscription {
	return q.bus.SubscribeFunc(fn, filters...)
}

// Stats returns current queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	s := Stats{
		Pending:  len(q.pending),
		Running:  q.running,
		InFlight: q.dedup.Len(),
		Cached:   q.terminal.Len(),
	}
	q.mu.Unlock()
	s.Subscribers = q.bus.Subscribers()
	s.Published = q.bus.Published()
	return s
}

// Close stops accepting submissions and releases dispatchers blocked in
// Next. Running jobs may still report progress and finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.signalLocked()
	q.mu.Unlock()
	return nil
}

// Shutdown closes the queue and, when the queue created its own bus, ends
// every subscription on it.
func (q *Queue) Shutdown() {
	_ = q.Close()
	if q.ownsBus {
		q.bus.Close()
	}
}
