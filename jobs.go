// Package jobs is the background job engine of the strand knowledge base.
//
// It re-exports the public types of the pkg/ packages so that embedding
// applications need a single import.
//
// Basic usage:
//
//	db, _ := jobs.OpenDB(jobs.OpenOptions{Driver: "sqlite", DSN: "jobs.db"})
//	store := jobs.NewGormStorage(db)
//	store.Migrate(ctx)
//
//	reg := jobs.NewRegistry()
//	jobs.Register(reg, jobs.TypeExportMarkdown, func(ctx context.Context, p ExportPayload, progress jobs.ProgressFunc) (string, error) {
//	    progress(50, "rendering")
//	    return render(p)
//	})
//
//	q := jobs.New(store, reg)
//	q.Recover(ctx)
//	res, _ := q.Enqueue(ctx, jobs.TypeExportMarkdown, ExportPayload{Dir: "notes"})
//
//	w := jobs.NewWorker(q, jobs.Concurrency(2))
//	w.Start(ctx)
package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/events"
	"github.com/jdziat/strand-jobs/pkg/jobctx"
	"github.com/jdziat/strand-jobs/pkg/queue"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/schedule"
	"github.com/jdziat/strand-jobs/pkg/security"
	"github.com/jdziat/strand-jobs/pkg/storage"
	"github.com/jdziat/strand-jobs/pkg/worker"
)

type (
	// Job is the live record of one unit of work.
	Job = core.Job

	// StoredJob is the persisted form of a Job.
	StoredJob = core.StoredJob

	// JobStatus is the lifecycle state of a job.
	JobStatus = core.JobStatus

	// JobType names a kind of work.
	JobType = core.JobType

	// JobEvent is a lifecycle notification.
	JobEvent = core.JobEvent

	// EventType tags a JobEvent.
	EventType = core.EventType

	// JobFilter narrows a job listing.
	JobFilter = core.JobFilter

	// Storage is the persistence adapter.
	Storage = core.Storage

	// Queue orchestrates submission, dispatch and cancellation.
	Queue = queue.Queue

	// Option configures a Queue.
	Option = queue.Option

	// EnqueueResult is the answer to a submission.
	EnqueueResult = queue.EnqueueResult

	// RetryConfig controls how storage writes are retried.
	RetryConfig = queue.RetryConfig

	// ScheduledJob is a recurring submission.
	ScheduledJob = queue.ScheduledJob

	// Registry maps job types to processors.
	Registry = registry.Registry

	// Handler executes one job on raw JSON.
	Handler = registry.Handler

	// ProgressFunc reports progress from inside a handler.
	ProgressFunc = registry.ProgressFunc

	// Worker runs jobs from a Queue over worker channels.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// Schedule computes recurring run times.
	Schedule = schedule.Schedule

	// Subscription is one consumer of job events.
	Subscription = events.Subscription

	// GormStorage stores jobs with GORM.
	GormStorage = storage.GormStorage

	// MemoryStorage stores jobs in process.
	MemoryStorage = storage.MemoryStorage

	// OpenOptions selects a database for OpenDB.
	OpenOptions = storage.OpenOptions
)

// Status constants
const (
	StatusPending   = core.StatusPending
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
)

// Event constants
const (
	EventCreated   = core.EventCreated
	EventStarted   = core.EventStarted
	EventProgress  = core.EventProgress
	EventCompleted = core.EventCompleted
	EventFailed    = core.EventFailed
	EventCancelled = core.EventCancelled
	EventDuplicate = core.EventDuplicate
)

// Job types
const (
	TypeGenerateFlashcards  = core.TypeGenerateFlashcards
	TypeGenerateQuiz        = core.TypeGenerateQuiz
	TypeGenerateGlossary    = core.TypeGenerateGlossary
	TypeGenerateSummary     = core.TypeGenerateSummary
	TypeGenerateSuggestions = core.TypeGenerateSuggestions
	TypeReindexStrand       = core.TypeReindexStrand
	TypeReindexBlocks       = core.TypeReindexBlocks
	TypeExportMarkdown      = core.TypeExportMarkdown
	TypeExportZip           = core.TypeExportZip
	TypeExportPDF           = core.TypeExportPDF
)

// Security limits
const (
	MaxPayloadSize        = security.MaxPayloadSize
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// New creates a Queue over storage dispatching to the processors in reg.
func New(s Storage, reg *Registry, opts ...Option) *Queue {
	return queue.New(s, reg, opts...)
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return registry.New()
}

// Register installs a typed processor for t. Payloads are validated at
// submission.
func Register[P, R any](reg *Registry, t JobType, fn func(ctx context.Context, payload P, progress ProgressFunc) (R, error)) error {
	return registry.Register(reg, t, registry.TypedHandler[P, R](fn))
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, opts ...WorkerOption) *Worker {
	return worker.NewWorker(q, opts...)
}

// OpenDB connects to a SQLite or PostgreSQL database.
func OpenDB(opts OpenOptions) (*gorm.DB, error) {
	return storage.Open(opts)
}

// NewGormStorage creates a GORM-backed job store.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewMemoryStorage creates an in-process job store.
func NewMemoryStorage() *MemoryStorage {
	return storage.NewMemoryStorage()
}

// Queue options

// WithStorageRetry sets how storage writes are retried.
func WithStorageRetry(rc RetryConfig) Option {
	return queue.WithStorageRetry(rc)
}

// WithTerminalCacheSize sets how many finished jobs stay readable from memory.
func WithTerminalCacheSize(n int) Option {
	return queue.WithTerminalCacheSize(n)
}

// Worker options

// Concurrency sets the number of worker channels.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WithScheduler enables recurring submissions in the worker.
func WithScheduler(enabled bool) WorkerOption {
	return worker.WithScheduler(enabled)
}

// WithShutdownTimeout bounds how long a stopping worker waits for a
// cancelled job before failing it.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return worker.WithShutdownTimeout(d)
}

// Schedules

// Every runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (Schedule, error) {
	return schedule.ParseCron(expr)
}

// Handler context

// JobFromContext returns the running job, or nil outside a handler.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the running job's id, or "".
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// Checkpoint returns ErrCancelled once cancellation of the running job has
// been requested. Long handlers call it between units of work.
func Checkpoint(ctx context.Context) error {
	return jobctx.Checkpoint(ctx)
}
