package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/strand-jobs/pkg/channel"
	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/queue"
)

const (
	factoryBackoff = time.Second
	cancelSendWait = 5 * time.Second
)

// Worker processes jobs from the queue.
type Worker struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger

	busy     atomic.Int64
	restarts atomic.Int64
}

// NewWorker creates a new worker for the given queue. Without a channel
// factory it runs processors in-process from the queue's registry.
func NewWorker(q *queue.Queue, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:  1,
		WorkerID:     uuid.New().String(),
		ScheduleTick: DefaultScheduleTick,
	}
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if config.Factory == nil {
		config.Factory = channel.LocalFactory(q.Registry())
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		queue:  q,
		config: config,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Busy returns the number of channels currently running a job.
func (w *Worker) Busy() int { return int(w.busy.Load()) }

// Restarts returns how many channels were replaced after dying.
func (w *Worker) Restarts() int { return int(w.restarts.Load()) }

// Start runs the dispatch loops until ctx is cancelled or the queue is
// closed. On cancellation every running job is asked to stop and Start
// returns once each has reached a terminal state.
func (w *Worker) Start(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var sched sync.WaitGroup
	if w.config.EnableScheduler {
		sched.Add(1)
		go func() {
			defer sched.Done()
			w.runScheduler(runCtx)
		}()
	}

	var slots sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		slots.Add(1)
		go func(slot int) {
			defer slots.Done()
			w.runSlot(runCtx, slot)
		}(i)
	}

	w.logger.Info("worker started", "channels", w.config.Concurrency, "scheduler", w.config.EnableScheduler)
	slots.Wait()
	stop()
	sched.Wait()
	w.logger.Info("worker stopped")
	return ctx.Err()
}

func (w *Worker) runSlot(ctx context.Context, slot int) {
	log := w.logger.With("slot", slot)
	var ch channel.Channel
	defer func() {
		if ch != nil {
			_ = ch.Close()
		}
	}()

	for {
		if ch == nil {
			c, err := w.config.Factory()
			if err != nil {
				log.Error("failed to open worker channel", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(factoryBackoff):
				}
				continue
			}
			ch = c
		}

		job, err := w.queue.Next(ctx)
		if err != nil {
			if !errors.Is(err, core.ErrQueueClosed) && ctx.Err() == nil {
				log.Error("dequeue failed", "error", err)
			}
			return
		}

		w.busy.Add(1)
		healthy := w.dispatch(ctx, ch, job, log)
		w.busy.Add(-1)

		if !healthy {
			// The processor may still be unwinding; do not block the slot on it.
			go ch.Close()
			ch = nil
			w.restarts.Add(1)
			log.Warn("worker channel replaced", "job_id", job.ID)
		}
	}
}

// dispatch runs one job on ch and applies its terminal transition. It
// reports whether ch can take another job.
func (w *Worker) dispatch(ctx context.Context, ch channel.Channel, job *core.Job, log *slog.Logger) bool {
	log = log.With("job_id", job.ID, "type", job.Type)
	bg := context.WithoutCancel(ctx)

	if err := ch.Send(bg, channel.Start(job)); err != nil {
		w.finish(bg, job.ID, queue.Outcome{Err: fmt.Errorf("dispatch: %w", err)}, log)
		return false
	}

	sendCancel := func() {
		sctx, cancel := context.WithTimeout(bg, cancelSendWait)
		defer cancel()
		if err := ch.Send(sctx, channel.Cancel(job.ID)); err != nil {
			log.Warn("failed to deliver cancellation", "error", err)
		}
	}
	w.queue.AttachCanceller(job.ID, func() { go sendCancel() })

	shutdown := ctx.Done()
	var deadline <-chan time.Time
	msgs := ch.Messages()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				w.finish(bg, job.ID, queue.Outcome{Err: core.ErrChannelClosed}, log)
				return false
			}
			if m.JobID != job.ID {
				log.Warn("dropping message for another job", "message_job_id", m.JobID, "kind", m.Kind)
				continue
			}
			switch m.Kind {
			case channel.KindProgress:
				w.queue.ReportProgress(bg, job.ID, m.Progress, m.Text)
			case channel.KindComplete:
				w.finish(bg, job.ID, queue.Outcome{Result: m.Result}, log)
				return true
			case channel.KindError:
				w.finish(bg, job.ID, outcomeFor(m), log)
				return m.Code != channel.CodeLost
			default:
				log.Warn("unexpected message from worker channel", "kind", m.Kind)
			}

		case <-shutdown:
			shutdown = nil
			log.Info("stopping running job for shutdown")
			go sendCancel()
			if w.config.ShutdownTimeout > 0 {
				timer := time.NewTimer(w.config.ShutdownTimeout)
				defer timer.Stop()
				deadline = timer.C
			}

		case <-deadline:
			w.finish(bg, job.ID, queue.Outcome{
				Err: fmt.Errorf("%w: did not stop within %s", core.ErrInterrupted, w.config.ShutdownTimeout),
			}, log)
			return false
		}
	}
}

func (w *Worker) finish(ctx context.Context, id string, out queue.Outcome, log *slog.Logger) {
	if err := w.queue.Finish(ctx, id, out); err != nil {
		log.Error("failed to finish job", "error", err)
	}
}

// remoteError carries the message text reported by a channel together with
// the sentinel its code maps to.
type remoteError struct {
	msg   string
	cause error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.cause }

func outcomeFor(m channel.Message) queue.Outcome {
	msg := m.Error
	switch m.Code {
	case channel.CodeCancelled:
		return queue.Outcome{Err: &remoteError{msg: msg, cause: core.ErrCancelled}, Cancelled: true}
	case channel.CodeTimeout:
		if msg == "" {
			msg = core.ErrTimedOut.Error()
		}
		return queue.Outcome{Err: &remoteError{msg: msg, cause: core.ErrTimedOut}}
	case channel.CodeNoHandler:
		if msg == "" {
			msg = core.ErrNoProcessor.Error()
		}
		return queue.Outcome{Err: &remoteError{msg: msg, cause: core.ErrNoProcessor}}
	case channel.CodeLost:
		return queue.Outcome{Err: &remoteError{msg: msg, cause: core.ErrChannelClosed}}
	default:
		return queue.Outcome{Err: errors.New(msg)}
	}
}

func (w *Worker) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(w.config.ScheduleTick)
	defer ticker.Stop()

	started := time.Now()
	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, sj := range w.queue.ScheduledJobs() {
				last, ok := lastRun[sj.Name]
				if !ok {
					last = started
				}
				nextRun := sj.Schedule.Next(last)
				if now.Before(nextRun) {
					continue
				}
				res, err := w.queue.Fire(ctx, sj)
				if err != nil {
					w.logger.Error("failed to enqueue scheduled job", "name", sj.Name, "error", err)
					continue
				}
				lastRun[sj.Name] = now
				w.logger.Debug("scheduled job fired", "name", sj.Name, "job_id", res.ID, "duplicate", res.Duplicate)
			}
		}
	}
}
