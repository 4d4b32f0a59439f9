package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/dedup"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// Outcome is what a worker reports when a processor returns.
type Outcome struct {
	Result    json.RawMessage
	Err       error
	Cancelled bool // the processor stopped after observing cancellation
}

// Next blocks until a pending job is available, moves the oldest one to
// running and returns a snapshot of it. It returns ErrQueueClosed once the
// queue is closed and ctx.Err() when ctx is done.
func (q *Queue) Next(ctx context.Context) (*core.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, core.ErrQueueClosed
		}
		if len(q.pending) > 0 {
			e := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			return q.start(ctx, e), nil
		}
		wait := q.available
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// start transitions e to running. Called with q.mu held; releases it.
func (q *Queue) start(ctx context.Context, e *entry) *core.Job {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := q.now().UTC()
	e.job.Status = core.StatusRunning
	e.job.StartedAt = &now
	q.running++
	q.mu.Unlock()

	if err := q.storage.SaveJob(context.WithoutCancel(ctx), core.ToStored(e.job)); err != nil {
		q.logger.Error("failed to persist job start", "job_id", e.job.ID, "error", err)
	}
	q.publish(core.EventStarted, e.job)
	q.logger.Debug("job started", "job_id", e.job.ID, "type", e.job.Type)
	return e.job.Clone()
}

// AttachCanceller binds a running job to the function that stops it on its
// worker channel. A cancellation requested before the bind is delivered
// immediately.
func (q *Queue) AttachCanceller(id string, fn func()) {
	e := q.lookup(id)
	if e == nil || fn == nil {
		return
	}
	e.mu.Lock()
	if e.job.Status != core.StatusRunning {
		e.mu.Unlock()
		return
	}
	e.canceller = fn
	requested := e.cancelRequested
	e.mu.Unlock()

	if requested {
		fn()
	}
}

// CancelRequested reports whether Cancel was called for a running job.
func (q *Queue) CancelRequested(id string) bool {
	e := q.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

func (q *Queue) lookup(id string) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries[id]
}

// ReportProgress records progress for a running job and replaces its
// message, empty or not. Values are clamped to [0,100]; a value lower than
// the current progress and updates for jobs that are not running are
// ignored.
func (q *Queue) ReportProgress(ctx context.Context, id string, pct int, msg string) {
	e := q.lookup(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status != core.StatusRunning {
		return
	}
	pct = security.ClampProgress(pct)
	if pct < e.job.Progress {
		return
	}
	e.job.Progress = pct
	e.job.Message = security.SanitizeMessage(msg)

	if err := q.storage.SaveJob(context.WithoutCancel(ctx), core.ToStored(e.job)); err != nil {
		q.logger.Warn("failed to persist progress", "job_id", id, "progress", pct, "error", err)
	}
	q.publish(core.EventProgress, e.job)
}

// Finish applies the single terminal transition of a running job.
//
// A nil error completes the job, even when a cancellation raced in after
// the processor returned. An error observed together with a cancellation
// request, or one wrapping ErrCancelled or context.Canceled, cancels it.
// Every other error fails it with a sanitized message.
func (q *Queue) Finish(ctx context.Context, id string, out Outcome) error {
	q.mu.Lock()
	e := q.entries[id]
	if e == nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is not running", core.ErrJobNotFound, id)
	}
	e.mu.Lock()
	if e.job.Status != core.StatusRunning {
		q.mu.Unlock()
		e.mu.Unlock()
		return fmt.Errorf("jobs: finish %s: job is %s", id, e.job.Status)
	}

	status, result, errMsg := q.classify(e, out)
	q.retireLocked(e, status, result, errMsg)
	q.mu.Unlock()

	q.persistTerminal(ctx, e.job)
	ev, _ := core.TerminalEvent(status)
	q.publish(ev, e.job)
	e.mu.Unlock()

	if status == core.StatusFailed {
		q.logger.Warn("job failed", "job_id", id, "type", e.job.Type, "error", errMsg)
	} else {
		q.logger.Info("job finished", "job_id", id, "type", e.job.Type, "status", status)
	}
	return nil
}

func (q *Queue) classify(e *entry, out Outcome) (core.JobStatus, json.RawMessage, string) {
	switch {
	case out.Err == nil && !out.Cancelled:
		result := out.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return core.StatusCompleted, result, ""
	case out.Cancelled,
		errors.Is(out.Err, core.ErrCancelled),
		errors.Is(out.Err, context.Canceled),
		out.Err != nil && e.cancelRequested && !errors.Is(out.Err, core.ErrTimedOut):
		return core.StatusCancelled, nil, ""
	default:
		msg := security.SanitizeErrorMessage(out.Err.Error())
		if msg == "" {
			msg = "job failed"
		}
		return core.StatusFailed, nil, msg
	}
}

// RecoverReport summarizes startup reconciliation.
type RecoverReport struct {
	Requeued    int `json:"requeued"`
	Interrupted int `json:"interrupted"`
	Collapsed   int `json:"collapsed"`
	Skipped     int `json:"skipped"`
}

// Recover rebuilds the pending FIFO and the dedup index from storage. Pending
// records are re-queued in creation order; a pending record whose identity
// is already owned by an earlier one is cancelled. Records left running by a
// crash cannot be resumed; they are failed with ErrInterrupted.
func (q *Queue) Recover(ctx context.Context) (RecoverReport, error) {
	var report RecoverReport
	recs, err := q.storage.ListNonTerminal(ctx)
	if err != nil {
		return report, fmt.Errorf("jobs: recover: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})

	for _, rec := range recs {
		job, err := core.FromStored(rec)
		if err != nil {
			q.logger.Error("skipping corrupt job record", "job_id", rec.ID, "error", err)
			report.Skipped++
			continue
		}

		switch job.Status {
		case core.StatusPending:
			switch q.requeue(ctx, job) {
			case requeued:
				report.Requeued++
			case collapsed:
				report.Collapsed++
			default:
				report.Skipped++
			}
		case core.StatusRunning:
			q.interrupt(ctx, job)
			report.Interrupted++
		default:
			report.Skipped++
		}
	}

	q.logger.Info("queue recovered",
		"requeued", report.Requeued,
		"interrupted", report.Interrupted,
		"collapsed", report.Collapsed,
		"skipped", report.Skipped)
	return report, nil
}

type requeueResult int

const (
	requeued requeueResult = iota
	collapsed
	skipped
)

func (q *Queue) requeue(ctx context.Context, job *core.Job) requeueResult {
	if job.Fingerprint == "" {
		proc, _ := q.registry.Resolve(job.Type)
		fp, err := fingerprint(proc, job.Type, job.Payload)
		if err != nil {
			fp, err = dedup.Fingerprint(job.Type, job.Payload)
		}
		if err != nil {
			q.logger.Error("cannot fingerprint recovered job", "job_id", job.ID, "error", err)
			return skipped
		}
		job.Fingerprint = fp
	}
	key := dedup.Key{Type: job.Type, Fingerprint: job.Fingerprint}

	q.mu.Lock()
	if _, exists := q.entries[job.ID]; exists {
		q.mu.Unlock()
		return skipped
	}
	if owner, taken := q.dedup.Lookup(key); taken {
		now := q.now().UTC()
		job.Status = core.StatusCancelled
		job.CompletedAt = &now
		q.terminal.Add(job.ID, job.Clone())
		q.mu.Unlock()

		q.persistTerminal(ctx, job)
		q.publish(core.EventCancelled, job)
		q.logger.Warn("recovered job collapsed onto an earlier job", "job_id", job.ID, "owner", owner)
		return collapsed
	}
	e := &entry{job: job, key: key}
	q.entries[job.ID] = e
	q.dedup.Add(key, job.ID)
	q.pending = append(q.pending, e)
	q.signalLocked()
	q.mu.Unlock()
	return requeued
}

func (q *Queue) interrupt(ctx context.Context, job *core.Job) {
	q.mu.Lock()
	if _, exists := q.entries[job.ID]; exists {
		q.mu.Unlock()
		return
	}
	now := q.now().UTC()
	job.Status = core.StatusFailed
	job.Error = core.ErrInterrupted.Error()
	job.CompletedAt = &now
	q.terminal.Add(job.ID, job.Clone())
	q.mu.Unlock()

	q.persistTerminal(ctx, job)
	q.publish(core.EventFailed, job)
	q.logger.Warn("job interrupted by restart", "job_id", job.ID, "type", job.Type)
}
