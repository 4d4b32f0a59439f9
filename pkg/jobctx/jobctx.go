// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"

	"github.com/jdziat/strand-jobs/pkg/core"
	intctx "github.com/jdziat/strand-jobs/pkg/internal/context"
)

// JobFromContext returns a copy of the current Job, or nil if not in a job handler.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return nil
	}
	return jc.Job.Clone()
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Job == nil {
		return ""
	}
	return jc.Job.ID
}

// CancelRequested reports whether the orchestrator asked the running job to stop.
func CancelRequested(ctx context.Context) bool {
	if jc := intctx.GetJobContext(ctx); jc != nil && jc.CancelRequested() {
		return true
	}
	return ctx.Err() != nil
}

// Checkpoint is the cooperative cancellation point for multi-stage handlers.
// It returns an error wrapping core.ErrCancelled once a stop was requested,
// or the context error when the run's deadline expired.
func Checkpoint(ctx context.Context) error {
	if jc := intctx.GetJobContext(ctx); jc != nil && jc.CancelRequested() {
		return core.ErrCancelled
	}
	switch err := ctx.Err(); err {
	case nil:
		return nil
	case context.Canceled:
		return core.ErrCancelled
	default:
		return err
	}
}
