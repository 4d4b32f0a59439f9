package context

import (
	"context"
	"sync/atomic"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the job a handler is executing.
type JobContext struct {
	Job *core.Job

	cancelRequested atomic.Bool
}

// RequestCancel raises the cooperative cancellation flag.
func (jc *JobContext) RequestCancel() {
	jc.cancelRequested.Store(true)
}

// CancelRequested reports whether cancellation was requested.
func (jc *JobContext) CancelRequested() bool {
	return jc.cancelRequested.Load()
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
