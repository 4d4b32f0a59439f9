package reindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/registry"
)

var validate = validator.New()

// Enqueuer submits jobs. The orchestrator in pkg/queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, t core.JobType, payload any) (core.EnqueueResult, error)
}

// Outcome is the answer to a reindex request: a Result when it ran inline,
// a job id when it was deferred.
type Outcome struct {
	Result    *Result `json:"result,omitempty"`
	JobID     string  `json:"jobId,omitempty"`
	Duplicate bool    `json:"duplicate,omitempty"`
}

// Deferred reports whether the request was submitted as a job.
func (o Outcome) Deferred() bool { return o.JobID != "" }

// Service routes reindex requests to the inline pipeline or the queue.
type Service struct {
	pipeline *Pipeline
	queue    Enqueuer
}

// NewService creates a service. q may be nil when only immediate requests
// are expected.
func NewService(p *Pipeline, q Enqueuer) *Service {
	return &Service{pipeline: p, queue: q}
}

// Reindex validates req and either runs it now or enqueues it. Immediate
// requests run every requested stage in the caller's goroutine, so they
// suit small strands.
func (s *Service) Reindex(ctx context.Context, req Request) (Outcome, error) {
	if err := validate.Struct(req); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", core.ErrInvalidPayload, err)
	}

	switch req.EffectivePriority() {
	case PriorityImmediate:
		res, err := s.pipeline.Run(ctx, req, nil)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: res}, nil

	default:
		if s.queue == nil {
			return Outcome{}, errors.New("reindex: deferred request without a queue")
		}
		req.Priority = PriorityDeferred
		res, err := s.queue.Enqueue(ctx, core.TypeReindexStrand, req)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{JobID: res.ID, Duplicate: res.Duplicate}, nil
	}
}

// Register installs p as the reindex-strand processor.
func Register(reg *registry.Registry, p *Pipeline, opts ...registry.Option) error {
	return registry.Register(reg, core.TypeReindexStrand, p.Handle, opts...)
}
