package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/security"
)

// ProgressFunc reports a percentage and a human-readable status line.
type ProgressFunc func(pct int, msg string)

// Handler executes one job. It must be safe to call concurrently for
// different jobs.
type Handler func(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error)

// Processor is a registered handler plus its per-type settings.
type Processor struct {
	Type     core.JobType
	Handler  Handler
	Timeout  time.Duration
	Validate func(payload json.RawMessage) error
	// Identity maps a payload to the form its dedup fingerprint is taken
	// from. Nil means the payload itself.
	Identity func(payload json.RawMessage) (json.RawMessage, error)
}

// Execute runs the handler, converting panics to errors and applying the
// per-type timeout when one is configured.
func (p *Processor) Execute(ctx context.Context, payload json.RawMessage, progress ProgressFunc) (result json.RawMessage, err error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	result, err = p.Handler(ctx, payload, progress)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", core.ErrTimedOut, p.Timeout, err)
	}
	return result, err
}

// Option configures a Processor at registration.
type Option interface {
	apply(*Processor)
}

type optionFunc func(*Processor)

func (f optionFunc) apply(p *Processor) { f(p) }

// WithTimeout bounds every run of the processor by d.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(p *Processor) {
		p.Timeout = d
	})
}

// WithPayloadValidator adds a synchronous payload check run at submission.
func WithPayloadValidator(fn func(payload json.RawMessage) error) Option {
	return optionFunc(func(p *Processor) {
		p.Validate = fn
	})
}

// WithIdentity sets the function that reduces a payload to its dedup
// identity.
func WithIdentity(fn func(payload json.RawMessage) (json.RawMessage, error)) Option {
	return optionFunc(func(p *Processor) {
		p.Identity = fn
	})
}

// Registry maps job types to processors. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[core.JobType]*Processor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{processors: make(map[core.JobType]*Processor)}
}

// RegisterHandler registers a raw handler for t. Registering the same type
// twice is an error.
func (r *Registry) RegisterHandler(t core.JobType, h Handler, opts ...Option) error {
	if err := security.ValidateJobTypeName(string(t)); err != nil {
		return fmt.Errorf("register %q: %w", t, err)
	}
	if !core.KnownJobType(t) {
		return fmt.Errorf("register %q: %w", t, core.ErrUnknownJobType)
	}
	if h == nil {
		return fmt.Errorf("register %q: handler cannot be nil", t)
	}

	p := &Processor{Type: t, Handler: h}
	for _, opt := range opts {
		opt.apply(p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[t]; exists {
		return fmt.Errorf("register %q: %w", t, core.ErrDuplicateProcessor)
	}
	r.processors[t] = p
	return nil
}

// MustRegisterHandler is RegisterHandler that panics on error, for use
// during startup wiring.
func (r *Registry) MustRegisterHandler(t core.JobType, h Handler, opts ...Option) {
	if err := r.RegisterHandler(t, h, opts...); err != nil {
		panic(err.Error())
	}
}

// Resolve returns the processor registered for t.
func (r *Registry) Resolve(t core.JobType) (*Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[t]
	return p, ok
}

// Has reports whether a processor is registered for t.
func (r *Registry) Has(t core.JobType) bool {
	_, ok := r.Resolve(t)
	return ok
}

// Types returns the registered job types in lexical order.
func (r *Registry) Types() []core.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.JobType, 0, len(r.processors))
	for t := range r.processors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
