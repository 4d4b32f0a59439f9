package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jdziat/strand-jobs/pkg/core"
	intctx "github.com/jdziat/strand-jobs/pkg/internal/context"
	"github.com/jdziat/strand-jobs/pkg/security"
)

const localBuffer = 64

// Local runs processors in-process on a goroutine. Cancellation raises the
// job's cooperative flag and cancels the run context.
type Local struct {
	resolver Resolver
	out      chan Message

	base     context.Context
	stopBase context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	mu     sync.Mutex
	closed bool
	active string
	jc     *intctx.JobContext
	cancel context.CancelFunc
}

// NewLocal creates an in-process channel.
func NewLocal(resolver Resolver) *Local {
	base, stop := context.WithCancel(context.Background())
	return &Local{
		resolver: resolver,
		out:      make(chan Message, localBuffer),
		base:     base,
		stopBase: stop,
		done:     make(chan struct{}),
	}
}

// Send delivers a start or cancel message.
func (c *Local) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	switch m.Kind {
	case KindStart:
		return c.start(m)
	case KindCancel:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active == m.JobID && c.jc != nil {
			c.jc.RequestCancel()
			c.cancel()
		}
		return nil
	default:
		return fmt.Errorf("channel: %s messages flow from the worker side", m.Kind)
	}
}

func (c *Local) start(m Message) error {
	job, err := core.FromStored(m.Job)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	if c.active != "" {
		return fmt.Errorf("%w: running %s", core.ErrChannelBusy, c.active)
	}

	jc := &intctx.JobContext{Job: job}
	runCtx, cancel := context.WithCancel(intctx.WithJobContext(c.base, jc))
	c.active = job.ID
	c.jc = jc
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(runCtx, cancel, jc)
	return nil
}

func (c *Local) run(ctx context.Context, cancel context.CancelFunc, jc *intctx.JobContext) {
	defer c.wg.Done()
	defer cancel()

	final := c.execute(ctx, jc)

	// Release the slot before reporting so the next start is accepted as
	// soon as the terminal message is observed.
	c.mu.Lock()
	c.active = ""
	c.jc = nil
	c.cancel = nil
	c.mu.Unlock()

	c.emit(final)
}

func (c *Local) execute(ctx context.Context, jc *intctx.JobContext) Message {
	job := jc.Job
	proc, ok := c.resolver.Resolve(job.Type)
	if !ok {
		return Error(job.ID, CodeNoHandler, fmt.Sprintf("%s: %s", core.ErrNoProcessor, job.Type))
	}

	progress := func(pct int, msg string) {
		c.emit(Progress(job.ID, security.ClampProgress(pct), security.SanitizeMessage(msg)))
	}

	result, err := proc.Execute(ctx, job.Payload, progress)
	if err == nil {
		return Complete(job.ID, normalizeResult(result))
	}
	return Error(job.ID, classify(err, jc.CancelRequested()), security.SanitizeErrorMessage(err.Error()))
}

// classify maps a handler error to an error code. Any error returned after
// a stop was requested counts as cooperative cancellation.
func classify(err error, cancelRequested bool) ErrorCode {
	switch {
	case errors.Is(err, core.ErrTimedOut):
		return CodeTimeout
	case cancelRequested, errors.Is(err, core.ErrCancelled):
		return CodeCancelled
	default:
		return CodeFailed
	}
}

func (c *Local) emit(m Message) {
	select {
	case c.out <- m:
	case <-c.done:
	}
}

// Messages returns the worker → orchestrator stream. It is closed by Close.
func (c *Local) Messages() <-chan Message {
	return c.out
}

// Active returns the ID of the job currently owned by the channel.
func (c *Local) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close cancels any running job, waits for it to return and closes the
// message stream.
func (c *Local) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.jc != nil {
			c.jc.RequestCancel()
		}
		c.mu.Unlock()

		c.stopBase()
		close(c.done)
		c.wg.Wait()
		close(c.out)
	})
	return nil
}
