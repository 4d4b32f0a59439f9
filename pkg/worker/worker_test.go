package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/strand-jobs/pkg/channel"
	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/jobctx"
	"github.com/jdziat/strand-jobs/pkg/queue"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/schedule"
	"github.com/jdziat/strand-jobs/pkg/storage"
)

type harness struct {
	q      *queue.Queue
	reg    *registry.Registry
	store  *storage.MemoryStorage
	w      *Worker
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, register func(*registry.Registry)) *harness {
	t.Helper()
	reg := registry.New()
	register(reg)
	store := storage.NewMemoryStorage()
	q := queue.New(store, reg)
	t.Cleanup(q.Shutdown)
	return &harness{q: q, reg: reg, store: store}
}

func (h *harness) start(t *testing.T, opts ...WorkerOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.w = NewWorker(h.q, opts...)
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.w.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
		}
	})
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
		return nil
	}
}

func (h *harness) enqueue(t *testing.T, typ core.JobType, payload any) string {
	t.Helper()
	id, err := h.q.EnqueueID(context.Background(), typ, payload)
	require.NoError(t, err)
	return id
}

func (h *harness) waitStatus(t *testing.T, id string, want core.JobStatus) *core.Job {
	t.Helper()
	var job *core.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.q.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

// cooperative loops until cancelled, signalling started on its first pass.
func cooperative(started chan<- string) registry.Handler {
	return func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
		if started != nil {
			started <- jobctx.JobIDFromContext(ctx)
		}
		for i := 1; ; i++ {
			if err := jobctx.Checkpoint(ctx); err != nil {
				return nil, err
			}
			progress(i%100, "working")
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func counting(n *atomic.Int32) registry.Handler {
	return func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
		n.Add(1)
		return json.RawMessage(`{}`), nil
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	h := newHarness(t, func(*registry.Registry) {})
	w := NewWorker(h.q)

	cfg := w.Config()
	assert.Equal(t, 1, cfg.Concurrency)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, DefaultScheduleTick, cfg.ScheduleTick)
	assert.Zero(t, cfg.ShutdownTimeout)
	assert.False(t, cfg.EnableScheduler)
	assert.NotNil(t, cfg.Factory)
}

func TestConcurrency_Clamped(t *testing.T) {
	var cfg WorkerConfig

	Concurrency(5).ApplyWorker(&cfg)
	assert.Equal(t, 5, cfg.Concurrency)

	Concurrency(5000).ApplyWorker(&cfg)
	assert.Equal(t, 256, cfg.Concurrency)

	Concurrency(0).ApplyWorker(&cfg)
	assert.Equal(t, 1, cfg.Concurrency)
}

func TestWithScheduleTick_IgnoresNonPositive(t *testing.T) {
	cfg := WorkerConfig{ScheduleTick: time.Second}
	WithScheduleTick(0).ApplyWorker(&cfg)
	assert.Equal(t, time.Second, cfg.ScheduleTick)
	WithScheduleTick(time.Minute).ApplyWorker(&cfg)
	assert.Equal(t, time.Minute, cfg.ScheduleTick)
}

func TestWorker_CompletesJobWithProgress(t *testing.T) {
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeExportMarkdown, func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
			progress(30, "collecting")
			progress(70, "writing")
			return json.RawMessage(`{"files":3}`), nil
		})
	})

	var mu sync.Mutex
	var progress []int
	sub := h.q.SubscribeFunc(func(e core.JobEvent) {
		mu.Lock()
		progress = append(progress, e.Job.Progress)
		mu.Unlock()
	}, func(e core.JobEvent) bool { return e.Type == core.EventProgress })
	defer sub.Close()

	h.start(t)
	id := h.enqueue(t, core.TypeExportMarkdown, map[string]string{"dir": "vault"})

	job := h.waitStatus(t, id, core.StatusCompleted)
	assert.Equal(t, 100, job.Progress)
	assert.JSONEq(t, `{"files":3}`, string(job.Result))
	assert.Equal(t, "writing", job.Message)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(progress) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{30, 70}, progress)
}

func TestWorker_FailureModes(t *testing.T) {
	tests := []struct {
		name    string
		handler registry.Handler
		opts    []registry.Option
		want    string
	}{
		{
			name: "handler error",
			handler: func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
				return nil, errors.New("pdf renderer crashed")
			},
			want: "pdf renderer crashed",
		},
		{
			name: "panic",
			handler: func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
				panic("nil template")
			},
			want: "panic: nil template",
		},
		{
			name: "timeout",
			handler: func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			opts: []registry.Option{registry.WithTimeout(20 * time.Millisecond)},
			want: "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(r *registry.Registry) {
				r.MustRegisterHandler(core.TypeExportPDF, tt.handler, tt.opts...)
			})
			h.start(t)

			id := h.enqueue(t, core.TypeExportPDF, nil)
			job := h.waitStatus(t, id, core.StatusFailed)
			assert.Contains(t, job.Error, tt.want)
			assert.Empty(t, job.Result)
			assert.NoError(t, job.Validate())
		})
	}
}

func TestWorker_CancelledPendingJobNeverRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var exports atomic.Int32

	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeGenerateSummary, func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
			close(started)
			<-release
			return nil, nil
		})
		r.MustRegisterHandler(core.TypeExportMarkdown, counting(&exports))
	})
	h.start(t, Concurrency(1))

	blocker := h.enqueue(t, core.TypeGenerateSummary, nil)
	<-started

	victim := h.enqueue(t, core.TypeExportMarkdown, map[string]int{"n": 1})
	require.NoError(t, h.q.Cancel(context.Background(), victim))

	close(release)
	h.waitStatus(t, blocker, core.StatusCompleted)

	// A later job runs, proving the slot moved past the cancelled one.
	after := h.enqueue(t, core.TypeExportMarkdown, map[string]int{"n": 2})
	h.waitStatus(t, after, core.StatusCompleted)

	assert.Equal(t, int32(1), exports.Load())
	job := h.waitStatus(t, victim, core.StatusCancelled)
	assert.Nil(t, job.StartedAt)
}

func TestWorker_CancelRunningJob(t *testing.T) {
	started := make(chan string, 1)
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeReindexBlocks, cooperative(started))
	})
	h.start(t)

	id := h.enqueue(t, core.TypeReindexBlocks, nil)
	assert.Equal(t, id, <-started)

	require.NoError(t, h.q.Cancel(context.Background(), id))
	job := h.waitStatus(t, id, core.StatusCancelled)
	assert.Empty(t, job.Error)
	assert.Less(t, job.Progress, 100)
}

func TestWorker_ShutdownCancelsRunningAndKeepsPending(t *testing.T) {
	started := make(chan string, 1)
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeReindexBlocks, cooperative(started))
	})
	h.start(t, Concurrency(1))

	running := h.enqueue(t, core.TypeReindexBlocks, map[string]int{"n": 1})
	<-started
	waiting := h.enqueue(t, core.TypeReindexBlocks, map[string]int{"n": 2})

	assert.ErrorIs(t, h.stop(t), context.Canceled)

	h.waitStatus(t, running, core.StatusCancelled)
	job, err := h.q.GetJob(context.Background(), waiting)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, job.Status)
}

func TestWorker_ShutdownTimeoutFailsStuckJob(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	started := make(chan struct{})

	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeImportNotion, func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
			close(started)
			<-release
			return nil, nil
		})
	})
	h.start(t, WithShutdownTimeout(30*time.Millisecond))

	id := h.enqueue(t, core.TypeImportNotion, nil)
	<-started

	assert.ErrorIs(t, h.stop(t), context.Canceled)
	job := h.waitStatus(t, id, core.StatusFailed)
	assert.Equal(t, core.ErrInterrupted.Error()+": did not stop within 30ms", job.Error)
}

// deadChannel accepts a start and then dies without reporting.
type deadChannel struct {
	msgs chan channel.Message
	once sync.Once
}

func (d *deadChannel) Send(ctx context.Context, m channel.Message) error {
	if m.Kind == channel.KindStart {
		d.once.Do(func() { close(d.msgs) })
	}
	return nil
}

func (d *deadChannel) Messages() <-chan channel.Message { return d.msgs }
func (d *deadChannel) Close() error                    { return nil }

func TestWorker_LostChannelFailsJobAndIsReplaced(t *testing.T) {
	var exports atomic.Int32
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeExportMarkdown, counting(&exports))
	})

	var opened atomic.Int32
	factory := func() (channel.Channel, error) {
		if opened.Add(1) == 1 {
			return &deadChannel{msgs: make(chan channel.Message)}, nil
		}
		return channel.NewLocal(h.reg), nil
	}
	h.start(t, WithChannelFactory(factory))

	lost := h.enqueue(t, core.TypeExportMarkdown, map[string]int{"n": 1})
	job := h.waitStatus(t, lost, core.StatusFailed)
	assert.NotEmpty(t, job.Error)

	next := h.enqueue(t, core.TypeExportMarkdown, map[string]int{"n": 2})
	h.waitStatus(t, next, core.StatusCompleted)

	assert.Equal(t, 1, h.w.Restarts())
	assert.Equal(t, int32(2), opened.Load())
	assert.Equal(t, int32(1), exports.Load())
}

func TestWorker_FactoryErrorRetries(t *testing.T) {
	var exports atomic.Int32
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeExportMarkdown, counting(&exports))
	})

	var opened atomic.Int32
	factory := func() (channel.Channel, error) {
		if opened.Add(1) == 1 {
			return nil, errors.New("spawn failed")
		}
		return channel.NewLocal(h.reg), nil
	}
	h.start(t, WithChannelFactory(factory))

	id := h.enqueue(t, core.TypeExportMarkdown, nil)
	h.waitStatus(t, id, core.StatusCompleted)
	assert.Equal(t, int32(2), opened.Load())
}

func TestWorker_StreamChannel(t *testing.T) {
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeGenerateGlossary, func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
			progress(50, "terms extracted")
			return json.RawMessage(`{"terms":["goroutine","channel"]}`), nil
		})
	})

	serveCtx, stopServe := context.WithCancel(context.Background())
	t.Cleanup(stopServe)
	factory := func() (channel.Channel, error) {
		toWorkerR, toWorkerW := io.Pipe()
		fromWorkerR, fromWorkerW := io.Pipe()
		go func() {
			_ = channel.Serve(serveCtx, toWorkerR, fromWorkerW, h.reg)
			_ = fromWorkerW.Close()
		}()
		return channel.NewStream(fromWorkerR, toWorkerW), nil
	}
	h.start(t, WithChannelFactory(factory))

	id := h.enqueue(t, core.TypeGenerateGlossary, map[string]string{"strand": "go/concurrency.md"})
	job := h.waitStatus(t, id, core.StatusCompleted)
	assert.JSONEq(t, `{"terms":["goroutine","channel"]}`, string(job.Result))
	assert.Equal(t, "terms extracted", job.Message)
}

func TestWorker_RunsChannelsConcurrently(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeGenerateQuiz, func(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
			<-release
			return nil, nil
		})
	})
	h.start(t, Concurrency(3))

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.enqueue(t, core.TypeGenerateQuiz, map[string]int{"n": i}))
	}

	require.Eventually(t, func() bool { return h.w.Busy() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.q.Stats().Pending)

	close(release)
	for _, id := range ids {
		h.waitStatus(t, id, core.StatusCompleted)
	}
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	h := newHarness(t, func(*registry.Registry) {})
	h.start(t, Concurrency(2))

	require.NoError(t, h.q.Close())
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after the queue closed")
	}
}

func TestWorker_Scheduler(t *testing.T) {
	var exports atomic.Int32
	h := newHarness(t, func(r *registry.Registry) {
		r.MustRegisterHandler(core.TypeExportMarkdown, counting(&exports))
	})
	require.NoError(t, h.q.Schedule("backup", schedule.Every(20*time.Millisecond), core.TypeExportMarkdown, map[string]string{"dir": "vault"}))

	h.start(t, WithScheduler(true), WithScheduleTick(5*time.Millisecond))

	require.Eventually(t, func() bool { return exports.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)
}

func TestOutcomeFor(t *testing.T) {
	cancelled := outcomeFor(channel.Error("j", channel.CodeCancelled, "stopped"))
	assert.True(t, cancelled.Cancelled)
	assert.ErrorIs(t, cancelled.Err, core.ErrCancelled)

	timeout := outcomeFor(channel.Error("j", channel.CodeTimeout, ""))
	assert.ErrorIs(t, timeout.Err, core.ErrTimedOut)
	assert.Equal(t, core.ErrTimedOut.Error(), timeout.Err.Error())

	noHandler := outcomeFor(channel.Error("j", channel.CodeNoHandler, "no processor: export-pdf"))
	assert.ErrorIs(t, noHandler.Err, core.ErrNoProcessor)
	assert.Equal(t, "no processor: export-pdf", noHandler.Err.Error())

	lost := outcomeFor(channel.Error("j", channel.CodeLost, "worker channel lost: EOF"))
	assert.ErrorIs(t, lost.Err, core.ErrChannelClosed)
	assert.False(t, lost.Cancelled)

	failed := outcomeFor(channel.Error("j", channel.CodeFailed, "boom"))
	assert.EqualError(t, failed.Err, "boom")
	assert.False(t, failed.Cancelled)
}
