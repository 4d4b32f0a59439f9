package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/registry"
	"github.com/jdziat/strand-jobs/pkg/storage"
)

type exportPayload struct {
	Dir    string `json:"dir" validate:"required"`
	Format string `json:"format,omitempty"`
}

func noopHandler(ctx context.Context, payload json.RawMessage, progress registry.ProgressFunc) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *storage.MemoryStorage) {
	t.Helper()
	reg := registry.New()
	reg.MustRegisterHandler(core.TypeExportMarkdown, noopHandler)
	reg.MustRegisterHandler(core.TypeGenerateSummary, noopHandler)
	registry.MustRegister(reg, core.TypeExportZip,
		func(ctx context.Context, p exportPayload, progress registry.ProgressFunc) (string, error) {
			return p.Dir + ".zip", nil
		})

	store := storage.NewMemoryStorage()
	opts = append([]Option{WithStorageRetry(fastRetry(2))}, opts...)
	q := New(store, reg, opts...)
	t.Cleanup(q.Shutdown)
	return q, store
}

// recorder collects every event published on a queue.
type recorder struct {
	mu     sync.Mutex
	events []core.JobEvent
}

func record(t *testing.T, q *Queue) *recorder {
	t.Helper()
	r := &recorder{}
	sub := q.SubscribeFunc(func(e core.JobEvent) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	t.Cleanup(sub.Close)
	return r
}

func (r *recorder) forJob(id string) []core.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.JobEvent
	for _, e := range r.events {
		if e.JobID() == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) types(id string) []core.EventType {
	var out []core.EventType
	for _, e := range r.forJob(id) {
		out = append(out, e.Type)
	}
	return out
}

// waitTypes waits until id has seen exactly want.
func (r *recorder) waitTypes(t *testing.T, id string, want ...core.EventType) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := r.types(id)
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "events for %s: %v", id, r.types(id))
}

func nextJob(t *testing.T, q *Queue) *core.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := q.Next(ctx)
	require.NoError(t, err)
	return job
}
