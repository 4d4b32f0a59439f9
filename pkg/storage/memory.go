package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// MemoryStorage is a concurrency-safe in-process job store. It loses
// everything on exit and is meant for tests and ephemeral runs.
type MemoryStorage struct {
	mu        sync.RWMutex
	jobs      map[string]*core.StoredJob
	failSaves error
	saves     int
}

// NewMemoryStorage creates an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{jobs: make(map[string]*core.StoredJob)}
}

// Migrate is a no-op.
func (m *MemoryStorage) Migrate(context.Context) error { return nil }

// LoadJob returns a copy of the record, or nil when absent.
func (m *MemoryStorage) LoadJob(_ context.Context, id string) (*core.StoredJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id].Clone(), nil
}

// SaveJob stores a copy of the record.
func (m *MemoryStorage) SaveJob(_ context.Context, job *core.StoredJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves != nil {
		return m.failSaves
	}
	m.jobs[job.ID] = job.Clone()
	m.saves++
	return nil
}

// ListNonTerminal returns pending and running records, oldest first.
func (m *MemoryStorage) ListNonTerminal(context.Context) ([]*core.StoredJob, error) {
	m.mu.RLock()
	out := make([]*core.StoredJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if core.JobStatus(j.Status).IsActive() {
			out = append(out, j.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListJobs returns records matching filter, newest first.
func (m *MemoryStorage) ListJobs(_ context.Context, filter core.JobFilter) ([]*core.StoredJob, error) {
	m.mu.RLock()
	out := make([]*core.StoredJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != string(filter.Status) {
			continue
		}
		if filter.Type != "" && j.Type != string(filter.Type) {
			continue
		}
		out = append(out, j.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FailSaves makes every subsequent SaveJob return err. Pass nil to recover.
func (m *MemoryStorage) FailSaves(err error) {
	m.mu.Lock()
	m.failSaves = err
	m.mu.Unlock()
}

// SaveCount returns the number of successful saves.
func (m *MemoryStorage) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Len returns the number of stored records.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
