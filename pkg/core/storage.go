package core

import "context"

// Storage is the persistence adapter the queue depends on. The queue treats
// it as the single source of truth for durable state.
type Storage interface {
	// Migrate prepares the backing store.
	Migrate(ctx context.Context) error

	// LoadJob returns the stored record, or (nil, nil) when absent.
	LoadJob(ctx context.Context, id string) (*StoredJob, error)

	// SaveJob inserts or replaces the record with the same id.
	SaveJob(ctx context.Context, job *StoredJob) error

	// ListNonTerminal returns pending and running records, oldest first.
	// Used for startup reconciliation.
	ListNonTerminal(ctx context.Context) ([]*StoredJob, error)
}

// JobFilter narrows a job listing.
type JobFilter struct {
	Status JobStatus
	Type   JobType
	Limit  int
}

// Lister is implemented by storages that can enumerate jobs.
type Lister interface {
	ListJobs(ctx context.Context, filter JobFilter) ([]*StoredJob, error)
}
