package channel

import (
	"context"
	"encoding/json"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/registry"
)

// Channel is one execution slot. Send carries start and cancel toward the
// processor; Messages carries progress, complete and error back.
type Channel interface {
	Send(ctx context.Context, m Message) error
	Messages() <-chan Message
	Close() error
}

// Resolver finds the processor for a job type. *registry.Registry
// satisfies it.
type Resolver interface {
	Resolve(t core.JobType) (*registry.Processor, bool)
}

// Factory creates a fresh Channel.
type Factory func() (Channel, error)

// LocalFactory returns a Factory producing in-process channels.
func LocalFactory(resolver Resolver) Factory {
	return func() (Channel, error) {
		return NewLocal(resolver), nil
	}
}

// normalizeResult makes sure a completed job always carries a result.
func normalizeResult(r json.RawMessage) json.RawMessage {
	if len(r) == 0 {
		return json.RawMessage("null")
	}
	return r
}
