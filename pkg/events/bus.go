// Package events fans job lifecycle events out to any number of subscribers
// without letting a subscriber slow down or break the publisher.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// Filter selects the events a subscriber receives.
type Filter func(core.JobEvent) bool

// ForJob passes events about a single job.
func ForJob(id string) Filter {
	return func(e core.JobEvent) bool { return e.JobID() == id }
}

// ForJobType passes events about jobs of the given type.
func ForJobType(t core.JobType) Filter {
	return func(e core.JobEvent) bool { return e.Job != nil && e.Job.Type == t }
}

// ForEvents passes only the listed event types.
func ForEvents(types ...core.EventType) Filter {
	set := make(map[core.EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e core.JobEvent) bool {
		_, ok := set[e.Type]
		return ok
	}
}

func matchAll(filters []Filter, e core.JobEvent) bool {
	for _, f := range filters {
		if f != nil && !f(e) {
			return false
		}
	}
	return true
}

// Bus is an in-process publish/subscribe hub for JobEvents.
//
// Publish never blocks: every subscriber owns an unbounded FIFO drained by
// its own goroutine, so delivery order per subscriber equals publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger

	published atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hands e to every matching subscriber.
func (b *Bus) Publish(e core.JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, s := range b.subs {
		if matchAll(s.filters, e) {
			s.push(e)
		}
	}
}

// Subscribe returns a channel-backed subscription. The caller must Close it
// when done.
func (b *Bus) Subscribe(filters ...Filter) *Subscription {
	s := newSubscription(b, filters)
	s.out = make(chan core.JobEvent)
	go s.deliverToChannel()
	b.add(s)
	return s
}

// SubscribeFunc invokes fn for each matching event on a dedicated
// goroutine. A panicking fn is logged and does not stop delivery.
func (b *Bus) SubscribeFunc(fn func(core.JobEvent), filters ...Filter) *Subscription {
	s := newSubscription(b, filters)
	go s.deliverToFunc(fn)
	b.add(s)
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of events accepted by Publish.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Close ends every subscription. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (b *Bus) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.shutdown()
		return
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

func (b *Bus) recoverSubscriber(id uint64, e core.JobEvent) {
	if r := recover(); r != nil {
		b.logger.Error("event subscriber panicked",
			"subscriber", id,
			"event", e.Type,
			"job_id", e.JobID(),
			"error", fmt.Sprint(r))
	}
}
