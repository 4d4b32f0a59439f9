package events

import (
	"sync"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// Subscription is one consumer of a Bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	filters []Filter

	mu      sync.Mutex
	cond    *sync.Cond
	pending []core.JobEvent
	done    bool

	out     chan core.JobEvent
	stopped chan struct{}
	once    sync.Once
}

func newSubscription(b *Bus, filters []Filter) *Subscription {
	s := &Subscription{
		bus:     b,
		filters: filters,
		stopped: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// C returns the delivery channel. It is nil for callback subscriptions and
// is closed once the subscription ends.
func (s *Subscription) C() <-chan core.JobEvent {
	return s.out
}

// Backlog returns the number of events queued but not yet delivered.
func (s *Subscription) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close detaches the subscription from its bus. Undelivered events are
// discarded.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.shutdown()
}

func (s *Subscription) push(e core.JobEvent) {
	s.mu.Lock()
	if !s.done {
		s.pending = append(s.pending, e)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription) shutdown() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.pending = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stopped)
	})
}

// next blocks until an event is queued or the subscription ends.
func (s *Subscription) next() (core.JobEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.done {
		s.cond.Wait()
	}
	if s.done {
		return core.JobEvent{}, false
	}
	e := s.pending[0]
	s.pending[0] = core.JobEvent{}
	s.pending = s.pending[1:]
	return e, true
}

func (s *Subscription) deliverToChannel() {
	defer close(s.out)
	for {
		e, ok := s.next()
		if !ok {
			return
		}
		select {
		case s.out <- e:
		case <-s.stopped:
			return
		}
	}
}

func (s *Subscription) deliverToFunc(fn func(core.JobEvent)) {
	for {
		e, ok := s.next()
		if !ok {
			return
		}
		s.invoke(fn, e)
	}
}

func (s *Subscription) invoke(fn func(core.JobEvent), e core.JobEvent) {
	defer s.bus.recoverSubscriber(s.id, e)
	fn(e)
}
