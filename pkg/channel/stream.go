package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// Stream is the orchestrator side of a channel whose processor lives in
// another process. Messages are newline-delimited JSON; the peer runs Serve.
type Stream struct {
	out     chan Message
	done    chan struct{}
	closers []io.Closer
	once    sync.Once

	wmu sync.Mutex
	enc *json.Encoder

	mu     sync.Mutex
	closed bool
	active string
}

// NewStream starts reading worker messages from r and writes orchestrator
// messages to w. Close closes r and w when they implement io.Closer.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{
		out:  make(chan Message, localBuffer),
		done: make(chan struct{}),
		enc:  json.NewEncoder(w),
	}
	if c, ok := r.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	go s.readLoop(r)
	return s
}

// Send writes a start or cancel message to the peer.
func (s *Stream) Send(ctx context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	switch m.Kind {
	case KindStart:
		if s.closed {
			s.mu.Unlock()
			return core.ErrChannelClosed
		}
		if s.active != "" {
			active := s.active
			s.mu.Unlock()
			return fmt.Errorf("%w: running %s", core.ErrChannelBusy, active)
		}
		s.active = m.JobID
	case KindCancel:
		if s.active != m.JobID {
			s.mu.Unlock()
			return nil
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("channel: %s messages flow from the worker side", m.Kind)
	}
	s.mu.Unlock()

	if err := s.write(m); err != nil {
		if m.Kind == KindStart {
			s.mu.Lock()
			if s.active == m.JobID {
				s.active = ""
			}
			s.mu.Unlock()
		}
		return fmt.Errorf("channel: write %s: %w", m.Kind, err)
	}
	return nil
}

func (s *Stream) write(m Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.enc.Encode(m)
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.out)

	dec := json.NewDecoder(r)
	var readErr error
	for {
		var m Message
		if err := dec.Decode(&m); err != nil {
			readErr = err
			break
		}
		if m.Validate() != nil || m.Kind == KindStart || m.Kind == KindCancel {
			continue
		}
		if m.Terminal() {
			s.mu.Lock()
			if s.active == m.JobID {
				s.active = ""
			}
			s.mu.Unlock()
		}
		if !s.emit(m) {
			return
		}
	}

	s.mu.Lock()
	s.closed = true
	orphan := s.active
	s.active = ""
	s.mu.Unlock()

	if orphan != "" {
		if errors.Is(readErr, io.EOF) {
			readErr = io.ErrUnexpectedEOF
		}
		s.emit(Error(orphan, CodeLost, fmt.Sprintf("worker channel lost: %v", readErr)))
	}
}

func (s *Stream) emit(m Message) bool {
	select {
	case s.out <- m:
		return true
	case <-s.done:
		return false
	}
}

// Messages returns the worker → orchestrator stream. It is closed once the
// peer's output ends.
func (s *Stream) Messages() <-chan Message {
	return s.out
}

// Close stops accepting work and closes the underlying reader and writer.
func (s *Stream) Close() error {
	var errs []error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Serve runs the worker side of a stream channel: it reads start and cancel
// messages from r, executes jobs with processors from resolver and writes
// progress, complete and error messages to w. It returns nil when r reaches
// EOF and ctx.Err() when ctx is cancelled.
func Serve(ctx context.Context, r io.Reader, w io.Writer, resolver Resolver) error {
	local := NewLocal(resolver)
	enc := json.NewEncoder(w)
	var wmu sync.Mutex
	write := func(m Message) error {
		wmu.Lock()
		defer wmu.Unlock()
		return enc.Encode(m)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for m := range local.Messages() {
			if err := write(m); err != nil {
				return
			}
		}
	}()

	type decoded struct {
		msg Message
		err error
	}
	incoming := make(chan decoded)
	stop := make(chan struct{})
	go func() {
		dec := json.NewDecoder(r)
		for {
			var m Message
			err := dec.Decode(&m)
			select {
			case incoming <- decoded{msg: m, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	shutdown := func() {
		close(stop)
		_ = local.Close()
		<-writerDone
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return ctx.Err()
		case d := <-incoming:
			if d.err != nil {
				shutdown()
				if errors.Is(d.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("channel: read: %w", d.err)
			}
			if err := local.Send(ctx, d.msg); err != nil && d.msg.Kind == KindStart && d.msg.JobID != "" {
				if werr := write(Error(d.msg.JobID, CodeFailed, err.Error())); werr != nil {
					shutdown()
					return fmt.Errorf("channel: write: %w", werr)
				}
			}
		}
	}
}
