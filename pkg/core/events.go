package core

import "time"

// EventType names a lifecycle transition broadcast by the queue.
type EventType string

const (
	EventCreated   EventType = "created"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
	EventDuplicate EventType = "duplicate" // submission collapsed onto an in-flight job
)

// IsTerminal reports whether the event closes a job's lifecycle.
func (t EventType) IsTerminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// TerminalEvent maps a terminal status to the event announcing it.
func TerminalEvent(s JobStatus) (EventType, bool) {
	switch s {
	case StatusCompleted:
		return EventCompleted, true
	case StatusFailed:
		return EventFailed, true
	case StatusCancelled:
		return EventCancelled, true
	}
	return "", false
}

// JobEvent is one lifecycle notification. Job is a snapshot taken at the
// moment of the transition; subscribers may keep it.
type JobEvent struct {
	Type      EventType `json:"type"`
	Job       *Job      `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// JobID returns the id of the job the event is about.
func (e JobEvent) JobID() string {
	if e.Job == nil {
		return ""
	}
	return e.Job.ID
}

// WireEvent is the transportable form of a JobEvent.
type WireEvent struct {
	Type      EventType  `json:"type"`
	Job       *StoredJob `json:"job"`
	Timestamp time.Time  `json:"timestamp"`
}

// Wire converts the event for JSON transport (SSE, Redis).
func (e JobEvent) Wire() WireEvent {
	w := WireEvent{Type: e.Type, Timestamp: e.Timestamp}
	if e.Job != nil {
		w.Job = ToStored(e.Job)
	}
	return w
}
