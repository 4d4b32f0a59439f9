// Package core provides the domain models and interfaces for the jobs package.
package core

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled" // Terminated before completion
)

// IsTerminal reports whether no further transition can leave this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status is pending or running.
func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// Job is the in-memory form of one unit of background work.
type Job struct {
	ID          string
	Type        JobType
	Status      JobStatus
	Progress    int
	Message     string
	Payload     json.RawMessage
	Result      json.RawMessage // set iff Status == StatusCompleted
	Error       string          // set iff Status == StatusFailed
	Fingerprint string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy safe to hand to subscribers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = cloneRaw(j.Payload)
	c.Result = cloneRaw(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Validate checks the status-gated invariants of a job record.
func (j *Job) Validate() error {
	if j.Progress < 0 || j.Progress > 100 {
		return ErrInvalidProgress
	}
	hasResult := len(j.Result) > 0
	hasError := j.Error != ""
	switch j.Status {
	case StatusCompleted:
		if !hasResult || hasError || j.Progress != 100 {
			return ErrInconsistentJob
		}
	case StatusFailed:
		if hasResult || !hasError {
			return ErrInconsistentJob
		}
	case StatusPending, StatusRunning, StatusCancelled:
		if hasResult || hasError {
			return ErrInconsistentJob
		}
	default:
		return ErrInconsistentJob
	}
	if j.Status == StatusPending && j.StartedAt != nil {
		return ErrInconsistentJob
	}
	if j.Status.IsTerminal() != (j.CompletedAt != nil) {
		return ErrInconsistentJob
	}
	return nil
}

// DecodeResult unmarshals the job result into v.
func (j *Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return ErrNoResult
	}
	return json.Unmarshal(j.Result, v)
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

// EnqueueResult reports the outcome of a submission. Duplicate is set when
// the submission collapsed onto the in-flight job ID.
type EnqueueResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}
