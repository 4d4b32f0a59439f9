package channel

import (
	"encoding/json"
	"fmt"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// Kind tags a Message.
type Kind string

const (
	KindStart    Kind = "start"    // orchestrator → worker
	KindCancel   Kind = "cancel"   // orchestrator → worker
	KindProgress Kind = "progress" // worker → orchestrator
	KindComplete Kind = "complete" // worker → orchestrator
	KindError    Kind = "error"    // worker → orchestrator
)

// ErrorCode classifies an error message.
type ErrorCode string

const (
	CodeFailed    ErrorCode = ""
	CodeCancelled ErrorCode = "cancelled" // processor stopped after observing cancellation
	CodeTimeout   ErrorCode = "timeout"
	CodeNoHandler ErrorCode = "no_handler"
	CodeLost      ErrorCode = "lost" // channel died while owning the job
)

// Message is the tagged union exchanged over a Channel. Only the fields
// relevant to Kind are set.
type Message struct {
	Kind     Kind            `json:"kind"`
	JobID    string          `json:"jobId"`
	Job      *core.StoredJob `json:"job,omitempty"`
	Progress int             `json:"progress,omitempty"`
	Text     string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Code     ErrorCode       `json:"code,omitempty"`
}

// Start asks the worker side to run job.
func Start(job *core.Job) Message {
	return Message{Kind: KindStart, JobID: job.ID, Job: core.ToStored(job)}
}

// Cancel asks the worker side to stop job cooperatively.
func Cancel(jobID string) Message {
	return Message{Kind: KindCancel, JobID: jobID}
}

// Progress reports incremental progress.
func Progress(jobID string, pct int, msg string) Message {
	return Message{Kind: KindProgress, JobID: jobID, Progress: pct, Text: msg}
}

// Complete reports a successful result.
func Complete(jobID string, result json.RawMessage) Message {
	return Message{Kind: KindComplete, JobID: jobID, Result: result}
}

// Error reports a failed run.
func Error(jobID string, code ErrorCode, err string) Message {
	return Message{Kind: KindError, JobID: jobID, Code: code, Error: err}
}

// Terminal reports whether the message ends the job's run on this channel.
func (m Message) Terminal() bool {
	return m.Kind == KindComplete || m.Kind == KindError
}

// Validate checks that the fields required by Kind are present.
func (m Message) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("channel: %s message without job id", m.Kind)
	}
	switch m.Kind {
	case KindStart:
		if m.Job == nil || m.Job.ID != m.JobID {
			return fmt.Errorf("channel: start message for %s without matching job", m.JobID)
		}
	case KindCancel, KindProgress, KindComplete, KindError:
	default:
		return fmt.Errorf("channel: unknown message kind %q", m.Kind)
	}
	return nil
}
