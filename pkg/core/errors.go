package core

import (
	"errors"
	"fmt"
)

// Submission errors
var (
	ErrUnknownJobType     = errors.New("jobs: unknown job type")
	ErrNoProcessor        = errors.New("jobs: no processor registered for job type")
	ErrDuplicateProcessor = errors.New("jobs: processor already registered for job type")
	ErrInvalidJobTypeName = errors.New("jobs: invalid job type name (must be alphanumeric, start with letter)")
	ErrJobTypeNameTooLong = errors.New("jobs: job type name too long")
	ErrInvalidPayload     = errors.New("jobs: invalid job payload")
	ErrPayloadTooLarge    = errors.New("jobs: job payload exceeds size limit")
	ErrQueueClosed        = errors.New("jobs: queue is closed")
)

// Lookup and lifecycle errors
var (
	ErrJobNotFound     = errors.New("jobs: job not found")
	ErrNotCancellable  = errors.New("jobs: job is not cancellable")
	ErrCancelled       = errors.New("jobs: job cancelled")
	ErrTimedOut        = errors.New("jobs: job timed out")
	ErrNoResult        = errors.New("jobs: job has no result")
	ErrInvalidProgress = errors.New("jobs: progress out of range")
	ErrInconsistentJob = errors.New("jobs: job fields inconsistent with status")
	ErrCorruptRecord   = errors.New("jobs: stored job record is corrupt")
	ErrInterrupted     = errors.New("jobs: interrupted by restart")
)

// Worker channel errors
var (
	ErrChannelBusy   = errors.New("jobs: worker channel already owns a job")
	ErrChannelClosed = errors.New("jobs: worker channel closed")
)

// SoftError marks an enrichment failure that is reported as a warning and
// never fails the owning job.
type SoftError struct {
	Stage string
	Err   error
}

func (e *SoftError) Error() string {
	return fmt.Sprintf("%s skipped: %v", e.Stage, e.Err)
}

func (e *SoftError) Unwrap() error {
	return e.Err
}

// Soft wraps err as a soft failure of the named stage.
func Soft(stage string, err error) error {
	return &SoftError{Stage: stage, Err: err}
}

// IsSoft reports whether err is (or wraps) a SoftError.
func IsSoft(err error) bool {
	var se *SoftError
	return errors.As(err, &se)
}
