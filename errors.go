package jobs

import "github.com/jdziat/strand-jobs/pkg/core"

// Submission errors
var (
	ErrUnknownJobType  = core.ErrUnknownJobType
	ErrNoProcessor     = core.ErrNoProcessor
	ErrInvalidPayload  = core.ErrInvalidPayload
	ErrPayloadTooLarge = core.ErrPayloadTooLarge
	ErrQueueClosed     = core.ErrQueueClosed
)

// Lifecycle errors
var (
	ErrJobNotFound    = core.ErrJobNotFound
	ErrNotCancellable = core.ErrNotCancellable
	ErrCancelled      = core.ErrCancelled
	ErrTimedOut       = core.ErrTimedOut
	ErrInterrupted    = core.ErrInterrupted
)

// SoftError marks an enrichment failure reported as a warning.
type SoftError = core.SoftError

// Soft wraps err as a warning-level failure of stage.
func Soft(stage string, err error) error {
	return core.Soft(stage, err)
}

// IsSoft reports whether err is a SoftError.
func IsSoft(err error) bool {
	return core.IsSoft(err)
}
