package security

import (
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobTypeNameLength is the maximum length for job type names
	MaxJobTypeNameLength = 255

	// MaxPayloadSize is the maximum size in bytes for a serialized payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxConcurrency is the hard limit for worker channels
	MaxConcurrency = 256

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxMessageLength is the maximum length for progress messages
	MaxMessageLength = 512

	// MaxStrandPathLength is the maximum length for a strand path
	MaxStrandPathLength = 1024
)

// validJobTypeName matches alphanumeric, hyphens, underscores, and dots
var validJobTypeName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateJobTypeName validates a job type name
func ValidateJobTypeName(name string) error {
	if name == "" {
		return core.ErrInvalidJobTypeName
	}
	if len(name) > MaxJobTypeNameLength {
		return core.ErrJobTypeNameTooLong
	}
	if !validJobTypeName.MatchString(name) {
		return core.ErrInvalidJobTypeName
	}
	return nil
}

// ValidatePayloadSize rejects payloads over MaxPayloadSize
func ValidatePayloadSize(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	return sanitize(msg, MaxErrorMessageLength, true)
}

// SanitizeMessage cleans a progress message. Newlines are flattened.
func SanitizeMessage(msg string) string {
	return sanitize(msg, MaxMessageLength, false)
}

func sanitize(msg string, limit int, keepNewlines bool) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			if keepNewlines {
				sanitized.WriteRune(r)
			} else {
				sanitized.WriteRune(' ')
			}
		case r >= 32 && r != 127:
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > limit {
		runes := []rune(result)
		result = string(runes[:limit-3]) + "..."
	}

	return result
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampProgress bounds a progress percentage to [0, 100]
func ClampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// CleanStrandPath normalizes a strand path and rejects anything that could
// escape the content root.
func CleanStrandPath(p string) (string, error) {
	if p == "" || len(p) > MaxStrandPathLength || strings.ContainsRune(p, 0) {
		return "", ErrInvalidStrandPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", ErrInvalidStrandPath
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidStrandPath
	}
	return cleaned, nil
}
