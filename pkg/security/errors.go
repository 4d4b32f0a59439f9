package security

import "errors"

// ErrInvalidStrandPath is returned for empty, absolute or escaping strand paths.
var ErrInvalidStrandPath = errors.New("jobs: invalid strand path")
