// Package registry maps job types to the processors that execute them.
//
// This package includes:
//   - Registry: type → Processor lookup, resolved once at startup
//   - Register: typed registration with an explicit JSON codec per job type
//   - Options for per-type timeouts and submission-time payload validation
//
// Most users should import the root package github.com/jdziat/strand-jobs
// which re-exports these functions.
package registry
