// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - Job and StoredJob data models (StoredJob carries GORM annotations)
//   - the closed JobType enumeration
//   - Storage interface defining the persistence contract
//   - JobEvent types for lifecycle monitoring
//   - Error types for submission and processing
//
// Most users should import the root package github.com/jdziat/strand-jobs
// instead of this package directly.
package core
