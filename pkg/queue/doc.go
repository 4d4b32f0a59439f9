// Package queue provides the Queue orchestrator.
//
// The queue owns the lifecycle of every job: submission with deduplication,
// FIFO dispatch to workers, progress, cancellation, and exactly one
// terminal transition per job. Every transition is persisted through a
// core.Storage and broadcast on an events.Bus.
//
// Most users should import the root package github.com/jdziat/strand-jobs,
// which re-exports Queue and its options.
package queue
