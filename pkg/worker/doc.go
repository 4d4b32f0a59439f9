// Package worker drives jobs from the queue through worker channels.
//
// This package includes:
//   - Worker: one dispatch loop per channel, relaying progress and results
//   - WorkerOption: concurrency, channel factory and shutdown settings
//   - Scheduler for recurring submissions
//
// Each channel owns at most one job. A channel that dies while owning a
// job fails that job and is replaced.
package worker
