// Package channel provides the execution boundary between the queue and a
// processor.
//
// A Channel speaks a five-message protocol (start, progress, complete,
// error, cancel) and owns at most one job at a time. The same protocol runs
// in-process (Local) and across a byte stream to an isolated worker process
// (Stream and Serve), so cancellation is always cooperative.
package channel
