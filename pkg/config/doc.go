// Package config loads daemon configuration from an optional YAML file and
// STRANDJOBS_* environment variables. Environment variables take precedence
// over file values; keys map with "." replaced by "_", so worker.concurrency
// is STRANDJOBS_WORKER_CONCURRENCY.
package config
