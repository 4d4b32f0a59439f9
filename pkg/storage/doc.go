// Package storage provides persistence adapters.
//
// This package includes:
//   - GormStorage: the job store over GORM (SQLite or PostgreSQL)
//   - GormContentIndex: strand metadata, blocks and tags for the re-index pipeline
//   - MemoryStorage: an in-process job store with fault injection for tests
//
// The Storage interface is defined in pkg/core and must be implemented by any
// custom persistence backend.
package storage
