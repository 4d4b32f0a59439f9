package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/jdziat/strand-jobs/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	opts := OpenOptions{Driver: DriverSQLite, DSN: ":memory:"}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		opts = OpenOptions{Driver: DriverPostgres, DSN: dsn, Pool: PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1}}
	}
	db, err := Open(opts)
	require.NoError(t, err, "open test db")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	if opts.Driver == DriverPostgres {
		cleanupPostgresDB(db)
	}
	t.Cleanup(func() {
		if opts.Driver == DriverPostgres {
			cleanupPostgresDB(db)
		}
		_ = sqlDB.Close()
	})
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without requiring
// a fresh database per test.
func cleanupPostgresDB(db *gorm.DB) {
	for _, tbl := range []string{"strand_blocks", "strands", "jobs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// newTestStorage creates a migrated job store.
func newTestStorage(t *testing.T) *GormStorage {
	t.Helper()
	s := NewGormStorage(openTestDB(t))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s
}

// newStoredJob builds a valid record with the given status.
func newStoredJob(status core.JobStatus, created time.Time) *core.StoredJob {
	job := &core.Job{
		ID:        uuid.New().String(),
		Type:      core.TypeReindexStrand,
		Status:    status,
		Payload:   json.RawMessage(`{"strandPath":"notes/a.md"}`),
		CreatedAt: created,
	}
	switch status {
	case core.StatusRunning:
		job.StartedAt = &created
	case core.StatusCompleted:
		done := created.Add(time.Second)
		job.StartedAt, job.CompletedAt = &created, &done
		job.Progress = 100
		job.Result = json.RawMessage(`{"ok":true}`)
	case core.StatusFailed:
		done := created.Add(time.Second)
		job.StartedAt, job.CompletedAt = &created, &done
		job.Error = "boom"
	case core.StatusCancelled:
		done := created.Add(time.Second)
		job.CompletedAt = &done
	}
	return core.ToStored(job)
}
