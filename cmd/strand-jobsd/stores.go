package main

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/jdziat/strand-jobs/pkg/config"
	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/storage"
)

// stores holds the job store and the content index.
type stores struct {
	db      *gorm.DB
	jobs    core.Storage
	content *storage.GormContentIndex
}

// openStores connects to the configured database and migrates every table.
// The memory driver keeps jobs in process and the content index in an
// in-memory SQLite database.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	opts := storage.OpenOptions{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Pool:   cfg.Database.Pool,
		LogSQL: cfg.Database.LogSQL,
	}
	memory := cfg.Database.Driver == "memory"
	if memory {
		opts = storage.OpenOptions{Driver: storage.DriverSQLite, DSN: ":memory:"}
	}

	db, err := storage.Open(opts)
	if err != nil {
		return nil, err
	}
	st := &stores{db: db, content: storage.NewGormContentIndex(db)}
	if memory {
		st.jobs = storage.NewMemoryStorage()
	} else {
		st.jobs = storage.NewGormStorage(db)
	}

	if err := st.jobs.Migrate(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}
	if err := st.content.Migrate(ctx); err != nil {
		st.close()
		return nil, fmt.Errorf("migrate content index: %w", err)
	}
	logger.Debug("database ready", "driver", cfg.Database.Driver)
	return st, nil
}

func (s *stores) close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
