package storage

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenOptions configures Open.
type OpenOptions struct {
	Driver string
	DSN    string
	Pool   PoolConfig
	// LogSQL enables GORM's statement logger at warn level.
	LogSQL bool
}

// Open connects to the configured database and applies the pool settings.
// SQLite ignores Pool and uses a single connection.
func Open(opts OpenOptions) (*gorm.DB, error) {
	var dialector gorm.Dialector
	pinned := false
	switch opts.Driver {
	case DriverSQLite, "":
		dialector = sqlite.Open(opts.DSN)
		pinned = true
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", opts.Driver)
	}

	level := logger.Silent
	if opts.LogSQL {
		level = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.Driver, err)
	}
	if pinned {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("storage: underlying *sql.DB: %w", err)
		}
		apply(sqlDB, singleConnection())
		return db, nil
	}
	if err := ConfigurePool(db, opts.Pool); err != nil {
		return nil, err
	}
	return db, nil
}
