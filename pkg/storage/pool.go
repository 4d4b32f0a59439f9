package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig holds connection pool configuration. Zero fields take the
// value from DefaultPoolConfig.
type PoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DefaultPoolConfig returns the pool used when nothing is configured. The
// engine writes on every job transition but from few goroutines, so a small
// pool suffices.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// withDefaults fills zero fields and keeps the idle pool within the open
// limit.
func (pc PoolConfig) withDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if pc.MaxOpenConns <= 0 {
		pc.MaxOpenConns = def.MaxOpenConns
	}
	if pc.MaxIdleConns <= 0 {
		pc.MaxIdleConns = def.MaxIdleConns
	}
	if pc.MaxIdleConns > pc.MaxOpenConns {
		pc.MaxIdleConns = pc.MaxOpenConns
	}
	if pc.ConnMaxLifetime <= 0 {
		pc.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if pc.ConnMaxIdleTime <= 0 {
		pc.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	return pc
}

// singleConnection is the pool for SQLite: an in-memory database is
// private to its connection and file databases serialize writers anyway.
// Connections never expire so an in-memory database is not dropped.
func singleConnection() PoolConfig {
	return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

// ConfigurePool applies pc to db. Zero fields of pc take defaults.
func ConfigurePool(db *gorm.DB, pc PoolConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("storage: underlying *sql.DB: %w", err)
	}
	apply(sqlDB, pc.withDefaults())
	return nil
}

type sqlPool interface {
	SetMaxOpenConns(n int)
	SetMaxIdleConns(n int)
	SetConnMaxLifetime(d time.Duration)
	SetConnMaxIdleTime(d time.Duration)
}

func apply(p sqlPool, pc PoolConfig) {
	p.SetMaxOpenConns(pc.MaxOpenConns)
	p.SetMaxIdleConns(pc.MaxIdleConns)
	p.SetConnMaxLifetime(pc.ConnMaxLifetime)
	p.SetConnMaxIdleTime(pc.ConnMaxIdleTime)
}
