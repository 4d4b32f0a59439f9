package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jdziat/strand-jobs/pkg/relay"
	"github.com/jdziat/strand-jobs/pkg/schedule"
	"github.com/jdziat/strand-jobs/pkg/storage"
)

// Config holds all daemon configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Content  ContentConfig  `mapstructure:"content"`
}

// DatabaseConfig selects the job store.
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver" validate:"required,oneof=sqlite postgres memory"`
	DSN    string             `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	Pool   storage.PoolConfig `mapstructure:"pool"`
	LogSQL bool               `mapstructure:"log_sql"`
}

// WorkerConfig sizes the in-process worker.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1,lte=256"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	ScheduleTick    time.Duration `mapstructure:"schedule_tick" validate:"gte=0"`
	// Schedules are recurring submissions. The scheduler loop runs only
	// when at least one is declared.
	Schedules []ScheduleConfig `mapstructure:"schedules" validate:"dive"`
	// TerminalCacheSize is how many finished jobs stay readable from memory.
	TerminalCacheSize int `mapstructure:"terminal_cache_size" validate:"gte=1"`
	// ReindexTimeout bounds one reindex-strand job. Zero means no limit.
	ReindexTimeout time.Duration `mapstructure:"reindex_timeout" validate:"gte=0"`
	// ChannelCommand, when set, runs each worker channel as this command
	// (typically "strand-jobsd worker") instead of in-process.
	ChannelCommand []string `mapstructure:"channel_command"`
}

// ScheduleConfig declares one recurring submission. Exactly one of Every
// and Cron is set. Payload is JSON text, so its keys keep their case.
type ScheduleConfig struct {
	Name    string        `mapstructure:"name" validate:"required"`
	Type    string        `mapstructure:"type" validate:"required"`
	Every   time.Duration `mapstructure:"every" validate:"gte=0"`
	Cron    string        `mapstructure:"cron"`
	Payload string        `mapstructure:"payload"`
}

// Build returns the schedule and payload to register.
func (s ScheduleConfig) Build() (schedule.Schedule, json.RawMessage, error) {
	var payload json.RawMessage
	if s.Payload != "" {
		if !json.Valid([]byte(s.Payload)) {
			return nil, nil, errors.New("payload is not valid JSON")
		}
		payload = json.RawMessage(s.Payload)
	}
	switch {
	case s.Every > 0 && s.Cron != "":
		return nil, nil, errors.New("set every or cron, not both")
	case s.Every > 0:
		return schedule.Every(s.Every), payload, nil
	case s.Cron != "":
		sched, err := schedule.ParseCron(s.Cron)
		if err != nil {
			return nil, nil, err
		}
		return sched, payload, nil
	}
	return nil, nil, errors.New("every or cron is required")
}

// RedisConfig enables the Redis event relay.
type RedisConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	relay.Config `mapstructure:",squash"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
	Heartbeat         time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ContentConfig locates the strand files served to the reindex pipeline.
type ContentConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}
