package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jdziat/strand-jobs/pkg/relay"
	"github.com/jdziat/strand-jobs/pkg/storage"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STRANDJOBS"

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	pool := storage.DefaultPoolConfig()

	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.dsn", "strand-jobs.db")
	v.SetDefault("database.pool.max_open_conns", pool.MaxOpenConns)
	v.SetDefault("database.pool.max_idle_conns", pool.MaxIdleConns)
	v.SetDefault("database.pool.conn_max_lifetime", pool.ConnMaxLifetime)
	v.SetDefault("database.pool.conn_max_idle_time", pool.ConnMaxIdleTime)
	v.SetDefault("database.log_sql", false)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.shutdown_timeout", "30s")
	v.SetDefault("worker.schedule_tick", "1s")
	v.SetDefault("worker.terminal_cache_size", 1024)
	v.SetDefault("worker.reindex_timeout", "5m")
	v.SetDefault("worker.channel_command", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", relay.DefaultStream)
	v.SetDefault("redis.max_len", relay.DefaultMaxLen)
	v.SetDefault("redis.progress_rate", relay.DefaultProgressRate)
	v.SetDefault("redis.progress_burst", relay.DefaultProgressBurst)
	v.SetDefault("redis.write_timeout", "2s")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.heartbeat", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("content.root", ".")
}

// Load reads configuration. path names a YAML file; when empty, a
// strand-jobs.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("strand-jobs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("config: invalid: redis.addr is required when redis is enabled")
	}
	seen := make(map[string]bool, len(c.Worker.Schedules))
	for _, s := range c.Worker.Schedules {
		if seen[s.Name] {
			return fmt.Errorf("config: invalid: schedule %q declared twice", s.Name)
		}
		seen[s.Name] = true
		if _, _, err := s.Build(); err != nil {
			return fmt.Errorf("config: invalid: schedule %q: %w", s.Name, err)
		}
	}
	return nil
}
