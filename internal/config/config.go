// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Cache         CacheConfig         `yaml:"cache"`
	Seed          SeedConfig          `yaml:"seed"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// StoreConfig describes where templates, fields and the change log live.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// IdempotencyConfig describes idempotency store settings.
type IdempotencyConfig struct {
	Enabled bool                   `yaml:"enabled"`
	Store   IdempotencyStoreConfig `yaml:"store"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CacheConfig describes the in-process field cache. FieldEntries 0 disables
// the cache; FieldTTL bounds staleness when several instances share a store.
type CacheConfig struct {
	FieldEntries int           `yaml:"field_entries"`
	FieldTTL     time.Duration `yaml:"field_ttl"`
}

// SeedConfig describes YAML definition files imported at startup.
type SeedConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Directories []string `yaml:"directories"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Accept-Language",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			DSNEnv:          "REGELWERK_DATABASE_URL",
			SQLitePath:      "regelwerk.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Store: IdempotencyStoreConfig{
				Driver:     DriverMemory,
				AddrEnv:    "REGELWERK_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Cache: CacheConfig{
			FieldEntries: 4096,
			FieldTTL:     30 * time.Second,
		},
		Seed: SeedConfig{
			Directories: []string{"/definitions"},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates the result. An empty path skips the file and starts from
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSNEnv == "" {
			errs = append(errs, "store.dsn_env is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, sqlite", c.Store.Driver))
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Store.Driver {
		case DriverMemory:
		case DriverRedis:
			if c.Idempotency.Store.AddrEnv == "" {
				errs = append(errs, "idempotency.store.addr_env is required for the redis driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("idempotency.store.driver %q is not one of memory, redis",
				c.Idempotency.Store.Driver))
		}
		if c.Idempotency.Store.DefaultTTL <= 0 {
			errs = append(errs, "idempotency.store.default_ttl must be positive")
		}
	}

	if c.Cache.FieldEntries < 0 {
		errs = append(errs, "cache.field_entries must not be negative")
	}
	if c.Cache.FieldTTL < 0 {
		errs = append(errs, "cache.field_ttl must not be negative")
	}
	if c.Seed.Enabled && len(c.Seed.Directories) == 0 {
		errs = append(errs, "seed.directories is required when seeding is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads REGELWERK_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REGELWERK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REGELWERK_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("REGELWERK_STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("REGELWERK_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Idempotency.Store.Driver = v
	}
	if v := os.Getenv("REGELWERK_SEED_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Seed.Enabled = b
		}
	}
	if v := os.Getenv("REGELWERK_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
