// Package config provides memcore configuration: defaults, YAML file
// loading, and environment overrides, in priority order
// defaults → file → environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/adaptivecoach/memcore/types"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// MEMCORE_REDIS_ADDR.
const EnvPrefix = "MEMCORE"

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete memcore configuration.
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Budgets  BudgetConfig   `yaml:"budgets"`
	Memory   MemoryConfig   `yaml:"memory"`
	Log      LogConfig      `yaml:"log"`
}

// RedisConfig configures the session-tier backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig configures the sqlite database backing the permanent
// and rolling tiers.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BudgetConfig holds token budgets. Per-tier budgets bound each tier's
// contribution before assembly; Global bounds the assembled context.
type BudgetConfig struct {
	FixedInstructions int `yaml:"fixed_instructions"`
	Permanent         int `yaml:"permanent"`
	Rolling           int `yaml:"rolling"`
	Session           int `yaml:"session"`
	Documents         int `yaml:"documents"`
	Query             int `yaml:"query"`
	Global            int `yaml:"global"`
}

// MemoryConfig holds tier lifecycle settings.
type MemoryConfig struct {
	RetentionDays   int      `yaml:"retention_days"`
	SessionTTL      Duration `yaml:"session_ttl"`
	MaxTurns        int      `yaml:"max_turns"`
	WriteRetries    int      `yaml:"write_retries"`
	RetryBackoff    Duration `yaml:"retry_backoff"`
	SupplierTimeout Duration `yaml:"supplier_timeout"`
	DocumentLimit   int      `yaml:"document_limit"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Path: "memcore.db",
		},
		Budgets: BudgetConfig{
			FixedInstructions: 500,
			Permanent:         400,
			Rolling:           800,
			Session:           500,
			Documents:         1500,
			Query:             200,
			Global:            3900,
		},
		Memory: MemoryConfig{
			RetentionDays:   7,
			SessionTTL:      Duration(time.Hour),
			MaxTurns:        10,
			WriteRetries:    2,
			RetryBackoff:    Duration(100 * time.Millisecond),
			SupplierTimeout: Duration(2 * time.Second),
			DocumentLimit:   5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds configuration from defaults, an optional YAML file, and
// environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv(EnvPrefix + "_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv(EnvPrefix + "_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvPrefix + "_GLOBAL_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Budgets.Global = n
		}
	}
	if v := os.Getenv(EnvPrefix + "_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Memory.RetentionDays = n
		}
	}
	if v := os.Getenv(EnvPrefix + "_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Memory.SessionTTL = Duration(d)
		}
	}
	if v := os.Getenv(EnvPrefix + "_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects impossible budget setups. The two never-truncated
// sections must fit inside the global budget with room to spare.
func (c *Config) Validate() error {
	for name, v := range map[string]int{
		"fixed_instructions": c.Budgets.FixedInstructions,
		"permanent":          c.Budgets.Permanent,
		"rolling":            c.Budgets.Rolling,
		"session":            c.Budgets.Session,
		"documents":          c.Budgets.Documents,
		"query":              c.Budgets.Query,
		"global":             c.Budgets.Global,
	} {
		if v <= 0 {
			return types.NewError(types.ErrConfiguration, "budget "+name+" must be positive")
		}
	}
	if c.Budgets.FixedInstructions+c.Budgets.Query > c.Budgets.Global {
		return types.NewError(types.ErrConfiguration,
			"fixed instruction and query budgets exceed the global budget")
	}
	if c.Memory.RetentionDays <= 0 {
		return types.NewError(types.ErrConfiguration, "retention_days must be positive")
	}
	if c.Memory.WriteRetries < 0 {
		return types.NewError(types.ErrConfiguration, "write_retries cannot be negative")
	}
	return nil
}

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	return zc.Build()
}
