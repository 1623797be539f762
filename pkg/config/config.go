// Package config loads the configuration of the orchestrator: the failure policy of pipelines, the
// logger and the checkpoint backend.
package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/askiada/go-orchestrator/pkg/pipeline"
)

const envPrefix = "ORCHESTRATOR"

// Backends of the checkpoint store.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendNATS   = "nats"
)

// LogConfig selects the logger observing the runs.
type LogConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // zap, zerolog or none
	Level   string `mapstructure:"level" yaml:"level"`     // debug, info, warn or error
	Format  string `mapstructure:"format" yaml:"format"`   // json or console
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs" yaml:"addrs"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"` // Secret
	DB       int      `mapstructure:"db" yaml:"db"`
	Prefix   string   `mapstructure:"prefix" yaml:"prefix"`
}

type SQLConfig struct {
	DSN   string `mapstructure:"dsn" yaml:"dsn"` // Secret: may embed credentials
	Table string `mapstructure:"table" yaml:"table"`
	// Migrate creates the checkpoint table when it does not exist.
	Migrate bool `mapstructure:"migrate" yaml:"migrate"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"`
	Codec         string        `mapstructure:"codec" yaml:"codec"`
	KeepCompleted bool          `mapstructure:"keep_completed" yaml:"keep_completed"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	Redis         RedisConfig   `mapstructure:"redis" yaml:"redis"`
	SQL           SQLConfig     `mapstructure:"sql" yaml:"sql"`
	NATS          NATSConfig    `mapstructure:"nats" yaml:"nats"`
}

// Config wraps the entire configuration of the orchestrator.
type Config struct {
	Pipeline   pipeline.Options `mapstructure:"pipeline" yaml:"pipeline"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
}

var defaults = map[string]any{
	"pipeline.break_on_fail":             true,
	"pipeline.force_rollback_on_failure": false,
	"pipeline.allow_propagate_error":     false,
	"log.backend":                        "zap",
	"log.level":                          "info",
	"log.format":                         "json",
	"checkpoint.backend":                 BackendMemory,
	"checkpoint.codec":                   "json",
	"checkpoint.keep_completed":          false,
	"checkpoint.retention":               "168h",
	"checkpoint.redis.addrs":             []string{"localhost:6379"},
	"checkpoint.redis.username":          "",
	"checkpoint.redis.password":          "",
	"checkpoint.redis.db":                0,
	"checkpoint.redis.prefix":            "orchestrator:",
	"checkpoint.sql.dsn":                 "",
	"checkpoint.sql.table":               "pipeline_checkpoints",
	"checkpoint.sql.migrate":             true,
	"checkpoint.nats.url":                "nats://localhost:4222",
	"checkpoint.nats.bucket":             "pipeline_checkpoints",
}

// New returns a viper instance holding the defaults, overridden by ORCHESTRATOR_ prefixed
// environment variables: checkpoint.sql.dsn is read from ORCHESTRATOR_CHECKPOINT_SQL_DSN.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load loads the config from the file path, falling back to the defaults and the environment if
// the file does not exist. An empty path skips the file.
func Load(filePath string) (*Config, error) {
	v := New()
	if filePath != "" {
		v.SetConfigFile(filePath)
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "unable to read config file %s", filePath)
			}
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Log.Backend {
	case "zap", "zerolog", "none", "":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown log backend %q", c.Log.Backend)
	}
	switch c.Log.Format {
	case "json", "console", "":
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown log format %q", c.Log.Format)
	}
	switch c.Checkpoint.Backend {
	case BackendMemory, BackendRedis, BackendNATS:
	case BackendSQL:
		if c.Checkpoint.SQL.DSN == "" {
			return errors.Wrap(ErrInvalidConfig, "checkpoint.sql.dsn is required")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Retention < 0 {
		return errors.Wrap(ErrInvalidConfig, "checkpoint.retention must not be negative")
	}
	_, err := c.codec()

	return err
}

// PipelineOptions returns the options configuring a Pipeline or a Sequence.
func (c *Config) PipelineOptions() ([]pipeline.Option, error) {
	cdc, err := c.codec()
	if err != nil {
		return nil, err
	}

	return []pipeline.Option{
		pipeline.WithOptions(c.Pipeline),
		pipeline.WithCodec(cdc),
		pipeline.KeepCompletedCheckpoints(c.Checkpoint.KeepCompleted),
	}, nil
}
