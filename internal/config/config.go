// Package config loads polyindex settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	perrors "github.com/polyindex/polyindex/polyindex/errors"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Search   SearchConfig   `yaml:"search"`
	Reindex  ReindexConfig  `yaml:"reindex"`
	Models   ModelsConfig   `yaml:"models"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	// Name is slugified into every index name.
	Name       string `yaml:"name" env:"POLYINDEX_DB_NAME" env-default:"bulbs"`
	Backend    string `yaml:"backend" env:"POLYINDEX_DB_BACKEND" env-default:"sqlite"`
	SQLitePath string `yaml:"sqlite_path" env:"POLYINDEX_SQLITE_PATH" env-default:"polyindex.db"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo builds only).
	Driver string `yaml:"driver" env:"POLYINDEX_SQLITE_DRIVER" env-default:"sqlite"`
	DSN    string `yaml:"-" env:"POLYINDEX_PG_DSN"`
	Schema string `yaml:"schema" env:"POLYINDEX_PG_SCHEMA" env-default:"public"`
}

type SearchConfig struct {
	DataDir string `yaml:"data_dir" env:"POLYINDEX_SEARCH_DIR" env-default:"polyindex-search"`
	// SettingsFile optionally overlays the baseline index settings.
	SettingsFile string `yaml:"settings_file" env:"POLYINDEX_SEARCH_SETTINGS"`
}

type ReindexConfig struct {
	BatchSize int `yaml:"batch_size" env:"POLYINDEX_BATCH_SIZE" env-default:"250"`
}

type ModelsConfig struct {
	Manifest string `yaml:"manifest" env:"POLYINDEX_MANIFEST" env-default:"models.yaml"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"POLYINDEX_LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"POLYINDEX_LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads path when it exists, applies environment overrides and validates
// the result. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, perrors.Wrap(perrors.ErrConfig, "read "+path, err)
			}
			return cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, perrors.Wrap(perrors.ErrConfig, "stat "+path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, perrors.Wrap(perrors.ErrConfig, "read environment", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return perrors.NewError(perrors.ErrConfig, "database.sqlite_path is required for the sqlite backend")
		}
		if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
			return perrors.NewError(perrors.ErrConfig, fmt.Sprintf("unknown sqlite driver %q", c.Database.Driver))
		}
	case "postgres":
		if c.Database.DSN == "" {
			return perrors.NewError(perrors.ErrConfig, "POLYINDEX_PG_DSN is required for the postgres backend")
		}
	default:
		return perrors.NewError(perrors.ErrConfig, fmt.Sprintf("unknown database backend %q", c.Database.Backend))
	}
	if c.Search.DataDir == "" {
		return perrors.NewError(perrors.ErrConfig, "search.data_dir is required")
	}
	if c.Reindex.BatchSize <= 0 {
		return perrors.NewError(perrors.ErrConfig, "reindex.batch_size must be positive")
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return perrors.Wrap(perrors.ErrConfig, "log.level", err)
	}
	return nil
}

// Logger builds the process logger described by c.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
