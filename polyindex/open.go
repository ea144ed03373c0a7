// Package polyindex keeps a search index in step with a polymorphic relational
// model. Client wires the type registry, the relational store and the search
// engine together and exposes the sync, reindex and alias operations.
package polyindex

import (
	"context"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/internal/config"
	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/engine/embedded"
	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/storage"
	"github.com/polyindex/polyindex/polyindex/storage/postgres"
	"github.com/polyindex/polyindex/polyindex/storage/sqlite"
)

// CatalogFile is the engine catalog's file name inside the search data dir.
const CatalogFile = "catalog.db"

type OpenOptions struct {
	DatabaseName   string
	Backend        string
	SQLitePath     string
	SQLiteDriver   string
	PostgresDSN    string
	PostgresSchema string

	SearchDir    string
	SettingsFile string
	BatchSize    int

	// Manifest is read when Types is empty.
	Manifest string
	Types    []*model.Type

	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// OpenOptionsFromConfig converts loaded configuration into open options.
func OpenOptionsFromConfig(cfg *config.Config) OpenOptions {
	return OpenOptions{
		DatabaseName:   cfg.Database.Name,
		Backend:        cfg.Database.Backend,
		SQLitePath:     cfg.Database.SQLitePath,
		SQLiteDriver:   cfg.Database.Driver,
		PostgresDSN:    cfg.Database.DSN,
		PostgresSchema: cfg.Database.Schema,
		SearchDir:      cfg.Search.DataDir,
		SettingsFile:   cfg.Search.SettingsFile,
		BatchSize:      cfg.Reindex.BatchSize,
		Manifest:       cfg.Models.Manifest,
	}
}

// Open connects the store, opens the engine catalog and registers the types.
func Open(ctx context.Context, opts OpenOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	types := opts.Types
	if len(types) == 0 {
		if opts.Manifest == "" {
			return nil, NewError(ErrConfig, "no types given and no manifest configured")
		}
		var err error
		if types, err = model.LoadManifestFile(opts.Manifest); err != nil {
			return nil, Wrap(ErrConfig, "load manifest "+opts.Manifest, err)
		}
	}

	settings := engine.DefaultSettings()
	if opts.SettingsFile != "" {
		over, err := engine.LoadSettingsFile(opts.SettingsFile)
		if err != nil {
			return nil, Wrap(ErrConfig, "load settings "+opts.SettingsFile, err)
		}
		settings = settings.Merge(over)
	}

	var adapter storage.Adapter
	switch opts.Backend {
	case "", "sqlite":
		if opts.SQLiteDriver != "" {
			adapter = sqlite.NewWithDriver(opts.SQLitePath, opts.SQLiteDriver)
		} else {
			adapter = sqlite.New(opts.SQLitePath)
		}
	case "postgres":
		adapter = postgres.New(opts.PostgresDSN, opts.PostgresSchema)
	default:
		return nil, NewError(ErrConfig, "unknown backend "+opts.Backend)
	}
	st, err := storage.Open(ctx, adapter, logger.Named("store"))
	if err != nil {
		return nil, err
	}

	if opts.SearchDir == "" {
		_ = st.Close()
		return nil, NewError(ErrConfig, "search data dir is required")
	}
	if err := os.MkdirAll(opts.SearchDir, 0o755); err != nil {
		_ = st.Close()
		return nil, Wrap(ErrConfig, "create search dir", err)
	}
	eng, err := embedded.Open(filepath.Join(opts.SearchDir, CatalogFile), embedded.Options{Logger: logger.Named("engine")})
	if err != nil {
		_ = st.Close()
		return nil, Wrap(ErrEngine, "open engine", err)
	}

	c, err := newClient(eng, st, types, settings, opts, logger)
	if err != nil {
		_ = eng.Close()
		_ = st.Close()
		return nil, err
	}
	logger.Info("polyindex opened",
		zap.String("backend", string(st.Backend())),
		zap.String("prefix", c.env.Naming.Prefix),
		zap.Int("families", len(c.registry.Roots())))
	return c, nil
}
