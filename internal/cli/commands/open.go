package commands

import (
	"context"

	"go.uber.org/zap"

	"github.com/polyindex/polyindex/internal/cliopt"
	"github.com/polyindex/polyindex/internal/config"
	"github.com/polyindex/polyindex/polyindex"
)

// session is an opened client plus what a command needs to report with.
type session struct {
	client *polyindex.Client
	cfg    *config.Config
	logger *zap.Logger
}

func (s *session) Close() {
	_ = s.client.Close()
	_ = s.logger.Sync()
}

func open(ctx context.Context, g cliopt.GlobalOptions) (*session, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, polyindex.Wrap(polyindex.ErrConfig, "build logger", err)
	}
	opts := polyindex.OpenOptionsFromConfig(cfg)
	opts.Logger = logger
	client, err := polyindex.Open(ctx, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &session{client: client, cfg: cfg, logger: logger}, nil
}
