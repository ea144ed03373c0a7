// Package ops implements the operations run against a family's search index:
// schema sync, bulk reindex, alias cutover and polymorphic search.
package ops

import (
	"context"

	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/metrics"
	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/registry"
)

// Store is the relational side the operations read from.
type Store interface {
	IterateInstanceOf(ctx context.Context, t *model.Type, exact bool, pageSize int, fn func(*model.Instance) error) error
	InBulk(ctx context.Context, t *model.Type, ids []int64) (map[int64]*model.Instance, error)
	ResolveRelated(ctx context.Context, t *model.Type, id int64) (*model.Instance, error)
}

// Env carries the collaborators shared by every operation.
type Env struct {
	Engine   engine.Client
	Registry *registry.Registry
	Store    Store
	Naming   Naming
	// Settings is the baseline for new indices; zero means engine.DefaultSettings().
	Settings *engine.Settings
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func (e Env) withDefaults() Env {
	if e.Registry == nil {
		e.Registry = registry.Default
	}
	if e.Naming.Prefix == "" {
		e.Naming = NewNaming("")
	}
	if e.Settings == nil {
		s := engine.DefaultSettings()
		e.Settings = &s
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Metrics == nil {
		e.Metrics = metrics.New(nil)
	}
	return e
}
