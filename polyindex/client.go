package polyindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/mapping"
	"github.com/polyindex/polyindex/polyindex/metrics"
	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/ops"
	"github.com/polyindex/polyindex/polyindex/registry"
	"github.com/polyindex/polyindex/polyindex/storage"
)

type Client struct {
	env       ops.Env
	store     *storage.Store
	engine    engine.Client
	registry  *registry.Registry
	extractor *mapping.Extractor
	types     []*model.Type
	batchSize int
	logger    *zap.Logger
}

// SaveOptions controls Client.Save.
type SaveOptions struct {
	// Index also upserts the saved row's document into its family alias.
	Index bool
}

// NewClient builds a client over an already open engine and store.
func NewClient(eng engine.Client, st *storage.Store, opts OpenOptions) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return newClient(eng, st, opts.Types, engine.DefaultSettings(), opts, logger)
}

func newClient(eng engine.Client, st *storage.Store, types []*model.Type, settings engine.Settings, opts OpenOptions, logger *zap.Logger) (*Client, error) {
	if err := model.Validate(types); err != nil {
		return nil, Wrap(ErrSchema, "validate types", err)
	}
	reg := registry.New()
	if err := reg.Populate(types...); err != nil {
		return nil, err
	}
	if st != nil {
		st.Register(types...)
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = ops.DefaultBatchSize
	}
	c := &Client{
		store:     st,
		engine:    eng,
		registry:  reg,
		extractor: mapping.NewExtractor(st),
		types:     types,
		batchSize: batch,
		logger:    logger,
	}
	c.env = ops.Env{
		Engine:   eng,
		Registry: reg,
		Store:    st,
		Naming:   ops.NewNaming(opts.DatabaseName),
		Settings: &settings,
		Logger:   logger,
		Metrics:  metrics.New(opts.Registerer),
	}
	return c, nil
}

func (c *Client) Close() error {
	return errors.Join(c.engine.Close(), c.store.Close())
}

func (c *Client) Registry() *registry.Registry { return c.registry }
func (c *Client) Store() *storage.Store        { return c.store }
func (c *Client) Engine() engine.Client        { return c.engine }
func (c *Client) Naming() ops.Naming           { return c.env.Naming }

// Types returns every declared type, indexable or not.
func (c *Client) Types() []*model.Type { return append([]*model.Type(nil), c.types...) }

// LookupType finds a declared type by qualified name (app.Name) or document
// type name (app_name).
func (c *Client) LookupType(name string) (*model.Type, error) {
	for _, t := range c.types {
		if t.QualifiedName() == name || t.DocTypeName() == strings.ToLower(name) {
			return t, nil
		}
	}
	return nil, NewError(ErrNotFound, "unknown type "+name)
}

// Migrate creates or extends the store tables of every declared type.
func (c *Client) Migrate(ctx context.Context) error {
	return c.store.Migrate(ctx, c.types...)
}

func (c *Client) Sync(ctx context.Context, opts ops.SyncOptions) (*ops.SyncReport, error) {
	return ops.NewSynchronizer(c.env).Sync(ctx, opts)
}

// BulkIndex reindexes every registered type. A zero batch size uses the
// configured one.
func (c *Client) BulkIndex(ctx context.Context, opts ops.BulkOptions) (*ops.BulkResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = c.batchSize
	}
	return ops.NewReindexer(c.env).Run(ctx, opts)
}

func (c *Client) SwapAliases(ctx context.Context, suffix string) ([]ops.Cutover, error) {
	return ops.SwapAliases(ctx, c.env, suffix)
}

// Save writes inst to the store and, when opts.Index is set, indexes it.
func (c *Client) Save(ctx context.Context, inst *model.Instance, opts SaveOptions) error {
	if err := c.store.Save(ctx, inst); err != nil {
		return err
	}
	if !opts.Index {
		return nil
	}
	return c.Index(ctx, inst)
}

// Index upserts inst's document through its family's stable alias.
func (c *Client) Index(ctx context.Context, inst *model.Instance) error {
	t := inst.Type
	if _, ok := c.registry.Lookup(t.DocTypeName()); !ok {
		return NewError(ErrRegistry, fmt.Sprintf("%s is not a registered document type", t.QualifiedName()))
	}
	if inst.ID == 0 {
		return NewError(ErrConversion, "cannot index an unsaved instance")
	}
	doc, err := c.extractor.Extract(ctx, inst)
	if err != nil {
		return err
	}
	index := c.env.Naming.Index(t)
	err = c.engine.Update(ctx, index, t.DocTypeName(), strconv.FormatInt(inst.ID, 10), doc, true)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrStrictMapping), errors.Is(err, engine.ErrInvalidValue), errors.Is(err, engine.ErrTypeNotMapped):
		return Wrap(ErrStrictMapping, "index "+t.QualifiedName(), err)
	case errors.Is(err, engine.ErrIndexNotFound):
		return Wrap(ErrNotFound, "index "+index, err)
	case errors.Is(err, engine.ErrIndexClosed):
		return Wrap(ErrIndexClosed, "index "+index, err)
	}
	return Wrap(ErrEngine, "index "+t.QualifiedName(), err)
}

// Refresh makes writes to t's family visible to search.
func (c *Client) Refresh(ctx context.Context, t *model.Type) error {
	if err := c.engine.Refresh(ctx, c.env.Naming.Index(t)); err != nil {
		return Wrap(ErrEngine, "refresh "+c.env.Naming.Index(t), err)
	}
	return nil
}

// Mapping is the mapping document installed for t.
func (c *Client) Mapping(t *model.Type) (engine.Mapping, error) {
	return ops.MappingFor(t)
}

// DocumentFor extracts the search document of inst without indexing it.
func (c *Client) DocumentFor(ctx context.Context, inst *model.Instance) (engine.Document, error) {
	return c.extractor.Extract(ctx, inst)
}

// Search starts an unrestricted search over t's family.
func (c *Client) Search(t *model.Type) *ops.Search {
	return ops.NewSearch(c.env, t)
}
