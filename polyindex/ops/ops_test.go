package ops_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/engine/embedded"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/metrics"
	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/ops"
	"github.com/polyindex/polyindex/polyindex/registry"
	"github.com/polyindex/polyindex/polyindex/storage"
	"github.com/polyindex/polyindex/polyindex/storage/sqlite"
)

type fixture struct {
	env   ops.Env
	store *storage.Store
	eng   *embedded.Engine
	reg   *prometheus.Registry

	related, parent, child, grandchild, separate *model.Type
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	related := &model.Type{App: "testapp", Name: "RelatedModel", Table: "testapp_relatedmodel",
		Columns: []model.Column{{Name: "qux", Kind: model.KindChar, Null: true}}}
	parent := &model.Type{App: "testapp", Name: "ParentIndexable", Table: "testapp_parentindexable",
		Polymorphic: true, Indexable: true, Columns: []model.Column{{Name: "foo", Kind: model.KindChar}}}
	child := &model.Type{App: "testapp", Name: "ChildIndexable", Parent: parent,
		Columns: []model.Column{{Name: "bar", Kind: model.KindInteger, Null: true}}}
	grandchild := &model.Type{App: "testapp", Name: "GrandchildIndexable", Parent: child,
		Columns: []model.Column{
			{Name: "baz", Kind: model.KindDateTime, Null: true},
			{Name: "related", Kind: model.KindForeignKey, References: related, Null: true},
		},
		Mapping: &model.Override{Fields: []model.FieldDecl{{Name: "related", Type: engine.TypeObject, Related: related}}},
	}
	separate := &model.Type{App: "otherapp", Name: "SeparateIndexable", Table: "otherapp_separateindexable",
		Polymorphic: true, Indexable: true, Columns: []model.Column{{Name: "junk", Kind: model.KindChar, Null: true}}}

	st, err := storage.Open(ctx, sqlite.New(filepath.Join(dir, "store.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx, related, parent, child, grandchild, separate))

	eng, err := embedded.Open(filepath.Join(dir, "search.db"), embedded.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	reg := registry.New()
	require.NoError(t, reg.Populate(related, parent, child, grandchild, separate))

	promReg := prometheus.NewRegistry()
	return &fixture{
		env: ops.Env{
			Engine:   eng,
			Registry: reg,
			Store:    st,
			Naming:   ops.NewNaming(""),
			Logger:   logger,
			Metrics:  metrics.New(promReg),
		},
		store: st, eng: eng, reg: promReg,
		related: related, parent: parent, child: child, grandchild: grandchild, separate: separate,
	}
}

// seed stores the three rows of the canonical family walkthrough.
func (f *fixture) seed(t *testing.T) (p, c, g *model.Instance) {
	t.Helper()
	ctx := context.Background()
	rel := model.NewInstance(f.related).Set("qux", "quux")
	require.NoError(t, f.store.Save(ctx, rel))

	p = model.NewInstance(f.parent).Set("foo", "Fighters")
	c = model.NewInstance(f.child).Set("foo", "Fighters").Set("bar", int64(69))
	g = model.NewInstance(f.grandchild).Set("foo", "Fighters").Set("bar", int64(69)).
		Set("baz", time.Date(2014, 1, 1, 12, 0, 0, 0, time.UTC)).Set("related", rel.ID)
	for _, inst := range []*model.Instance{p, c, g} {
		require.NoError(t, f.store.Save(ctx, inst))
	}
	return p, c, g
}

func (f *fixture) build(t *testing.T, suffix string) *ops.BulkResult {
	t.Helper()
	ctx := context.Background()
	_, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: suffix})
	require.NoError(t, err)
	res, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: suffix})
	require.NoError(t, err)
	return res
}

func (f *fixture) count(t *testing.T, typ *model.Type, exact bool) uint64 {
	t.Helper()
	n, err := ops.NewSearch(f.env, typ).InstanceOf(typ, exact).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestEndToEndInstanceOfCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)

	f.build(t, "v1")
	_, err := ops.SwapAliases(ctx, f.env, "v1")
	require.NoError(t, err)
	require.NoError(t, f.eng.Refresh(ctx, f.env.Naming.Index(f.parent)))

	assert.Equal(t, uint64(3), f.count(t, f.parent, false))
	assert.Equal(t, uint64(2), f.count(t, f.child, false))
	assert.Equal(t, uint64(1), f.count(t, f.grandchild, false))
	assert.Equal(t, uint64(1), f.count(t, f.parent, true))
	assert.Equal(t, uint64(1), f.count(t, f.child, true))
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	syncer := ops.NewSynchronizer(f.env)

	first, err := syncer.Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)
	fam := first.Family(f.parent)
	require.NotNil(t, fam)
	assert.Equal(t, []ops.SyncState{ops.StateAbsent, ops.StateCreated, ops.StateSchemaInstalled, ops.StateReady}, fam.States)
	assert.Equal(t, "bulbs_testapp_parentindexable_v1", fam.Index)
	assert.Len(t, fam.DocTypes, 3)

	second, err := syncer.Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)
	fam = second.Family(f.parent)
	assert.Equal(t, []ops.SyncState{ops.StateSchemaInstalled, ops.StateReady}, fam.States)
	assert.Len(t, fam.DocTypes, 3)
	for _, dt := range fam.DocTypes {
		assert.NoError(t, dt.Err, dt.Name)
	}

	m, err := f.eng.GetMapping(ctx, fam.Index, "testapp_grandchildindexable")
	require.NoError(t, err)
	assert.True(t, m.Strict())
	assert.Contains(t, m.Properties, "related")
	assert.Contains(t, m.Properties["related"].Properties, "qux")

	assert.Equal(t, float64(8), testutil.ToFloat64(f.env.Metrics.SyncDocTypes.WithLabelValues(metrics.ResultInstalled)),
		"two families synced twice: four doc types per pass")
}

func TestSyncWithoutSuffixNeedsAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	syncer := ops.NewSynchronizer(f.env)

	_, err := syncer.Sync(ctx, ops.SyncOptions{})
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.ErrNotFound))

	f.build(t, "v1")
	_, err = ops.SwapAliases(ctx, f.env, "v1")
	require.NoError(t, err)

	report, err := syncer.Sync(ctx, ops.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, "bulbs_testapp_parentindexable_v1", report.Family(f.parent).Index)
}

func TestSyncRejectsStaticSettingsChangeWithoutForce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)

	changed := engine.DefaultSettings()
	changed.Analysis.Analyzers["plain"] = engine.AnalyzerDef{Type: "custom", Tokenizer: "whitespace", Filter: []string{"lowercase"}}
	env := f.env
	env.Settings = &changed

	report, err := ops.NewSynchronizer(env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.ErrSchemaConflict))
	assert.Contains(t, err.Error(),
		"Index 'bulbs_testapp_parentindexable_v1' already exists, and you're trying to update non-dynamic settings. "+
			"You will need to use a new suffix, or use the --force option")
	fam := report.Family(f.parent)
	assert.Equal(t, []ops.SyncState{ops.StateMismatchDetected, ops.StateRejected}, fam.States)
	assert.Empty(t, fam.DocTypes, "no mappings are installed after a rejection")

	got, err := f.eng.GetSettings(ctx, "bulbs_testapp_parentindexable_v1")
	require.NoError(t, err)
	assert.NotContains(t, got.Analysis.Analyzers, "plain")

	report, err = ops.NewSynchronizer(env).Sync(ctx, ops.SyncOptions{Suffix: "v1", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []ops.SyncState{ops.StateMismatchDetected, ops.StateForceUpdated, ops.StateSchemaInstalled, ops.StateReady},
		report.Family(f.parent).States)
	got, err = f.eng.GetSettings(ctx, "bulbs_testapp_parentindexable_v1")
	require.NoError(t, err)
	assert.Contains(t, got.Analysis.Analyzers, "plain")
}

func TestSyncDropExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	f.build(t, "v1")

	n, err := f.eng.Count(ctx, "bulbs_testapp_parentindexable_v1", engine.Query{})
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	report, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1", DropExisting: true})
	require.NoError(t, err)
	assert.Equal(t, ops.StateCreated, report.Family(f.parent).States[1])

	n, err = f.eng.Count(ctx, "bulbs_testapp_parentindexable_v1", engine.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// dropping a generation that does not exist is fine
	_, err = ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v7", DropExisting: true})
	require.NoError(t, err)
}

func TestSyncReportsMappingConflictPerDocType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	index := "bulbs_testapp_parentindexable_v1"
	require.NoError(t, f.eng.CreateIndex(ctx, index, engine.DefaultSettings()))
	// a foreign type already claims "bar" as a string
	require.NoError(t, f.eng.PutMapping(ctx, index, "legacy_thing", engine.Mapping{
		Dynamic:    engine.DynamicStrict,
		Properties: map[string]engine.FieldMapping{"bar": {Type: engine.TypeString}},
	}))

	report, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.Error(t, err)
	assert.True(t, perrors.IsCode(err, perrors.ErrSchemaConflict))

	fam := report.Family(f.parent)
	results := map[string]error{}
	for _, dt := range fam.DocTypes {
		results[dt.Name] = dt.Err
	}
	assert.NoError(t, results["testapp_parentindexable"])
	assert.Error(t, results["testapp_childindexable"])
	assert.Error(t, results["testapp_grandchildindexable"])
	assert.Equal(t, ops.StateSchemaInstalled, fam.Final())

	assert.Equal(t, ops.StateReady, report.Family(f.separate).Final(), "other families are unaffected")
}

func TestReindexIsUpsertIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, g := f.seed(t)

	var progress bytes.Buffer
	_, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)
	res, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: "v1", Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Flushes)
	assert.Equal(t, []*model.Type{f.parent, f.separate}, res.Types)
	assert.Contains(t, progress.String(), "Indexed 3 items")

	again, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: "v1"})
	require.NoError(t, err)
	assert.NotEqual(t, res.RunID, again.RunID)

	n, err := f.eng.Count(ctx, "bulbs_testapp_parentindexable_v1", engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	doc, err := f.eng.Get(ctx, "bulbs_testapp_parentindexable_v1", "testapp_grandchildindexable", strconv.FormatInt(g.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, "2014-01-01T12:00:00.000000+00:00", doc["baz"])
	assert.Equal(t, "testapp_grandchildindexable", doc["polymorphic_type"])
	related, ok := doc["related"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "quux", related["qux"])
}

func TestReindexBatchesAndRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, f.store.Save(ctx, model.NewInstance(f.child).Set("foo", "x").Set("bar", int64(i))))
	}
	_, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)

	res, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: "v1", BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Processed)
	assert.Equal(t, 3, res.Flushes, "two full batches and the remainder")
	assert.Equal(t, float64(7), testutil.ToFloat64(f.env.Metrics.ReindexDocuments.WithLabelValues(metrics.ResultIndexed)))
}

func TestReindexHaltsOnMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)

	index := "bulbs_testapp_parentindexable_v1"
	require.NoError(t, f.eng.CreateIndex(ctx, index, engine.DefaultSettings()))
	for _, typ := range []*model.Type{f.parent, f.grandchild} {
		m, err := ops.MappingFor(typ)
		require.NoError(t, err)
		require.NoError(t, f.eng.PutMapping(ctx, index, typ.DocTypeName(), m))
	}
	// the child mapping predates the "bar" column
	childMapping, err := ops.MappingFor(f.child)
	require.NoError(t, err)
	delete(childMapping.Properties, "bar")
	require.NoError(t, f.eng.PutMapping(ctx, index, f.child.DocTypeName(), childMapping))

	res, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: "v1", BatchSize: 1, Apps: []string{"testapp"}})
	require.Error(t, err)
	var mismatch *ops.BulkMismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Len(t, mismatch.Failed, 1)
	assert.Equal(t, "testapp_childindexable", mismatch.Failed[0].Type)
	assert.Equal(t, 400, mismatch.Failed[0].Status)
	assert.Equal(t, 1, res.Processed, "the run stops at the failing flush")

	n, err := f.eng.Count(ctx, index, engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n, "the grandchild is never submitted")
}

// shortBulk answers every bulk request with its last item missing.
type shortBulk struct {
	engine.Client
}

func (s shortBulk) Bulk(ctx context.Context, batch []engine.BulkOp) (*engine.BulkResponse, error) {
	resp, err := s.Client.Bulk(ctx, batch)
	if err != nil || len(resp.Items) == 0 {
		return resp, err
	}
	resp.Items = resp.Items[:len(resp.Items)-1]
	return resp, nil
}

func TestReindexHaltsOnShortResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)
	_, err := ops.NewSynchronizer(f.env).Sync(ctx, ops.SyncOptions{Suffix: "v1"})
	require.NoError(t, err)

	env := f.env
	env.Engine = shortBulk{Client: f.eng}
	res, err := ops.NewReindexer(env).Run(ctx, ops.BulkOptions{Suffix: "v1", BatchSize: 2, Apps: []string{"testapp"}})
	var mismatch *ops.BulkMismatchError
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	assert.Empty(t, mismatch.Failed)
	assert.Equal(t, 2, mismatch.Batch)
	assert.Equal(t, 1, mismatch.Answered)
	assert.Contains(t, mismatch.Error(), "engine answered 1 items")
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.env.Metrics.ReindexDocuments.WithLabelValues(metrics.ResultRejected)))
}

func TestReindexDoesNotPropagateDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, c, _ := f.seed(t)
	f.build(t, "v1")

	require.NoError(t, f.store.Delete(ctx, c))
	_, err := ops.NewReindexer(f.env).Run(ctx, ops.BulkOptions{Suffix: "v1"})
	require.NoError(t, err)

	n, err := f.eng.Count(ctx, "bulbs_testapp_parentindexable_v1", engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n, "stale documents stay until the next generation")
}

func TestAliasCutoverToNewGeneration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t)

	f.build(t, "v1")
	_, err := ops.SwapAliases(ctx, f.env, "v1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.count(t, f.parent, false))

	require.NoError(t, f.store.Save(ctx, model.NewInstance(f.child).Set("foo", "Foo").Set("bar", int64(1))))
	f.build(t, "v2")
	assert.Equal(t, uint64(3), f.count(t, f.parent, false), "v2 is not live before the swap")

	cutovers, err := ops.SwapAliases(ctx, f.env, "v2")
	require.NoError(t, err)
	require.Len(t, cutovers, 2)
	assert.Equal(t, "bulbs_testapp_parentindexable", cutovers[0].Alias)
	assert.Equal(t, []string{"bulbs_testapp_parentindexable_v1"}, cutovers[0].Previous)

	assert.Equal(t, uint64(4), f.count(t, f.parent, false))
	assert.Equal(t, uint64(3), f.count(t, f.child, false))

	aliases, err := f.eng.GetAliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliases["bulbs_testapp_parentindexable_v1"])
	assert.Equal(t, []string{"bulbs_testapp_parentindexable"}, aliases["bulbs_testapp_parentindexable_v2"])

	_, err = ops.SwapAliases(ctx, f.env, "v9")
	assert.True(t, perrors.IsCode(err, perrors.ErrNotFound))
}

func TestStrictSchemaRejectsUnknownField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, _ := f.seed(t)
	f.build(t, "v1")
	_, err := ops.SwapAliases(ctx, f.env, "v1")
	require.NoError(t, err)

	alias := f.env.Naming.Index(f.parent)
	before, err := f.eng.GetMapping(ctx, alias, "testapp_parentindexable")
	require.NoError(t, err)

	id := strconv.FormatInt(p.ID, 10)
	err = f.eng.Update(ctx, alias, "testapp_parentindexable", id,
		engine.Document{"foo": "Fighters", "extra": "nope"}, true)
	require.ErrorIs(t, err, engine.ErrStrictMapping)

	after, err := f.eng.GetMapping(ctx, alias, "testapp_parentindexable")
	require.NoError(t, err)
	assert.True(t, before.Equal(after))

	doc, err := f.eng.Get(ctx, alias, "testapp_parentindexable", id)
	require.NoError(t, err)
	assert.NotContains(t, doc, "extra")
	assert.Equal(t, float64(p.ID), doc["id"])
}

func TestSearchBuilder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, c, g := f.seed(t)
	f.build(t, "v1")
	_, err := ops.SwapAliases(ctx, f.env, "v1")
	require.NoError(t, err)

	base := ops.NewSearch(f.env, f.parent).InstanceOf(f.parent, false).Sort("id")
	ids, err := base.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{p.ID, c.ID, g.ID}, ids)

	ids, err = base.Term("bar", 69).IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID, g.ID}, ids)

	ids, err = base.Slice(1, 1).IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{c.ID}, ids)

	n, err := base.Match("foo", "fighters").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	// refinements never leak into the base search
	assert.Empty(t, base.Query().Terms)

	require.NoError(t, f.store.Delete(ctx, c))
	rows, err := base.Full(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, f.parent, rows[0].Type)
	assert.Equal(t, f.grandchild, rows[1].Type)
}

func TestWorkingSetDropsCoveredTypes(t *testing.T) {
	f := newFixture(t)
	all := []*model.Type{f.parent, f.child, f.grandchild, f.separate}
	assert.Equal(t, []*model.Type{f.parent, f.separate}, ops.WorkingSet(all, nil))
	assert.Equal(t, []*model.Type{f.separate}, ops.WorkingSet(all, []string{"otherapp"}))
	assert.Equal(t, []*model.Type{f.child}, ops.WorkingSet([]*model.Type{f.grandchild, f.child}, nil))
}

func TestSlugifyAndNaming(t *testing.T) {
	tests := []struct{ in, want string }{
		{"bulbs", "bulbs"},
		{"My Site DB", "my-site-db"},
		{"  weird!!name  ", "weirdname"},
		{"a -- b", "a-b"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ops.Slugify(tc.in), tc.in)
	}
	f := newFixture(t)
	n := ops.NewNaming("")
	assert.Equal(t, "bulbs_testapp_parentindexable", n.Index(f.grandchild))
	assert.Equal(t, "bulbs_testapp_parentindexable_v2", n.Generation(f.child, "v2"))
}
