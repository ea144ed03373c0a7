package embedded_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/polyindex/polyindex/polyindex/engine"
	"github.com/polyindex/polyindex/polyindex/engine/embedded"
)

func openEngine(t *testing.T, path string) *embedded.Engine {
	t.Helper()
	e, err := embedded.Open(path, embedded.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return e
}

func newEngine(t *testing.T) *embedded.Engine {
	t.Helper()
	e := openEngine(t, filepath.Join(t.TempDir(), "catalog.db"))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func parentMapping() engine.Mapping {
	return engine.Mapping{
		Dynamic: engine.DynamicStrict,
		ID:      engine.IDMapping{Path: "id"},
		Properties: map[string]engine.FieldMapping{
			"id":               {Type: engine.TypeInteger},
			"polymorphic_type": {Type: engine.TypeString, Index: "not_analyzed"},
			"foo":              {Type: engine.TypeString, Analyzer: "autocomplete"},
		},
	}
}

func childMapping() engine.Mapping {
	m := parentMapping()
	m.Properties["bar"] = engine.FieldMapping{Type: engine.TypeInteger}
	m.Properties["baz"] = engine.FieldMapping{Type: engine.TypeDate}
	return m
}

func setupIndex(t *testing.T, e *embedded.Engine, name string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.CreateIndex(ctx, name, engine.DefaultSettings()))
	require.NoError(t, e.PutMapping(ctx, name, "testapp_parent", parentMapping()))
	require.NoError(t, e.PutMapping(ctx, name, "testapp_child", childMapping()))
}

func TestCreateIndexTwiceFails(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	require.NoError(t, e.CreateIndex(ctx, "bulbs_parent", engine.DefaultSettings()))
	err := e.CreateIndex(ctx, "bulbs_parent", engine.DefaultSettings())
	assert.ErrorIs(t, err, engine.ErrIndexExists)

	ok, err := e.IndexExists(ctx, "bulbs_parent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidSettingsRejected(t *testing.T) {
	e := newEngine(t)
	s := engine.DefaultSettings()
	s.Analysis.Analyzers["broken"] = engine.AnalyzerDef{Type: "custom", Tokenizer: "no_such_tokenizer"}
	err := e.CreateIndex(context.Background(), "bulbs_parent", s)
	assert.ErrorIs(t, err, engine.ErrInvalidSettings)
}

func TestStaticSettingsRequireClosedIndex(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	changed := engine.Settings{Analysis: engine.Analysis{
		Analyzers: map[string]engine.AnalyzerDef{
			"plain": {Type: "custom", Tokenizer: "whitespace", Filter: []string{"lowercase"}},
		},
	}}
	err := e.PutSettings(ctx, "bulbs_parent", changed)
	require.ErrorIs(t, err, engine.ErrSettingsNotDynamic)

	got, err := e.GetSettings(ctx, "bulbs_parent")
	require.NoError(t, err)
	assert.NotContains(t, got.Analysis.Analyzers, "plain")

	// replicas are dynamic
	require.NoError(t, e.PutSettings(ctx, "bulbs_parent", engine.Settings{NumberOfReplicas: 2}))

	require.NoError(t, e.CloseIndex(ctx, "bulbs_parent"))
	require.NoError(t, e.PutSettings(ctx, "bulbs_parent", changed))
	require.NoError(t, e.OpenIndex(ctx, "bulbs_parent"))

	got, err = e.GetSettings(ctx, "bulbs_parent")
	require.NoError(t, err)
	assert.Contains(t, got.Analysis.Analyzers, "plain")
	assert.Contains(t, got.Analysis.Analyzers, "autocomplete")
	assert.Equal(t, 2, got.NumberOfReplicas)
}

func TestClosedIndexRejectsWrites(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")
	require.NoError(t, e.CloseIndex(ctx, "bulbs_parent"))

	err := e.Update(ctx, "bulbs_parent", "testapp_parent", "1", engine.Document{"id": 1}, true)
	assert.ErrorIs(t, err, engine.ErrIndexClosed)
	err = e.PutMapping(ctx, "bulbs_parent", "testapp_parent", parentMapping())
	assert.ErrorIs(t, err, engine.ErrIndexClosed)
}

func TestStrictMappingRejectsUnknownField(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	doc := engine.Document{"id": 1, "polymorphic_type": "testapp_parent", "foo": "Fighters"}
	require.NoError(t, e.Update(ctx, "bulbs_parent", "testapp_parent", "1", doc, true))

	bad := engine.Document{"id": 1, "polymorphic_type": "testapp_parent", "foo": "x", "extra": 1}
	err := e.Update(ctx, "bulbs_parent", "testapp_parent", "1", bad, true)
	require.ErrorIs(t, err, engine.ErrStrictMapping)

	got, err := e.Get(ctx, "bulbs_parent", "testapp_parent", "1")
	require.NoError(t, err)
	assert.Equal(t, "Fighters", got["foo"], "rejected write must not change the stored document")
	assert.NotContains(t, got, "extra")
}

func TestInvalidValueRejected(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	err := e.Update(ctx, "bulbs_parent", "testapp_child", "1",
		engine.Document{"id": 1, "bar": "not a number"}, true)
	assert.ErrorIs(t, err, engine.ErrInvalidValue)

	err = e.Update(ctx, "bulbs_parent", "testapp_child", "1",
		engine.Document{"id": 1, "baz": "yesterday"}, true)
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}

func TestUpdateWithoutUpsert(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	err := e.Update(ctx, "bulbs_parent", "testapp_parent", "7", engine.Document{"foo": "a"}, false)
	assert.ErrorIs(t, err, engine.ErrDocumentNotFound)

	require.NoError(t, e.Update(ctx, "bulbs_parent", "testapp_parent", "7", engine.Document{"id": 7, "foo": "a"}, true))
	require.NoError(t, e.Update(ctx, "bulbs_parent", "testapp_parent", "7", engine.Document{"foo": "b"}, false))

	got, err := e.Get(ctx, "bulbs_parent", "testapp_parent", "7")
	require.NoError(t, err)
	assert.Equal(t, "b", got["foo"])
	assert.Equal(t, float64(7), got["id"])
}

func TestMappingConflicts(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	m := childMapping()
	m.Properties["bar"] = engine.FieldMapping{Type: engine.TypeString}
	err := e.PutMapping(ctx, "bulbs_parent", "testapp_child", m)
	assert.ErrorIs(t, err, engine.ErrMappingConflict)

	other := engine.Mapping{Dynamic: engine.DynamicStrict, Properties: map[string]engine.FieldMapping{
		"foo": {Type: engine.TypeLong},
	}}
	err = e.PutMapping(ctx, "bulbs_parent", "testapp_other", other)
	assert.ErrorIs(t, err, engine.ErrMappingConflict)

	// re-installing the same mapping is a no-op
	require.NoError(t, e.PutMapping(ctx, "bulbs_parent", "testapp_child", childMapping()))

	got, err := e.GetMapping(ctx, "bulbs_parent", "testapp_child")
	require.NoError(t, err)
	assert.True(t, got.Equal(childMapping()))

	_, err = e.GetMapping(ctx, "bulbs_parent", "testapp_missing")
	assert.ErrorIs(t, err, engine.ErrTypeNotMapped)
}

func TestBulkStatuses(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	ops := []engine.BulkOp{
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_parent", ID: "1",
			Doc: engine.Document{"id": 1, "polymorphic_type": "testapp_parent", "foo": "Fighters"}},
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_parent", ID: "1",
			Doc: engine.Document{"id": 1, "polymorphic_type": "testapp_parent", "foo": "Fighters"}},
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_parent", ID: "2",
			Doc: engine.Document{"id": 2, "nope": true}},
		{Action: engine.BulkIndex, Index: "missing", Type: "testapp_parent", ID: "3",
			Doc: engine.Document{"id": 3}},
	}
	resp, err := e.Bulk(ctx, ops)
	require.NoError(t, err)
	require.Len(t, resp.Items, 4)
	assert.True(t, resp.Errors)
	assert.Equal(t, 201, resp.Items[0].Status)
	assert.Equal(t, 200, resp.Items[1].Status)
	assert.Equal(t, 400, resp.Items[2].Status)
	assert.Equal(t, 404, resp.Items[3].Status)

	n, err := e.Count(ctx, "bulbs_parent", engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	resp, err = e.Bulk(ctx, []engine.BulkOp{{Action: engine.BulkDelete, Index: "bulbs_parent", Type: "testapp_parent", ID: "1"}})
	require.NoError(t, err)
	assert.False(t, resp.Errors)
	n, err = e.Count(ctx, "bulbs_parent", engine.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSearchByTypeTermsAndMatch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent")

	resp, err := e.Bulk(ctx, []engine.BulkOp{
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_parent", ID: "1",
			Doc: engine.Document{"id": 1, "polymorphic_type": "testapp_parent", "foo": "Fighters"}},
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_child", ID: "2",
			Doc: engine.Document{"id": 2, "polymorphic_type": "testapp_child", "foo": "Foo Fighters", "bar": 69,
				"baz": "2014-01-01T00:00:00.000000+00:00"}},
		{Action: engine.BulkIndex, Index: "bulbs_parent", Type: "testapp_child", ID: "3",
			Doc: engine.Document{"id": 3, "polymorphic_type": "testapp_child", "foo": "Nirvana", "bar": 7}},
	})
	require.NoError(t, err)
	require.False(t, resp.Errors)

	count := func(q engine.Query) uint64 {
		n, err := e.Count(ctx, "bulbs_parent", q)
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, uint64(3), count(engine.Query{}))
	assert.Equal(t, uint64(1), count(engine.Query{DocTypes: []string{"testapp_parent"}}))
	assert.Equal(t, uint64(2), count(engine.Query{DocTypes: []string{"testapp_child"}}))
	assert.Equal(t, uint64(1), count(engine.Query{Terms: []engine.Term{{Field: "bar", Value: 69}}}))
	assert.Equal(t, uint64(2), count(engine.Query{Terms: []engine.Term{{Field: "polymorphic_type", Value: "testapp_child"}}}))
	assert.Equal(t, uint64(2), count(engine.Query{Matches: []engine.Match{{Field: "foo", Text: "fighters"}}}))
	assert.Equal(t, uint64(1), count(engine.Query{IDs: []string{"3"}}))

	res, err := e.Search(ctx, "bulbs_parent", engine.SearchRequest{
		Query: engine.Query{DocTypes: []string{"testapp_child"}},
		Sort:  []string{"id"},
	})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "2", res.Hits[0].ID)
	assert.Equal(t, "testapp_child", res.Hits[0].Type)
	assert.Equal(t, "bulbs_parent", res.Hits[0].Index)
	assert.Equal(t, "Foo Fighters", res.Hits[0].Source["foo"])
}

func TestAliasSwapIsAtomic(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent_v1")
	setupIndex(t, e, "bulbs_parent_v2")

	doc := func(id int) engine.Document {
		return engine.Document{"id": id, "polymorphic_type": "testapp_parent", "foo": "x"}
	}
	require.NoError(t, e.Update(ctx, "bulbs_parent_v1", "testapp_parent", "1", doc(1), true))
	require.NoError(t, e.Update(ctx, "bulbs_parent_v2", "testapp_parent", "1", doc(1), true))
	require.NoError(t, e.Update(ctx, "bulbs_parent_v2", "testapp_parent", "2", doc(2), true))

	require.NoError(t, e.UpdateAliases(ctx, []engine.AliasAction{engine.AddAlias("bulbs_parent_v1", "bulbs_parent")}))
	n, err := e.Count(ctx, "bulbs_parent", engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, e.UpdateAliases(ctx, []engine.AliasAction{
		engine.RemoveAlias("bulbs_parent_v1", "bulbs_parent"),
		engine.AddAlias("bulbs_parent_v2", "bulbs_parent"),
	}))
	n, err = e.Count(ctx, "bulbs_parent", engine.Query{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	aliases, err := e.GetAliases(ctx)
	require.NoError(t, err)
	assert.Empty(t, aliases["bulbs_parent_v1"])
	assert.Equal(t, []string{"bulbs_parent"}, aliases["bulbs_parent_v2"])

	// a failing action leaves every alias untouched
	err = e.UpdateAliases(ctx, []engine.AliasAction{
		engine.RemoveAlias("bulbs_parent_v2", "bulbs_parent"),
		engine.AddAlias("bulbs_parent_v9", "bulbs_parent"),
	})
	require.ErrorIs(t, err, engine.ErrIndexNotFound)
	aliases, err = e.GetAliases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bulbs_parent"}, aliases["bulbs_parent_v2"])

	// writes through a single-index alias land in the concrete index
	require.NoError(t, e.Update(ctx, "bulbs_parent", "testapp_parent", "3", doc(3), true))
	_, err = e.Get(ctx, "bulbs_parent_v2", "testapp_parent", "3")
	require.NoError(t, err)

	err = e.CreateIndex(ctx, "bulbs_parent", engine.DefaultSettings())
	assert.ErrorIs(t, err, engine.ErrIndexExists)
}

func TestDeleteIndexDropsAliases(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	setupIndex(t, e, "bulbs_parent_v1")
	require.NoError(t, e.UpdateAliases(ctx, []engine.AliasAction{engine.AddAlias("bulbs_parent_v1", "bulbs_parent")}))

	require.NoError(t, e.DeleteIndex(ctx, "bulbs_parent_v1"))
	ok, err := e.IndexExists(ctx, "bulbs_parent")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, e.DeleteIndex(ctx, "bulbs_parent_v1"), engine.ErrIndexNotFound)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	e := openEngine(t, path)
	setupIndex(t, e, "bulbs_parent_v1")
	require.NoError(t, e.Update(ctx, "bulbs_parent_v1", "testapp_child", "5",
		engine.Document{"id": 5, "polymorphic_type": "testapp_child", "foo": "Fighters", "bar": 69}, true))
	require.NoError(t, e.UpdateAliases(ctx, []engine.AliasAction{engine.AddAlias("bulbs_parent_v1", "bulbs_parent")}))
	require.NoError(t, e.Close())

	e = openEngine(t, path)
	defer e.Close()

	n, err := e.Count(ctx, "bulbs_parent", engine.Query{Terms: []engine.Term{{Field: "bar", Value: 69}}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	m, err := e.GetMapping(ctx, "bulbs_parent", "testapp_child")
	require.NoError(t, err)
	assert.True(t, m.Strict())
}
