package embedded

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/polyindex/polyindex/polyindex/engine"
)

const defaultSize = 10

// searchTargets lists the open indices behind name.
func (e *Engine) searchTargets(name string) ([]*index, error) {
	if ix, ok := e.indices[name]; ok {
		if ix.meta.Closed {
			return nil, fmt.Errorf("%w: %s", engine.ErrIndexClosed, name)
		}
		return []*index{ix}, nil
	}
	a, ok := e.aliases[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, name)
	}
	var out []*index
	for _, m := range a.members {
		if ix, ok := e.indices[m]; ok && !ix.meta.Closed {
			out = append(out, ix)
		}
	}
	return out, nil
}

func (e *Engine) searcher(name string) bleve.Index {
	if ix, ok := e.indices[name]; ok {
		return ix.bleve
	}
	return e.aliases[name].view
}

func (e *Engine) Count(ctx context.Context, name string, q engine.Query) (uint64, error) {
	res, err := e.search(ctx, name, q, 0, 0, nil)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

func (e *Engine) Search(ctx context.Context, name string, req engine.SearchRequest) (*engine.SearchResult, error) {
	size := req.Size
	if size <= 0 {
		size = defaultSize
	}
	if req.From < 0 {
		return nil, fmt.Errorf("negative offset %d", req.From)
	}
	return e.search(ctx, name, req.Query, req.From, size, req.Sort)
}

func (e *Engine) search(ctx context.Context, name string, q engine.Query, from, size int, sortBy []string) (*engine.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	targets, err := e.searchTargets(name)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &engine.SearchResult{}, nil
	}
	bq, err := buildQuery(q, targets)
	if err != nil {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bq, size, from, false)
	order := append([]string(nil), sortBy...)
	if len(order) == 0 {
		order = append(order, "-_score")
	}
	req.SortBy(append(order, "_id"))

	res, err := e.searcher(name).SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	out := &engine.SearchResult{Total: res.Total, Hits: make([]engine.Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		docType, id := splitDocKey(h.ID)
		hit := engine.Hit{Index: h.Index, Type: docType, ID: id}
		for _, ix := range targets {
			if h.Index != "" && h.Index != ix.name {
				continue
			}
			if doc, ok := ix.docs[h.ID]; ok {
				hit.Index = ix.name
				hit.Source = cloneDocument(doc)
				break
			}
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

func buildQuery(q engine.Query, targets []*index) (query.Query, error) {
	var clauses []query.Query

	if len(q.DocTypes) > 0 {
		var types []query.Query
		for _, dt := range q.DocTypes {
			tq := bleve.NewTermQuery(dt)
			tq.SetField(typeField)
			types = append(types, tq)
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(types...))
	}

	for _, t := range q.Terms {
		tq, err := termQuery(t, fieldType(targets, t.Field))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, tq)
	}

	for _, m := range q.Matches {
		mq := bleve.NewMatchQuery(m.Text)
		mq.SetField(m.Field)
		clauses = append(clauses, mq)
	}

	if len(q.IDs) > 0 {
		docTypes := q.DocTypes
		if len(docTypes) == 0 {
			docTypes = mappedTypes(targets)
		}
		var keys []string
		for _, dt := range docTypes {
			for _, id := range q.IDs {
				keys = append(keys, docKey(dt, id))
			}
		}
		clauses = append(clauses, bleve.NewDocIDQuery(keys))
	}

	switch len(clauses) {
	case 0:
		return bleve.NewMatchAllQuery(), nil
	case 1:
		return clauses[0], nil
	}
	return bleve.NewConjunctionQuery(clauses...), nil
}

func termQuery(t engine.Term, typ string) (query.Query, error) {
	switch typ {
	case engine.TypeInteger, engine.TypeLong, engine.TypeFloat, engine.TypeDouble:
		f, err := asFloat(t.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: term %s: %v", engine.ErrInvalidValue, t.Field, err)
		}
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
		nq.SetField(t.Field)
		return nq, nil
	case engine.TypeBoolean:
		b, ok := t.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: term %s: %T is not boolean", engine.ErrInvalidValue, t.Field, t.Value)
		}
		bq := bleve.NewBoolFieldQuery(b)
		bq.SetField(t.Field)
		return bq, nil
	case engine.TypeDate:
		var ts time.Time
		switch v := t.Value.(type) {
		case time.Time:
			ts = v
		case string:
			var err error
			if ts, err = parseDateValue(v); err != nil {
				return nil, fmt.Errorf("%w: term %s: %v", engine.ErrInvalidValue, t.Field, err)
			}
		default:
			return nil, fmt.Errorf("%w: term %s: %T is not a date", engine.ErrInvalidValue, t.Field, t.Value)
		}
		inclusive := true
		dq := bleve.NewDateRangeInclusiveQuery(ts, ts, &inclusive, &inclusive)
		dq.SetField(t.Field)
		return dq, nil
	}
	tq := bleve.NewTermQuery(fmt.Sprint(t.Value))
	tq.SetField(t.Field)
	return tq, nil
}

// fieldType finds the declared type of a dotted field path in any target mapping.
func fieldType(targets []*index, path string) string {
	for _, ix := range targets {
		for _, m := range ix.meta.Mappings {
			if fm, ok := lookupPath(m.Properties, path); ok {
				return fm.Type
			}
		}
	}
	return ""
}

func lookupPath(props map[string]engine.FieldMapping, path string) (engine.FieldMapping, bool) {
	for name, fm := range props {
		if name == path {
			return fm, true
		}
		if fm.IsObject() && len(path) > len(name) && path[:len(name)+1] == name+"." {
			if sub, ok := lookupPath(fm.Properties, path[len(name)+1:]); ok {
				return sub, true
			}
		}
	}
	return engine.FieldMapping{}, false
}

func mappedTypes(targets []*index) []string {
	seen := map[string]bool{}
	var out []string
	for _, ix := range targets {
		for dt := range ix.meta.Mappings {
			if !seen[dt] {
				seen[dt] = true
				out = append(out, dt)
			}
		}
	}
	sort.Strings(out)
	return out
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, fmt.Errorf("%T is not numeric", v)
}
