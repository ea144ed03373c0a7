package ops

import (
	"context"
	"strconv"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/model"
)

// Search is an immutable query against one family's stable alias. Every
// refining method returns a copy.
type Search struct {
	env    Env
	root   *model.Type
	query  engine.Query
	sort   []string
	from   int
	size   int
	sliced bool
}

// NewSearch starts a search over t's family.
func NewSearch(env Env, t *model.Type) *Search {
	return &Search{env: env.withDefaults(), root: t.Root()}
}

func (s *Search) clone() *Search {
	c := *s
	c.query = engine.Query{
		DocTypes: append([]string(nil), s.query.DocTypes...),
		Terms:    append([]engine.Term(nil), s.query.Terms...),
		Matches:  append([]engine.Match(nil), s.query.Matches...),
		IDs:      append([]string(nil), s.query.IDs...),
	}
	c.sort = append([]string(nil), s.sort...)
	return &c
}

// InstanceOf restricts hits to t, plus its registered descendants unless exact.
func (s *Search) InstanceOf(t *model.Type, exact bool) *Search {
	return s.DocTypes(s.env.Registry.MappingTypeNames(t, exact)...)
}

func (s *Search) DocTypes(names ...string) *Search {
	c := s.clone()
	c.query.DocTypes = append([]string(nil), names...)
	return c
}

func (s *Search) Term(field string, value any) *Search {
	c := s.clone()
	c.query.Terms = append(c.query.Terms, engine.Term{Field: field, Value: value})
	return c
}

func (s *Search) Match(field, text string) *Search {
	c := s.clone()
	c.query.Matches = append(c.query.Matches, engine.Match{Field: field, Text: text})
	return c
}

// Sort orders hits by fields; prefix a field with '-' for descending.
func (s *Search) Sort(fields ...string) *Search {
	c := s.clone()
	c.sort = append([]string(nil), fields...)
	return c
}

func (s *Search) Slice(from, size int) *Search {
	c := s.clone()
	c.from, c.size, c.sliced = from, size, true
	return c
}

func (s *Search) Index() string { return s.env.Naming.Index(s.root) }

func (s *Search) Query() engine.Query { return s.clone().query }

func (s *Search) Count(ctx context.Context) (uint64, error) {
	n, err := s.env.Engine.Count(ctx, s.Index(), s.query)
	if err != nil {
		return 0, perrors.Wrap(perrors.ErrEngine, "count "+s.Index(), err)
	}
	return n, nil
}

// All returns the hits of the slice, or every hit when unsliced.
func (s *Search) All(ctx context.Context) ([]engine.Hit, error) {
	from, size := s.from, s.size
	if !s.sliced {
		n, err := s.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		from, size = 0, int(n)
	}
	if size <= 0 {
		return nil, nil
	}
	res, err := s.env.Engine.Search(ctx, s.Index(), engine.SearchRequest{
		Query: s.query,
		From:  from,
		Size:  size,
		Sort:  s.sort,
	})
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrEngine, "search "+s.Index(), err)
	}
	return res.Hits, nil
}

func (s *Search) IDs(ctx context.Context) ([]int64, error) {
	hits, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			return nil, perrors.ConversionError("id", "hit id "+h.ID+" is not an integer")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Full loads the rows behind the hits in hit order. Hits whose row no longer
// exists are dropped.
func (s *Search) Full(ctx context.Context) ([]*model.Instance, error) {
	if s.env.Store == nil {
		return nil, perrors.NewError(perrors.ErrConfig, "full results require a store")
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.env.Store.InBulk(ctx, s.root, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Instance, 0, len(ids))
	for _, id := range ids {
		if inst, ok := rows[id]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}
