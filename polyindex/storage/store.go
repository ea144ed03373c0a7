package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/storage/sqlbuilder"
)

// DefaultPageSize bounds how many rows an instance-of iteration reads per query.
const DefaultPageSize = 500

// Store persists instances in one table per family. Every row of a polymorphic
// family carries its concrete document type name in DiscriminatorColumn.
type Store struct {
	adapter Adapter
	db      *sql.DB
	logger  *zap.Logger

	mu    sync.RWMutex
	known map[string]*model.Type // document type name -> type
}

// Open connects through adapter. A nil logger is replaced by a no-op logger.
func Open(ctx context.Context, adapter Adapter, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := adapter.Connect(ctx)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrStorage, "connect to database", err)
	}
	return &Store{
		adapter: adapter,
		db:      db,
		logger:  logger,
		known:   make(map[string]*model.Type),
	}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Backend() Backend { return s.adapter.Backend() }

func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return perrors.Wrap(perrors.ErrStorage, "close database", err)
		}
	}
	return s.adapter.Close()
}

// Register makes the store aware of types without touching the schema. Rows
// of a polymorphic family decode only to registered concrete types, and
// instance-of queries only cover registered descendants.
func (s *Store) Register(types ...*model.Type) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		if !t.Abstract {
			s.known[t.DocTypeName()] = t
		}
	}
}

// Migrate registers types and creates or extends their family tables so every
// declared column exists.
func (s *Store) Migrate(ctx context.Context, types ...*model.Type) error {
	s.Register(types...)
	tables := map[*model.Type][]*model.Type{}
	var roots []*model.Type
	for _, t := range types {
		root := t.Root()
		if _, ok := tables[root]; !ok {
			roots = append(roots, root)
		}
		tables[root] = append(tables[root], t)
	}

	for _, root := range roots {
		if err := s.migrateTable(ctx, root, tables[root]); err != nil {
			return perrors.Wrap(perrors.ErrStorage, "migrate "+root.Table, err)
		}
	}
	return nil
}

func (s *Store) migrateTable(ctx context.Context, root *model.Type, members []*model.Type) error {
	var cols []model.Column
	seen := map[string]bool{model.PrimaryKey: true}
	for _, t := range members {
		for _, c := range t.Fields() {
			if seen[c.AttName()] {
				continue
			}
			seen[c.AttName()] = true
			cols = append(cols, c)
		}
	}

	q := s.adapter.QuoteIdent
	defs := []string{s.adapter.SQL().PrimaryKeyColumn}
	if root.Polymorphic {
		defs = append(defs, q(DiscriminatorColumn)+" TEXT NOT NULL")
	}
	for _, c := range cols {
		defs = append(defs, q(c.AttName())+" "+s.adapter.ColumnType(c.Kind))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", q(root.Table), strings.Join(defs, ",\n  "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}

	existing, err := s.tableColumns(ctx, root.Table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.AttName()] {
			continue
		}
		def := q(c.AttName()) + " " + s.adapter.ColumnType(c.Kind)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.adapter.SQL().AddColumn, q(root.Table), def)); err != nil {
			return err
		}
		s.logger.Info("added column", zap.String("table", root.Table), zap.String("column", c.AttName()))
	}
	if root.Polymorphic {
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s, %s)",
			q("idx_"+root.Table+"_type"), q(root.Table), q(DiscriminatorColumn), q(model.PrimaryKey))
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+s.adapter.QuoteIdent(table)+" WHERE 1=0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, rows.Err()
}

// Save inserts inst, or overwrites the row with its id when it already has one.
// inst.ID is set to the stored id.
func (s *Store) Save(ctx context.Context, inst *model.Instance) error {
	t := inst.Type
	if t.Abstract {
		return perrors.Wrap(perrors.ErrStorage, "save", fmt.Errorf("%s is abstract", t.QualifiedName()))
	}
	s.mu.Lock()
	s.known[t.DocTypeName()] = t
	s.mu.Unlock()

	q := s.adapter.QuoteIdent
	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	var cols, vals, sets []string
	if inst.ID != 0 {
		cols = append(cols, q(model.PrimaryKey))
		vals = append(vals, b.Arg(inst.ID))
	}
	if t.IsPolymorphic() {
		cols = append(cols, q(DiscriminatorColumn))
		vals = append(vals, b.Arg(t.DocTypeName()))
	}
	for _, c := range t.Fields()[1:] {
		v, err := s.bindValue(c, inst.Values[c.AttName()])
		if err != nil {
			return perrors.Wrap(perrors.ErrStorage, "save "+c.Name, err)
		}
		cols = append(cols, q(c.AttName()))
		vals = append(vals, b.Arg(v))
	}
	for _, c := range cols {
		if c == q(model.PrimaryKey) {
			continue
		}
		sets = append(sets, c+"=excluded."+c)
	}
	if len(sets) == 0 {
		sets = append(sets, q(model.PrimaryKey)+"=excluded."+q(model.PrimaryKey))
	}

	stmt := fmt.Sprintf(s.adapter.SQL().Upsert, q(t.TableName()),
		strings.Join(cols, ", "), strings.Join(vals, ", "), strings.Join(sets, ", "))
	var id int64
	if err := s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&id); err != nil {
		return perrors.Wrap(perrors.ErrStorage, "save "+t.QualifiedName(), err)
	}
	inst.ID = id
	return nil
}

// Delete removes the row of inst. A missing row is not an error.
func (s *Store) Delete(ctx context.Context, inst *model.Instance) error {
	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		s.adapter.QuoteIdent(inst.Type.TableName()), s.adapter.QuoteIdent(model.PrimaryKey), b.Arg(inst.ID))
	if _, err := s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return perrors.Wrap(perrors.ErrStorage, "delete", err)
	}
	return nil
}

// Get loads the row id as an instance of t or one of its descendants.
func (s *Store) Get(ctx context.Context, t *model.Type, id int64) (*model.Instance, error) {
	found, err := s.InBulk(ctx, t, []int64{id})
	if err != nil {
		return nil, err
	}
	inst, ok := found[id]
	if !ok {
		return nil, perrors.NotFoundError(fmt.Sprintf("%s id=%d", t.QualifiedName(), id))
	}
	return inst, nil
}

// ResolveRelated loads a related row; a dangling reference yields nil.
func (s *Store) ResolveRelated(ctx context.Context, t *model.Type, id int64) (*model.Instance, error) {
	inst, err := s.Get(ctx, t, id)
	if perrors.IsCode(err, perrors.ErrNotFound) {
		return nil, nil
	}
	return inst, err
}

// InBulk loads the instance-of t rows with the given ids, keyed by id.
func (s *Store) InBulk(ctx context.Context, t *model.Type, ids []int64) (map[int64]*model.Instance, error) {
	out := make(map[int64]*model.Instance, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	where := []string{s.adapter.QuoteIdent(model.PrimaryKey) + " IN " + sqlbuilder.In(b, ids)}
	if w := s.typeFilter(b, t, false); w != "" {
		where = append(where, w)
	}
	insts, err := s.query(ctx, t, b, where, "", 0)
	if err != nil {
		return nil, err
	}
	for _, inst := range insts {
		out[inst.ID] = inst
	}
	return out, nil
}

// IterateInstanceOf streams every row of t (and, unless exact, of its
// descendants) ordered by id ascending. Rows are read in keyset pages so fn may
// issue further queries.
func (s *Store) IterateInstanceOf(ctx context.Context, t *model.Type, exact bool, pageSize int, fn func(*model.Instance) error) error {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var after int64
	for {
		b := sqlbuilder.New(s.adapter.PlaceholderStyle())
		where := []string{s.adapter.QuoteIdent(model.PrimaryKey) + " > " + b.Arg(after)}
		if w := s.typeFilter(b, t, exact); w != "" {
			where = append(where, w)
		}
		page, err := s.query(ctx, t, b, where, s.adapter.QuoteIdent(model.PrimaryKey)+" ASC", pageSize)
		if err != nil {
			return err
		}
		for _, inst := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(inst); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

// CountInstanceOf counts rows of t and, unless exact, its descendants.
func (s *Store) CountInstanceOf(ctx context.Context, t *model.Type, exact bool) (int64, error) {
	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	stmt := "SELECT COUNT(*) FROM " + s.adapter.QuoteIdent(t.TableName())
	if w := s.typeFilter(b, t, exact); w != "" {
		stmt += " WHERE " + w
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&n); err != nil {
		return 0, perrors.Wrap(perrors.ErrStorage, "count "+t.QualifiedName(), err)
	}
	return n, nil
}

// typeFilter restricts a polymorphic family table to t's document types.
func (s *Store) typeFilter(b *sqlbuilder.Builder, t *model.Type, exact bool) string {
	if !t.IsPolymorphic() {
		return ""
	}
	names := s.instanceOfNames(t, exact)
	if len(names) == 0 {
		return "1=0"
	}
	return s.adapter.QuoteIdent(DiscriminatorColumn) + " IN " + sqlbuilder.In(b, names)
}

func (s *Store) instanceOfNames(t *model.Type, exact bool) []string {
	if exact {
		return []string{t.DocTypeName()}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name, k := range s.known {
		if k == t || t.IsAncestorOf(k) {
			names = append(names, name)
		}
	}
	if !t.Abstract && !containsString(names, t.DocTypeName()) {
		names = append(names, t.DocTypeName())
	}
	sort.Strings(names)
	return names
}

func (s *Store) query(ctx context.Context, t *model.Type, b *sqlbuilder.Builder, where []string, order string, limit int) ([]*model.Instance, error) {
	stmt := "SELECT * FROM " + s.adapter.QuoteIdent(t.TableName())
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	if order != "" {
		stmt += " ORDER BY " + order
	}
	if limit > 0 {
		stmt += " LIMIT " + b.Arg(limit)
	}
	rows, err := s.db.QueryContext(ctx, stmt, b.Args()...)
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrStorage, "query "+t.TableName(), err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, perrors.Wrap(perrors.ErrStorage, "columns", err)
	}
	var out []*model.Instance
	for rows.Next() {
		raw := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, perrors.Wrap(perrors.ErrStorage, "scan", err)
		}
		inst, err := s.decodeRow(t, names, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, perrors.Wrap(perrors.ErrStorage, "rows", err)
	}
	return out, nil
}

func (s *Store) decodeRow(t *model.Type, names []string, raw []any) (*model.Instance, error) {
	concrete := t
	if t.IsPolymorphic() {
		for i, n := range names {
			if n != DiscriminatorColumn {
				continue
			}
			name := asString(raw[i])
			s.mu.RLock()
			k, ok := s.known[name]
			s.mu.RUnlock()
			if !ok {
				return nil, perrors.NewError(perrors.ErrStorage, fmt.Sprintf("row of unknown type %q in %s", name, t.TableName()))
			}
			concrete = k
		}
	}

	inst := model.NewInstance(concrete)
	for i, n := range names {
		if n == DiscriminatorColumn {
			continue
		}
		if n == model.PrimaryKey {
			id, err := normalize(model.Column{Name: n, Kind: model.KindAuto}, raw[i])
			if err != nil {
				return nil, err
			}
			inst.ID, _ = id.(int64)
			continue
		}
		col, ok := concrete.Column(n)
		if !ok {
			// column belongs to a sibling type sharing the table
			continue
		}
		v, err := normalize(col, raw[i])
		if err != nil {
			return nil, perrors.Wrap(perrors.ErrStorage, "decode "+n, err)
		}
		inst.Values[col.AttName()] = v
	}
	return inst, nil
}

func (s *Store) bindValue(c model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case model.KindDateTime, model.KindDate:
		switch x := v.(type) {
		case time.Time:
			return s.adapter.TimeValue(x), nil
		case string:
			t, err := parseTime(x)
			if err != nil {
				return nil, err
			}
			return s.adapter.TimeValue(t), nil
		}
		return nil, fmt.Errorf("expected time for %s, got %T", c.Name, v)
	case model.KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool for %s, got %T", c.Name, v)
		}
		if s.adapter.Backend() == BackendSQLite {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil
	case model.KindJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	}
	return v, nil
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
