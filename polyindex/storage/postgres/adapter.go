package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/storage"
	"github.com/polyindex/polyindex/polyindex/storage/sqlbuilder"
)

type Adapter struct {
	DSN    string
	Schema string // used as dedicated schema via search_path
}

func New(dsn, schema string) *Adapter {
	return &Adapter{DSN: dsn, Schema: schema}
}

func (a *Adapter) Backend() storage.Backend { return storage.BackendPostgres }

func (a *Adapter) PlaceholderStyle() sqlbuilder.PlaceholderStyle { return sqlbuilder.PlaceholderDollar }

func (a *Adapter) Close() error { return nil }

func (a *Adapter) SQL() storage.SQL { return SQLTemplates }

var schemaNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (a *Adapter) QuoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (a *Adapter) TimeValue(t time.Time) any { return t.UTC() }

func (a *Adapter) ColumnType(kind model.ColumnKind) string {
	switch kind {
	case model.KindInteger, model.KindBigInt, model.KindAuto,
		model.KindForeignKey, model.KindOneToOne:
		return "BIGINT"
	case model.KindFloat:
		return "DOUBLE PRECISION"
	case model.KindDateTime, model.KindDate:
		return "TIMESTAMPTZ"
	case model.KindBoolean:
		return "BOOLEAN"
	case model.KindJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// Connect creates the schema when missing and returns a pool whose every
// connection resolves unqualified family tables in it.
func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	if a.Schema == "" || !schemaNameRe.MatchString(a.Schema) {
		return nil, fmt.Errorf("invalid postgres schema name %q (must match %s)", a.Schema, schemaNameRe.String())
	}
	base, err := pgx.ParseConfig(a.DSN)
	if err != nil {
		return nil, err
	}

	bootstrap, err := ping(ctx, base.Copy())
	if err != nil {
		return nil, err
	}
	_, err = bootstrap.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+a.QuoteIdent(a.Schema))
	_ = bootstrap.Close()
	if err != nil {
		return nil, fmt.Errorf("create schema %s: %w", a.Schema, err)
	}

	pinned := base.Copy()
	if pinned.RuntimeParams == nil {
		pinned.RuntimeParams = make(map[string]string)
	}
	pinned.RuntimeParams["search_path"] = a.QuoteIdent(a.Schema) + ",public"
	return ping(ctx, pinned)
}

func ping(ctx context.Context, cfg *pgx.ConnConfig) (*sql.DB, error) {
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
