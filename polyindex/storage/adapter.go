package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/polyindex/polyindex/polyindex/model"
	"github.com/polyindex/polyindex/polyindex/storage/sqlbuilder"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// DiscriminatorColumn holds the concrete document type name of each row in a
// polymorphic family table.
const DiscriminatorColumn = "polymorphic_type"

// Adapter abstracts database-specific operations
type Adapter interface {
	Backend() Backend
	PlaceholderStyle() sqlbuilder.PlaceholderStyle

	Connect(ctx context.Context) (*sql.DB, error)
	Close() error

	SQL() SQL
	ColumnType(kind model.ColumnKind) string
	QuoteIdent(ident string) string
	// TimeValue renders a time for binding as a statement argument.
	TimeValue(t time.Time) any
}

// SQL holds dialect fragments the store composes statements from
type SQL struct {
	// PrimaryKeyColumn is the full column definition of the id column.
	PrimaryKeyColumn string
	// AddColumn is a format string taking the quoted table and the column definition.
	AddColumn string
	// Upsert is a format string taking the quoted table, the column list,
	// the placeholder list and the update assignments.
	Upsert string
}
