package engine

import (
	"context"
	"errors"
)

var (
	ErrIndexNotFound      = errors.New("index not found")
	ErrIndexExists        = errors.New("index already exists")
	ErrIndexClosed        = errors.New("index is closed")
	ErrSettingsNotDynamic = errors.New("settings cannot be updated on an open index")
	ErrMappingConflict    = errors.New("mapping conflicts with an existing field")
	ErrInvalidMapping     = errors.New("invalid mapping")
	ErrInvalidSettings    = errors.New("invalid settings")
	ErrStrictMapping      = errors.New("strict mapping rejects field")
	ErrTypeNotMapped      = errors.New("document type has no mapping")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrAliasNotFound      = errors.New("alias not found")
	ErrInvalidValue       = errors.New("value does not match field type")
)

// Document is a flat key/value search document. Object fields nest further Documents.
type Document map[string]any

// Client is the search engine surface the synchronizer, reindexer and search helpers need.
// Index arguments accept either a concrete index name or an alias resolving to one index,
// except where noted.
type Client interface {
	CreateIndex(ctx context.Context, index string, settings Settings) error
	DeleteIndex(ctx context.Context, index string) error
	IndexExists(ctx context.Context, index string) (bool, error)
	GetSettings(ctx context.Context, index string) (Settings, error)
	PutSettings(ctx context.Context, index string, settings Settings) error
	CloseIndex(ctx context.Context, index string) error
	OpenIndex(ctx context.Context, index string) error

	PutMapping(ctx context.Context, index, docType string, m Mapping) error
	GetMapping(ctx context.Context, index, docType string) (Mapping, error)

	// Update merges doc into the stored document, creating it when upsert is set.
	Update(ctx context.Context, index, docType, id string, doc Document, upsert bool) error
	Get(ctx context.Context, index, docType, id string) (Document, error)
	Bulk(ctx context.Context, ops []BulkOp) (*BulkResponse, error)

	// GetAliases returns, per concrete index, the aliases pointing at it.
	GetAliases(ctx context.Context) (map[string][]string, error)
	// UpdateAliases applies every action atomically.
	UpdateAliases(ctx context.Context, actions []AliasAction) error

	Refresh(ctx context.Context, index string) error
	Count(ctx context.Context, index string, q Query) (uint64, error)
	Search(ctx context.Context, index string, req SearchRequest) (*SearchResult, error)

	Close() error
}

type BulkAction string

const (
	BulkIndex  BulkAction = "index"
	BulkDelete BulkAction = "delete"
)

type BulkOp struct {
	Action BulkAction
	Index  string
	Type   string
	ID     string
	Doc    Document
}

type BulkItem struct {
	Action BulkAction
	Index  string
	Type   string
	ID     string
	Status int
	Error  string
}

// Failed reports whether the item status is outside the success range.
func (i BulkItem) Failed() bool { return i.Status > 299 }

type BulkResponse struct {
	Errors bool
	Items  []BulkItem
}

type AliasActionKind string

const (
	AliasAdd    AliasActionKind = "add"
	AliasRemove AliasActionKind = "remove"
)

type AliasAction struct {
	Kind  AliasActionKind
	Index string
	Alias string
}

func AddAlias(index, alias string) AliasAction {
	return AliasAction{Kind: AliasAdd, Index: index, Alias: alias}
}

func RemoveAlias(index, alias string) AliasAction {
	return AliasAction{Kind: AliasRemove, Index: index, Alias: alias}
}

// Query is the minimal query surface: document-type restriction, exact terms and
// analyzed matches, all conjunctive.
type Query struct {
	DocTypes []string
	Terms    []Term
	Matches  []Match
	IDs      []string
}

type Term struct {
	Field string
	Value any
}

type Match struct {
	Field string
	Text  string
}

type SearchRequest struct {
	Query Query
	From  int
	Size  int
	// Sort lists field names; a leading '-' sorts descending.
	Sort []string
}

type Hit struct {
	Index  string
	Type   string
	ID     string
	Source Document
}

type SearchResult struct {
	Total uint64
	Hits  []Hit
}
