// Package embedded is an in-process search engine: a bbolt catalog holds index
// metadata, aliases and document sources; bleve serves queries from memory.
package embedded

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
)

var (
	bucketIndices = []byte("indices")
	bucketAliases = []byte("aliases")
	bucketDocs    = []byte("docs")
)

type Options struct {
	Logger *zap.Logger
	// OpenTimeout bounds waiting for the catalog file lock.
	OpenTimeout time.Duration
}

type indexMeta struct {
	Settings  engine.Settings           `json:"settings"`
	Mappings  map[string]engine.Mapping `json:"mappings"`
	Closed    bool                      `json:"closed"`
	CreatedAt time.Time                 `json:"created_at"`
}

type index struct {
	name string
	meta indexMeta
	// docs is keyed by docKey.
	docs  map[string]engine.Document
	bleve bleve.Index // nil while closed
}

type aliasState struct {
	members []string
	view    bleve.IndexAlias
}

// Engine implements engine.Client.
type Engine struct {
	mu      sync.RWMutex
	db      *bolt.DB
	logger  *zap.Logger
	indices map[string]*index
	aliases map[string]*aliasState
}

var _ engine.Client = (*Engine)(nil)

// Open loads (or creates) the catalog at path and rebuilds every open index.
func Open(path string, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	e := &Engine{
		db:      db,
		logger:  logger,
		indices: map[string]*index{},
		aliases: map[string]*aliasState{},
	}
	if err := e.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("embedded engine opened",
		zap.String("path", path),
		zap.Int("indices", len(e.indices)),
		zap.Int("aliases", len(e.aliases)))
	return e, nil
}

func (e *Engine) load() error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIndices, bucketAliases, bucketDocs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}

	err = e.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		err := tx.Bucket(bucketIndices).ForEach(func(k, v []byte) error {
			var meta indexMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("index %s: %w", k, err)
			}
			if meta.Mappings == nil {
				meta.Mappings = map[string]engine.Mapping{}
			}
			ix := &index{name: string(k), meta: meta, docs: map[string]engine.Document{}}
			if b := docs.Bucket(k); b != nil {
				err := b.ForEach(func(dk, dv []byte) error {
					var doc engine.Document
					if err := json.Unmarshal(dv, &doc); err != nil {
						return fmt.Errorf("index %s doc %s: %w", k, dk, err)
					}
					ix.docs[string(dk)] = doc
					return nil
				})
				if err != nil {
					return err
				}
			}
			e.indices[ix.name] = ix
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAliases).ForEach(func(k, v []byte) error {
			var members []string
			if err := json.Unmarshal(v, &members); err != nil {
				return fmt.Errorf("alias %s: %w", k, err)
			}
			e.aliases[string(k)] = &aliasState{members: members}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	for _, ix := range e.indices {
		if ix.meta.Closed {
			continue
		}
		idx, err := buildBleve(ix.name, ix.meta, ix.docs)
		if err != nil {
			return fmt.Errorf("rebuild index %s: %w", ix.name, err)
		}
		ix.bleve = idx
	}
	for _, a := range e.aliases {
		a.view = bleve.NewIndexAlias()
		a.view.Add(e.openMembers(a.members)...)
	}
	return nil
}

// Close releases every bleve index and the catalog.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ix := range e.indices {
		if ix.bleve != nil {
			_ = ix.bleve.Close()
			ix.bleve = nil
		}
	}
	return e.db.Close()
}

// buildBleve creates a memory-only bleve index for meta and loads docs into it.
func buildBleve(name string, meta indexMeta, docs map[string]engine.Document) (bleve.Index, error) {
	im, err := buildIndexMapping(meta.Settings, meta.Mappings)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidMapping, err)
	}
	idx.SetName(name)
	if len(docs) == 0 {
		return idx, nil
	}
	batch := idx.NewBatch()
	for key, doc := range docs {
		docType, _ := splitDocKey(key)
		if _, ok := meta.Mappings[docType]; !ok {
			continue
		}
		if err := batch.Index(key, indexable(meta.Mappings[docType], docType, doc)); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return idx, nil
}

func docKey(docType, id string) string { return docType + "/" + id }

func splitDocKey(key string) (docType, id string) {
	docType, id, _ = strings.Cut(key, "/")
	return docType, id
}

// resolve finds the single concrete index behind name.
func (e *Engine) resolve(name string) (*index, error) {
	if ix, ok := e.indices[name]; ok {
		return ix, nil
	}
	if a, ok := e.aliases[name]; ok {
		if len(a.members) != 1 {
			return nil, fmt.Errorf("alias %s points to %d indices", name, len(a.members))
		}
		if ix, ok := e.indices[a.members[0]]; ok {
			return ix, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", engine.ErrIndexNotFound, name)
}

func (e *Engine) openMembers(members []string) []bleve.Index {
	var out []bleve.Index
	for _, m := range members {
		if ix, ok := e.indices[m]; ok && ix.bleve != nil {
			out = append(out, ix.bleve)
		}
	}
	return out
}

// rebind replaces old with cur in every alias view that includes name.
func (e *Engine) rebind(name string, old, cur bleve.Index) {
	var in, out []bleve.Index
	if cur != nil {
		in = []bleve.Index{cur}
	}
	if old != nil {
		out = []bleve.Index{old}
	}
	for _, a := range e.aliases {
		for _, m := range a.members {
			if m == name {
				a.view.Swap(in, out)
				break
			}
		}
	}
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (e *Engine) saveMeta(name string, meta indexMeta) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketIndices), name, meta)
	})
}

func cloneMappings(in map[string]engine.Mapping) map[string]engine.Mapping {
	out := make(map[string]engine.Mapping, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
