package embedded

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
)

// Update merges doc into the stored document. A rejected document leaves the
// index unchanged.
func (e *Engine) Update(ctx context.Context, name, docType, id string, doc engine.Document, upsert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.writable(name)
	if err != nil {
		return err
	}
	m, ok := ix.meta.Mappings[docType]
	if !ok {
		return fmt.Errorf("%w: %s/%s", engine.ErrTypeNotMapped, ix.name, docType)
	}
	key := docKey(docType, id)
	existing, found := ix.docs[key]
	if !found && !upsert {
		return fmt.Errorf("%w: %s/%s/%s", engine.ErrDocumentNotFound, ix.name, docType, id)
	}
	update, err := normalizeDocument(doc)
	if err != nil {
		return err
	}
	merged := mergeDocument(existing, update)
	if err := validateDocument(m, merged); err != nil {
		return fmt.Errorf("%s/%s/%s: %w", ix.name, docType, id, err)
	}

	if err := e.persistDocs(ix.name, map[string]engine.Document{key: merged}); err != nil {
		return err
	}
	ix.docs[key] = merged
	if err := ix.bleve.Index(key, indexable(m, docType, merged)); err != nil {
		return fmt.Errorf("index %s: %w", key, err)
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, name, docType, id string) (engine.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	ix, err := e.writable(name)
	if err != nil {
		return nil, err
	}
	doc, ok := ix.docs[docKey(docType, id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", engine.ErrDocumentNotFound, ix.name, docType, id)
	}
	return cloneDocument(doc), nil
}

type staged struct {
	ix      *index
	key     string
	doc     engine.Document // nil deletes
	docType string
}

// Bulk applies ops and reports a status per item. Accepted items are committed
// in a single catalog transaction.
func (e *Engine) Bulk(ctx context.Context, ops []engine.BulkOp) (*engine.BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := &engine.BulkResponse{Items: make([]engine.BulkItem, len(ops))}
	var accepted []staged
	// pending tracks keys written earlier in this request
	pending := map[*index]map[string]bool{}
	exists := func(ix *index, key string) bool {
		if live, ok := pending[ix][key]; ok {
			return live
		}
		_, ok := ix.docs[key]
		return ok
	}
	mark := func(ix *index, key string, live bool) {
		if pending[ix] == nil {
			pending[ix] = map[string]bool{}
		}
		pending[ix][key] = live
	}

	for i, op := range ops {
		item := engine.BulkItem{Action: op.Action, Index: op.Index, Type: op.Type, ID: op.ID}
		ix, err := e.writable(op.Index)
		if err != nil {
			item.Status, item.Error = bulkStatus(err), err.Error()
			resp.Items[i] = item
			continue
		}
		item.Index = ix.name
		key := docKey(op.Type, op.ID)

		switch op.Action {
		case engine.BulkIndex:
			m, ok := ix.meta.Mappings[op.Type]
			if !ok {
				err = fmt.Errorf("%w: %s/%s", engine.ErrTypeNotMapped, ix.name, op.Type)
				break
			}
			var doc engine.Document
			if doc, err = normalizeDocument(op.Doc); err != nil {
				break
			}
			if err = validateDocument(m, doc); err != nil {
				break
			}
			item.Status = http.StatusCreated
			if exists(ix, key) {
				item.Status = http.StatusOK
			}
			mark(ix, key, true)
			accepted = append(accepted, staged{ix: ix, key: key, doc: doc, docType: op.Type})
		case engine.BulkDelete:
			if !exists(ix, key) {
				err = fmt.Errorf("%w: %s/%s/%s", engine.ErrDocumentNotFound, ix.name, op.Type, op.ID)
				break
			}
			item.Status = http.StatusOK
			mark(ix, key, false)
			accepted = append(accepted, staged{ix: ix, key: key, docType: op.Type})
		default:
			err = fmt.Errorf("unknown bulk action %q", op.Action)
		}
		if err != nil {
			item.Status, item.Error = bulkStatus(err), err.Error()
		}
		resp.Items[i] = item
	}
	for _, item := range resp.Items {
		if item.Failed() {
			resp.Errors = true
			break
		}
	}
	if len(accepted) == 0 {
		return resp, nil
	}

	err := e.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocs)
		for _, s := range accepted {
			b, err := docs.CreateBucketIfNotExists([]byte(s.ix.name))
			if err != nil {
				return err
			}
			if s.doc == nil {
				if err := b.Delete([]byte(s.key)); err != nil {
					return err
				}
				continue
			}
			data, err := json.Marshal(s.doc)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(s.key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bulk commit: %w", err)
	}

	batches := map[*index]*bleve.Batch{}
	for _, s := range accepted {
		batch, ok := batches[s.ix]
		if !ok {
			batch = s.ix.bleve.NewBatch()
			batches[s.ix] = batch
		}
		if s.doc == nil {
			delete(s.ix.docs, s.key)
			batch.Delete(s.key)
			continue
		}
		s.ix.docs[s.key] = s.doc
		if err := batch.Index(s.key, indexable(s.ix.meta.Mappings[s.docType], s.docType, s.doc)); err != nil {
			return nil, fmt.Errorf("bulk index %s: %w", s.key, err)
		}
	}
	for ix, batch := range batches {
		if err := ix.bleve.Batch(batch); err != nil {
			return nil, fmt.Errorf("bulk index %s: %w", ix.name, err)
		}
	}
	e.logger.Debug("bulk applied", zap.Int("items", len(ops)), zap.Int("accepted", len(accepted)))
	return resp, nil
}

// Refresh is a no-op: writes are searchable as soon as they return.
func (e *Engine) Refresh(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, err := e.searchTargets(name); err != nil {
		return err
	}
	return nil
}

func (e *Engine) writable(name string) (*index, error) {
	ix, err := e.resolve(name)
	if err != nil {
		return nil, err
	}
	if ix.meta.Closed {
		return nil, fmt.Errorf("%w: %s", engine.ErrIndexClosed, ix.name)
	}
	return ix, nil
}

func (e *Engine) persistDocs(name string, docs map[string]engine.Document) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketDocs).CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		for key, doc := range docs {
			if err := putJSON(b, key, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func bulkStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrIndexNotFound), errors.Is(err, engine.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrIndexClosed):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}
