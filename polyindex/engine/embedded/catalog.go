package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
)

func (e *Engine) CreateIndex(ctx context.Context, name string, settings engine.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.indices[name]; ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexExists, name)
	}
	if _, ok := e.aliases[name]; ok {
		return fmt.Errorf("%w: %s is an alias", engine.ErrIndexExists, name)
	}
	meta := indexMeta{
		Settings:  settings.Clone(),
		Mappings:  map[string]engine.Mapping{},
		CreatedAt: time.Now().UTC(),
	}
	idx, err := buildBleve(name, meta, nil)
	if err != nil {
		return err
	}
	err = e.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.Bucket(bucketDocs).CreateBucketIfNotExists([]byte(name)); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketIndices), name, meta)
	})
	if err != nil {
		_ = idx.Close()
		return fmt.Errorf("persist index %s: %w", name, err)
	}
	e.indices[name] = &index{name: name, meta: meta, docs: map[string]engine.Document{}, bleve: idx}
	e.logger.Info("index created", zap.String("index", name))
	return nil
}

func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, ok := e.indices[name]
	if !ok {
		return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, name)
	}
	remaining := map[string][]string{}
	for alias, a := range e.aliases {
		kept := without(a.members, name)
		if len(kept) != len(a.members) {
			remaining[alias] = kept
		}
	}
	err := e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketIndices).Delete([]byte(name)); err != nil {
			return err
		}
		docs := tx.Bucket(bucketDocs)
		if docs.Bucket([]byte(name)) != nil {
			if err := docs.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		return writeAliases(tx.Bucket(bucketAliases), remaining)
	})
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}

	e.rebind(name, ix.bleve, nil)
	for alias, kept := range remaining {
		if len(kept) == 0 {
			delete(e.aliases, alias)
			continue
		}
		e.aliases[alias].members = kept
	}
	if ix.bleve != nil {
		_ = ix.bleve.Close()
	}
	delete(e.indices, name)
	e.logger.Info("index deleted", zap.String("index", name))
	return nil
}

func (e *Engine) IndexExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if _, ok := e.indices[name]; ok {
		return true, nil
	}
	_, ok := e.aliases[name]
	return ok, nil
}

func (e *Engine) GetSettings(ctx context.Context, name string) (engine.Settings, error) {
	if err := ctx.Err(); err != nil {
		return engine.Settings{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, err := e.resolve(name)
	if err != nil {
		return engine.Settings{}, err
	}
	return ix.meta.Settings.Clone(), nil
}

// PutSettings merges settings into the index. Static settings (analysis, shards)
// only change while the index is closed.
func (e *Engine) PutSettings(ctx context.Context, name string, settings engine.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.resolve(name)
	if err != nil {
		return err
	}
	merged := ix.meta.Settings.Merge(settings)
	if !ix.meta.Closed && !merged.StaticEqual(ix.meta.Settings) {
		return fmt.Errorf("%w: %s", engine.ErrSettingsNotDynamic, ix.name)
	}
	if _, err := buildIndexMapping(merged, ix.meta.Mappings); err != nil {
		return err
	}
	meta := ix.meta
	meta.Settings = merged
	if err := e.saveMeta(ix.name, meta); err != nil {
		return fmt.Errorf("persist settings %s: %w", ix.name, err)
	}
	ix.meta = meta
	e.logger.Info("index settings updated", zap.String("index", ix.name), zap.Bool("closed", meta.Closed))
	return nil
}

func (e *Engine) CloseIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.resolve(name)
	if err != nil {
		return err
	}
	if ix.meta.Closed {
		return nil
	}
	meta := ix.meta
	meta.Closed = true
	if err := e.saveMeta(ix.name, meta); err != nil {
		return fmt.Errorf("close index %s: %w", ix.name, err)
	}
	ix.meta = meta
	e.rebind(ix.name, ix.bleve, nil)
	_ = ix.bleve.Close()
	ix.bleve = nil
	e.logger.Info("index closed", zap.String("index", ix.name))
	return nil
}

func (e *Engine) OpenIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.resolve(name)
	if err != nil {
		return err
	}
	if !ix.meta.Closed {
		return nil
	}
	meta := ix.meta
	meta.Closed = false
	idx, err := buildBleve(ix.name, meta, ix.docs)
	if err != nil {
		return err
	}
	if err := e.saveMeta(ix.name, meta); err != nil {
		_ = idx.Close()
		return fmt.Errorf("open index %s: %w", ix.name, err)
	}
	ix.meta = meta
	ix.bleve = idx
	e.rebind(ix.name, nil, idx)
	e.logger.Info("index opened", zap.String("index", ix.name))
	return nil
}

// PutMapping installs or extends the mapping of docType. Field types are fixed
// once declared anywhere in the index.
func (e *Engine) PutMapping(ctx context.Context, name, docType string, m engine.Mapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ix, err := e.resolve(name)
	if err != nil {
		return err
	}
	if ix.meta.Closed {
		return fmt.Errorf("%w: %s", engine.ErrIndexClosed, ix.name)
	}
	existing, had := ix.meta.Mappings[docType]
	merged := m
	if had {
		if merged, err = mergeMapping(existing, m); err != nil {
			return fmt.Errorf("%s/%s: %w", ix.name, docType, err)
		}
		if merged.Equal(existing) {
			return nil
		}
	}
	for other, om := range ix.meta.Mappings {
		if other == docType {
			continue
		}
		if err := checkFieldTypes(om.Properties, merged.Properties, ""); err != nil {
			return fmt.Errorf("%s/%s against %s: %w", ix.name, docType, other, err)
		}
	}

	meta := ix.meta
	meta.Mappings = cloneMappings(ix.meta.Mappings)
	meta.Mappings[docType] = merged
	idx, err := buildBleve(ix.name, meta, ix.docs)
	if err != nil {
		return err
	}
	if err := e.saveMeta(ix.name, meta); err != nil {
		_ = idx.Close()
		return fmt.Errorf("persist mapping %s/%s: %w", ix.name, docType, err)
	}
	old := ix.bleve
	ix.meta = meta
	ix.bleve = idx
	e.rebind(ix.name, old, idx)
	if old != nil {
		_ = old.Close()
	}
	e.logger.Info("mapping installed",
		zap.String("index", ix.name),
		zap.String("type", docType),
		zap.Int("properties", len(merged.Properties)))
	return nil
}

func (e *Engine) GetMapping(ctx context.Context, name, docType string) (engine.Mapping, error) {
	if err := ctx.Err(); err != nil {
		return engine.Mapping{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ix, err := e.resolve(name)
	if err != nil {
		return engine.Mapping{}, err
	}
	m, ok := ix.meta.Mappings[docType]
	if !ok {
		return engine.Mapping{}, fmt.Errorf("%w: %s/%s", engine.ErrTypeNotMapped, ix.name, docType)
	}
	return cloneMapping(m), nil
}

// mergeMapping adds update's properties to base; redeclaring a field with a
// different type is a conflict.
func mergeMapping(base, update engine.Mapping) (engine.Mapping, error) {
	if err := checkFieldTypes(base.Properties, update.Properties, ""); err != nil {
		return engine.Mapping{}, err
	}
	out := cloneMapping(base)
	if update.Dynamic != "" {
		out.Dynamic = update.Dynamic
	}
	if update.ID.Path != "" {
		out.ID = update.ID
	}
	if out.Properties == nil {
		out.Properties = map[string]engine.FieldMapping{}
	}
	for name, fm := range update.Properties {
		out.Properties[name] = fm
	}
	return out, nil
}

func checkFieldTypes(a, b map[string]engine.FieldMapping, prefix string) error {
	for name, fb := range b {
		fa, ok := a[name]
		if !ok {
			continue
		}
		if fa.IsObject() != fb.IsObject() || (!fa.IsObject() && fa.Type != fb.Type) {
			return fmt.Errorf("%w: %s is %s, not %s", engine.ErrMappingConflict, prefix+name, fa.Type, fb.Type)
		}
		if fa.IsObject() {
			if err := checkFieldTypes(fa.Properties, fb.Properties, prefix+name+"."); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneMapping(m engine.Mapping) engine.Mapping {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out engine.Mapping
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func without(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}
