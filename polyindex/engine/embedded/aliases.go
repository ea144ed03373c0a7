package embedded

import (
	"context"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/polyindex/polyindex/polyindex/engine"
)

func (e *Engine) GetAliases(ctx context.Context) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string][]string, len(e.indices))
	for name := range e.indices {
		out[name] = []string{}
	}
	for alias, a := range e.aliases {
		for _, m := range a.members {
			out[m] = append(out[m], alias)
		}
	}
	for name := range out {
		sort.Strings(out[name])
	}
	return out, nil
}

// UpdateAliases applies actions as one unit: either all are persisted and
// become visible to searches together, or none are.
func (e *Engine) UpdateAliases(ctx context.Context, actions []engine.AliasAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := map[string][]string{}
	membership := func(alias string) []string {
		if m, ok := next[alias]; ok {
			return m
		}
		if a, ok := e.aliases[alias]; ok {
			return append([]string(nil), a.members...)
		}
		return nil
	}
	for _, act := range actions {
		if act.Alias == "" || act.Index == "" {
			return fmt.Errorf("alias action requires index and alias")
		}
		switch act.Kind {
		case engine.AliasAdd:
			if _, ok := e.indices[act.Index]; !ok {
				return fmt.Errorf("%w: %s", engine.ErrIndexNotFound, act.Index)
			}
			if _, ok := e.indices[act.Alias]; ok {
				return fmt.Errorf("%w: alias %s collides with an index", engine.ErrIndexExists, act.Alias)
			}
			members := membership(act.Alias)
			if !contains(members, act.Index) {
				members = append(members, act.Index)
			}
			next[act.Alias] = members
		case engine.AliasRemove:
			// removing an alias that is not there is a no-op
			next[act.Alias] = without(membership(act.Alias), act.Index)
		default:
			return fmt.Errorf("unknown alias action %q", act.Kind)
		}
	}

	err := e.db.Update(func(tx *bolt.Tx) error {
		return writeAliases(tx.Bucket(bucketAliases), next)
	})
	if err != nil {
		return fmt.Errorf("persist aliases: %w", err)
	}

	for alias, members := range next {
		a, ok := e.aliases[alias]
		if !ok {
			if len(members) == 0 {
				continue
			}
			a = &aliasState{view: bleve.NewIndexAlias()}
			e.aliases[alias] = a
		}
		var in, out []bleve.Index
		for _, m := range members {
			if !contains(a.members, m) {
				in = append(in, e.openMembers([]string{m})...)
			}
		}
		for _, m := range a.members {
			if !contains(members, m) {
				out = append(out, e.openMembers([]string{m})...)
			}
		}
		a.view.Swap(in, out)
		a.members = members
		if len(members) == 0 {
			delete(e.aliases, alias)
		}
		e.logger.Info("alias updated", zap.String("alias", alias), zap.Strings("indices", members))
	}
	return nil
}

func writeAliases(b *bolt.Bucket, changes map[string][]string) error {
	for alias, members := range changes {
		if len(members) == 0 {
			if err := b.Delete([]byte(alias)); err != nil {
				return err
			}
			continue
		}
		if err := putJSON(b, alias, members); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
