package registry

import (
	"fmt"
	"sort"
	"sync"

	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/mapping"
	"github.com/polyindex/polyindex/polyindex/model"
)

// Registry maps each family root to its registered concrete types.
// It is populated once at start-up and read for the life of the process.
type Registry struct {
	mu        sync.RWMutex
	families  map[*model.Type][]*model.Type
	roots     []*model.Type
	byDocType map[string]*model.Type
}

// Default is the process-wide registry.
var Default = New()

func New() *Registry {
	return &Registry{
		families:  make(map[*model.Type][]*model.Type),
		byDocType: make(map[string]*model.Type),
	}
}

// Register adds a concrete type to its family. Registering twice has no effect;
// abstract types are ignored.
func (r *Registry) Register(t *model.Type) error {
	if t == nil || t.Abstract {
		return nil
	}
	if !t.IsIndexable() {
		return perrors.NewError(perrors.ErrRegistry, fmt.Sprintf("%s is not indexable", t.QualifiedName()))
	}
	if err := checkSchema(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.DocTypeName()
	if existing, ok := r.byDocType[name]; ok {
		if existing == t {
			return nil
		}
		return perrors.NewError(perrors.ErrRegistry, fmt.Sprintf(
			"document type %q of %s collides with %s", name, t.QualifiedName(), existing.QualifiedName()))
	}
	root := t.Root()
	if _, ok := r.families[root]; !ok {
		r.roots = append(r.roots, root)
	}
	r.families[root] = append(r.families[root], t)
	sortTypes(r.families[root])
	r.byDocType[name] = t
	return nil
}

// Populate resets the registry and registers every concrete, indexable type given.
func (r *Registry) Populate(types ...*model.Type) error {
	r.Reset()
	for _, t := range types {
		if t.Abstract || !t.IsIndexable() {
			continue
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.families = make(map[*model.Type][]*model.Type)
	r.byDocType = make(map[string]*model.Type)
	r.roots = nil
}

// Family returns every registered concrete type under root's family, root first,
// then depth-first by qualified name.
func (r *Registry) Family(root *model.Type) []*model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*model.Type(nil), r.families[root.Root()]...)
}

// DocumentTypes returns the document type name to type mapping of root's family.
func (r *Registry) DocumentTypes(root *model.Type) map[string]*model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.families[root.Root()]
	out := make(map[string]*model.Type, len(members))
	for _, t := range members {
		out[t.DocTypeName()] = t
	}
	return out
}

// Roots returns the registered family roots in the order they were first seen.
func (r *Registry) Roots() []*model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*model.Type(nil), r.roots...)
}

// Types returns every registered type, family by family.
func (r *Registry) Types() []*model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Type
	for _, root := range r.roots {
		out = append(out, r.families[root]...)
	}
	return out
}

func (r *Registry) Lookup(docType string) (*model.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byDocType[docType]
	return t, ok
}

// MappingTypeNames returns the document type names an instance-of query for t
// covers: t alone when exact, otherwise t and every registered descendant.
func (r *Registry) MappingTypeNames(t *model.Type, exact bool) []string {
	if exact {
		return []string{t.DocTypeName()}
	}
	var out []string
	for _, m := range r.Family(t) {
		if m == t || t.IsAncestorOf(m) {
			out = append(out, m.DocTypeName())
		}
	}
	return out
}

// checkSchema rejects types whose schema cannot be built or does not extend the
// schema of their parent.
func checkSchema(t *model.Type) error {
	s, err := mapping.SchemaFor(t)
	if err != nil {
		return err
	}
	if t.Parent == nil {
		return nil
	}
	ps, err := mapping.SchemaFor(t.Parent)
	if err != nil {
		return err
	}
	if !s.Covers(ps) {
		return perrors.SchemaError(fmt.Sprintf("schema of %s does not extend the schema of %s",
			t.QualifiedName(), t.Parent.QualifiedName()))
	}
	return nil
}

func sortTypes(ts []*model.Type) {
	sort.SliceStable(ts, func(i, j int) bool {
		return lessPath(ts[i].Chain(), ts[j].Chain())
	})
}

// lessPath orders inheritance paths depth-first: a prefix sorts before its extensions.
func lessPath(a, b []*model.Type) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		an, bn := a[i].QualifiedName(), b[i].QualifiedName()
		if an != bn {
			return an < bn
		}
	}
	return len(a) < len(b)
}
