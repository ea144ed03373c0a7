package mapping

import (
	"fmt"

	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/model"
)

// Derive maps a storage column to its default field descriptor. The bool is false
// for column kinds with no default mapping; those are omitted unless declared.
func Derive(col model.Column) (Field, bool) {
	switch col.Kind {
	case model.KindChar, model.KindText:
		return String(), true
	case model.KindInteger, model.KindBigInt:
		return Integer(), true
	case model.KindFloat:
		return Float(), true
	case model.KindDateTime, model.KindDate:
		return Date(), true
	case model.KindAuto, model.KindForeignKey, model.KindOneToOne:
		return Integer(), true
	}
	return Field{}, false
}

// SchemaFor assembles the document schema of t: identity, discriminator for
// polymorphic families, declared overrides along the inheritance chain, then
// derived fields for every remaining column.
func SchemaFor(t *model.Type) (Schema, error) {
	base := NewSchema(NamedField{Name: IdentityField, Field: Integer()})
	if t.IsPolymorphic() {
		base = base.With(NamedField{Name: DiscriminatorField, Field: String(WithIndex(IndexNotAnalyzed))})
	}
	return build(t, base, map[*model.Type]bool{})
}

// NestedSchemaFor assembles the shape of t when embedded as an object field.
// Identity and discriminator are not forced and may be excluded.
func NestedSchemaFor(t *model.Type) (Schema, error) {
	return build(t, NewSchema(), map[*model.Type]bool{})
}

func build(t *model.Type, base Schema, visiting map[*model.Type]bool) (Schema, error) {
	if visiting[t] {
		return Schema{}, perrors.SchemaError(fmt.Sprintf("nested mapping cycle through %s", t.QualifiedName()))
	}
	visiting[t] = true
	defer delete(visiting, t)

	decls, exclude := mergedOverride(t)

	s := base
	for _, d := range decls {
		f, err := declToField(t, d, visiting)
		if err != nil {
			return Schema{}, err
		}
		s = s.With(NamedField{Name: d.Name, Field: f})
	}
	for _, col := range t.Fields() {
		if exclude[col.Name] || exclude[col.AttName()] {
			continue
		}
		f, ok := Derive(col)
		if !ok {
			continue
		}
		s = s.With(NamedField{Name: col.AttName(), Field: f})
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// mergedOverride folds override declarations from the root down to t. A subtype's
// declaration of a name replaces its ancestor's in place. The exclusion set is
// built fresh per call from explicit excludes plus every declared name.
func mergedOverride(t *model.Type) ([]model.FieldDecl, map[string]bool) {
	var decls []model.FieldDecl
	pos := map[string]int{}
	exclude := map[string]bool{}
	for _, ct := range t.Chain() {
		if ct.Mapping == nil {
			continue
		}
		for _, name := range ct.Mapping.Exclude {
			exclude[name] = true
		}
		for _, d := range ct.Mapping.Fields {
			if i, ok := pos[d.Name]; ok {
				decls[i] = d
				continue
			}
			pos[d.Name] = len(decls)
			decls = append(decls, d)
		}
	}
	for _, d := range decls {
		exclude[d.Name] = true
	}
	return decls, exclude
}

func declToField(owner *model.Type, d model.FieldDecl, visiting map[*model.Type]bool) (Field, error) {
	f := Field{
		Type:      d.Type,
		Analyzer:  d.Analyzer,
		Index:     d.Index,
		Store:     d.Store,
		Boost:     d.Boost,
		IndexName: d.IndexName,
		Format:    d.Format,
	}
	if !f.IsObject() {
		return f, nil
	}
	related := d.Related
	if related == nil {
		if col, ok := owner.Column(d.Name); ok && col.IsRelation() {
			related = col.References
		}
	}
	if related == nil {
		return Field{}, &perrors.Error{Code: perrors.ErrSchema, Field: d.Name, Msg: "object field needs a related type"}
	}
	nested, err := build(related, NewSchema(), visiting)
	if err != nil {
		return Field{}, err
	}
	f.Nested = &nested
	f.Related = related
	return f, nil
}
