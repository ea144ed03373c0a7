package mapping

import (
	"github.com/polyindex/polyindex/polyindex/engine"
)

const (
	// IdentityField carries the family table's primary key.
	IdentityField = "id"
	// DiscriminatorField carries the concrete document type name of polymorphic rows.
	DiscriminatorField = "polymorphic_type"
)

type NamedField struct {
	Name  string
	Field Field
}

// Schema is an immutable ordered set of named fields. The first declaration of a
// name wins; later duplicates are dropped.
type Schema struct {
	fields []NamedField
	index  map[string]int
}

func NewSchema(fields ...NamedField) Schema {
	return Schema{}.With(fields...)
}

// With returns a new schema extended by fields. s is left untouched.
func (s Schema) With(fields ...NamedField) Schema {
	out := Schema{
		fields: make([]NamedField, len(s.fields), len(s.fields)+len(fields)),
		index:  make(map[string]int, len(s.fields)+len(fields)),
	}
	copy(out.fields, s.fields)
	for name, i := range s.index {
		out.index[name] = i
	}
	for _, nf := range fields {
		if _, dup := out.index[nf.Name]; dup {
			continue
		}
		out.index[nf.Name] = len(out.fields)
		out.fields = append(out.fields, nf)
	}
	return out
}

func (s Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the ordered fields.
func (s Schema) Fields() []NamedField {
	return append([]NamedField(nil), s.fields...)
}

func (s Schema) Lookup(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i].Field, true
}

func (s Schema) Keys() []string {
	out := make([]string, len(s.fields))
	for i, nf := range s.fields {
		out[i] = nf.Name
	}
	return out
}

// Covers reports whether every field of other is present in s with the same type tag.
func (s Schema) Covers(other Schema) bool {
	for _, nf := range other.fields {
		f, ok := s.Lookup(nf.Name)
		if !ok || f.Type != nf.Field.Type {
			return false
		}
	}
	return true
}

func (s Schema) Validate() error {
	for _, nf := range s.fields {
		if err := nf.Field.Validate(nf.Name); err != nil {
			return err
		}
		if nf.Field.Nested != nil {
			if err := nf.Field.Nested.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s Schema) Properties() map[string]engine.FieldMapping {
	props := make(map[string]engine.FieldMapping, len(s.fields))
	for _, nf := range s.fields {
		props[nf.Name] = nf.Field.Mapping()
	}
	return props
}

// Mapping renders a strict document-type mapping keyed by the identity field.
func (s Schema) Mapping() engine.Mapping {
	return engine.Mapping{
		Dynamic:    engine.DynamicStrict,
		ID:         engine.IDMapping{Path: IdentityField},
		Properties: s.Properties(),
	}
}
