package model

import (
	"fmt"
	"strings"
)

type ColumnKind string

const (
	KindChar       ColumnKind = "char"
	KindText       ColumnKind = "text"
	KindInteger    ColumnKind = "integer"
	KindBigInt     ColumnKind = "bigint"
	KindFloat      ColumnKind = "float"
	KindDateTime   ColumnKind = "datetime"
	KindDate       ColumnKind = "date"
	KindBoolean    ColumnKind = "boolean"
	KindJSON       ColumnKind = "json"
	KindAuto       ColumnKind = "auto"
	KindForeignKey ColumnKind = "foreign_key"
	KindOneToOne   ColumnKind = "one_to_one"
)

func (k ColumnKind) Valid() bool {
	switch k {
	case KindChar, KindText, KindInteger, KindBigInt, KindFloat, KindDateTime, KindDate,
		KindBoolean, KindJSON, KindAuto, KindForeignKey, KindOneToOne:
		return true
	}
	return false
}

// PrimaryKey is the implicit identity column every type carries.
const PrimaryKey = "id"

// Column is a declared storage column.
type Column struct {
	Name       string
	Kind       ColumnKind
	Null       bool
	References *Type // foreign_key / one_to_one only
}

func (c Column) IsRelation() bool {
	return c.Kind == KindForeignKey || c.Kind == KindOneToOne
}

// AttName is the storage attribute name: relations are stored as <name>_id.
func (c Column) AttName() string {
	if c.IsRelation() {
		return c.Name + "_id"
	}
	return c.Name
}

// FieldDecl is one explicitly declared search field of a document-shape override.
type FieldDecl struct {
	Name      string
	Type      string
	Analyzer  string
	Index     string
	Store     string
	Boost     float64
	IndexName string
	Format    string
	// Related names the type whose own override shapes an object/nested field.
	Related *Type
}

// Override is an explicit document shape declared on a type.
type Override struct {
	Fields  []FieldDecl
	Exclude []string
}

// Type is a node in a single-rooted inheritance tree.
type Type struct {
	App  string
	Name string
	// Parent is nil for a family root.
	Parent      *Type
	Abstract    bool
	Polymorphic bool
	Indexable   bool
	Table       string
	Columns     []Column
	Mapping     *Override
}

func (t *Type) QualifiedName() string {
	return t.App + "." + t.Name
}

// DocTypeName is the search document type name: <app>_<lowercase name>.
func (t *Type) DocTypeName() string {
	return t.App + "_" + strings.ToLower(t.Name)
}

func (t *Type) String() string { return t.QualifiedName() }

// Root walks the parent chain up to the family root.
func (t *Type) Root() *Type {
	cur := t
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

func (t *Type) IsPolymorphic() bool { return t.Root().Polymorphic }

func (t *Type) IsIndexable() bool { return t.Root().Indexable }

// TableName returns the family table every member is stored in.
func (t *Type) TableName() string { return t.Root().Table }

// Chain returns the types from the root down to t, inclusive.
func (t *Type) Chain() []*Type {
	var out []*Type
	for cur := t; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// IsAncestorOf reports whether t is a strict ancestor of other.
func (t *Type) IsAncestorOf(other *Type) bool {
	if other == nil {
		return false
	}
	for cur := other.Parent; cur != nil; cur = cur.Parent {
		if cur == t {
			return true
		}
	}
	return false
}

// Fields returns the identity column followed by every column declared along the chain.
func (t *Type) Fields() []Column {
	out := []Column{{Name: PrimaryKey, Kind: KindAuto}}
	for _, ct := range t.Chain() {
		out = append(out, ct.Columns...)
	}
	return out
}

func (t *Type) Column(name string) (Column, bool) {
	for _, c := range t.Fields() {
		if c.Name == name || c.AttName() == name {
			return c, true
		}
	}
	return Column{}, false
}

// Validate checks the structural invariants of a set of types.
func Validate(types []*Type) error {
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if t.App == "" || t.Name == "" {
			return fmt.Errorf("type %q: app and name are required", t.QualifiedName())
		}
		if seen[t.QualifiedName()] {
			return fmt.Errorf("type %s declared twice", t.QualifiedName())
		}
		seen[t.QualifiedName()] = true

		depth := 0
		for cur := t.Parent; cur != nil; cur = cur.Parent {
			if cur == t || depth > len(types) {
				return fmt.Errorf("type %s: inheritance cycle", t.QualifiedName())
			}
			depth++
		}
		if t.Parent == nil {
			if t.Abstract {
				return fmt.Errorf("root type %s cannot be abstract", t.QualifiedName())
			}
			if t.Table == "" {
				return fmt.Errorf("root type %s: table is required", t.QualifiedName())
			}
		} else {
			if t.Table != "" && t.Table != t.Root().Table {
				return fmt.Errorf("type %s: subtypes share the root table %q", t.QualifiedName(), t.Root().Table)
			}
			if t.Polymorphic && !t.Root().Polymorphic {
				return fmt.Errorf("type %s: polymorphic must be declared on the root", t.QualifiedName())
			}
			if !t.Root().Polymorphic {
				return fmt.Errorf("type %s: root %s is not polymorphic and cannot have subtypes",
					t.QualifiedName(), t.Root().QualifiedName())
			}
		}

		cols := map[string]bool{PrimaryKey: true}
		for _, c := range t.Fields()[1:] {
			if !c.Kind.Valid() {
				return fmt.Errorf("type %s: column %q has unknown kind %q", t.QualifiedName(), c.Name, c.Kind)
			}
			if c.IsRelation() && c.References == nil {
				return fmt.Errorf("type %s: relation %q has no target", t.QualifiedName(), c.Name)
			}
			if cols[c.Name] || cols[c.AttName()] {
				return fmt.Errorf("type %s: column %q declared twice along the inheritance chain", t.QualifiedName(), c.Name)
			}
			cols[c.Name] = true
			cols[c.AttName()] = true
		}
	}
	return nil
}
