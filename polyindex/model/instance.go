package model

import "fmt"

// Instance is one stored row of a concrete type.
// Values are keyed by column attribute name (relations as <name>_id).
type Instance struct {
	Type   *Type
	ID     int64
	Values map[string]any
}

func NewInstance(t *Type) *Instance {
	return &Instance{Type: t, Values: make(map[string]any)}
}

// Get returns the value stored for a column name or attribute name.
func (i *Instance) Get(name string) any {
	if name == PrimaryKey {
		if i.ID == 0 {
			return nil
		}
		return i.ID
	}
	if v, ok := i.Values[name]; ok {
		return v
	}
	if c, ok := i.Type.Column(name); ok {
		return i.Values[c.AttName()]
	}
	return nil
}

// Set stores a value under the column's attribute name. The primary key
// accepts any integer kind or nil; anything else panics.
func (i *Instance) Set(name string, v any) *Instance {
	if name == PrimaryKey {
		id, ok := asID(v)
		if !ok {
			panic(fmt.Sprintf("model: %s id must be an integer, got %T", i.Type.QualifiedName(), v))
		}
		i.ID = id
		return i
	}
	if c, ok := i.Type.Column(name); ok {
		name = c.AttName()
	}
	i.Values[name] = v
	return i
}

// RelatedID returns the foreign key of a relation column, or false when unset.
func (i *Instance) RelatedID(c Column) (int64, bool) {
	switch v := i.Values[c.AttName()].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	}
	return 0, false
}

func asID(v any) (int64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}
