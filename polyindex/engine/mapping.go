package engine

import (
	"encoding/json"
	"sort"
)

// Field type tags understood by the engine.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeLong    = "long"
	TypeFloat   = "float"
	TypeDouble  = "double"
	TypeDate    = "date"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeNested  = "nested"
)

const DynamicStrict = "strict"

// FieldMapping declares one property of a document type.
type FieldMapping struct {
	Type          string                  `json:"type,omitempty" yaml:"type,omitempty"`
	Analyzer      string                  `json:"analyzer,omitempty" yaml:"analyzer,omitempty"`
	Index         string                  `json:"index,omitempty" yaml:"index,omitempty"`
	Store         string                  `json:"store,omitempty" yaml:"store,omitempty"`
	Boost         float64                 `json:"boost,omitempty" yaml:"boost,omitempty"`
	IndexName     string                  `json:"index_name,omitempty" yaml:"index_name,omitempty"`
	Format        string                  `json:"format,omitempty" yaml:"format,omitempty"`
	PrecisionStep int                     `json:"precision_step,omitempty" yaml:"precision_step,omitempty"`
	Properties    map[string]FieldMapping `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func (f FieldMapping) IsObject() bool {
	return f.Type == TypeObject || f.Type == TypeNested
}

type IDMapping struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Mapping is the installed schema of one document type.
type Mapping struct {
	Dynamic    string                  `json:"dynamic,omitempty" yaml:"dynamic,omitempty"`
	ID         IDMapping               `json:"_id,omitempty" yaml:"_id,omitempty"`
	Properties map[string]FieldMapping `json:"properties" yaml:"properties"`
}

func (m Mapping) Strict() bool { return m.Dynamic == DynamicStrict }

// PropertyNames returns the top-level property names in sorted order.
func (m Mapping) PropertyNames() []string {
	names := make([]string, 0, len(m.Properties))
	for name := range m.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal compares two mappings structurally.
func (m Mapping) Equal(other Mapping) bool {
	a, err1 := json.Marshal(m)
	b, err2 := json.Marshal(other)
	return err1 == nil && err2 == nil && string(a) == string(b)
}
