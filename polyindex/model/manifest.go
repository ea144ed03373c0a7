package model

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Types []manifestType `yaml:"types"`
}

type manifestType struct {
	App         string            `yaml:"app"`
	Name        string            `yaml:"name"`
	Parent      string            `yaml:"parent"`
	Abstract    bool              `yaml:"abstract"`
	Polymorphic bool              `yaml:"polymorphic"`
	Indexable   *bool             `yaml:"indexable"`
	Table       string            `yaml:"table"`
	Columns     []manifestColumn  `yaml:"columns"`
	Mapping     *manifestOverride `yaml:"mapping"`
}

type manifestColumn struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"`
	Null       bool   `yaml:"null"`
	References string `yaml:"references"`
}

type manifestOverride struct {
	Fields  []manifestField `yaml:"fields"`
	Exclude []string        `yaml:"exclude"`
}

type manifestField struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"`
	Analyzer  string  `yaml:"analyzer"`
	Index     string  `yaml:"index"`
	Store     string  `yaml:"store"`
	Boost     float64 `yaml:"boost"`
	IndexName string  `yaml:"index_name"`
	Format    string  `yaml:"format"`
	Mapping   string  `yaml:"mapping"`
}

// LoadManifestFile reads a YAML type manifest from disk.
func LoadManifestFile(path string) ([]*Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadManifest(f)
}

// LoadManifest decodes a YAML type manifest. Parents, relation targets and nested
// mappings may reference types declared anywhere in the file.
func LoadManifest(r io.Reader) ([]*Type, error) {
	var mf manifestFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	byName := make(map[string]*Type, len(mf.Types))
	out := make([]*Type, 0, len(mf.Types))
	for _, mt := range mf.Types {
		t := &Type{
			App:         mt.App,
			Name:        mt.Name,
			Abstract:    mt.Abstract,
			Polymorphic: mt.Polymorphic,
			Indexable:   mt.Polymorphic,
			Table:       mt.Table,
		}
		if mt.Indexable != nil {
			t.Indexable = *mt.Indexable
		}
		if _, dup := byName[t.QualifiedName()]; dup {
			return nil, fmt.Errorf("manifest: type %s declared twice", t.QualifiedName())
		}
		byName[t.QualifiedName()] = t
		out = append(out, t)
	}

	lookup := func(owner, ref string) (*Type, error) {
		t, ok := byName[ref]
		if !ok {
			return nil, fmt.Errorf("manifest: %s references unknown type %q", owner, ref)
		}
		return t, nil
	}

	for i, mt := range mf.Types {
		t := out[i]
		if mt.Parent != "" {
			p, err := lookup(t.QualifiedName(), mt.Parent)
			if err != nil {
				return nil, err
			}
			t.Parent = p
		}
		for _, mc := range mt.Columns {
			c := Column{Name: mc.Name, Kind: ColumnKind(mc.Kind), Null: mc.Null}
			if mc.References != "" {
				ref, err := lookup(t.QualifiedName(), mc.References)
				if err != nil {
					return nil, err
				}
				c.References = ref
			}
			t.Columns = append(t.Columns, c)
		}
		if mt.Mapping != nil {
			ov := &Override{Exclude: append([]string(nil), mt.Mapping.Exclude...)}
			for _, mf := range mt.Mapping.Fields {
				fd := FieldDecl{
					Name:      mf.Name,
					Type:      mf.Type,
					Analyzer:  mf.Analyzer,
					Index:     mf.Index,
					Store:     mf.Store,
					Boost:     mf.Boost,
					IndexName: mf.IndexName,
					Format:    mf.Format,
				}
				if mf.Mapping != "" {
					ref, err := lookup(t.QualifiedName(), mf.Mapping)
					if err != nil {
						return nil, err
					}
					fd.Related = ref
				}
				ov.Fields = append(ov.Fields, fd)
			}
			t.Mapping = ov
		}
	}

	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
