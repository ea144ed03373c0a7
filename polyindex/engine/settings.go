package engine

import (
	"encoding/json"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings are index-level settings. Analysis and shard count are static:
// they may only change while the index is closed. Replicas are dynamic.
type Settings struct {
	NumberOfShards   int      `json:"number_of_shards,omitempty" yaml:"number_of_shards,omitempty"`
	NumberOfReplicas int      `json:"number_of_replicas,omitempty" yaml:"number_of_replicas,omitempty"`
	Analysis         Analysis `json:"analysis" yaml:"analysis"`
}

type Analysis struct {
	Analyzers   map[string]AnalyzerDef   `json:"analyzer,omitempty" yaml:"analyzer,omitempty"`
	CharFilters map[string]CharFilterDef `json:"char_filter,omitempty" yaml:"char_filter,omitempty"`
	Tokenizers  map[string]TokenizerDef  `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`
	Filters     map[string]FilterDef     `json:"filter,omitempty" yaml:"filter,omitempty"`
}

type AnalyzerDef struct {
	Type       string   `json:"type" yaml:"type"`
	CharFilter []string `json:"char_filter,omitempty" yaml:"char_filter,omitempty"`
	Tokenizer  string   `json:"tokenizer" yaml:"tokenizer"`
	Filter     []string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// CharFilterDef supports "mapping" (Mappings as "from=>to") and "pattern_replace".
type CharFilterDef struct {
	Type        string   `json:"type" yaml:"type"`
	Mappings    []string `json:"mappings,omitempty" yaml:"mappings,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Replacement string   `json:"replacement,omitempty" yaml:"replacement,omitempty"`
}

type TokenizerDef struct {
	Type       string   `json:"type" yaml:"type"`
	MinGram    int      `json:"min_gram,omitempty" yaml:"min_gram,omitempty"`
	MaxGram    int      `json:"max_gram,omitempty" yaml:"max_gram,omitempty"`
	TokenChars []string `json:"token_chars,omitempty" yaml:"token_chars,omitempty"`
}

type FilterDef struct {
	Type    string `json:"type" yaml:"type"`
	MinGram int    `json:"min_gram,omitempty" yaml:"min_gram,omitempty"`
	MaxGram int    `json:"max_gram,omitempty" yaml:"max_gram,omitempty"`
}

// DefaultSettings is the baseline applied to every family index.
func DefaultSettings() Settings {
	return Settings{
		NumberOfShards: 1,
		Analysis: Analysis{
			Analyzers: map[string]AnalyzerDef{
				"autocomplete": {
					Type:       "custom",
					CharFilter: []string{"quotes"},
					Tokenizer:  "edge_ngram_tokenizer",
					Filter:     []string{"asciifolding", "lowercase"},
				},
				"html": {
					Type:       "custom",
					CharFilter: []string{"html_strip", "quotes"},
					Tokenizer:  "standard",
					Filter:     []string{"asciifolding", "lowercase", "stop", "snowball"},
				},
			},
			CharFilters: map[string]CharFilterDef{
				"quotes": {
					Type: "mapping",
					Mappings: []string{
						"\u0091=>'",
						"\u0092=>'",
						"‘=>'",
						"’=>'",
						"＇=>'",
					},
				},
			},
			Tokenizers: map[string]TokenizerDef{
				"edge_ngram_tokenizer": {
					Type:       "edgeNGram",
					MinGram:    3,
					MaxGram:    10,
					TokenChars: []string{"letter"},
				},
			},
		},
	}
}

// Merge overlays other onto s: named analysis components are added or replaced,
// non-zero scalars win. Neither input is modified.
func (s Settings) Merge(other Settings) Settings {
	out := s.Clone()
	if other.NumberOfShards != 0 {
		out.NumberOfShards = other.NumberOfShards
	}
	if other.NumberOfReplicas != 0 {
		out.NumberOfReplicas = other.NumberOfReplicas
	}
	out.Analysis.Analyzers = mergeMap(out.Analysis.Analyzers, other.Analysis.Analyzers)
	out.Analysis.CharFilters = mergeMap(out.Analysis.CharFilters, other.Analysis.CharFilters)
	out.Analysis.Tokenizers = mergeMap(out.Analysis.Tokenizers, other.Analysis.Tokenizers)
	out.Analysis.Filters = mergeMap(out.Analysis.Filters, other.Analysis.Filters)
	return out
}

// StaticEqual reports whether the non-dynamic parts of two settings agree.
func (s Settings) StaticEqual(other Settings) bool {
	if s.NumberOfShards != other.NumberOfShards {
		return false
	}
	a, err1 := json.Marshal(s.Analysis)
	b, err2 := json.Marshal(other.Analysis)
	return err1 == nil && err2 == nil && string(a) == string(b)
}

func (s Settings) Clone() Settings {
	b, _ := json.Marshal(s)
	var out Settings
	_ = json.Unmarshal(b, &out)
	return out
}

// LoadSettingsFile reads a YAML settings overlay.
func LoadSettingsFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	return DecodeSettings(f)
}

func DecodeSettings(r io.Reader) (Settings, error) {
	var s Settings
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return Settings{}, err
	}
	return s, nil
}

func mergeMap[V any](base, over map[string]V) map[string]V {
	if len(base) == 0 && len(over) == 0 {
		return base
	}
	out := make(map[string]V, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
