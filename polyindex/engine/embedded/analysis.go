package embedded

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/char/asciifolding"
	"github.com/blevesearch/bleve/v2/analysis/char/html"
	regexpchar "github.com/blevesearch/bleve/v2/analysis/char/regexp"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	bmapping "github.com/blevesearch/bleve/v2/mapping"

	"github.com/polyindex/polyindex/polyindex/engine"
)

// typeField is the hidden keyword field routing each document to its type mapping.
const typeField = "_doctype"

// tokenizerPlan is a bleve tokenizer plus token filters emulating an engine tokenizer.
type tokenizerPlan struct {
	tokenizer string
	filters   []string
}

// translator registers engine analysis definitions on a bleve index mapping.
type translator struct {
	im          *bmapping.IndexMappingImpl
	charFilters map[string][]string
	tokenizers  map[string]tokenizerPlan
	filters     map[string][]string
}

func registerAnalysis(im *bmapping.IndexMappingImpl, a engine.Analysis) error {
	tr := &translator{
		im:          im,
		charFilters: map[string][]string{},
		tokenizers:  map[string]tokenizerPlan{},
		filters:     map[string][]string{},
	}
	for _, name := range sortedKeys(a.CharFilters) {
		if err := tr.charFilter(name, a.CharFilters[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(a.Tokenizers) {
		if err := tr.tokenizer(name, a.Tokenizers[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(a.Filters) {
		if err := tr.filter(name, a.Filters[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(a.Analyzers) {
		if err := tr.analyzer(name, a.Analyzers[name]); err != nil {
			return err
		}
	}
	return nil
}

func (tr *translator) charFilter(name string, def engine.CharFilterDef) error {
	switch def.Type {
	case "mapping":
		// one regexp char filter per replacement target
		byTarget := map[string][]string{}
		var targets []string
		for _, m := range def.Mappings {
			from, to, ok := strings.Cut(m, "=>")
			if !ok || from == "" {
				return fmt.Errorf("%w: char_filter %s: bad mapping %q", engine.ErrInvalidSettings, name, m)
			}
			if _, seen := byTarget[to]; !seen {
				targets = append(targets, to)
			}
			byTarget[to] = append(byTarget[to], regexp.QuoteMeta(from))
		}
		for i, to := range targets {
			sub := fmt.Sprintf("%s_%d", name, i)
			err := tr.im.AddCustomCharFilter(sub, map[string]interface{}{
				"type":    regexpchar.Name,
				"regexp":  strings.Join(byTarget[to], "|"),
				"replace": to,
			})
			if err != nil {
				return fmt.Errorf("%w: char_filter %s: %v", engine.ErrInvalidSettings, name, err)
			}
			tr.charFilters[name] = append(tr.charFilters[name], sub)
		}
	case "pattern_replace":
		err := tr.im.AddCustomCharFilter(name, map[string]interface{}{
			"type":    regexpchar.Name,
			"regexp":  def.Pattern,
			"replace": def.Replacement,
		})
		if err != nil {
			return fmt.Errorf("%w: char_filter %s: %v", engine.ErrInvalidSettings, name, err)
		}
		tr.charFilters[name] = []string{name}
	case "html_strip":
		tr.charFilters[name] = []string{html.Name}
	default:
		return fmt.Errorf("%w: char_filter %s: unsupported type %q", engine.ErrInvalidSettings, name, def.Type)
	}
	return nil
}

func (tr *translator) tokenizer(name string, def engine.TokenizerDef) error {
	switch def.Type {
	case "edgeNGram", "edge_ngram":
		filter := name + "_edge"
		if err := tr.addEdgeNgram(filter, def.MinGram, def.MaxGram); err != nil {
			return fmt.Errorf("%w: tokenizer %s: %v", engine.ErrInvalidSettings, name, err)
		}
		tr.tokenizers[name] = tokenizerPlan{tokenizer: unicode.Name, filters: []string{filter}}
	case "standard", "whitespace", "keyword":
		tok, _ := builtinTokenizer(def.Type)
		tr.tokenizers[name] = tokenizerPlan{tokenizer: tok}
	default:
		return fmt.Errorf("%w: tokenizer %s: unsupported type %q", engine.ErrInvalidSettings, name, def.Type)
	}
	return nil
}

func (tr *translator) filter(name string, def engine.FilterDef) error {
	switch def.Type {
	case "edgeNGram", "edge_ngram":
		if err := tr.addEdgeNgram(name, def.MinGram, def.MaxGram); err != nil {
			return fmt.Errorf("%w: filter %s: %v", engine.ErrInvalidSettings, name, err)
		}
		tr.filters[name] = []string{name}
	default:
		if _, ok := builtinFilter(def.Type); !ok {
			return fmt.Errorf("%w: filter %s: unsupported type %q", engine.ErrInvalidSettings, name, def.Type)
		}
		f, _ := builtinFilter(def.Type)
		tr.filters[name] = []string{f}
	}
	return nil
}

func (tr *translator) addEdgeNgram(name string, min, max int) error {
	if min <= 0 || max < min {
		return fmt.Errorf("invalid gram range %d..%d", min, max)
	}
	return tr.im.AddCustomTokenFilter(name, map[string]interface{}{
		"type": edgengram.Name,
		"back": false,
		"min":  float64(min),
		"max":  float64(max),
	})
}

func (tr *translator) analyzer(name string, def engine.AnalyzerDef) error {
	if def.Type != "custom" {
		return fmt.Errorf("%w: analyzer %s: unsupported type %q", engine.ErrInvalidSettings, name, def.Type)
	}
	var charFilters, tokenFilters []string
	for _, cf := range def.CharFilter {
		if expanded, ok := tr.charFilters[cf]; ok {
			charFilters = append(charFilters, expanded...)
			continue
		}
		if cf == "html_strip" {
			charFilters = append(charFilters, html.Name)
			continue
		}
		return fmt.Errorf("%w: analyzer %s: unknown char_filter %q", engine.ErrInvalidSettings, name, cf)
	}

	plan, ok := tr.tokenizers[def.Tokenizer]
	if !ok {
		tok, builtin := builtinTokenizer(def.Tokenizer)
		if !builtin {
			return fmt.Errorf("%w: analyzer %s: unknown tokenizer %q", engine.ErrInvalidSettings, name, def.Tokenizer)
		}
		plan = tokenizerPlan{tokenizer: tok}
	}
	tokenFilters = append(tokenFilters, plan.filters...)

	for _, f := range def.Filter {
		if f == "asciifolding" {
			// folding runs on characters in this engine
			charFilters = append(charFilters, asciifolding.Name)
			continue
		}
		if expanded, ok := tr.filters[f]; ok {
			tokenFilters = append(tokenFilters, expanded...)
			continue
		}
		builtin, ok := builtinFilter(f)
		if !ok {
			return fmt.Errorf("%w: analyzer %s: unknown filter %q", engine.ErrInvalidSettings, name, f)
		}
		tokenFilters = append(tokenFilters, builtin)
	}

	err := tr.im.AddCustomAnalyzer(name, map[string]interface{}{
		"type":          custom.Name,
		"char_filters":  charFilters,
		"tokenizer":     plan.tokenizer,
		"token_filters": tokenFilters,
	})
	if err != nil {
		return fmt.Errorf("%w: analyzer %s: %v", engine.ErrInvalidSettings, name, err)
	}
	return nil
}

func builtinTokenizer(name string) (string, bool) {
	switch name {
	case "standard":
		return unicode.Name, true
	case "whitespace":
		return whitespace.Name, true
	case "keyword":
		return single.Name, true
	}
	return "", false
}

func builtinFilter(name string) (string, bool) {
	switch name {
	case "lowercase":
		return lowercase.Name, true
	case "stop":
		return en.StopName, true
	case "snowball":
		return en.SnowballStemmerName, true
	}
	return "", false
}

// buildIndexMapping compiles settings and per-type mappings into a bleve mapping.
func buildIndexMapping(settings engine.Settings, mappings map[string]engine.Mapping) (*bmapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	im.TypeField = typeField
	im.DefaultMapping = bleve.NewDocumentDisabledMapping()
	im.StoreDynamic = false
	im.IndexDynamic = false
	im.DocValuesDynamic = false

	if err := registerAnalysis(im, settings.Analysis); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(mappings) {
		dm, err := documentMapping(mappings[name])
		if err != nil {
			return nil, fmt.Errorf("%w: type %s: %v", engine.ErrInvalidMapping, name, err)
		}
		im.AddDocumentMapping(name, dm)
	}
	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidMapping, err)
	}
	return im, nil
}

func documentMapping(m engine.Mapping) (*bmapping.DocumentMapping, error) {
	dm := bleve.NewDocumentStaticMapping()
	tf := bleve.NewKeywordFieldMapping()
	tf.Store = false
	dm.AddFieldMappingsAt(typeField, tf)
	if err := addProperties(dm, m.Properties); err != nil {
		return nil, err
	}
	return dm, nil
}

func addProperties(dm *bmapping.DocumentMapping, props map[string]engine.FieldMapping) error {
	for _, name := range sortedKeys(props) {
		fm := props[name]
		if fm.IsObject() {
			sub := bleve.NewDocumentStaticMapping()
			if err := addProperties(sub, fm.Properties); err != nil {
				return err
			}
			dm.AddSubDocumentMapping(name, sub)
			continue
		}
		field, err := fieldMapping(fm)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		dm.AddFieldMappingsAt(name, field)
	}
	return nil
}

func fieldMapping(fm engine.FieldMapping) (*bmapping.FieldMapping, error) {
	var f *bmapping.FieldMapping
	switch fm.Type {
	case engine.TypeString:
		if fm.Index == "not_analyzed" {
			f = bleve.NewKeywordFieldMapping()
		} else {
			f = bleve.NewTextFieldMapping()
			f.Analyzer = fm.Analyzer
		}
	case engine.TypeInteger, engine.TypeLong, engine.TypeFloat, engine.TypeDouble:
		f = bleve.NewNumericFieldMapping()
	case engine.TypeDate:
		f = bleve.NewDateTimeFieldMapping()
	case engine.TypeBoolean:
		f = bleve.NewBooleanFieldMapping()
	default:
		return nil, fmt.Errorf("unsupported type %q", fm.Type)
	}
	f.Store = fm.Store == "yes"
	if fm.Index == "no" {
		f.Index = false
	}
	if fm.IndexName != "" {
		f.Name = fm.IndexName
	}
	return f, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
