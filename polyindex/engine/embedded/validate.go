package embedded

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/polyindex/polyindex/polyindex/engine"
)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"}

// normalizeDocument converts doc to its JSON-decoded form so stored and indexed
// values have uniform Go types.
func normalizeDocument(doc engine.Document) (engine.Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidValue, err)
	}
	var out engine.Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidValue, err)
	}
	if out == nil {
		out = engine.Document{}
	}
	return out, nil
}

// mergeDocument overlays update onto base at the top level.
func mergeDocument(base, update engine.Document) engine.Document {
	out := make(engine.Document, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// validateDocument checks a normalized document against m.
func validateDocument(m engine.Mapping, doc engine.Document) error {
	return validateProps(m.Properties, doc, m.Strict(), "")
}

func validateProps(props map[string]engine.FieldMapping, doc map[string]any, strict bool, prefix string) error {
	for name, v := range doc {
		path := prefix + name
		fm, ok := props[name]
		if !ok {
			if strict {
				return fmt.Errorf("%w: %s", engine.ErrStrictMapping, path)
			}
			continue
		}
		if err := validateValue(fm, v, strict, path); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(fm engine.FieldMapping, v any, strict bool, path string) error {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if err := validateValue(fm, item, strict, path); err != nil {
				return err
			}
		}
		return nil
	}
	bad := func() error {
		return fmt.Errorf("%w: %s: %T is not %s", engine.ErrInvalidValue, path, v, fm.Type)
	}
	switch fm.Type {
	case engine.TypeString:
		if _, ok := v.(string); !ok {
			return bad()
		}
	case engine.TypeInteger, engine.TypeLong:
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return bad()
		}
	case engine.TypeFloat, engine.TypeDouble:
		if _, ok := v.(float64); !ok {
			return bad()
		}
	case engine.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return bad()
		}
	case engine.TypeDate:
		s, ok := v.(string)
		if !ok {
			return bad()
		}
		if _, err := parseDateValue(s); err != nil {
			return fmt.Errorf("%w: %s: %v", engine.ErrInvalidValue, path, err)
		}
	case engine.TypeObject, engine.TypeNested:
		sub, ok := v.(map[string]any)
		if !ok {
			return bad()
		}
		return validateProps(fm.Properties, sub, strict, path+".")
	default:
		return fmt.Errorf("%w: %s: unknown type %q", engine.ErrInvalidMapping, path, fm.Type)
	}
	return nil
}

func parseDateValue(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// indexable converts a validated document into the value bleve indexes:
// dates become time.Time and the document type is attached for routing.
func indexable(m engine.Mapping, docType string, doc engine.Document) map[string]any {
	out := convertProps(m.Properties, doc)
	out[typeField] = docType
	return out
}

func convertProps(props map[string]engine.FieldMapping, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for name, v := range doc {
		fm, ok := props[name]
		if !ok || v == nil {
			continue
		}
		if cv := convertValue(fm, v); cv != nil {
			out[name] = cv
		}
	}
	return out
}

func convertValue(fm engine.FieldMapping, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			if cv := convertValue(fm, item); cv != nil {
				out = append(out, cv)
			}
		}
		return out
	case map[string]any:
		if fm.IsObject() {
			return convertProps(fm.Properties, x)
		}
		return nil
	case string:
		if fm.Type == engine.TypeDate {
			t, err := parseDateValue(x)
			if err != nil {
				return nil
			}
			return t
		}
	}
	return v
}

func cloneDocument(doc engine.Document) engine.Document {
	out, err := normalizeDocument(doc)
	if err != nil {
		return engine.Document{}
	}
	return out
}
