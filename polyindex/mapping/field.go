package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/model"
)

// DateFormat serializes datetimes with microsecond precision and an explicit offset.
// Values are always written in UTC, so the offset reads +00:00.
const DateFormat = "2006-01-02T15:04:05.000000-07:00"

const (
	IndexAnalyzed    = "analyzed"
	IndexNotAnalyzed = "not_analyzed"
	IndexNo          = "no"

	StoreYes = "yes"
	StoreNo  = "no"
)

// Field is a field descriptor: an engine type tag plus optional attributes.
type Field struct {
	Type          string
	Analyzer      string
	Index         string
	Store         string
	Boost         float64
	IndexName     string
	Format        string
	PrecisionStep int
	// Nested shapes object and nested fields.
	Nested *Schema
	// Related is the type a nested schema is extracted from.
	Related *model.Type
}

func String(opts ...Option) Field  { return newField(engine.TypeString, opts) }
func Integer(opts ...Option) Field { return newField(engine.TypeInteger, opts) }
func Long(opts ...Option) Field    { return newField(engine.TypeLong, opts) }
func Float(opts ...Option) Field   { return newField(engine.TypeFloat, opts) }
func Double(opts ...Option) Field  { return newField(engine.TypeDouble, opts) }
func Date(opts ...Option) Field    { return newField(engine.TypeDate, opts) }
func Boolean(opts ...Option) Field { return newField(engine.TypeBoolean, opts) }

// Object is an embedded document shaped by nested.
func Object(nested Schema, opts ...Option) Field {
	f := newField(engine.TypeObject, opts)
	f.Nested = &nested
	return f
}

type Option func(*Field)

func WithAnalyzer(a string) Option  { return func(f *Field) { f.Analyzer = a } }
func WithIndex(mode string) Option  { return func(f *Field) { f.Index = mode } }
func WithStore(s string) Option     { return func(f *Field) { f.Store = s } }
func WithBoost(b float64) Option    { return func(f *Field) { f.Boost = b } }
func WithIndexName(n string) Option { return func(f *Field) { f.IndexName = n } }

func newField(typ string, opts []Option) Field {
	f := Field{Type: typ}
	for _, o := range opts {
		o(&f)
	}
	return f
}

func (f Field) IsObject() bool {
	return f.Type == engine.TypeObject || f.Type == engine.TypeNested
}

// Validate checks attribute values the way the engine would on mapping install.
func (f Field) Validate(name string) error {
	switch f.Type {
	case engine.TypeString, engine.TypeInteger, engine.TypeLong, engine.TypeFloat,
		engine.TypeDouble, engine.TypeDate, engine.TypeBoolean:
	case engine.TypeObject, engine.TypeNested:
		if f.Nested == nil {
			return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: "object field requires a nested schema"}
		}
	default:
		return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: fmt.Sprintf("unknown field type %q", f.Type)}
	}
	switch f.Index {
	case "", IndexAnalyzed, IndexNotAnalyzed, IndexNo:
	default:
		return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: fmt.Sprintf("index must be one of analyzed, not_analyzed, no; got %q", f.Index)}
	}
	switch f.Store {
	case "", StoreYes, StoreNo:
	default:
		return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: fmt.Sprintf("store must be yes or no; got %q", f.Store)}
	}
	if f.Analyzer != "" && f.Type != engine.TypeString {
		return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: "analyzer is only valid on string fields"}
	}
	if f.Boost < 0 {
		return &perrors.Error{Code: perrors.ErrSchema, Field: name, Msg: "boost must be positive"}
	}
	return nil
}

// Mapping renders the engine-level property declaration.
func (f Field) Mapping() engine.FieldMapping {
	fm := engine.FieldMapping{
		Type:          f.Type,
		Analyzer:      f.Analyzer,
		Index:         f.Index,
		Store:         f.Store,
		Boost:         f.Boost,
		IndexName:     f.IndexName,
		Format:        f.Format,
		PrecisionStep: f.PrecisionStep,
	}
	if f.Nested != nil {
		fm.Properties = f.Nested.Properties()
	}
	return fm
}

// ToSearch converts a stored value into its document representation.
// nil stays nil so the document shape is always complete.
func (f Field) ToSearch(name string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case engine.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		default:
			return fmt.Sprint(x), nil
		}
	case engine.TypeInteger, engine.TypeLong:
		n, err := toInt64(v)
		if err != nil {
			return nil, perrors.ConversionError(name, err.Error())
		}
		return n, nil
	case engine.TypeFloat, engine.TypeDouble:
		n, err := toFloat64(v)
		if err != nil {
			return nil, perrors.ConversionError(name, err.Error())
		}
		return n, nil
	case engine.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, perrors.ConversionError(name, fmt.Sprintf("expected bool, got %T", v))
		}
		return b, nil
	case engine.TypeDate:
		switch x := v.(type) {
		case time.Time:
			return FormatDate(x), nil
		case string:
			t, err := ParseDate(x)
			if err != nil {
				return nil, perrors.ConversionError(name, err.Error())
			}
			return FormatDate(t), nil
		default:
			return nil, perrors.ConversionError(name, fmt.Sprintf("expected time, got %T", v))
		}
	case engine.TypeObject, engine.TypeNested:
		switch x := v.(type) {
		case engine.Document:
			return x, nil
		case map[string]any:
			return engine.Document(x), nil
		default:
			return nil, perrors.ConversionError(name, fmt.Sprintf("expected document, got %T", v))
		}
	}
	return nil, perrors.ConversionError(name, fmt.Sprintf("unknown field type %q", f.Type))
}

// FromSearch converts a document value back into a Go value.
func (f Field) FromSearch(name string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case engine.TypeInteger, engine.TypeLong:
		n, err := toInt64(v)
		if err != nil {
			return nil, perrors.ConversionError(name, err.Error())
		}
		return n, nil
	case engine.TypeFloat, engine.TypeDouble:
		n, err := toFloat64(v)
		if err != nil {
			return nil, perrors.ConversionError(name, err.Error())
		}
		return n, nil
	case engine.TypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, perrors.ConversionError(name, fmt.Sprintf("expected date string, got %T", v))
		}
		t, err := ParseDate(s)
		if err != nil {
			return nil, perrors.ConversionError(name, err.Error())
		}
		return t, nil
	}
	return v, nil
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// ParseDate accepts only DateFormat with a +00:00 offset; anything else is a
// conversion error.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q does not match %s", s, DateFormat)
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, fmt.Errorf("date %q is not in UTC (+00:00)", s)
	}
	return t.UTC(), nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to integer", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("cannot convert %v to integer", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", x)
		}
		return f, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(n), nil
}
