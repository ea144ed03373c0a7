package mapping

import (
	"context"
	"fmt"

	"github.com/polyindex/polyindex/polyindex/engine"
	perrors "github.com/polyindex/polyindex/polyindex/errors"
	"github.com/polyindex/polyindex/polyindex/model"
)

// RelatedResolver loads the row a relation column points at.
type RelatedResolver interface {
	ResolveRelated(ctx context.Context, t *model.Type, id int64) (*model.Instance, error)
}

// DocType binds a concrete type to its document type name and schema.
type DocType struct {
	Name   string
	Type   *model.Type
	Schema Schema
}

func NewDocType(t *model.Type) (*DocType, error) {
	s, err := SchemaFor(t)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", t.QualifiedName(), err)
	}
	return &DocType{Name: t.DocTypeName(), Type: t, Schema: s}, nil
}

func (d *DocType) Mapping() engine.Mapping { return d.Schema.Mapping() }

// Extractor turns instances into documents.
type Extractor struct {
	resolver RelatedResolver
}

// NewExtractor returns an extractor; resolver may be nil when no type embeds
// related objects.
func NewExtractor(resolver RelatedResolver) *Extractor {
	return &Extractor{resolver: resolver}
}

// Extract builds the document of inst using the schema of its concrete type.
func (e *Extractor) Extract(ctx context.Context, inst *model.Instance) (engine.Document, error) {
	return e.ExtractAs(ctx, inst.Type, inst)
}

// ExtractAs builds the document of inst shaped by the schema of t, which must be
// inst's type or one of its ancestors.
func (e *Extractor) ExtractAs(ctx context.Context, t *model.Type, inst *model.Instance) (engine.Document, error) {
	if t != inst.Type && !t.IsAncestorOf(inst.Type) {
		return nil, perrors.SchemaError(fmt.Sprintf("%s is not an instance of %s", inst.Type.QualifiedName(), t.QualifiedName()))
	}
	s, err := SchemaFor(t)
	if err != nil {
		return nil, err
	}
	return e.extract(ctx, s, inst, true)
}

func (e *Extractor) extract(ctx context.Context, s Schema, inst *model.Instance, top bool) (engine.Document, error) {
	doc := make(engine.Document, s.Len())
	for _, nf := range s.fields {
		switch {
		case top && nf.Name == DiscriminatorField:
			doc[nf.Name] = inst.Type.DocTypeName()
			continue
		case nf.Name == IdentityField && inst.ID != 0:
			doc[nf.Name] = inst.ID
			continue
		case nf.Field.IsObject():
			v, err := e.extractRelated(ctx, nf, inst)
			if err != nil {
				return nil, err
			}
			doc[nf.Name] = v
			continue
		}
		v, err := nf.Field.ToSearch(nf.Name, inst.Get(nf.Name))
		if err != nil {
			return nil, err
		}
		doc[nf.Name] = v
	}
	return doc, nil
}

func (e *Extractor) extractRelated(ctx context.Context, nf NamedField, inst *model.Instance) (any, error) {
	col, ok := inst.Type.Column(nf.Name)
	if !ok || !col.IsRelation() {
		// Not backed by a relation: the stored value must already be a document.
		return nf.Field.ToSearch(nf.Name, inst.Get(nf.Name))
	}
	id, ok := inst.RelatedID(col)
	if !ok {
		return nil, nil
	}
	if e.resolver == nil {
		return nil, &perrors.Error{Code: perrors.ErrSchema, Field: nf.Name, Msg: "no resolver for related object"}
	}
	related, err := e.resolver.ResolveRelated(ctx, nf.Field.Related, id)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", nf.Name, err)
	}
	if related == nil {
		return nil, nil
	}
	return e.extract(ctx, *nf.Field.Nested, related, false)
}
