// Package codec implements the reference codec (spec.md §4.1, C1): encoding
// a live entity as a compact reference tuple and decoding a tuple back into
// a live entity, crossing document boundaries through a document's
// registered dependencies when needed.
package codec

import (
	"errors"
	"fmt"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
)

// Sentinel errors for the IdentityError family (spec.md §7).
var (
	ErrUnknownType           = errors.New("codec: unknown entity type")
	ErrMissingDependency     = errors.New("codec: dependency document not registered")
	ErrCrossDocReference     = errors.New("codec: entity's document is not a dependency of the referring document")
	ErrNotAReferenceTuple    = errors.New("codec: value is not a reference tuple")
)

const modelsMapName = "models"
const typeTagKey = "__type__"

// Materializer is implemented by internal/entity's *Base: the one operation
// codec needs beyond model.Entity to make contagious materialization work
// (spec.md §4.1 "materialization happens as a side effect before encoding").
type Materializer interface {
	model.Entity
	MaterializeInto(doc model.Doc) (string, error)
}

// Encode returns the reference tuple for entity as seen from fromDoc
// (spec.md §4.1). If entity is ephemeral, it is materialized into fromDoc
// first as a side effect (contagion, spec.md §1 property 1).
func Encode(entity model.Entity, fromDoc model.Doc) (crdt.RefTuple, error) {
	if entity.Doc() == nil {
		if m, ok := entity.(Materializer); ok {
			if _, err := m.MaterializeInto(fromDoc); err != nil {
				return crdt.RefTuple{}, fmt.Errorf("codec: materialize %s before encode: %w", entity.ID(), err)
			}
		} else {
			return crdt.RefTuple{}, fmt.Errorf("codec: entity %s is ephemeral and cannot self-materialize", entity.ID())
		}
	}

	entityDoc := entity.Doc()
	if sameDocument(entityDoc, fromDoc) {
		return crdt.RefTuple{EntityID: entity.ID()}, nil
	}

	depID := entityDoc.DependencyID()
	if depID == "" {
		return crdt.RefTuple{}, fmt.Errorf("%w: %s", ErrCrossDocReference, entity.ID())
	}
	if _, ok := fromDoc.ResolveDependency(depID); !ok {
		return crdt.RefTuple{}, fmt.Errorf("%w: %s", ErrCrossDocReference, entity.ID())
	}
	return crdt.RefTuple{EntityID: entity.ID(), DepID: depID}, nil
}

// sameDocument compares documents by CRDT client identity, since model.Doc
// values may be distinct orchestrator wrappers around the same substrate
// document.
func sameDocument(a, b model.Doc) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.CRDT() == b.CRDT()
}

// Decode turns a stored Value back into the value a user-facing field
// access should see: primitives and nil pass through unchanged, reference
// tuples resolve to a live entity (spec.md §4.1).
func Decode(doc model.Doc, value crdt.Value) (any, error) {
	ref, ok := value.(crdt.RefTuple)
	if !ok {
		return value, nil
	}
	return DecodeRef(doc, ref)
}

// DecodeRef resolves a reference tuple against doc, recursing into a
// dependency document when the tuple carries one.
func DecodeRef(doc model.Doc, ref crdt.RefTuple) (model.Entity, error) {
	if ref.IsLocal() {
		return decodeLocal(doc, ref.EntityID)
	}

	depDoc, ok := doc.ResolveDependency(ref.DepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, ref.DepID)
	}
	return decodeLocal(depDoc, ref.EntityID)
}

func decodeLocal(doc model.Doc, entityID string) (model.Entity, error) {
	if cached, ok := doc.Cache().Get(entityID); ok {
		return cached, nil
	}

	models := doc.CRDT().TopMap(modelsMapName)
	subtreeV, ok := models.Get(entityID)
	if !ok {
		return nil, fmt.Errorf("codec: no entity %s in document", entityID)
	}
	subtree, ok := subtreeV.(crdt.Map)
	if !ok {
		return nil, fmt.Errorf("codec: entity %s subtree is malformed", entityID)
	}
	typeTagV, _ := subtree.Get(typeTagKey)
	typeTag, _ := typeTagV.(string)
	if typeTag == "" {
		return nil, fmt.Errorf("%w: entity %s has no type tag", ErrUnknownType, entityID)
	}

	entity, err := doc.NewEntity(typeTag, entityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownType, typeTag, entityID)
	}
	doc.Cache().Put(entityID, entity)
	return entity, nil
}
