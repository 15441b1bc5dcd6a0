// Package proxy implements the reactive field views of spec.md §4.5 (C5):
// list, set and record proxies that read/write a CRDT container, enforce
// the parent-child invariants for child-* fields, and emit tracking
// events. Per spec.md §9's design note ("dynamic proxies -> field views as
// interface-abstracted objects"), these are plain Go types with small
// exported methods, not reflection-backed dynamic proxies.
package proxy

import (
	"fmt"

	"github.com/plexus-engine/plexus/internal/codec"
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// ErrDuplicateChild is spec.md §7's InvariantViolation "DuplicateChild":
// the same child entity inserted twice into one child-* container, or any
// operation that would leave duplicates in one. It wraps
// plexuserr.ErrInvariantViolation so callers can errors.Is against the
// shared taxonomy regardless of whether the field was still ephemeral
// (internal/entity/views.go) or already materialized through this package.
var ErrDuplicateChild = fmt.Errorf("proxy: duplicate child in child-* container: %w", plexuserr.ErrInvariantViolation)

// ErrNegativeIndex is the SchemaViolation for a negative array index write,
// wrapping plexuserr.ErrSchemaViolation for the same reason.
var ErrNegativeIndex = fmt.Errorf("proxy: negative array index: %w", plexuserr.ErrSchemaViolation)

// base holds what every proxy kind needs in common: the owning entity, the
// field name and kind, and the document it mediates access through.
type base struct {
	owner model.Owner
	field string
	kind  model.Kind
	doc   model.Doc
}

// subScope is the tracking identity used for reads/writes inside the
// container itself, distinct from the owner entity's own identity so that
// "(owner, field)" (did the field's reference change) and
// "(proxy, subkey)" (did this element change) are tracked independently,
// per spec.md §4.5 ("report an access on the owning entity for the field
// name, and on the proxy itself for a precise sub-key").
func (b *base) subScope() string { return b.owner.ID() + "#" + b.field }

func (b *base) reportFieldAccess() {
	b.doc.Tracking().ReportAccess(b.owner.ID(), tracking.Key(b.field))
}

func (b *base) reportAccess(key tracking.Key) {
	b.doc.Tracking().ReportAccess(b.subScope(), key)
}

func (b *base) reportModify(key tracking.Key) {
	b.doc.Tracking().ReportModify(b.subScope(), key)
}

// encodeElement converts a user-supplied element value to a storable
// crdt.Value, materializing an ephemeral entity into b.doc first (spec.md
// §4.5 "Materialization on insertion").
func (b *base) encodeElement(v any) (crdt.Value, model.Entity, error) {
	if v == nil {
		return nil, nil, nil
	}
	if ent, ok := v.(model.Entity); ok {
		ref, err := codec.Encode(ent, b.doc)
		if err != nil {
			return nil, nil, err
		}
		return ref, ent, nil
	}
	switch t := v.(type) {
	case string, bool, float64:
		return t, nil, nil
	case int:
		return float64(t), nil, nil
	default:
		return nil, nil, fmt.Errorf("proxy: unsupported value type %T for field %s", v, b.field)
	}
}

// decodeElement turns a stored crdt.Value back into the value user code
// sees: a primitive unchanged, or a live entity for a reference tuple.
func (b *base) decodeElement(v crdt.Value) (any, error) {
	return codec.Decode(b.doc, v)
}

// entityOf returns the decoded entity if v is a reference tuple, else
// (nil, false).
func (b *base) entityOf(v crdt.Value) (model.Entity, bool, error) {
	ref, ok := v.(crdt.RefTuple)
	if !ok {
		return nil, false, nil
	}
	e, err := codec.DecodeRef(b.doc, ref)
	if err != nil {
		return nil, true, err
	}
	return e, true, nil
}

func refEquals(a, b crdt.Value) bool {
	ra, aok := a.(crdt.RefTuple)
	rb, bok := b.(crdt.RefTuple)
	if aok != bok {
		return false
	}
	if !aok {
		return a == b
	}
	return ra == rb
}
