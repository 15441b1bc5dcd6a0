package entity

import (
	"fmt"

	"github.com/plexus-engine/plexus/internal/codec"
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
	"github.com/plexus-engine/plexus/internal/proxy"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// MaterializeInto implements codec.Materializer (spec.md §4.1
// "materialization happens as a side effect before encoding", §4.6
// "Materialization"): idempotent if already materialized into doc, an error
// if materialized into a different one, and otherwise a four-step
// transaction — create the subtree with its type tag and parent meta-entry,
// register the entity in the cache *before* seeding fields (so a cycle
// reached through a field resolves to this same instance instead of
// recursing forever), seed every field, then install the subtree observer.
func (b *Base) MaterializeInto(doc model.Doc) (string, error) {
	b.mu.Lock()
	existing := b.doc
	id := b.id
	b.mu.Unlock()

	if existing != nil {
		if existing.CRDT() == doc.CRDT() {
			return id, nil
		}
		return "", fmt.Errorf("%w: entity %s is already materialized into a different document", plexuserr.ErrLifecycle, id)
	}

	err := doc.Transact(func() error {
		models := doc.CRDT().TopMap(modelsMapName)
		subtree := doc.CRDT().NewMap()
		subtree.Set(typeTagKey, b.typeName)

		b.mu.Lock()
		parent := b.parent
		b.mu.Unlock()
		if parent != nil {
			subtree.Set(parentMetaKey, crdt.ParentTuple{ParentID: parent.ownerID, Field: parent.field, SubKey: parent.subKey, HasSubKey: parent.hasSubKey})
		}

		models.Set(id, subtree)

		b.mu.Lock()
		b.doc = doc
		self := b.self
		b.mu.Unlock()
		doc.Cache().Put(id, self)

		if err := b.seedFields(doc, subtree); err != nil {
			return err
		}
		b.observeSubtree(subtree)
		return nil
	})
	if err != nil {
		b.mu.Lock()
		b.doc = nil
		b.mu.Unlock()
		return "", err
	}
	return id, nil
}

// seedFields writes this entity's pre-materialization state into its fresh
// subtree, in schema declaration order (spec.md §3: order is what makes
// materialization deterministic across replicas).
func (b *Base) seedFields(doc model.Doc, subtree crdt.Map) error {
	for _, name := range b.schema.Order {
		fs := b.schema.Fields[name]
		switch fs.Kind {
		case model.KindVal, model.KindChildVal:
			b.mu.Lock()
			raw := b.rawVals[name]
			b.mu.Unlock()
			enc, err := encodeLeaf(raw, doc)
			if err != nil {
				return err
			}
			subtree.Set(name, enc)

		case model.KindList, model.KindChildList:
			b.mu.Lock()
			ev, _ := b.containers[name].(*ephemeralList)
			b.mu.Unlock()
			var items []any
			if ev != nil {
				items, _ = ev.Slice()
			}
			arr := doc.CRDT().NewArray()
			for _, it := range items {
				enc, err := encodeLeaf(it, doc)
				if err != nil {
					return err
				}
				arr.Push(enc)
			}
			subtree.Set(name, arr)
			b.mu.Lock()
			b.containers[name] = proxy.NewList(b, name, fs.Kind, doc, arr)
			b.mu.Unlock()

		case model.KindSet, model.KindChildSet:
			b.mu.Lock()
			ev, _ := b.containers[name].(*ephemeralSet)
			b.mu.Unlock()
			var items []any
			if ev != nil {
				items, _ = ev.Values()
			}
			arr := doc.CRDT().NewArray()
			for _, it := range items {
				enc, err := encodeLeaf(it, doc)
				if err != nil {
					return err
				}
				arr.Push(enc)
			}
			subtree.Set(name, arr)
			b.mu.Lock()
			b.containers[name] = proxy.NewSet(b, name, fs.Kind, doc, arr)
			b.mu.Unlock()

		case model.KindRecord, model.KindChildRecord:
			b.mu.Lock()
			ev, _ := b.containers[name].(*ephemeralRecord)
			b.mu.Unlock()
			var entries map[string]any
			if ev != nil {
				entries, _ = ev.Entries()
			}
			m := doc.CRDT().NewMap()
			for k, v := range entries {
				enc, err := encodeLeaf(v, doc)
				if err != nil {
					return err
				}
				m.Set(k, enc)
			}
			subtree.Set(name, m)
			b.mu.Lock()
			b.containers[name] = proxy.NewRecord(b, name, fs.Kind, doc, m)
			b.mu.Unlock()
		}
	}
	return nil
}

// encodeLeaf turns a val/child-val-shaped Go value into a CRDT leaf Value,
// materializing an ephemeral entity into doc as a side effect (spec.md §1
// "contagious materialization").
func encodeLeaf(v any, doc model.Doc) (crdt.Value, error) {
	if v == nil {
		return nil, nil
	}
	if ent, ok := v.(model.Entity); ok {
		ref, err := codec.Encode(ent, doc)
		if err != nil {
			return nil, err
		}
		return ref, nil
	}
	switch v.(type) {
	case string, bool, float64:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", plexuserr.ErrSchemaViolation, v)
	}
}

// wireContainers backs every list/set/record field with its CRDT-backed
// proxy when rehydrating an already-materialized entity, creating an empty
// backing container for a field the stored subtree is missing (defensive;
// the engine itself never produces such a subtree).
func (b *Base) wireContainers(subtree crdt.Map) {
	for _, name := range b.schema.Order {
		fs := b.schema.Fields[name]
		switch fs.Kind {
		case model.KindList, model.KindChildList:
			arr := b.arrayFieldOrNew(subtree, name)
			b.containers[name] = proxy.NewList(b, name, fs.Kind, b.doc, arr)
		case model.KindSet, model.KindChildSet:
			arr := b.arrayFieldOrNew(subtree, name)
			b.containers[name] = proxy.NewSet(b, name, fs.Kind, b.doc, arr)
		case model.KindRecord, model.KindChildRecord:
			m := b.mapFieldOrNew(subtree, name)
			b.containers[name] = proxy.NewRecord(b, name, fs.Kind, b.doc, m)
		}
	}
}

func (b *Base) arrayFieldOrNew(subtree crdt.Map, name string) crdt.Array {
	if v, ok := subtree.Get(name); ok {
		if a, ok := v.(crdt.Array); ok {
			return a
		}
	}
	a := b.doc.CRDT().NewArray()
	subtree.Set(name, a)
	return a
}

func (b *Base) mapFieldOrNew(subtree crdt.Map, name string) crdt.Map {
	if v, ok := subtree.Get(name); ok {
		if m, ok := v.(crdt.Map); ok {
			return m
		}
	}
	m := b.doc.CRDT().NewMap()
	subtree.Set(name, m)
	return m
}

// observeSubtree reconciles val/child-val field reads and the parent
// meta-entry against remote changes to this entity's own subtree map
// (spec.md §4.6 "reconcile value fields and parent changes"). Container
// fields (list/set/record) are excluded: their own CRDT array/map already
// carries element-level observers wired in wireContainers/seedFields.
func (b *Base) observeSubtree(subtree crdt.Map) {
	subtree.Observe(func(ev crdt.MapEvent) {
		for key, change := range ev.Changes {
			if key == parentMetaKey {
				b.reconcileParent(change)
				continue
			}
			if key == typeTagKey {
				continue
			}
			fs, ok := b.schema.Field(key)
			if !ok || fs.Kind.IsContainer() {
				continue
			}
			b.mu.Lock()
			doc := b.doc
			b.mu.Unlock()
			if doc != nil {
				doc.Tracking().ReportModify(b.id, tracking.Key(key))
			}
		}
	})
}

func (b *Base) reconcileParent(change crdt.KeyChange) {
	b.mu.Lock()
	doc := b.doc
	id := b.id
	b.mu.Unlock()
	if doc == nil {
		return
	}
	if change == crdt.KeyDeleted {
		b.mu.Lock()
		b.parent = nil
		b.mu.Unlock()
	} else if subtree, err := b.subtreeMap(); err == nil {
		b.loadParentFromSubtree(subtree)
	}
	doc.Tracking().ReportModify(id, tracking.Key("parent"))
}
