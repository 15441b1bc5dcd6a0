// Package entity is the entity runtime (spec.md §4.6, C6): per-entity
// state, schema-driven materialization, the parent-child protocol, and
// cloning. Per spec.md §9's remap table ("tagged-union of concrete types...
// derived field kind override... through the owner instance's descriptor"),
// concrete model types are plain Go structs embedding *entity.Base by
// pointer; Base carries the runtime state and dispatches field access by
// schema lookup, never by reflection.
package entity

import (
	"fmt"
	"sync"
	"weak"

	"github.com/plexus-engine/plexus/internal/codec"
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
	"github.com/plexus-engine/plexus/internal/proxy"
	"github.com/plexus-engine/plexus/internal/registry"
	"github.com/plexus-engine/plexus/internal/tracking"
)

const (
	typeTagKey    = "__type__"
	parentMetaKey = "__parent__"
	modelsMapName = "models"
)

// parentPtr is the runtime mirror of spec.md §3's parent meta-entry: a weak
// back-pointer to the owning entity's Base plus the field (and optional
// record sub-key) that refers to this entity.
type parentPtr struct {
	owner     weak.Pointer[Base]
	ownerID   string
	field     string
	subKey    string
	hasSubKey bool
}

// Base is the shared runtime embedded by every concrete model type. self
// points back to the concrete wrapper (e.g. *webdoc.Div) so that the entity
// cache can hand back the correctly typed value on a repeat decode (spec.md
// P4) despite caching the shared *Base object underneath (internal/cache's
// weak.Pointer tracks the exact pointee, so the cache instantiates
// cache.Cache[Base], not cache.Cache[model.Entity]).
type Base struct {
	mu sync.Mutex

	id       string
	typeName string
	schema   *model.Schema
	doc      model.Doc
	self     model.Entity

	parent       *parentPtr
	emancipating bool

	// rawVals holds val/child-val field values while the entity is
	// ephemeral; once materialized, GetVal/SetVal read and write the CRDT
	// subtree directly and this map is no longer consulted.
	rawVals map[string]any

	// containers holds the list/set/record field views, keyed by field
	// name: *ephemeralList/*ephemeralSet/*ephemeralRecord before
	// materialization, *proxy.List/*proxy.Set/*proxy.Record after.
	containers map[string]any
}

// hasBase is satisfied by every concrete model type, via promotion of
// Base's unexported entityBase method through struct embedding.
type hasBase interface{ entityBase() *Base }

func (b *Base) entityBase() *Base { return b }

func baseOf(e model.Entity) (*Base, error) {
	hb, ok := e.(hasBase)
	if !ok {
		return nil, fmt.Errorf("entity: %T does not embed *entity.Base", e)
	}
	return hb.entityBase(), nil
}

// NewEphemeral constructs a fresh, unattached Base for typeName, applying
// per-field defaults wherever initial omits a key (spec.md §4.6
// "Initialization", P5: a present key with an explicit nil value is
// preserved, an absent key takes the field's default). self must be the
// concrete wrapper under construction, embedding this Base by pointer.
func NewEphemeral(self model.Entity, typeName string, initial map[string]any) (*Base, error) {
	return newBase(self, typeName, NewID(), nil, initial)
}

// FromRegistry is what every registered type's registry.Constructor calls:
// with doc non-nil it rehydrates the entity already materialized at id in
// doc (spec.md §4.1 decode); with doc nil it builds a fresh, zero-valued
// (defaults-only) ephemeral instance bound to id, which is how Clone
// obtains a blank instance of the source's type without calling a
// type-specific constructor (spec.md §4.6 "Instantiate the clone without
// arguments").
func FromRegistry(self model.Entity, typeName, id string, doc model.Doc) (*Base, error) {
	return newBase(self, typeName, id, doc, nil)
}

func newBase(self model.Entity, typeName, id string, doc model.Doc, initial map[string]any) (*Base, error) {
	schema, ok := registry.Schema(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", plexuserr.ErrUnknownType, typeName)
	}
	b := &Base{
		id:         id,
		typeName:   typeName,
		schema:     schema,
		doc:        doc,
		self:       self,
		rawVals:    make(map[string]any),
		containers: make(map[string]any),
	}

	if doc != nil {
		subtree, err := b.subtreeMap()
		if err != nil {
			return nil, err
		}
		b.wireContainers(subtree)
		b.loadParentFromSubtree(subtree)
		b.observeSubtree(subtree)
		return b, nil
	}

	for _, name := range schema.Order {
		fs := schema.Fields[name]
		v, present := initial[name]
		switch {
		case present:
			if err := b.initField(fs, v); err != nil {
				return nil, err
			}
		case fs.Kind.IsContainer():
			if err := b.initField(fs, nil); err != nil {
				return nil, err
			}
		case fs.Default != nil:
			if err := b.initField(fs, fs.Default()); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: field %q of type %q has no value and no default", plexuserr.ErrSchemaViolation, name, typeName)
		}
	}
	return b, nil
}

func (b *Base) initField(fs model.FieldSchema, v any) error {
	switch fs.Kind {
	case model.KindVal, model.KindChildVal:
		v = normalizeLeaf(v)
		if err := validateLeafShape(v); err != nil {
			return err
		}
		if fs.Kind == model.KindChildVal {
			if ent, ok := v.(model.Entity); ok && ent != nil {
				if err := b.RequestAdoption(ent, fs.Name, ""); err != nil {
					return err
				}
			}
		}
		b.rawVals[fs.Name] = v
		return nil
	case model.KindList, model.KindChildList:
		lv := newEphemeralList(b, fs.Name, fs.Kind)
		if items, ok := v.([]any); ok {
			if err := lv.Push(items...); err != nil {
				return err
			}
		}
		b.containers[fs.Name] = lv
		return nil
	case model.KindSet, model.KindChildSet:
		sv := newEphemeralSet(b, fs.Name, fs.Kind)
		if items, ok := v.([]any); ok {
			for _, it := range items {
				if err := sv.Add(it); err != nil {
					return err
				}
			}
		}
		b.containers[fs.Name] = sv
		return nil
	case model.KindRecord, model.KindChildRecord:
		rv := newEphemeralRecord(b, fs.Name, fs.Kind)
		if obj, ok := v.(map[string]any); ok {
			if err := rv.Assign(obj); err != nil {
				return err
			}
		}
		b.containers[fs.Name] = rv
		return nil
	default:
		return fmt.Errorf("entity: field %q has an unrecognized kind", fs.Name)
	}
}

func normalizeLeaf(v any) any {
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v
}

func validateLeafShape(v any) error {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, bool, float64:
		return nil
	}
	if _, ok := v.(model.Entity); ok {
		return nil
	}
	return fmt.Errorf("%w: value of type %T is not a valid field value", plexuserr.ErrSchemaViolation, v)
}

// ForceRootID overrides a still-ephemeral entity's id to "root". Only
// internal/plexusdoc calls this, immediately after invoking a document's
// createDefaultRoot factory and before materializing the result (spec.md
// §4.7 "Force the root's id to root and materialize it").
func (b *Base) ForceRootID() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc != nil {
		return fmt.Errorf("%w: cannot change the id of an already-materialized entity", plexuserr.ErrLifecycle)
	}
	b.id = "root"
	return nil
}

// ID, TypeName and Doc satisfy model.Entity.
func (b *Base) ID() string { return b.id }

func (b *Base) TypeName() string { return b.typeName }

func (b *Base) Doc() model.Doc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doc
}

// FieldSchema satisfies model.SchemaLookup.
func (b *Base) FieldSchema(name string) (model.FieldSchema, bool) {
	return b.schema.Field(name)
}

// Parent is the read-only accessor of spec.md §6.3.
func (b *Base) Parent() model.Entity {
	b.mu.Lock()
	p := b.parent
	b.mu.Unlock()
	if p == nil {
		return nil
	}
	owner := p.owner.Value()
	if owner == nil {
		return nil
	}
	owner.mu.Lock()
	self := owner.self
	owner.mu.Unlock()
	return self
}

func (b *Base) subtreeMap() (crdt.Map, error) {
	b.mu.Lock()
	doc := b.doc
	id := b.id
	b.mu.Unlock()
	if doc == nil {
		return nil, fmt.Errorf("%w: entity %s is not materialized", plexuserr.ErrLifecycle, id)
	}
	v, ok := doc.CRDT().TopMap(modelsMapName).Get(id)
	if !ok {
		return nil, fmt.Errorf("entity: subtree for %s is missing from its document", id)
	}
	m, ok := v.(crdt.Map)
	if !ok {
		return nil, fmt.Errorf("entity: subtree for %s is malformed", id)
	}
	return m, nil
}

// ListField, SetField and RecordField return the cached container view for
// a list, set or record field (child or not), dispatching between the
// ephemeral and CRDT-backed implementations transparently to the caller.
func (b *Base) ListField(name string) (ListView, error) {
	fs, ok := b.schema.Field(name)
	if !ok || !(fs.Kind == model.KindList || fs.Kind == model.KindChildList) {
		return nil, fmt.Errorf("%w: %q is not a list field", plexuserr.ErrSchemaViolation, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.containers[name]
	if !ok {
		return nil, fmt.Errorf("entity: list field %q was never initialized", name)
	}
	return v.(ListView), nil
}

func (b *Base) SetField(name string) (SetView, error) {
	fs, ok := b.schema.Field(name)
	if !ok || !(fs.Kind == model.KindSet || fs.Kind == model.KindChildSet) {
		return nil, fmt.Errorf("%w: %q is not a set field", plexuserr.ErrSchemaViolation, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.containers[name]
	if !ok {
		return nil, fmt.Errorf("entity: set field %q was never initialized", name)
	}
	return v.(SetView), nil
}

func (b *Base) RecordField(name string) (RecordView, error) {
	fs, ok := b.schema.Field(name)
	if !ok || !(fs.Kind == model.KindRecord || fs.Kind == model.KindChildRecord) {
		return nil, fmt.Errorf("%w: %q is not a record field", plexuserr.ErrSchemaViolation, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.containers[name]
	if !ok {
		return nil, fmt.Errorf("entity: record field %q was never initialized", name)
	}
	return v.(RecordView), nil
}

// GetVal reads a val/child-val field (spec.md §4.5 "Value proxy": there is
// no separate proxy object, access goes through the entity's accessor).
func (b *Base) GetVal(name string) (any, error) {
	fs, ok := b.schema.Field(name)
	if !ok || !(fs.Kind == model.KindVal || fs.Kind == model.KindChildVal) {
		return nil, fmt.Errorf("%w: %q is not a val field", plexuserr.ErrSchemaViolation, name)
	}

	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.rawVals[name], nil
	}

	doc.Tracking().ReportAccess(b.id, tracking.Key(name))
	subtree, err := b.subtreeMap()
	if err != nil {
		return nil, err
	}
	raw, _ := subtree.Get(name)
	return codec.Decode(doc, raw)
}

// SetVal writes a val/child-val field, short-circuiting identity-equal
// writes (B4, I5) and running the orphan-old/adopt-new protocol for
// child-val (spec.md §4.5 "Value proxy").
func (b *Base) SetVal(name string, v any) error {
	fs, ok := b.schema.Field(name)
	if !ok || !(fs.Kind == model.KindVal || fs.Kind == model.KindChildVal) {
		return fmt.Errorf("%w: %q is not a val field", plexuserr.ErrSchemaViolation, name)
	}
	v = normalizeLeaf(v)
	if err := validateLeafShape(v); err != nil {
		return err
	}
	isChild := fs.Kind == model.KindChildVal

	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()

	if doc == nil {
		b.mu.Lock()
		old := b.rawVals[name]
		b.mu.Unlock()
		if valuesEqualEntityAware(old, v) {
			return nil
		}
		if isChild {
			if err := b.swapChild(old, v, name, ""); err != nil {
				return err
			}
		}
		b.mu.Lock()
		b.rawVals[name] = v
		b.mu.Unlock()
		return nil
	}

	return doc.Transact(func() error {
		subtree, err := b.subtreeMap()
		if err != nil {
			return err
		}
		rawOld, _ := subtree.Get(name)
		oldDecoded, err := codec.Decode(doc, rawOld)
		if err != nil {
			return err
		}
		if valuesEqualEntityAware(oldDecoded, v) {
			return nil
		}
		if isChild {
			if err := b.swapChild(oldDecoded, v, name, ""); err != nil {
				return err
			}
		}
		enc, err := encodeLeaf(v, doc)
		if err != nil {
			return err
		}
		subtree.Set(name, enc)
		doc.Tracking().ReportModify(b.id, tracking.Key(name))
		return nil
	})
}

// swapChild runs child-val's orphan-old/adopt-new protocol when old and new
// are not the same entity.
func (b *Base) swapChild(old, new any, field, subKey string) error {
	if oldEnt, ok := old.(model.Entity); ok && oldEnt != nil {
		newEnt, _ := new.(model.Entity)
		if newEnt == nil || oldEnt.ID() != newEnt.ID() {
			if err := b.InformOrphanization(oldEnt); err != nil {
				return err
			}
		}
	}
	if newEnt, ok := new.(model.Entity); ok && newEnt != nil {
		if err := b.RequestAdoption(newEnt, field, subKey); err != nil {
			return err
		}
	}
	return nil
}

func valuesEqualEntityAware(a, b any) bool {
	aEnt, aOK := a.(model.Entity)
	bEnt, bOK := b.(model.Entity)
	if aOK || bOK {
		return aOK && bOK && aEnt.ID() == bEnt.ID()
	}
	return a == b
}

// --- parent-child protocol (spec.md §4.6) -----------------------------

// RequestAdoption emancipates child from wherever it currently is
// (including a different field of this same owner) and then adopts it into
// (b, field, subKey).
func (b *Base) RequestAdoption(child model.Entity, field string, subKey string) error {
	cb, err := baseOf(child)
	if err != nil {
		return err
	}
	if err := emancipate(cb); err != nil {
		return err
	}
	return b.InformAdoption(child, field, subKey)
}

// InformAdoption sets child's runtime parent to (b, field, subKey) without
// first emancipating it (used for a move within the same container, where
// the parent triple's field/subKey may be unchanged or only subKey moves).
// If b is materialized and child is still ephemeral, child is force-
// materialized into b's document first (spec.md §4.6 informAdoption).
func (b *Base) InformAdoption(child model.Entity, field string, subKey string) error {
	cb, err := baseOf(child)
	if err != nil {
		return err
	}
	if cb.id == "root" {
		return fmt.Errorf("%w: the root entity cannot be given a parent", plexuserr.ErrInvariantViolation)
	}

	b.mu.Lock()
	doc := b.doc
	bid := b.id
	b.mu.Unlock()

	if doc != nil && child.Doc() == nil {
		if m, ok := child.(codec.Materializer); ok {
			if _, err := m.MaterializeInto(doc); err != nil {
				return fmt.Errorf("entity: materialize %s for adoption: %w", child.ID(), err)
			}
		}
	}

	cb.mu.Lock()
	cb.parent = &parentPtr{owner: weak.Make(b), ownerID: bid, field: field, subKey: subKey, hasSubKey: subKey != ""}
	materialized := cb.doc != nil
	cb.mu.Unlock()

	if materialized {
		return cb.writeParentMeta()
	}
	return nil
}

// InformOrphanization clears child's runtime parent pointer; the caller is
// assumed to already be removing child from its own container.
func (b *Base) InformOrphanization(child model.Entity) error {
	cb, err := baseOf(child)
	if err != nil {
		return err
	}
	cb.mu.Lock()
	cb.parent = nil
	materialized := cb.doc != nil
	cb.mu.Unlock()
	if materialized {
		return cb.writeParentMeta()
	}
	return nil
}

// RequestOrphanization emancipates this entity from its current parent (if
// any) and clears its runtime parent pointer.
func (b *Base) RequestOrphanization() error {
	if err := emancipate(b); err != nil {
		return err
	}
	b.mu.Lock()
	b.parent = nil
	materialized := b.doc != nil
	b.mu.Unlock()
	if materialized {
		return b.writeParentMeta()
	}
	return nil
}

// emancipate removes cb from its current parent's container, dispatching on
// the parent field's kind (spec.md §4.6 "Emancipation"). A per-entity
// "currently emancipating" flag makes a re-entrant call (the container's own
// removal path trying to emancipate again) a no-op.
func emancipate(cb *Base) error {
	cb.mu.Lock()
	if cb.emancipating {
		cb.mu.Unlock()
		return nil
	}
	p := cb.parent
	if p == nil {
		cb.mu.Unlock()
		return nil
	}
	cb.emancipating = true
	cb.mu.Unlock()
	defer func() {
		cb.mu.Lock()
		cb.emancipating = false
		cb.mu.Unlock()
	}()

	owner := p.owner.Value()
	if owner == nil {
		cb.mu.Lock()
		cb.parent = nil
		cb.mu.Unlock()
		return nil
	}

	owner.mu.Lock()
	schema := owner.schema
	owner.mu.Unlock()

	fs, ok := schema.Field(p.field)
	if !ok {
		return fmt.Errorf("%w: parent field %q is no longer in schema", plexuserr.ErrInvariantViolation, p.field)
	}

	switch fs.Kind {
	case model.KindChildVal:
		return owner.SetVal(p.field, nil)
	case model.KindChildList:
		lv, err := owner.ListField(p.field)
		if err != nil {
			return err
		}
		items, err := lv.Slice()
		if err != nil {
			return err
		}
		for i, it := range items {
			if ent, ok := it.(model.Entity); ok && ent != nil && ent.ID() == cb.id {
				_, err := lv.Splice(i, 1)
				return err
			}
		}
		return nil
	case model.KindChildSet:
		sv, err := owner.SetField(p.field)
		if err != nil {
			return err
		}
		return sv.Delete(cb.self)
	case model.KindChildRecord:
		rv, err := owner.RecordField(p.field)
		if err != nil {
			return err
		}
		if p.hasSubKey {
			return rv.Delete(p.subKey)
		}
		return nil
	default:
		return fmt.Errorf("%w: parent field %q is not a child field", plexuserr.ErrInvariantViolation, p.field)
	}
}

func (b *Base) writeParentMeta() error {
	subtree, err := b.subtreeMap()
	if err != nil {
		return err
	}
	b.mu.Lock()
	p := b.parent
	b.mu.Unlock()
	if p == nil {
		subtree.Delete(parentMetaKey)
		return nil
	}
	subtree.Set(parentMetaKey, crdt.ParentTuple{ParentID: p.ownerID, Field: p.field, SubKey: p.subKey, HasSubKey: p.hasSubKey})
	return nil
}

func (b *Base) loadParentFromSubtree(subtree crdt.Map) {
	raw, ok := subtree.Get(parentMetaKey)
	if !ok {
		b.mu.Lock()
		b.parent = nil
		b.mu.Unlock()
		return
	}
	pt, ok := raw.(crdt.ParentTuple)
	if !ok {
		b.mu.Lock()
		b.parent = nil
		b.mu.Unlock()
		return
	}
	var ownerWeak weak.Pointer[Base]
	if cached, ok := b.doc.Cache().Get(pt.ParentID); ok {
		if ob, err := baseOf(cached); err == nil {
			ownerWeak = weak.Make(ob)
		}
	}
	b.mu.Lock()
	b.parent = &parentPtr{owner: ownerWeak, ownerID: pt.ParentID, field: pt.Field, subKey: pt.SubKey, hasSubKey: pt.HasSubKey}
	b.mu.Unlock()
}
