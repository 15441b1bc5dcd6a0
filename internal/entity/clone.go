package entity

import (
	"fmt"

	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
	"github.com/plexus-engine/plexus/internal/registry"
)

// cloneSession is the source-id -> clone mapping spec.md §4.6's cloning
// section describes: shared across one Clone call's whole recursion so a
// source entity referenced from two places (a child-list and, elsewhere, a
// plain val alias of the same entity) resolves to the one clone produced
// for it, not two.
type cloneSession struct {
	mapping map[string]model.Entity
}

// Clone implements spec.md §4.6 "Cloning": a new, same-typed entity with
// every child-* field recursively cloned, every non-child field aliased
// through the session's source->clone mapping (so a shared non-owned
// reference between two cloned entities still points at the clone, not the
// original, S4), and overrides applied last, winning over both the source's
// fields and any derived defaults.
func (b *Base) Clone(overrides map[string]any) (model.Entity, error) {
	sess := &cloneSession{mapping: make(map[string]model.Entity)}
	clone, err := b.cloneWith(sess)
	if err != nil {
		return nil, err
	}
	if overrides == nil {
		return clone, nil
	}
	cb, err := baseOf(clone)
	if err != nil {
		return nil, err
	}
	for name, v := range overrides {
		if err := cb.setFieldGeneric(name, v); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

func (b *Base) cloneWith(sess *cloneSession) (model.Entity, error) {
	if existing, ok := sess.mapping[b.id]; ok {
		return existing, nil
	}

	_, ctor, ok := registry.Lookup(b.typeName)
	if !ok {
		return nil, fmt.Errorf("%w: type %q is not registered", plexuserr.ErrUnknownType, b.typeName)
	}
	// A fresh, zero-valued (defaults-only) ephemeral instance: doc is nil
	// regardless of whether b itself is materialized, since a clone starts
	// ephemeral and is only materialized if/when it is placed somewhere
	// reachable (spec.md §4.6 "Instantiate the clone without arguments").
	clone := ctor(NewID(), nil)
	sess.mapping[b.id] = clone
	cloneBase, err := baseOf(clone)
	if err != nil {
		return nil, err
	}

	// Recursive phase: child-* fields, cloned before non-child fields so
	// that a non-child alias of an also-owned entity resolves through the
	// mapping once it has been populated.
	for _, name := range b.schema.Order {
		fs := b.schema.Fields[name]
		if !fs.Kind.IsChild() {
			continue
		}
		if err := b.cloneChildField(sess, cloneBase, fs); err != nil {
			return nil, err
		}
	}

	// Deferred phase: non-child fields, substituted through the mapping.
	for _, name := range b.schema.Order {
		fs := b.schema.Fields[name]
		if fs.Kind.IsChild() {
			continue
		}
		if err := b.cloneNonChildField(sess, cloneBase, fs); err != nil {
			return nil, err
		}
	}

	return clone, nil
}

func (b *Base) cloneChildField(sess *cloneSession, cloneBase *Base, fs model.FieldSchema) error {
	switch fs.Kind {
	case model.KindChildVal:
		v, err := b.GetVal(fs.Name)
		if err != nil {
			return err
		}
		ent, ok := v.(model.Entity)
		if !ok || ent == nil {
			return cloneBase.SetVal(fs.Name, v)
		}
		eb, err := baseOf(ent)
		if err != nil {
			return err
		}
		clonedChild, err := eb.cloneWith(sess)
		if err != nil {
			return err
		}
		return cloneBase.SetVal(fs.Name, clonedChild)

	case model.KindChildList:
		lv, err := b.ListField(fs.Name)
		if err != nil {
			return err
		}
		items, err := lv.Slice()
		if err != nil {
			return err
		}
		cloneLV, err := cloneBase.ListField(fs.Name)
		if err != nil {
			return err
		}
		for _, it := range items {
			cv, err := b.cloneElement(sess, it)
			if err != nil {
				return err
			}
			if err := cloneLV.Push(cv); err != nil {
				return err
			}
		}
		return nil

	case model.KindChildSet:
		sv, err := b.SetField(fs.Name)
		if err != nil {
			return err
		}
		items, err := sv.Values()
		if err != nil {
			return err
		}
		cloneSV, err := cloneBase.SetField(fs.Name)
		if err != nil {
			return err
		}
		for _, it := range items {
			cv, err := b.cloneElement(sess, it)
			if err != nil {
				return err
			}
			if err := cloneSV.Add(cv); err != nil {
				return err
			}
		}
		return nil

	case model.KindChildRecord:
		rv, err := b.RecordField(fs.Name)
		if err != nil {
			return err
		}
		entries, err := rv.Entries()
		if err != nil {
			return err
		}
		cloneRV, err := cloneBase.RecordField(fs.Name)
		if err != nil {
			return err
		}
		for k, v := range entries {
			cv, err := b.cloneElement(sess, v)
			if err != nil {
				return err
			}
			if err := cloneRV.Set(k, cv); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// cloneElement clones v if it is an entity (through the shared session, so
// aliasing across fields resolves), otherwise returns v unchanged.
func (b *Base) cloneElement(sess *cloneSession, v any) (any, error) {
	ent, ok := v.(model.Entity)
	if !ok || ent == nil {
		return v, nil
	}
	eb, err := baseOf(ent)
	if err != nil {
		return nil, err
	}
	return eb.cloneWith(sess)
}

func (b *Base) cloneNonChildField(sess *cloneSession, cloneBase *Base, fs model.FieldSchema) error {
	switch fs.Kind {
	case model.KindVal:
		v, err := b.GetVal(fs.Name)
		if err != nil {
			return err
		}
		sv, err := b.substituteThroughMapping(sess, v)
		if err != nil {
			return err
		}
		return cloneBase.SetVal(fs.Name, sv)

	case model.KindList:
		lv, err := b.ListField(fs.Name)
		if err != nil {
			return err
		}
		items, err := lv.Slice()
		if err != nil {
			return err
		}
		cloneLV, err := cloneBase.ListField(fs.Name)
		if err != nil {
			return err
		}
		for _, it := range items {
			sv, err := b.substituteThroughMapping(sess, it)
			if err != nil {
				return err
			}
			if err := cloneLV.Push(sv); err != nil {
				return err
			}
		}
		return nil

	case model.KindSet:
		sv, err := b.SetField(fs.Name)
		if err != nil {
			return err
		}
		items, err := sv.Values()
		if err != nil {
			return err
		}
		cloneSV, err := cloneBase.SetField(fs.Name)
		if err != nil {
			return err
		}
		for _, it := range items {
			subst, err := b.substituteThroughMapping(sess, it)
			if err != nil {
				return err
			}
			if err := cloneSV.Add(subst); err != nil {
				return err
			}
		}
		return nil

	case model.KindRecord:
		rv, err := b.RecordField(fs.Name)
		if err != nil {
			return err
		}
		entries, err := rv.Entries()
		if err != nil {
			return err
		}
		cloneRV, err := cloneBase.RecordField(fs.Name)
		if err != nil {
			return err
		}
		for k, v := range entries {
			subst, err := b.substituteThroughMapping(sess, v)
			if err != nil {
				return err
			}
			if err := cloneRV.Set(k, subst); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

// substituteThroughMapping returns v unchanged unless v is an entity that
// was already cloned earlier in this session (it also appears in a child-*
// position elsewhere in the graph), in which case it returns that clone
// instead of aliasing into the source's own subtree (spec.md §4.6, S4).
func (b *Base) substituteThroughMapping(sess *cloneSession, v any) (any, error) {
	ent, ok := v.(model.Entity)
	if !ok || ent == nil {
		return v, nil
	}
	if cloned, ok := sess.mapping[ent.ID()]; ok {
		return cloned, nil
	}
	return v, nil
}

// setFieldGeneric applies a single override by field name, used only by
// Clone's overrides pass (spec.md §4.6): it dispatches to the same typed
// accessors a caller would use directly, so an override runs the identical
// adoption/orphan protocol a normal field write would.
func (b *Base) setFieldGeneric(name string, v any) error {
	fs, ok := b.schema.Field(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", plexuserr.ErrSchemaViolation, name)
	}
	switch fs.Kind {
	case model.KindVal, model.KindChildVal:
		return b.SetVal(name, v)
	case model.KindList, model.KindChildList:
		lv, err := b.ListField(name)
		if err != nil {
			return err
		}
		if err := lv.SetLength(0); err != nil {
			return err
		}
		items, _ := v.([]any)
		return lv.Push(items...)
	case model.KindSet, model.KindChildSet:
		sv, err := b.SetField(name)
		if err != nil {
			return err
		}
		items, _ := v.([]any)
		return sv.Assign(items)
	case model.KindRecord, model.KindChildRecord:
		rv, err := b.RecordField(name)
		if err != nil {
			return err
		}
		obj, _ := v.(map[string]any)
		return rv.Assign(obj)
	default:
		return fmt.Errorf("entity: field %q has an unrecognized kind", name)
	}
}
