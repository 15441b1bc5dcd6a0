package proxy

import (
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// Record is the record/child-record field proxy: a string-keyed map where,
// for child-record, the stored sub-key is the child's parent-pointer
// sub-key (spec.md §4.5 "Record proxy").
type Record struct {
	base
	m crdt.Map
}

// NewRecord wraps m as the proxy for owner's field.
func NewRecord(owner model.Owner, field string, kind model.Kind, doc model.Doc, m crdt.Map) *Record {
	r := &Record{base: base{owner: owner, field: field, kind: kind, doc: doc}, m: m}
	// See List.NewList: wakes trackers for remote merges and undo/redo
	// replay, which mutate m without going through this proxy.
	m.Observe(func(ev crdt.MapEvent) {
		for k := range ev.Changes {
			r.reportModify(tracking.Key(k))
		}
	})
	return r
}

func (r *Record) isChild() bool { return r.kind.IsChild() }

// Get returns the decoded value at key.
func (r *Record) Get(key string) (any, error) {
	r.reportFieldAccess()
	r.reportAccess(tracking.Key(key))
	raw, ok := r.m.Get(key)
	if !ok {
		return nil, nil
	}
	return r.decodeElement(raw)
}

// Keys enumerates the record's keys (access-INDICES: keyset observed).
func (r *Record) Keys() []string {
	r.reportFieldAccess()
	r.reportAccess(tracking.Indices)
	return r.m.Keys()
}

// Entries decodes the whole record (access-ALL).
func (r *Record) Entries() (map[string]any, error) {
	r.reportFieldAccess()
	r.reportAccess(tracking.All)
	out := make(map[string]any, r.m.Len())
	for _, k := range r.m.Keys() {
		raw, _ := r.m.Get(k)
		dec, err := r.decodeElement(raw)
		if err != nil {
			return nil, err
		}
		out[k] = dec
	}
	return out, nil
}

// Set assigns key, running the parent-child protocol for child-record: the
// child's parent sub-key becomes key (spec.md §4.5). If key already held a
// different child, that child is orphaned first.
func (r *Record) Set(key string, v any) error {
	ref, ent, err := r.encodeElement(v)
	if err != nil {
		return err
	}
	return r.doc.Transact(func() error {
		if old, ok := r.m.Get(key); ok && r.isChild() {
			if oldEnt, isRef, err := r.entityOf(old); err == nil && isRef && oldEnt != nil {
				if ent == nil || oldEnt.ID() != ent.ID() {
					if err := r.owner.InformOrphanization(oldEnt); err != nil {
						return err
					}
				}
			} else if err != nil {
				return err
			}
		}
		if r.isChild() && ent != nil {
			if err := r.owner.RequestAdoption(ent, r.field, key); err != nil {
				return err
			}
		}
		r.m.Set(key, ref)
		r.reportModify(tracking.Key(key))
		return nil
	})
}

// Delete removes key, orphaning its child-record value if present.
func (r *Record) Delete(key string) error {
	return r.doc.Transact(func() error {
		raw, ok := r.m.Get(key)
		if !ok {
			return nil
		}
		r.m.Delete(key)
		if r.isChild() {
			if ent, isRef, err := r.entityOf(raw); err == nil && isRef && ent != nil {
				if err := r.owner.InformOrphanization(ent); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		r.reportModify(tracking.Indices)
		return nil
	})
}

// Clear removes every entry, orphaning all child-record values.
func (r *Record) Clear() error {
	return r.doc.Transact(func() error {
		for _, k := range r.m.Keys() {
			raw, _ := r.m.Get(k)
			r.m.Delete(k)
			if r.isChild() {
				if ent, isRef, err := r.entityOf(raw); err == nil && isRef && ent != nil {
					if err := r.owner.InformOrphanization(ent); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
			}
		}
		r.reportModify(tracking.Indices)
		return nil
	})
}

// Assign clears the record then bulk-sets obj (spec.md §4.5).
func (r *Record) Assign(obj map[string]any) error {
	return r.doc.Transact(func() error {
		if err := r.clearLocked(); err != nil {
			return err
		}
		for k, v := range obj {
			ref, ent, err := r.encodeElement(v)
			if err != nil {
				return err
			}
			if r.isChild() && ent != nil {
				if err := r.owner.RequestAdoption(ent, r.field, k); err != nil {
					return err
				}
			}
			r.m.Set(k, ref)
		}
		r.reportModify(tracking.Indices)
		return nil
	})
}

func (r *Record) clearLocked() error {
	for _, k := range r.m.Keys() {
		raw, _ := r.m.Get(k)
		r.m.Delete(k)
		if r.isChild() {
			if ent, isRef, err := r.entityOf(raw); err == nil && isRef && ent != nil {
				if err := r.owner.InformOrphanization(ent); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
	}
	return nil
}
