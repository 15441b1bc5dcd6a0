package proxy

import (
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// Set is the set/child-set field proxy: an unordered, duplicate-free
// collection backed by a CRDT array with uniqueness enforced at this layer
// (spec.md §4.5 "Set proxy").
type Set struct {
	base
	arr crdt.Array
}

// NewSet wraps arr as the proxy for owner's field.
func NewSet(owner model.Owner, field string, kind model.Kind, doc model.Doc, arr crdt.Array) *Set {
	s := &Set{base: base{owner: owner, field: field, kind: kind, doc: doc}, arr: arr}
	// See List.NewList: wakes trackers for remote merges and undo/redo
	// replay, which mutate arr without going through this proxy.
	arr.Observe(func(crdt.ArrayEvent) { s.reportModify(tracking.Indices) })
	return s
}

func (s *Set) isChild() bool { return s.kind.IsChild() }

func (s *Set) Size() int {
	s.reportFieldAccess()
	s.reportAccess(tracking.Indices)
	return s.arr.Len()
}

// indexOf returns the current index of a raw value, or -1.
func (s *Set) indexOf(raw crdt.Value) int {
	for i, v := range s.arr.Slice() {
		if refEquals(v, raw) {
			return i
		}
	}
	return -1
}

// Has reports set membership of v.
func (s *Set) Has(v any) (bool, error) {
	ref, _, err := s.encodeElement(v)
	if err != nil {
		return false, err
	}
	s.reportFieldAccess()
	s.reportAccess(tracking.Indices)
	return s.indexOf(ref) >= 0, nil
}

// Values decodes the whole set (access-ALL per spec.md §9).
func (s *Set) Values() ([]any, error) {
	s.reportFieldAccess()
	s.reportAccess(tracking.All)
	raw := s.arr.Slice()
	out := make([]any, len(raw))
	for i, v := range raw {
		dec, err := s.decodeElement(v)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

// Add inserts v if not already present, running requestAdoption for
// child-set (spec.md §4.5).
func (s *Set) Add(v any) error {
	ref, ent, err := s.encodeElement(v)
	if err != nil {
		return err
	}
	return s.doc.Transact(func() error {
		if s.indexOf(ref) >= 0 {
			return nil
		}
		if s.isChild() && ent != nil {
			if err := s.owner.RequestAdoption(ent, s.field, ""); err != nil {
				return err
			}
		}
		s.arr.Push(ref)
		s.reportModify(tracking.Indices)
		return nil
	})
}

// Delete removes v if present, running informOrphanization for child-set.
func (s *Set) Delete(v any) error {
	ref, _, err := s.encodeElement(v)
	if err != nil {
		return err
	}
	return s.doc.Transact(func() error {
		idx := s.indexOf(ref)
		if idx < 0 {
			return nil
		}
		raw, _ := s.arr.Get(idx)
		s.arr.Delete(idx)
		if s.isChild() {
			if ent, isRef, err := s.entityOf(raw); err == nil && isRef && ent != nil {
				if err := s.owner.InformOrphanization(ent); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		s.reportModify(tracking.Indices)
		return nil
	})
}

// Clear empties the set, orphaning every child-set member.
func (s *Set) Clear() error {
	return s.doc.Transact(func() error {
		for s.arr.Len() > 0 {
			raw, _ := s.arr.Get(0)
			s.arr.Delete(0)
			if s.isChild() {
				if ent, isRef, err := s.entityOf(raw); err == nil && isRef && ent != nil {
					if err := s.owner.InformOrphanization(ent); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
			}
		}
		s.reportModify(tracking.Indices)
		return nil
	})
}

// Assign replaces the set's membership with newMembers, diffing old vs new
// to emit one adoption per added element and one orphanization per removed
// element (spec.md §4.5).
func (s *Set) Assign(newMembers []any) error {
	newRefs := make([]crdt.Value, len(newMembers))
	newEnts := make([]model.Entity, len(newMembers))
	for i, v := range newMembers {
		ref, ent, err := s.encodeElement(v)
		if err != nil {
			return err
		}
		newRefs[i] = ref
		newEnts[i] = ent
	}

	return s.doc.Transact(func() error {
		old := s.arr.Slice()
		for _, raw := range old {
			stillPresent := false
			for _, nr := range newRefs {
				if refEquals(raw, nr) {
					stillPresent = true
					break
				}
			}
			if stillPresent {
				continue
			}
			if s.isChild() {
				if ent, isRef, err := s.entityOf(raw); err == nil && isRef && ent != nil {
					if err := s.owner.InformOrphanization(ent); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
			}
		}
		for s.arr.Len() > 0 {
			s.arr.Delete(0)
		}
		var pushed []crdt.Value
		for i, ref := range newRefs {
			alreadyPushed := false
			for _, pr := range pushed {
				if refEquals(pr, ref) {
					alreadyPushed = true
					break
				}
			}
			if alreadyPushed {
				continue
			}
			wasPresentBefore := false
			for _, raw := range old {
				if refEquals(raw, ref) {
					wasPresentBefore = true
					break
				}
			}
			if s.isChild() && newEnts[i] != nil && !wasPresentBefore {
				if err := s.owner.RequestAdoption(newEnts[i], s.field, ""); err != nil {
					return err
				}
			}
			s.arr.Push(ref)
			pushed = append(pushed, ref)
		}
		s.reportModify(tracking.Indices)
		return nil
	})
}
