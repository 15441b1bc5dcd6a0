package proxy

import (
	"fmt"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// List is the list/child-list field proxy (spec.md §4.5).
type List struct {
	base
	arr crdt.Array
}

// NewList wraps arr as the proxy for owner's field, of the given kind
// (model.KindList or model.KindChildList).
func NewList(owner model.Owner, field string, kind model.Kind, doc model.Doc, arr crdt.Array) *List {
	l := &List{base: base{owner: owner, field: field, kind: kind, doc: doc}, arr: arr}
	// Local writes already call reportModify explicitly inside their own
	// Transact body; this subscription is what lets a remote merge or an
	// undo/redo replay (which mutate arr directly, bypassing this proxy's
	// methods) still wake trackers. The resulting duplicate notification on
	// local writes is harmless: ReportModify drops a tracker from the active
	// set the first time it fires.
	arr.Observe(func(ev crdt.ArrayEvent) {
		if ev.Kind == crdt.IndicesUpdated {
			for _, i := range ev.Indices {
				l.reportModify(tracking.Key(indexKeyOf(i)))
			}
			return
		}
		l.reportModify(tracking.Indices)
	})
	return l
}

func (l *List) isChild() bool { return l.kind.IsChild() }

// Len reports the element count (access-like; reports INDICES since length
// is membership-shaped).
func (l *List) Len() int {
	l.reportFieldAccess()
	l.reportAccess(tracking.Indices)
	return l.arr.Len()
}

// Get returns the decoded element at i.
func (l *List) Get(i int) (any, error) {
	l.reportFieldAccess()
	l.reportAccess(tracking.Key(indexKeyOf(i)))
	raw, ok := l.arr.Get(i)
	if !ok {
		return nil, fmt.Errorf("proxy: index %d out of range", i)
	}
	return l.decodeElement(raw)
}

// Slice decodes the whole list; per spec.md §9, iterator/whole-read access
// reports ALL to capture that the entire container was observed.
func (l *List) Slice() ([]any, error) {
	l.reportFieldAccess()
	l.reportAccess(tracking.All)
	raw := l.arr.Slice()
	out := make([]any, len(raw))
	for i, v := range raw {
		dec, err := l.decodeElement(v)
		if err != nil {
			return nil, err
		}
		out[i] = dec
	}
	return out, nil
}

func indexKeyOf(i int) string { return fmt.Sprintf("%d", i) }

// validateNoDuplicateIntent checks that items, taken together, do not
// reference the same child entity twice (spec.md §4.5 "Duplicate intent").
// Only meaningful for child-list; a no-op for plain list per the spec's
// Open Question (non-child containers may hold duplicate references).
func (l *List) validateNoDuplicateIntent(refs []crdt.Value, entities []model.Entity) error {
	if !l.isChild() {
		return nil
	}
	seen := map[string]bool{}
	for i, e := range entities {
		if e == nil {
			continue
		}
		key := e.ID()
		if seen[key] {
			return fmt.Errorf("%w: entity %s referenced twice in one call", ErrDuplicateChild, key)
		}
		seen[key] = true
		_ = refs[i]
	}
	return nil
}

// encodeAll encodes each item, returning parallel ref values and decoded
// entities (nil where the item was not an entity).
func (l *List) encodeAll(items []any) ([]crdt.Value, []model.Entity, error) {
	refs := make([]crdt.Value, len(items))
	ents := make([]model.Entity, len(items))
	for i, it := range items {
		ref, ent, err := l.encodeElement(it)
		if err != nil {
			return nil, nil, err
		}
		refs[i] = ref
		ents[i] = ent
	}
	return refs, ents, nil
}

// findEntity returns the current visible index of an entity with this id
// in the live array, or -1.
func (l *List) findEntity(id string) int {
	for i, v := range l.arr.Slice() {
		if ref, ok := v.(crdt.RefTuple); ok && ref.IsLocal() && ref.EntityID == id {
			return i
		}
	}
	return -1
}

// placeChild runs the parent-child protocol for inserting entity e into
// this list, distinguishing a move-within-array (existing elsewhere in
// this same array) from an adoption from elsewhere (spec.md §4.5).
func (l *List) placeChild(e model.Entity) error {
	if e == nil {
		return nil
	}
	if !l.isChild() {
		return nil
	}
	existingIdx := l.findEntity(e.ID())
	if existingIdx >= 0 {
		l.arr.Delete(existingIdx)
		return l.owner.InformAdoption(e, l.field, "")
	}
	return l.owner.RequestAdoption(e, l.field, "")
}

// removeAt deletes the visible element at i, orphaning it via
// informOrphanization unless the same entity still appears elsewhere in
// this array (spec.md §4.5 "Removal").
func (l *List) removeAt(i int) error {
	raw, ok := l.arr.Get(i)
	if !ok {
		return nil
	}
	l.arr.Delete(i)
	if !l.isChild() {
		return nil
	}
	ent, isRef, err := l.entityOf(raw)
	if err != nil || !isRef || ent == nil {
		return err
	}
	if l.findEntity(ent.ID()) >= 0 {
		return nil // still present elsewhere in this array
	}
	return l.owner.InformOrphanization(ent)
}

// Push appends items, running the parent-child protocol per item for
// child-list (spec.md §4.5).
func (l *List) Push(items ...any) error {
	if len(items) == 0 {
		return nil
	}
	refs, ents, err := l.encodeAll(items)
	if err != nil {
		return err
	}
	if err := l.validateNoDuplicateIntent(refs, ents); err != nil {
		return err
	}
	return l.doc.Transact(func() error {
		for i, ref := range refs {
			if err := l.placeChild(ents[i]); err != nil {
				return err
			}
			l.arr.Push(ref)
		}
		l.reportModify(tracking.Indices)
		return nil
	})
}

// Pop removes and returns the last element.
func (l *List) Pop() (any, error) {
	n := l.arr.Len()
	if n == 0 {
		return nil, nil
	}
	raw, _ := l.arr.Get(n - 1)
	dec, err := l.decodeElement(raw)
	if err != nil {
		return nil, err
	}
	err = l.doc.Transact(func() error {
		if err := l.removeAt(n - 1); err != nil {
			return err
		}
		l.reportModify(tracking.Indices)
		return nil
	})
	return dec, err
}

// Shift removes and returns the first element.
func (l *List) Shift() (any, error) {
	if l.arr.Len() == 0 {
		return nil, nil
	}
	raw, _ := l.arr.Get(0)
	dec, err := l.decodeElement(raw)
	if err != nil {
		return nil, err
	}
	err = l.doc.Transact(func() error {
		if err := l.removeAt(0); err != nil {
			return err
		}
		l.reportModify(tracking.Indices)
		return nil
	})
	return dec, err
}

// Unshift prepends items.
func (l *List) Unshift(items ...any) error {
	if len(items) == 0 {
		return nil
	}
	refs, ents, err := l.encodeAll(items)
	if err != nil {
		return err
	}
	if err := l.validateNoDuplicateIntent(refs, ents); err != nil {
		return err
	}
	return l.doc.Transact(func() error {
		for i := len(refs) - 1; i >= 0; i-- {
			if err := l.placeChild(ents[i]); err != nil {
				return err
			}
			l.arr.Insert(0, refs[i])
		}
		l.reportModify(tracking.Indices)
		return nil
	})
}

// Splice removes deleteCount elements starting at start and inserts items
// in their place, returning the removed (decoded) elements.
func (l *List) Splice(start, deleteCount int, items ...any) ([]any, error) {
	if start < 0 {
		return nil, ErrNegativeIndex
	}
	refs, ents, err := l.encodeAll(items)
	if err != nil {
		return nil, err
	}
	if err := l.validateNoDuplicateIntent(refs, ents); err != nil {
		return nil, err
	}

	var removed []any
	err = l.doc.Transact(func() error {
		n := l.arr.Len()
		if start > n {
			start = n
		}
		end := start + deleteCount
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			raw, _ := l.arr.Get(start)
			dec, derr := l.decodeElement(raw)
			if derr != nil {
				return derr
			}
			removed = append(removed, dec)
			if err := l.removeAt(start); err != nil {
				return err
			}
		}
		for i, ref := range refs {
			if err := l.placeChild(ents[i]); err != nil {
				return err
			}
			l.arr.Insert(start+i, ref)
		}
		l.reportModify(tracking.Indices)
		return nil
	})
	return removed, err
}

// Set assigns the element at index i, sparse-filling any hole up to i with
// null (spec.md §4.5 "Sparse writes"); negative indices fail.
func (l *List) Set(i int, v any) error {
	if i < 0 {
		return ErrNegativeIndex
	}
	ref, ent, err := l.encodeElement(v)
	if err != nil {
		return err
	}
	if l.isChild() && ent != nil {
		if existing := l.findEntity(ent.ID()); existing >= 0 && existing != i {
			return fmt.Errorf("%w: entity %s already present at index %d", ErrDuplicateChild, ent.ID(), existing)
		}
	}
	return l.doc.Transact(func() error {
		n := l.arr.Len()
		for n < i {
			l.arr.Push(nil)
			n++
		}
		if i < n {
			if err := l.removeAt(i); err != nil {
				return err
			}
			if err := l.placeChild(ent); err != nil {
				return err
			}
			l.arr.Insert(i, ref)
		} else {
			if err := l.placeChild(ent); err != nil {
				return err
			}
			l.arr.Push(ref)
		}
		l.reportModify(tracking.Key(indexKeyOf(i)))
		return nil
	})
}

// SetLength truncates the list to n elements, orphaning the dropped tail
// (spec.md §4.5 "Length truncation", B2). Growing the list is not
// supported through SetLength; use Set for sparse growth.
func (l *List) SetLength(n int) error {
	if n < 0 {
		return ErrNegativeIndex
	}
	return l.doc.Transact(func() error {
		for l.arr.Len() > n {
			if err := l.removeAt(l.arr.Len() - 1); err != nil {
				return err
			}
		}
		l.reportModify(tracking.Indices)
		return nil
	})
}

// Reverse reverses the list in place.
func (l *List) Reverse() error {
	return l.doc.Transact(func() error {
		raw := l.arr.Slice()
		for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
			raw[i], raw[j] = raw[j], raw[i]
		}
		l.rewrite(raw)
		l.reportModify(tracking.Indices)
		return nil
	})
}

// Sort reorders the list using less; for a child-list this cannot create
// duplicates (it only permutes existing elements), so no validation beyond
// the common duplicate-free invariant already held is needed.
func (l *List) Sort(less func(a, b any) bool) error {
	return l.doc.Transact(func() error {
		raw := l.arr.Slice()
		decoded := make([]any, len(raw))
		for i, v := range raw {
			d, err := l.decodeElement(v)
			if err != nil {
				return err
			}
			decoded[i] = d
		}
		idx := make([]int, len(raw))
		for i := range idx {
			idx[i] = i
		}
		// simple insertion sort keyed by the decoded values; the list is
		// expected to be small (object-graph fields, not bulk data).
		for i := 1; i < len(idx); i++ {
			for j := i; j > 0 && less(decoded[idx[j]], decoded[idx[j-1]]); j-- {
				idx[j], idx[j-1] = idx[j-1], idx[j]
			}
		}
		sorted := make([]crdt.Value, len(raw))
		for i, p := range idx {
			sorted[i] = raw[p]
		}
		l.rewrite(sorted)
		l.reportModify(tracking.Indices)
		return nil
	})
}

// CopyWithin copies the [start, end) range over the position starting at
// target, validated against introducing duplicates in a child-list before
// being applied (spec.md §4.5); on violation the array is left unchanged.
func (l *List) CopyWithin(target, start, end int) error {
	raw := l.arr.Slice()
	n := len(raw)
	clamp := func(i int) int {
		if i < 0 {
			i = 0
		}
		if i > n {
			i = n
		}
		return i
	}
	target, start, end = clamp(target), clamp(start), clamp(end)
	if start >= end {
		return nil
	}
	segment := append([]crdt.Value{}, raw[start:end]...)
	result := append([]crdt.Value{}, raw...)
	for i, v := range segment {
		if target+i >= n {
			break
		}
		result[target+i] = v
	}
	if l.isChild() && hasDuplicateChildren(result) {
		return ErrDuplicateChild
	}
	return l.doc.Transact(func() error {
		l.rewrite(result)
		l.reportModify(tracking.Indices)
		return nil
	})
}

func hasDuplicateChildren(vals []crdt.Value) bool {
	seen := map[string]bool{}
	for _, v := range vals {
		ref, ok := v.(crdt.RefTuple)
		if !ok || !ref.IsLocal() {
			continue
		}
		if seen[ref.EntityID] {
			return true
		}
		seen[ref.EntityID] = true
	}
	return false
}

// rewrite replaces the array's contents wholesale with vals, preserving
// element identity where the value is unchanged is not attempted here:
// callers (Sort/Reverse/CopyWithin) only reorder or duplicate-check
// existing elements, never change ownership, so no adoption protocol runs.
func (l *List) rewrite(vals []crdt.Value) {
	n := l.arr.Len()
	for i := n - 1; i >= 0; i-- {
		l.arr.Delete(i)
	}
	for _, v := range vals {
		l.arr.Push(v)
	}
}
