// views.go defines the three container-field interfaces (ListView, SetView,
// RecordView) that Base.ListField/Base.SetField/Base.RecordField return, and the
// ephemeral (pre-materialization) implementations of each. Once an entity
// materializes, Base swaps these for the CRDT-backed internal/proxy
// counterparts, which satisfy the same method sets without either package
// importing the other.
package entity

import (
	"fmt"

	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
)

// ListView is the list/child-list field surface (spec.md §4.5), satisfied
// by *ephemeralList before materialization and by *proxy.List after.
type ListView interface {
	Len() int
	Get(i int) (any, error)
	Slice() ([]any, error)
	Push(items ...any) error
	Pop() (any, error)
	Shift() (any, error)
	Unshift(items ...any) error
	Splice(start, deleteCount int, items ...any) ([]any, error)
	Set(i int, v any) error
	SetLength(n int) error
	Reverse() error
	Sort(less func(a, b any) bool) error
	CopyWithin(target, start, end int) error
}

// SetView is the set/child-set field surface.
type SetView interface {
	Size() int
	Has(v any) (bool, error)
	Values() ([]any, error)
	Add(v any) error
	Delete(v any) error
	Clear() error
	Assign(newMembers []any) error
}

// RecordView is the record/child-record field surface.
type RecordView interface {
	Get(key string) (any, error)
	Keys() []string
	Entries() (map[string]any, error)
	Set(key string, v any) error
	Delete(key string) error
	Clear() error
	Assign(obj map[string]any) error
}

// entityIdentity returns (id, true) if v is a model.Entity, used throughout
// the ephemeral views for identity comparisons (spec.md I5: "equality is by
// identity for references").
func entityIdentity(v any) (string, bool) {
	e, ok := v.(model.Entity)
	if !ok {
		return "", false
	}
	return e.ID(), true
}

func valuesEqual(a, b any) bool {
	aid, aIsEnt := entityIdentity(a)
	bid, bIsEnt := entityIdentity(b)
	if aIsEnt || bIsEnt {
		return aIsEnt && bIsEnt && aid == bid
	}
	return a == b
}

// --- ephemeralList --------------------------------------------------------

type ephemeralList struct {
	owner *Base
	field string
	kind  model.Kind
	items []any
}

func newEphemeralList(owner *Base, field string, kind model.Kind) *ephemeralList {
	return &ephemeralList{owner: owner, field: field, kind: kind}
}

func (l *ephemeralList) isChild() bool { return l.kind.IsChild() }

func (l *ephemeralList) Len() int { return len(l.items) }

func (l *ephemeralList) Get(i int) (any, error) {
	if i < 0 || i >= len(l.items) {
		return nil, fmt.Errorf("entity: index %d out of range", i)
	}
	return l.items[i], nil
}

func (l *ephemeralList) Slice() ([]any, error) {
	return append([]any{}, l.items...), nil
}

func (l *ephemeralList) findEntity(id string) int {
	for i, v := range l.items {
		if eid, ok := entityIdentity(v); ok && eid == id {
			return i
		}
	}
	return -1
}

func (l *ephemeralList) validateNoDuplicateIntent(items []any) error {
	if !l.isChild() {
		return nil
	}
	seen := map[string]bool{}
	for _, v := range items {
		id, ok := entityIdentity(v)
		if !ok {
			continue
		}
		if seen[id] {
			return fmt.Errorf("%w: entity %s referenced twice in one call", plexuserr.ErrInvariantViolation, id)
		}
		seen[id] = true
	}
	return nil
}

func (l *ephemeralList) placeChild(v any) error {
	if !l.isChild() {
		return nil
	}
	ent, ok := v.(model.Entity)
	if !ok {
		return nil
	}
	if existingIdx := l.findEntity(ent.ID()); existingIdx >= 0 {
		l.items = append(l.items[:existingIdx], l.items[existingIdx+1:]...)
		return l.owner.InformAdoption(ent, l.field, "")
	}
	return l.owner.RequestAdoption(ent, l.field, "")
}

func (l *ephemeralList) removeAt(i int) error {
	v := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	if !l.isChild() {
		return nil
	}
	ent, ok := v.(model.Entity)
	if !ok || ent == nil {
		return nil
	}
	if l.findEntity(ent.ID()) >= 0 {
		return nil
	}
	return l.owner.InformOrphanization(ent)
}

func (l *ephemeralList) Push(items ...any) error {
	if len(items) == 0 {
		return nil
	}
	if err := l.validateNoDuplicateIntent(items); err != nil {
		return err
	}
	for _, v := range items {
		if err := l.placeChild(v); err != nil {
			return err
		}
		l.items = append(l.items, v)
	}
	return nil
}

func (l *ephemeralList) Pop() (any, error) {
	if len(l.items) == 0 {
		return nil, nil
	}
	v := l.items[len(l.items)-1]
	if err := l.removeAt(len(l.items) - 1); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *ephemeralList) Shift() (any, error) {
	if len(l.items) == 0 {
		return nil, nil
	}
	v := l.items[0]
	if err := l.removeAt(0); err != nil {
		return nil, err
	}
	return v, nil
}

func (l *ephemeralList) Unshift(items ...any) error {
	if len(items) == 0 {
		return nil
	}
	if err := l.validateNoDuplicateIntent(items); err != nil {
		return err
	}
	for i := len(items) - 1; i >= 0; i-- {
		if err := l.placeChild(items[i]); err != nil {
			return err
		}
		l.items = append([]any{items[i]}, l.items...)
	}
	return nil
}

func (l *ephemeralList) Splice(start, deleteCount int, items ...any) ([]any, error) {
	if start < 0 {
		return nil, plexuserr.ErrSchemaViolation
	}
	if err := l.validateNoDuplicateIntent(items); err != nil {
		return nil, err
	}
	n := len(l.items)
	if start > n {
		start = n
	}
	end := start + deleteCount
	if end > n {
		end = n
	}
	var removed []any
	for i := start; i < end; i++ {
		removed = append(removed, l.items[start])
		if err := l.removeAt(start); err != nil {
			return nil, err
		}
	}
	for i, v := range items {
		if err := l.placeChild(v); err != nil {
			return nil, err
		}
		pos := start + i
		l.items = append(l.items, nil)
		copy(l.items[pos+1:], l.items[pos:])
		l.items[pos] = v
	}
	return removed, nil
}

func (l *ephemeralList) Set(i int, v any) error {
	if i < 0 {
		return plexuserr.ErrSchemaViolation
	}
	if l.isChild() {
		if ent, ok := v.(model.Entity); ok {
			if existing := l.findEntity(ent.ID()); existing >= 0 && existing != i {
				return fmt.Errorf("%w: entity %s already present at index %d", plexuserr.ErrInvariantViolation, ent.ID(), existing)
			}
		}
	}
	for len(l.items) <= i {
		l.items = append(l.items, nil)
	}
	if err := l.removeAt(i); err != nil {
		return err
	}
	if err := l.placeChild(v); err != nil {
		return err
	}
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
	return nil
}

func (l *ephemeralList) SetLength(n int) error {
	if n < 0 {
		return plexuserr.ErrSchemaViolation
	}
	for len(l.items) > n {
		if err := l.removeAt(len(l.items) - 1); err != nil {
			return err
		}
	}
	return nil
}

func (l *ephemeralList) Reverse() error {
	for i, j := 0, len(l.items)-1; i < j; i, j = i+1, j-1 {
		l.items[i], l.items[j] = l.items[j], l.items[i]
	}
	return nil
}

func (l *ephemeralList) Sort(less func(a, b any) bool) error {
	idx := make([]int, len(l.items))
	for i := range idx {
		idx[i] = i
	}
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && less(l.items[idx[j]], l.items[idx[j-1]]); j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	sorted := make([]any, len(l.items))
	for i, p := range idx {
		sorted[i] = l.items[p]
	}
	l.items = sorted
	return nil
}

func (l *ephemeralList) CopyWithin(target, start, end int) error {
	n := len(l.items)
	clamp := func(i int) int {
		if i < 0 {
			return 0
		}
		if i > n {
			return n
		}
		return i
	}
	target, start, end = clamp(target), clamp(start), clamp(end)
	if start >= end {
		return nil
	}
	segment := append([]any{}, l.items[start:end]...)
	result := append([]any{}, l.items...)
	for i, v := range segment {
		if target+i >= n {
			break
		}
		result[target+i] = v
	}
	if l.isChild() && hasDuplicateEntityIDs(result) {
		return plexuserr.ErrInvariantViolation
	}
	l.items = result
	return nil
}

func hasDuplicateEntityIDs(vals []any) bool {
	seen := map[string]bool{}
	for _, v := range vals {
		id, ok := entityIdentity(v)
		if !ok {
			continue
		}
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

// --- ephemeralSet ----------------------------------------------------------

type ephemeralSet struct {
	owner *Base
	field string
	kind  model.Kind
	items []any
}

func newEphemeralSet(owner *Base, field string, kind model.Kind) *ephemeralSet {
	return &ephemeralSet{owner: owner, field: field, kind: kind}
}

func (s *ephemeralSet) isChild() bool { return s.kind.IsChild() }

func (s *ephemeralSet) indexOf(v any) int {
	for i, item := range s.items {
		if valuesEqual(item, v) {
			return i
		}
	}
	return -1
}

func (s *ephemeralSet) Size() int { return len(s.items) }

func (s *ephemeralSet) Has(v any) (bool, error) { return s.indexOf(v) >= 0, nil }

func (s *ephemeralSet) Values() ([]any, error) { return append([]any{}, s.items...), nil }

func (s *ephemeralSet) Add(v any) error {
	if s.indexOf(v) >= 0 {
		return nil
	}
	if s.isChild() {
		if ent, ok := v.(model.Entity); ok {
			if err := s.owner.RequestAdoption(ent, s.field, ""); err != nil {
				return err
			}
		}
	}
	s.items = append(s.items, v)
	return nil
}

func (s *ephemeralSet) Delete(v any) error {
	idx := s.indexOf(v)
	if idx < 0 {
		return nil
	}
	removed := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	if s.isChild() {
		if ent, ok := removed.(model.Entity); ok {
			return s.owner.InformOrphanization(ent)
		}
	}
	return nil
}

func (s *ephemeralSet) Clear() error {
	for len(s.items) > 0 {
		if err := s.Delete(s.items[0]); err != nil {
			return err
		}
	}
	return nil
}

func (s *ephemeralSet) Assign(newMembers []any) error {
	old := append([]any{}, s.items...)
	for _, v := range old {
		stillPresent := false
		for _, nv := range newMembers {
			if valuesEqual(v, nv) {
				stillPresent = true
				break
			}
		}
		if !stillPresent {
			if err := s.Delete(v); err != nil {
				return err
			}
		}
	}
	for _, v := range newMembers {
		if err := s.Add(v); err != nil {
			return err
		}
	}
	return nil
}

// --- ephemeralRecord ---------------------------------------------------

type ephemeralRecord struct {
	owner *Base
	field string
	kind  model.Kind
	m     map[string]any
}

func newEphemeralRecord(owner *Base, field string, kind model.Kind) *ephemeralRecord {
	return &ephemeralRecord{owner: owner, field: field, kind: kind, m: make(map[string]any)}
}

func (r *ephemeralRecord) isChild() bool { return r.kind.IsChild() }

func (r *ephemeralRecord) Get(key string) (any, error) { return r.m[key], nil }

func (r *ephemeralRecord) Keys() []string {
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	return keys
}

func (r *ephemeralRecord) Entries() (map[string]any, error) {
	out := make(map[string]any, len(r.m))
	for k, v := range r.m {
		out[k] = v
	}
	return out, nil
}

func (r *ephemeralRecord) Set(key string, v any) error {
	if old, ok := r.m[key]; ok && r.isChild() {
		if oldEnt, isEnt := old.(model.Entity); isEnt && oldEnt != nil {
			newEnt, _ := v.(model.Entity)
			if newEnt == nil || oldEnt.ID() != newEnt.ID() {
				if err := r.owner.InformOrphanization(oldEnt); err != nil {
					return err
				}
			}
		}
	}
	if r.isChild() {
		if ent, ok := v.(model.Entity); ok {
			if err := r.owner.RequestAdoption(ent, r.field, key); err != nil {
				return err
			}
		}
	}
	r.m[key] = v
	return nil
}

func (r *ephemeralRecord) Delete(key string) error {
	v, ok := r.m[key]
	if !ok {
		return nil
	}
	delete(r.m, key)
	if r.isChild() {
		if ent, isEnt := v.(model.Entity); isEnt && ent != nil {
			return r.owner.InformOrphanization(ent)
		}
	}
	return nil
}

func (r *ephemeralRecord) Clear() error {
	for k := range r.m {
		if err := r.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (r *ephemeralRecord) Assign(obj map[string]any) error {
	if err := r.Clear(); err != nil {
		return err
	}
	for k, v := range obj {
		if err := r.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
