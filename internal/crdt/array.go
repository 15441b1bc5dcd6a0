package crdt

import "sync"

type arrayElem struct {
	id       lamportID
	parentID lamportID
	value    Value
	deleted  bool
}

// memArray is a replicated growable array: new elements are anchored after
// a parent element and integrated in a deterministic total order, and
// deletes are tombstones rather than physical removals, so a concurrent
// insert anchored on a deleted element can still be placed correctly.
// Grounded on other_examples' go-crdt RGA (ID/Greater/integrate/Merge),
// generalized from []rune to crdt.Value.
type memArray struct {
	doc  *memDocument
	mu   sync.Mutex
	root *arrayElem   // sentinel; never visible, never deleted
	all  []*arrayElem // creation-order backing store, root excluded
	obs  []func(ArrayEvent)
}

func newMemArray(doc *memDocument) *memArray {
	return &memArray{doc: doc, root: &arrayElem{}}
}

// visible returns the currently-undeleted elements in list order.
func (a *memArray) visible() []*arrayElem {
	out := make([]*arrayElem, 0, len(a.all))
	for _, e := range a.all {
		if !e.deleted {
			out = append(out, e)
		}
	}
	return out
}

func (a *memArray) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.visible())
}

func (a *memArray) Get(i int) (Value, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	vis := a.visible()
	if i < 0 || i >= len(vis) {
		return nil, false
	}
	return vis[i].value, true
}

func (a *memArray) Slice() []Value {
	a.mu.Lock()
	defer a.mu.Unlock()
	vis := a.visible()
	out := make([]Value, len(vis))
	for i, e := range vis {
		out[i] = e.value
	}
	return out
}

// anchorBefore returns the lamportID of the live element immediately before
// visible position i (root's zero id if i==0), used to anchor a new insert.
func (a *memArray) anchorBefore(i int) lamportID {
	vis := a.visible()
	if i <= 0 || len(vis) == 0 {
		return zeroID
	}
	if i > len(vis) {
		i = len(vis)
	}
	return vis[i-1].id
}

// integrate places newElem into a.all at the position RGA order demands:
// immediately after its parent, before any existing sibling (same
// parentID) whose id does not exceed the new one.
func (a *memArray) integrate(newElem *arrayElem) {
	parentIdx := -1
	if newElem.parentID != zeroID {
		for i, e := range a.all {
			if e.id == newElem.parentID {
				parentIdx = i
				break
			}
		}
	}
	insertAt := parentIdx + 1
	for insertAt < len(a.all) && a.all[insertAt].parentID == newElem.parentID {
		if newElem.id.greater(a.all[insertAt].id) {
			break
		}
		insertAt++
	}
	a.all = append(a.all, nil)
	copy(a.all[insertAt+1:], a.all[insertAt:])
	a.all[insertAt] = newElem
}

func (a *memArray) insertWithID(i int, v Value, id lamportID, notify bool) {
	a.mu.Lock()
	parent := a.anchorBefore(i)
	elem := &arrayElem{id: id, parentID: parent, value: v}
	a.integrate(elem)
	a.mu.Unlock()
	if notify {
		a.fire(ArrayEvent{Target: a, Kind: IndicesShifted, Indices: []int{i}})
	}
}

func (a *memArray) Insert(i int, v Value) {
	a.insertWithID(i, v, a.doc.nextID(), true)
	if mgr, ok := a.doc.activeUndoManager(); ok {
		mgr.recordArrayInsert(a, i, v)
	}
}

func (a *memArray) Push(v Value) {
	a.mu.Lock()
	n := len(a.visible())
	a.mu.Unlock()
	a.Insert(n, v)
}

func (a *memArray) Set(i int, v Value) {
	before, ok := a.Get(i)
	if !a.setRaw(i, v) {
		return
	}
	if mgr, ok2 := a.doc.activeUndoManager(); ok2 && ok {
		mgr.recordArraySet(a, i, before, v)
	}
}

// setRaw replaces the value at visible index i without touching the undo
// stack. Reports whether i was in range.
func (a *memArray) setRaw(i int, v Value) bool {
	a.mu.Lock()
	vis := a.visible()
	if i < 0 || i >= len(vis) {
		a.mu.Unlock()
		return false
	}
	vis[i].value = v
	a.mu.Unlock()
	a.fire(ArrayEvent{Target: a, Kind: IndicesUpdated, Indices: []int{i}})
	return true
}

func (a *memArray) Delete(i int) {
	before, ok := a.Get(i)
	if !a.deleteRaw(i) {
		return
	}
	if mgr, ok2 := a.doc.activeUndoManager(); ok2 && ok {
		mgr.recordArrayDelete(a, i, before)
	}
}

// deleteRaw tombstones the element at visible index i without touching the
// undo stack. Reports whether i was in range.
func (a *memArray) deleteRaw(i int) bool {
	a.mu.Lock()
	vis := a.visible()
	if i < 0 || i >= len(vis) {
		a.mu.Unlock()
		return false
	}
	vis[i].deleted = true
	a.mu.Unlock()
	a.fire(ArrayEvent{Target: a, Kind: IndicesShifted, Indices: []int{i}})
	return true
}

func (a *memArray) Observe(fn func(ArrayEvent)) func() {
	a.mu.Lock()
	a.obs = append(a.obs, fn)
	idx := len(a.obs) - 1
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.obs) {
			a.obs[idx] = nil
		}
	}
}

func (a *memArray) fire(ev ArrayEvent) {
	a.mu.Lock()
	observers := append([]func(ArrayEvent){}, a.obs...)
	a.mu.Unlock()
	for _, fn := range observers {
		if fn != nil {
			fn(ev)
		}
	}
}

// mergeFrom incorporates remote elements this array has not yet seen,
// following the pack's go-crdt Merge/processNode causal-buffering shape:
// an element whose parent has not arrived yet is held until it does.
func (a *memArray) mergeFrom(remote *encodedArray) {
	a.mu.Lock()
	defer a.mu.Unlock()

	known := make(map[lamportID]bool, len(a.all))
	for _, e := range a.all {
		known[e.id] = true
	}

	pending := append([]encodedElem{}, remote.Elems...)
	for progressed := true; progressed && len(pending) > 0; {
		progressed = false
		var next []encodedElem
		for _, re := range pending {
			if known[re.ID] {
				for _, e := range a.all {
					if e.id == re.ID && re.Deleted {
						e.deleted = true
					}
				}
				progressed = true
				continue
			}
			if re.ParentID != zeroID && !known[re.ParentID] {
				next = append(next, re)
				continue
			}
			elem := &arrayElem{id: re.ID, parentID: re.ParentID, value: decodeValue(a.doc, re.Value), deleted: re.Deleted}
			a.integrate(elem)
			known[re.ID] = true
			progressed = true
		}
		pending = next
	}
}
