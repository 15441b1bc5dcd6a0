package crdt

import (
	"errors"
	"sync"
)

// ErrNothingToUndo / ErrNothingToRedo are returned when the corresponding
// stack is empty.
var (
	ErrNothingToUndo = errors.New("crdt: nothing to undo")
	ErrNothingToRedo = errors.New("crdt: nothing to redo")
)

// undoEntry captures enough of a write to invert it: the container it
// touched and closures that replay the inverse/forward operation.
type undoEntry struct {
	item   StackItem
	invert func()
	redo   func()
}

// memUndoManager is a linear undo/redo stack for a document. Every local
// map/array write is recorded automatically by map.go/array.go calling back
// into recordMapWrite/recordArrayInsert/etc., so hosts never call an
// explicit "track this write" API; they mutate fields through the usual
// proxy/entity surface and call Undo()/Redo() directly. A scope narrower
// than the whole document is not implemented by this substrate: every write
// on every map/array reachable from the document is tracked, which is the
// "empty scope" behavior spec.md §6.1 describes as the default.
type memUndoManager struct {
	doc   *memDocument
	mu    sync.Mutex
	undo  []undoEntry
	redo_ []undoEntry

	onAdded  []func(StackItem)
	onPopped []func(StackItem)
}

func newMemUndoManager(doc *memDocument, scope []any) UndoManager {
	return &memUndoManager{doc: doc}
}

func (u *memUndoManager) CanUndo() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.undo) > 0
}

func (u *memUndoManager) CanRedo() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.redo_) > 0
}

// Undo pops the most recent entry, replays its inverse (suppressing further
// undo recording while doing so, so the inverse write doesn't push a second
// entry), and moves the entry to the redo stack.
func (u *memUndoManager) Undo() error {
	u.mu.Lock()
	if len(u.undo) == 0 {
		u.mu.Unlock()
		return ErrNothingToUndo
	}
	entry := u.undo[len(u.undo)-1]
	u.undo = u.undo[:len(u.undo)-1]
	u.redo_ = append(u.redo_, entry)
	u.mu.Unlock()

	u.doc.withUndoSuppressed(entry.invert)
	u.firePopped(entry.item)
	return nil
}

func (u *memUndoManager) Redo() error {
	u.mu.Lock()
	if len(u.redo_) == 0 {
		u.mu.Unlock()
		return ErrNothingToRedo
	}
	entry := u.redo_[len(u.redo_)-1]
	u.redo_ = u.redo_[:len(u.redo_)-1]
	u.undo = append(u.undo, entry)
	u.mu.Unlock()

	u.doc.withUndoSuppressed(entry.redo)
	u.fireAdded(entry.item)
	return nil
}

func (u *memUndoManager) OnStackItemAdded(fn func(StackItem))  { u.onAdded = append(u.onAdded, fn) }
func (u *memUndoManager) OnStackItemPopped(fn func(StackItem)) { u.onPopped = append(u.onPopped, fn) }

func (u *memUndoManager) fireAdded(item StackItem) {
	for _, fn := range u.onAdded {
		fn(item)
	}
}

func (u *memUndoManager) firePopped(item StackItem) {
	for _, fn := range u.onPopped {
		fn(item)
	}
}

func (u *memUndoManager) push(entry undoEntry) {
	u.mu.Lock()
	u.undo = append(u.undo, entry)
	u.redo_ = nil
	u.mu.Unlock()
	u.fireAdded(entry.item)
}

// recordMapWrite records a single map-key write (Set or Delete) so it can
// later be undone/redone. before/hadBefore describe the entry's state prior
// to this write; deleted is true when this write was a Delete.
func (u *memUndoManager) recordMapWrite(m *memMap, key string, before Value, hadBefore bool, deleted bool, after Value) {
	u.push(undoEntry{
		item: StackItem{Maps: []Map{m}},
		invert: func() {
			if hadBefore {
				m.setWithID(key, before, u.doc.nextID(), true)
			} else {
				m.deleteRaw(key)
			}
		},
		redo: func() {
			if deleted {
				m.deleteRaw(key)
			} else {
				m.setWithID(key, after, u.doc.nextID(), true)
			}
		},
	})
}

// recordArrayInsert records an insert at visible index i of value v.
func (u *memUndoManager) recordArrayInsert(a *memArray, i int, v Value) {
	u.push(undoEntry{
		item:   StackItem{Arrays: []Array{a}},
		invert: func() { a.deleteRaw(i) },
		redo:   func() { a.insertWithID(i, v, u.doc.nextID(), true) },
	})
}

// recordArrayDelete records a delete at visible index i of value v.
func (u *memUndoManager) recordArrayDelete(a *memArray, i int, v Value) {
	u.push(undoEntry{
		item:   StackItem{Arrays: []Array{a}},
		invert: func() { a.insertWithID(i, v, u.doc.nextID(), true) },
		redo:   func() { a.deleteRaw(i) },
	})
}

// recordArraySet records an in-place value replacement at visible index i.
func (u *memUndoManager) recordArraySet(a *memArray, i int, before, after Value) {
	u.push(undoEntry{
		item:   StackItem{Arrays: []Array{a}},
		invert: func() { a.setRaw(i, before) },
		redo:   func() { a.setRaw(i, after) },
	})
}
