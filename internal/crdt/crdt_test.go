package crdt_test

import (
	"testing"

	"github.com/plexus-engine/plexus/internal/crdt"
)

func TestMapSetGetDeleteAndEvents(t *testing.T) {
	doc := crdt.NewDocument("r1")
	m := doc.TopMap("models")

	var events []crdt.MapEvent
	m.Observe(func(ev crdt.MapEvent) { events = append(events, ev) })

	m.Set("a", "1")
	v, ok := m.Get("a")
	if !ok || v != "1" {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	if len(events) != 1 || events[0].Changes["a"] != crdt.KeyAdded {
		t.Fatalf("events after Set(new key) = %v, want one KeyAdded for a", events)
	}

	m.Set("a", "2")
	if len(events) != 2 || events[1].Changes["a"] != crdt.KeyUpdated {
		t.Fatalf("events after Set(existing key) = %v, want KeyUpdated for a", events)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("Get(a) after Delete = ok, want absent")
	}
	if len(events) != 3 || events[2].Changes["a"] != crdt.KeyDeleted {
		t.Fatalf("events after Delete = %v, want KeyDeleted for a", events)
	}
}

func TestArrayPushInsertDeleteOrderAndEvents(t *testing.T) {
	doc := crdt.NewDocument("r1")
	arr := doc.NewArray()

	var events []crdt.ArrayEvent
	arr.Observe(func(ev crdt.ArrayEvent) { events = append(events, ev) })

	arr.Push("a")
	arr.Push("b")
	arr.Insert(1, "mid")

	got := arr.Slice()
	want := []crdt.Value{"a", "mid", "b"}
	if len(got) != len(want) {
		t.Fatalf("Slice() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Slice()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if len(events) != 3 {
		t.Fatalf("got %d array events, want 3 (one per mutation)", len(events))
	}

	arr.Delete(0)
	if n := arr.Len(); n != 2 {
		t.Fatalf("Len() after Delete(0) = %d, want 2", n)
	}
	first, _ := arr.Get(0)
	if first != "mid" {
		t.Fatalf("Get(0) after deleting original head = %v, want mid", first)
	}
}

func TestArraySetReplacesInPlaceWithoutShiftingOthers(t *testing.T) {
	doc := crdt.NewDocument("r1")
	arr := doc.NewArray()
	arr.Push("a")
	arr.Push("b")
	arr.Push("c")

	arr.Set(1, "B")
	got := arr.Slice()
	want := []crdt.Value{"a", "B", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Slice() = %v, want %v", got, want)
		}
	}
}

func TestTransactRunsCallback(t *testing.T) {
	doc := crdt.NewDocument("r1")
	var ran bool
	err := doc.Transact(func(tx crdt.Transaction) error {
		ran = true
		if tx.Doc() != doc {
			t.Fatalf("Transaction.Doc() did not return the originating document")
		}
		doc.TopMap("models").Set("k", "v")
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !ran {
		t.Fatalf("Transact did not invoke its callback")
	}
}

func TestUndoRedoRoundTripsArrayAndMapWrites(t *testing.T) {
	doc := crdt.NewDocument("r1")
	m := doc.TopMap("models")
	arr := doc.NewArray()
	m.Set("list", arr)
	// Created after attaching the array, so only the two writes below are
	// on the undo stack.
	mgr := doc.NewUndoManager()

	arr.Push("first")
	m.Set("name", "alice")

	if !mgr.CanUndo() {
		t.Fatalf("CanUndo() = false after two local writes, want true")
	}

	if err := mgr.Undo(); err != nil {
		t.Fatalf("Undo (name): %v", err)
	}
	if _, ok := m.Get("name"); ok {
		t.Fatalf("Get(name) after undoing its Set = ok, want absent")
	}

	if err := mgr.Undo(); err != nil {
		t.Fatalf("Undo (push): %v", err)
	}
	if n := arr.Len(); n != 0 {
		t.Fatalf("arr.Len() after undoing the Push = %d, want 0", n)
	}
	if mgr.CanUndo() {
		t.Fatalf("CanUndo() = true after undoing every write, want false")
	}

	if err := mgr.Redo(); err != nil {
		t.Fatalf("Redo (push): %v", err)
	}
	if n := arr.Len(); n != 1 {
		t.Fatalf("arr.Len() after redoing the Push = %d, want 1", n)
	}
	if err := mgr.Redo(); err != nil {
		t.Fatalf("Redo (name): %v", err)
	}
	if v, ok := m.Get("name"); !ok || v != "alice" {
		t.Fatalf("Get(name) after redo = %v, %v; want alice, true", v, ok)
	}
}

func TestUndoStackItemHooksFireOnPushAndPop(t *testing.T) {
	doc := crdt.NewDocument("r1")
	mgr := doc.NewUndoManager()

	var added, popped int
	mgr.OnStackItemAdded(func(crdt.StackItem) { added++ })
	mgr.OnStackItemPopped(func(crdt.StackItem) { popped++ })

	doc.TopMap("models").Set("k", "v")
	if added != 1 {
		t.Fatalf("added = %d after one write, want 1", added)
	}
	if err := mgr.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if popped != 1 {
		t.Fatalf("popped = %d after one undo, want 1", popped)
	}
	if err := mgr.Redo(); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	// Redo re-pushes the entry, which fires the added hook again.
	if added != 2 {
		t.Fatalf("added = %d after redo, want 2", added)
	}
}

func TestUndoOnEmptyStackFails(t *testing.T) {
	doc := crdt.NewDocument("r1")
	mgr := doc.NewUndoManager()
	if err := mgr.Undo(); err != crdt.ErrNothingToUndo {
		t.Fatalf("Undo on empty stack = %v, want ErrNothingToUndo", err)
	}
	if err := mgr.Redo(); err != crdt.ErrNothingToRedo {
		t.Fatalf("Redo on empty stack = %v, want ErrNothingToRedo", err)
	}
}

// TestEncodeStateAsUpdateRoundTripsBetweenDocuments covers spec.md §8 S3's
// substrate-level prerequisite: applying one replica's encoded state to a
// fresh document converges it to the same content.
func TestEncodeStateAsUpdateRoundTripsBetweenDocuments(t *testing.T) {
	a := crdt.NewDocument("a")
	a.TopMap("models").Set("name", "Alice Smith")

	update, err := a.EncodeStateAsUpdate()
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	b := crdt.NewDocument("b")
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	v, ok := b.TopMap("models").Get("name")
	if !ok || v != "Alice Smith" {
		t.Fatalf("b's models[name] = %v, %v; want Alice Smith, true", v, ok)
	}
}
