// Package crdt defines the substrate Plexus consumes: documents containing
// named top-level containers (maps and arrays) of primitive values, with
// observer events, transactions, and an undo manager. The engine never
// reaches past these interfaces into a concrete implementation's internals.
//
// memdoc.go ships the one implementation this module needs to run and be
// tested against: a small last-writer-wins map and a replicated growable
// array (RGA), both process-local. Designing a production-grade CRDT
// substrate is explicitly out of scope for the engine this package supports.
package crdt

import "fmt"

// Value is anything a container may hold: nil, bool, float64, string, a
// RefTuple or ParentTuple (stored directly as leaf values), or a nested
// Map/Array. Higher layers are responsible for only ever storing these
// shapes.
type Value = any

// KeyChange describes how a single map key changed in a MapEvent.
type KeyChange int

const (
	// KeyAdded means the key did not exist before and now does.
	KeyAdded KeyChange = iota
	// KeyUpdated means the key existed and its value changed.
	KeyUpdated
	// KeyDeleted means the key existed and was removed.
	KeyDeleted
)

func (k KeyChange) String() string {
	switch k {
	case KeyAdded:
		return "added"
	case KeyUpdated:
		return "updated"
	case KeyDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("KeyChange(%d)", int(k))
	}
}

// MapEvent reports the keys changed by one mutation (local or remote).
type MapEvent struct {
	Target  Map
	Changes map[string]KeyChange
}

// IndexChange describes how an ArrayEvent's indices should be interpreted.
type IndexChange int

const (
	// IndicesShifted means the event carries a set of changed/inserted/removed
	// indices and callers should treat positions as potentially stale.
	IndicesShifted IndexChange = iota
	// IndicesUpdated means only the values at the reported indices changed,
	// without affecting length or ordering.
	IndicesUpdated
)

// ArrayEvent reports how an array container changed.
type ArrayEvent struct {
	Target  Array
	Kind    IndexChange
	Indices []int
}

// Map is a string-keyed CRDT container.
type Map interface {
	Get(key string) (Value, bool)
	Set(key string, v Value)
	Delete(key string)
	Keys() []string
	Len() int
	// Observe registers fn to run (synchronously, on the document's
	// execution context) whenever this map's keys change. It returns an
	// unsubscribe function.
	Observe(fn func(MapEvent)) (unsubscribe func())
}

// Array is an ordered CRDT container.
type Array interface {
	Len() int
	Get(i int) (Value, bool)
	Slice() []Value
	Push(v Value)
	Insert(i int, v Value)
	Set(i int, v Value)
	Delete(i int)
	Observe(fn func(ArrayEvent)) (unsubscribe func())
}

// Transaction is the handle passed to a Document.Transact callback. The
// in-memory implementation (memdoc.go) fires container observers as each
// write is made inside the callback; it does not hold them back until the
// outermost Transact call returns.
type Transaction interface {
	Doc() Document
}

// StackItem is the set of containers touched by one undo-stack entry.
type StackItem struct {
	Maps   []Map
	Arrays []Array
}

// UndoManager mirrors the consumed undo-manager contract of spec.md §6.1:
// each local map/array write made while the manager exists pushes one entry
// onto its undo stack; Undo()/Redo() pop that entry, replay the
// inverse/forward operation and fire the same observers a normal write
// would.
type UndoManager interface {
	Undo() error
	Redo() error
	CanUndo() bool
	CanRedo() bool
	// OnStackItemAdded/OnStackItemPopped let the orchestrator bridge undo
	// events into the tracking pipeline (spec.md §4.7 "undo bridge").
	OnStackItemAdded(fn func(StackItem))
	OnStackItemPopped(fn func(StackItem))
}

// Document is a CRDT document: a client id, a set of named top-level
// containers, and transaction/undo/sync primitives.
type Document interface {
	ClientID() string
	// TopMap returns (creating if absent) the named top-level map, e.g.
	// "models" or "__metadata__".
	TopMap(name string) Map
	// NewMap/NewArray construct a fresh, unattached container; callers
	// attach it by storing it as a value in some Map or Array.
	NewMap() Map
	NewArray() Array
	Transact(fn func(Transaction) error) error
	NewUndoManager(scope ...any) UndoManager
	// EncodeStateAsUpdate/ApplyUpdate exchange state between replicas.
	EncodeStateAsUpdate() ([]byte, error)
	ApplyUpdate(update []byte) error
}
