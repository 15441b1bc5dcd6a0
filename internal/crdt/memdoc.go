package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"sync/atomic"
)

// memDocument is the one concrete Document this module ships: a process-
// local CRDT document good enough to develop and test the engine against.
// Production hosts are expected to supply their own implementation of the
// interfaces in crdt.go (spec.md §1, §6.1: the substrate is a consumed
// dependency, not something this module mandates).
type memDocument struct {
	clientID string
	clock    uint64

	mu   sync.Mutex
	tops map[string]*memMap

	txDepth int32

	undoMu         sync.Mutex
	undoMgr        *memUndoManager
	undoSuppressed bool
}

// NewDocument constructs a fresh in-memory CRDT document for the given
// client id (used to break lamport-clock ties deterministically across
// replicas).
func NewDocument(clientID string) Document {
	return &memDocument{clientID: clientID, tops: make(map[string]*memMap)}
}

func (d *memDocument) ClientID() string { return d.clientID }

func (d *memDocument) nextID() lamportID {
	seq := atomic.AddUint64(&d.clock, 1)
	return lamportID{Seq: seq, Replica: d.clientID}
}

func (d *memDocument) TopMap(name string) Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.tops[name]
	if !ok {
		m = newMemMap(d)
		d.tops[name] = m
	}
	return m
}

func (d *memDocument) NewMap() Map     { return newMemMap(d) }
func (d *memDocument) NewArray() Array { return newMemArray(d) }

type txImpl struct{ doc *memDocument }

func (t *txImpl) Doc() Document { return t.doc }

// Transact runs fn with a Transaction handle. Nested calls (within the same
// goroutine's call stack) reuse the same logical transaction; this
// substrate does not itself batch notifications (internal/plexusdoc owns
// that per spec.md I6 / §4.7), and it only counts nesting depth internally
// without exposing it through the Transaction handle.
func (d *memDocument) Transact(fn func(Transaction) error) error {
	atomic.AddInt32(&d.txDepth, 1)
	defer atomic.AddInt32(&d.txDepth, -1)
	return fn(&txImpl{doc: d})
}

// NewUndoManager returns the document's single undo manager, creating it on
// first call. A document has exactly one undo manager (spec.md §6.1 "an
// undo manager"); subsequent calls return the same instance regardless of
// the scope argument.
func (d *memDocument) NewUndoManager(scope ...any) UndoManager {
	d.undoMu.Lock()
	defer d.undoMu.Unlock()
	if d.undoMgr == nil {
		d.undoMgr = newMemUndoManager(d, scope).(*memUndoManager)
	}
	return d.undoMgr
}

// withUndoSuppressed runs fn with undo recording disabled, so that an
// invert/redo closure's own container writes don't push new undo entries.
func (d *memDocument) withUndoSuppressed(fn func()) {
	d.undoMu.Lock()
	prev := d.undoSuppressed
	d.undoSuppressed = true
	d.undoMu.Unlock()

	fn()

	d.undoMu.Lock()
	d.undoSuppressed = prev
	d.undoMu.Unlock()
}

func (d *memDocument) activeUndoManager() (*memUndoManager, bool) {
	d.undoMu.Lock()
	defer d.undoMu.Unlock()
	if d.undoMgr == nil || d.undoSuppressed {
		return nil, false
	}
	return d.undoMgr, true
}

// EncodeStateAsUpdate snapshots the full document. This substrate does not
// implement incremental deltas; each "update" is a complete state snapshot,
// which is sufficient for the convergence properties this module tests
// (spec.md §8 S3) without taking on an op-log compaction design that is out
// of scope for the engine this package supports.
func (d *memDocument) EncodeStateAsUpdate() ([]byte, error) {
	d.mu.Lock()
	snap := snapshot{Tops: make(map[string]encodedValue, len(d.tops))}
	for name, m := range d.tops {
		snap.Tops[name] = encodeValue(m)
	}
	d.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("crdt: encode update: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *memDocument) ApplyUpdate(update []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(update)).Decode(&snap); err != nil {
		return fmt.Errorf("crdt: decode update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for name, enc := range snap.Tops {
		top, ok := d.tops[name]
		if !ok {
			top = newMemMap(d)
			d.tops[name] = top
		}
		if enc.Map != nil {
			top.mergeFrom(enc.Map)
		}
	}
	return nil
}
