package crdt

import "sync"

type mapEntry struct {
	value Value
	ts    lamportID
}

// memMap is a last-writer-wins string-keyed container: each key carries the
// lamportID of the write that last touched it, so ApplyUpdate can resolve
// concurrent writes deterministically across replicas.
type memMap struct {
	doc     *memDocument
	mu      sync.Mutex
	entries map[string]*mapEntry
	obs     []func(MapEvent)
}

func newMemMap(doc *memDocument) *memMap {
	return &memMap{doc: doc, entries: make(map[string]*mapEntry)}
}

func (m *memMap) Get(key string) (Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (m *memMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

func (m *memMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Set stamps the write with the document's next lamport tick and fires a
// KeyAdded or KeyUpdated event for key (identity writes per spec.md I5 are
// the caller's concern; this layer always applies the write).
func (m *memMap) Set(key string, v Value) {
	before, hadBefore := m.Get(key)
	ts := m.doc.nextID()
	m.setWithID(key, v, ts, true)
	if mgr, ok := m.doc.activeUndoManager(); ok {
		mgr.recordMapWrite(m, key, before, hadBefore, false, v)
	}
}

func (m *memMap) setWithID(key string, v Value, ts lamportID, notify bool) {
	m.mu.Lock()
	_, existed := m.entries[key]
	m.entries[key] = &mapEntry{value: v, ts: ts}
	m.mu.Unlock()

	if !notify {
		return
	}
	kind := KeyUpdated
	if !existed {
		kind = KeyAdded
	}
	m.fire(MapEvent{Target: m, Changes: map[string]KeyChange{key: kind}})
}

func (m *memMap) Delete(key string) {
	before, hadBefore := m.Get(key)
	if !m.deleteRaw(key) {
		return
	}
	if mgr, ok := m.doc.activeUndoManager(); ok {
		mgr.recordMapWrite(m, key, before, hadBefore, true, nil)
	}
}

// deleteRaw deletes key without touching the undo stack; used both by the
// public Delete and by undo/redo replay. Reports whether key existed.
func (m *memMap) deleteRaw(key string) bool {
	m.mu.Lock()
	_, existed := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if !existed {
		return false
	}
	m.fire(MapEvent{Target: m, Changes: map[string]KeyChange{key: KeyDeleted}})
	return true
}

func (m *memMap) Observe(fn func(MapEvent)) func() {
	m.mu.Lock()
	m.obs = append(m.obs, fn)
	idx := len(m.obs) - 1
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.obs) {
			m.obs[idx] = nil
		}
	}
}

func (m *memMap) fire(ev MapEvent) {
	m.mu.Lock()
	observers := append([]func(MapEvent){}, m.obs...)
	m.mu.Unlock()
	for _, fn := range observers {
		if fn != nil {
			fn(ev)
		}
	}
}

// mergeFrom reconciles remote entries into this map. Keys whose remote
// value is itself a nested container recurse structurally (the container
// identity is the key path, not a replica-assigned id); leaf keys resolve
// by last-writer-wins on the stamped lamportID.
func (m *memMap) mergeFrom(remote *encodedMap) {
	for key, renc := range remote.Entries {
		m.mu.Lock()
		local, existed := m.entries[key]
		m.mu.Unlock()

		if existed {
			if lm, ok := local.value.(*memMap); ok {
				if renc.Value.Map != nil {
					lm.mergeFrom(renc.Value.Map)
					continue
				}
			}
			if la, ok := local.value.(*memArray); ok {
				if renc.Value.Arr != nil {
					la.mergeFrom(renc.Value.Arr)
					continue
				}
			}
			if !renc.TS.greater(local.ts) {
				continue // local write wins or ties
			}
		}

		v := decodeValue(m.doc, renc.Value)
		m.setWithID(key, v, renc.TS, true)
	}
}
