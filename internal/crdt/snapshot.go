package crdt

// snapshot, encodedValue and friends are the gob-friendly mirror of a live
// document tree, used only by EncodeStateAsUpdate/ApplyUpdate. They exist
// because gob cannot encode the interface-typed, mutex-guarded live
// container graph directly.
type snapshot struct {
	Tops map[string]encodedValue
}

type encodedValue struct {
	Kind   byte // 'n' null, 'b' bool, 'f' float64, 's' string, 'r' ref tuple, 'p' parent tuple, 'm' map, 'a' array
	B      bool
	F      float64
	S      string
	Ref    RefTuple
	Parent ParentTuple
	Map    *encodedMap
	Arr    *encodedArray
}

type encodedMap struct {
	Entries map[string]encodedEntry
}

type encodedEntry struct {
	Value encodedValue
	TS    lamportID
}

type encodedArray struct {
	Elems []encodedElem
}

type encodedElem struct {
	ID       lamportID
	ParentID lamportID
	Value    encodedValue
	Deleted  bool
}

func encodeValue(v Value) encodedValue {
	switch t := v.(type) {
	case nil:
		return encodedValue{Kind: 'n'}
	case bool:
		return encodedValue{Kind: 'b', B: t}
	case float64:
		return encodedValue{Kind: 'f', F: t}
	case string:
		return encodedValue{Kind: 's', S: t}
	case RefTuple:
		return encodedValue{Kind: 'r', Ref: t}
	case ParentTuple:
		return encodedValue{Kind: 'p', Parent: t}
	case *memMap:
		t.mu.Lock()
		em := &encodedMap{Entries: make(map[string]encodedEntry, len(t.entries))}
		for k, e := range t.entries {
			em.Entries[k] = encodedEntry{Value: encodeValue(e.value), TS: e.ts}
		}
		t.mu.Unlock()
		return encodedValue{Kind: 'm', Map: em}
	case *memArray:
		t.mu.Lock()
		ea := &encodedArray{Elems: make([]encodedElem, len(t.all))}
		for i, e := range t.all {
			ea.Elems[i] = encodedElem{ID: e.id, ParentID: e.parentID, Value: encodeValue(e.value), Deleted: e.deleted}
		}
		t.mu.Unlock()
		return encodedValue{Kind: 'a', Arr: ea}
	default:
		return encodedValue{Kind: 'n'}
	}
}

func decodeValue(doc *memDocument, ev encodedValue) Value {
	switch ev.Kind {
	case 'b':
		return ev.B
	case 'f':
		return ev.F
	case 's':
		return ev.S
	case 'r':
		return ev.Ref
	case 'p':
		return ev.Parent
	case 'm':
		m := newMemMap(doc)
		if ev.Map != nil {
			for k, e := range ev.Map.Entries {
				m.entries[k] = &mapEntry{value: decodeValue(doc, e.Value), ts: e.TS}
			}
		}
		return m
	case 'a':
		a := newMemArray(doc)
		if ev.Arr != nil {
			a.all = make([]*arrayElem, len(ev.Arr.Elems))
			for i, e := range ev.Arr.Elems {
				a.all[i] = &arrayElem{id: e.ID, parentID: e.ParentID, value: decodeValue(doc, e.Value), deleted: e.Deleted}
			}
		}
		return a
	default:
		return nil
	}
}
