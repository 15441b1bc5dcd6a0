package crdt

// lamportID stamps every array element and every map-entry write with a
// logical clock tick plus the replica that produced it, so independent
// replicas converge on the same total order. Grounded on the pack's
// go-crdt RGA reference (Node.ID / ID.Greater), generalized from a rune
// payload to an arbitrary crdt.Value.
type lamportID struct {
	Seq     uint64
	Replica string
}

var zeroID = lamportID{}

// greater gives the tie-break total order used to linearize concurrent
// inserts sharing a parent, and to resolve concurrent map writes:
// higher sequence wins, replica id breaks ties.
func (a lamportID) greater(b lamportID) bool {
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.Replica > b.Replica
}
