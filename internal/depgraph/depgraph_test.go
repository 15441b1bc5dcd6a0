package depgraph_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/depgraph"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/tracking"
)

func TestCanonicalVersionNormalizesSemverVariants(t *testing.T) {
	cases := map[string]string{
		"1.2.3":     "v1.2.3",
		"v1.2.3":    "v1.2.3",
		"v1.2.3+x1": "v1.2.3",
	}
	for in, want := range cases {
		if got := depgraph.CanonicalVersion(in); got != want {
			t.Fatalf("CanonicalVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalVersionPassesThroughNonSemver(t *testing.T) {
	for _, v := range []string{"", "deadbeef", "feature-branch"} {
		if got := depgraph.CanonicalVersion(v); got != v {
			t.Fatalf("CanonicalVersion(%q) = %q, want unchanged", v, got)
		}
	}
}

// TestGetOrCreateDedupesEquivalentVersionStrings covers spec.md L3: two
// requests for the same dependency id whose version strings normalize to
// the same canonical semver resolve to one shared document and only one
// create call.
func TestGetOrCreateDedupesEquivalentVersionStrings(t *testing.T) {
	table := depgraph.NewTable()
	var creates int
	create := func() (model.Doc, error) {
		creates++
		return nil, nil
	}

	doc1, cached1, err := table.GetOrCreate("depA", "1.2.3", create)
	if err != nil {
		t.Fatalf("GetOrCreate (first): %v", err)
	}
	if cached1 {
		t.Fatalf("first GetOrCreate reported alreadyCached = true, want false")
	}

	doc2, cached2, err := table.GetOrCreate("depA", "v1.2.3", create)
	if err != nil {
		t.Fatalf("GetOrCreate (second): %v", err)
	}
	if !cached2 {
		t.Fatalf("second GetOrCreate (equivalent version string) reported alreadyCached = false, want true")
	}
	if doc1 != doc2 {
		t.Fatalf("GetOrCreate returned two different documents for the same id@version")
	}
	if creates != 1 {
		t.Fatalf("create was called %d times, want 1 (no additional fetch, spec.md L3)", creates)
	}
	if n := table.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
}

func TestGetOrCreateDistinctVersionsAreNotDeduped(t *testing.T) {
	table := depgraph.NewTable()
	create := func() (model.Doc, error) { return nil, nil }

	if _, _, err := table.GetOrCreate("depA", "1.0.0", create); err != nil {
		t.Fatalf("GetOrCreate(1.0.0): %v", err)
	}
	if _, _, err := table.GetOrCreate("depA", "2.0.0", create); err != nil {
		t.Fatalf("GetOrCreate(2.0.0): %v", err)
	}
	if n := table.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2 for two distinct versions", n)
	}
}

func TestGetOrCreatePropagatesCreateError(t *testing.T) {
	table := depgraph.NewTable()
	wantErr := errors.New("fetch failed")
	_, _, err := table.GetOrCreate("depA", "1.0.0", func() (model.Doc, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrCreate error = %v, want %v", err, wantErr)
	}
	if _, ok := table.Peek("depA", "1.0.0"); ok {
		t.Fatalf("Peek found an entry after a failed create, want none cached")
	}
}

func TestPeekReportsAbsenceWithoutCreating(t *testing.T) {
	table := depgraph.NewTable()
	if _, ok := table.Peek("depA", "1.0.0"); ok {
		t.Fatalf("Peek on empty table = found, want not found")
	}
}

// TestGetOrCreateConcurrentRaceKeepsOneWinner covers the documented race
// behavior: concurrent first-fetches of the same id@version all observe the
// same winning document, and only one of the racers' builds is kept.
func TestGetOrCreateConcurrentRaceKeepsOneWinner(t *testing.T) {
	table := depgraph.NewTable()
	const n = 20
	results := make([]model.Doc, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			doc, _, err := table.GetOrCreate("depA", "1.0.0", func() (model.Doc, error) {
				return fakeDoc(i), nil
			})
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = doc
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("racer %d got a different document than racer 0, want all callers to observe one winner", i)
		}
	}
}

// fakeDoc lets each racer in the concurrency test return a distinguishable,
// comparable model.Doc value without needing a real implementation; none of
// its methods are expected to be called by depgraph itself.
type fakeDoc int

func (fakeDoc) CRDT() crdt.Document                         { panic("unused in this test") }
func (fakeDoc) Cache() model.EntityCache                    { panic("unused in this test") }
func (fakeDoc) DependencyID() string                        { panic("unused in this test") }
func (fakeDoc) ResolveDependency(string) (model.Doc, bool)  { panic("unused in this test") }
func (fakeDoc) NewEntity(string, string) (model.Entity, error) {
	panic("unused in this test")
}
func (fakeDoc) Transact(func() error) error { panic("unused in this test") }
func (fakeDoc) Tracking() *tracking.Tracking { panic("unused in this test") }
