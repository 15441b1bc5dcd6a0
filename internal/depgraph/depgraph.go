// Package depgraph implements the dependency subgraph of spec.md §4.8 (C8):
// per-process deduplication of fetched dependency documents, keyed by
// dependencyId@resolvedVersion and shared across every sub-orchestrator in
// one document's dependency tree, so two sibling dependencies referring to
// the same transitive id-version pair resolve to one shared document
// instance (spec.md L3).
//
// This package knows nothing about internal/plexusdoc.Document; it only
// caches whatever model.Doc the caller's create closure builds, the same
// way internal/cache caches whatever model.Entity a caller constructs. That
// keeps the dependency direction one-way (internal/plexusdoc imports
// internal/depgraph, never the reverse).
package depgraph

import (
	"fmt"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/plexus-engine/plexus/internal/model"
)

// CanonicalVersion normalizes a dependency version string for use as a dedup
// key (grounded on the teacher's golang.org/x/mod/semver dependency, used
// here to compare "v1.2.3" and "1.2.3" as the same resolved version per
// spec.md L3). A string that is not valid semver — a content hash, a branch
// name — is used verbatim; this substrate does not require every dependency
// to be semver-versioned.
func CanonicalVersion(v string) string {
	if v == "" {
		return v
	}
	candidate := v
	if candidate[0] != 'v' {
		candidate = "v" + candidate
	}
	if semver.IsValid(candidate) {
		return semver.Canonical(candidate)
	}
	return v
}

// Table is the shared dedup table of spec.md §4.7 ("a global dependency
// deduplication table keyed by dependencyId@resolvedVersion"): one instance
// per document tree, handed down from the root orchestrator to every
// sub-orchestrator it creates (spec.md §4.8 "recording them in the shared
// deduplication table").
type Table struct {
	mu      sync.Mutex
	entries map[string]model.Doc
}

// NewTable constructs an empty dedup table.
func NewTable() *Table {
	return &Table{entries: make(map[string]model.Doc)}
}

// GetOrCreate returns the cached document for id@version, canonicalizing
// version first. The first caller to observe this table lacking the pair
// invokes create to build the document and caches the result; every other
// caller — whether concurrent or later — gets the same cached instance back
// with alreadyCached true, meaning create was skipped (spec.md L3: "no
// additional fetch").
func (t *Table) GetOrCreate(id, version string, create func() (model.Doc, error)) (doc model.Doc, alreadyCached bool, err error) {
	key := dedupKey(id, version)

	t.mu.Lock()
	if existing, ok := t.entries[key]; ok {
		t.mu.Unlock()
		return existing, true, nil
	}
	t.mu.Unlock()

	built, err := create()
	if err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.entries[key]; ok {
		// Lost a race with a concurrent fetch of the same id@version: keep
		// the winner so every caller observes one shared document instance.
		return existing, true, nil
	}
	t.entries[key] = built
	return built, false, nil
}

// Peek returns the cached document for id@version without fetching it.
func (t *Table) Peek(id, version string) (model.Doc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.entries[dedupKey(id, version)]
	return d, ok
}

// Len reports how many distinct id@version documents this table has
// resolved.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func dedupKey(id, version string) string {
	return fmt.Sprintf("%s@%s", id, CanonicalVersion(version))
}
