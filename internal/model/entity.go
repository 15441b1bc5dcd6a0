package model

import (
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// Entity is the contract internal/codec, internal/cache and internal/proxy
// need from a live entity, satisfied concretely by *entity.Base (embedded by
// every registered model type).
// Kept narrow and here (rather than those packages importing
// internal/entity directly) so internal/entity can depend on codec/cache
// without an import cycle.
type Entity interface {
	ID() string
	TypeName() string
	// Doc returns the document this entity is materialized into, or nil if
	// it is still ephemeral.
	Doc() Doc
}

// Doc is the contract internal/codec and internal/cache need from a
// document orchestrator, satisfied concretely by internal/plexusdoc.Document.
type Doc interface {
	// CRDT is the underlying substrate document.
	CRDT() crdt.Document
	// Cache is this document's entity cache.
	Cache() EntityCache
	// DependencyID is the id by which other documents refer to this one as
	// a dependency, or "" if this document has no such id (it is a root
	// document rather than a fetched dependency).
	DependencyID() string
	// ResolveDependency looks up an already-registered dependency document
	// by id (spec.md §4.1 decode: "fails with MissingDependency if no
	// document is registered for dependencyId").
	ResolveDependency(depID string) (Doc, bool)
	// NewEntity constructs (but does not cache or materialize) a new
	// instance of typeName bound to id, via the model registry.
	NewEntity(typeName, id string) (Entity, error)
	// Transact runs fn inside this document's transaction guard (spec.md
	// §4.7, I6): nestable, only the outermost call opens a CRDT
	// transaction and drains the notification queue.
	Transact(fn func() error) error
	// Tracking returns this document's tracking core (spec.md §4.4, C4).
	Tracking() *tracking.Tracking
}

// EntityCache is the contract internal/codec needs from internal/cache
// without importing it back (internal/cache stores model.Entity values).
type EntityCache interface {
	Get(id string) (Entity, bool)
	Put(id string, e Entity)
}
