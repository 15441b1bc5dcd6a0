// Package plexusdoc is the document orchestrator of spec.md §4.7 (C7),
// nicknamed "Plexus" in spec.md §2: it attaches a root entity to a CRDT
// document, loads entities by id, runs transactions, manages dependency
// subdocuments through internal/depgraph's shared dedup table, and bridges
// the CRDT substrate's undo manager into the tracking pipeline.
//
// The root-level `plexus` package re-exports Document the way the teacher
// re-exports internal/beads through its top-level beads.go facade.
package plexusdoc

import (
	"context"
	"fmt"
	"sync"

	"github.com/plexus-engine/plexus/internal/codec"
	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/depgraph"
	"github.com/plexus-engine/plexus/internal/entity"
	"github.com/plexus-engine/plexus/internal/logging"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexuserr"
	"github.com/plexus-engine/plexus/internal/registry"
	"github.com/plexus-engine/plexus/internal/tracking"
)

const (
	modelsMapName = "models"
	typeTagKey    = "__type__"
	rootID        = "root"

	dependenciesField        = "dependencies"
	dependencyVersionField   = "dependencyVersion"
)

// CreateDefaultRootFunc builds the deterministic default root used when
// doc.models["root"] does not yet exist (spec.md §4.7 "must be
// deterministic... so that concurrent initializations from multiple
// replicas converge"). It receives doc so the returned entity can be
// constructed via entity.NewEphemeral and materialized by the caller.
type CreateDefaultRootFunc func(doc model.Doc) (model.Entity, error)

// FetchDependencyFunc resolves a dependency id+version pair to the CRDT
// document backing it (spec.md §4.7 "abstract; implementations supply a
// factory"). It may block arbitrarily — spec.md §5 names this one of the
// engine's three suspension points — so it takes a context for
// cancellation, the idiomatic Go shape for a blocking I/O call where the
// source runtime would await a promise.
type FetchDependencyFunc func(ctx context.Context, id, version string) (crdt.Document, error)

// fieldAccessor is the subset of *entity.Base's promoted methods this
// package needs to read/write a root entity's optional "dependencies" and
// "dependencyVersion" fields without importing a concrete model type.
// Every registered model type satisfies it by embedding *entity.Base.
type fieldAccessor interface {
	model.SchemaLookup
	SetField(name string) (entity.SetView, error)
	RecordField(name string) (entity.RecordView, error)
}

// rootIDForcer is satisfied by *entity.Base (ForceRootID).
type rootIDForcer interface {
	ForceRootID() error
}

// Option configures a Document at construction time.
type Option func(*Document)

// WithLogger attaches the orchestrator's ambient logger (spec.md §4.7
// ambient stack; internal/logging). Defaults to logging.Discard.
func WithLogger(l logging.Logger) Option {
	return func(d *Document) { d.log = l }
}

// WithCreateDefaultRoot supplies the factory invoked when the document has
// no stored root yet (spec.md §4.7 "createDefaultRoot()").
func WithCreateDefaultRoot(fn CreateDefaultRootFunc) Option {
	return func(d *Document) { d.createDefaultRoot = fn }
}

// WithFetchDependency supplies the factory AddDependency/UpdateDependency
// and root-load-time dependency resolution use to obtain a dependency's
// CRDT document (spec.md §4.7 "fetchDependency(id, version)").
func WithFetchDependency(fn FetchDependencyFunc) Option {
	return func(d *Document) { d.fetchDependency = fn }
}

// withDependencyTable shares an existing dedup table instead of creating a
// fresh one; used internally when constructing a sub-orchestrator so the
// whole dependency tree shares one table (spec.md §4.8).
func withDependencyTable(t *depgraph.Table) Option {
	return func(d *Document) { d.dedup = t }
}

// withDependencyID marks a Document as a fetched dependency rather than a
// root document (spec.md §4.1 "dependencyId is read from the dependency
// document's metadata").
func withDependencyID(id string) Option {
	return func(d *Document) { d.depID = id }
}

// Document is the orchestrator of spec.md §4.7 (C7), and — for a fetched
// dependency — the sub-orchestrator of spec.md §4.8 (C8); the two are the
// same type distinguished only by a non-empty depID, matching spec.md's
// framing of C8 as "a sub-orchestrator [that] wraps a fetched dependency
// document" rather than a structurally different component.
type Document struct {
	crdtDoc  crdt.Document
	cache    *entity.Cache
	tracking *tracking.Tracking
	log      logging.Logger

	depID string // "" for a root document

	createDefaultRoot CreateDefaultRootFunc
	fetchDependency   FetchDependencyFunc
	dedup             *depgraph.Table

	undo crdt.UndoManager

	rootMu     sync.Mutex
	rootLoaded bool
	root       model.Entity

	depsMu      sync.Mutex
	deps        map[string]model.Doc
	depVersions map[string]string
}

// NewDocument constructs a root orchestrator over crdtDoc (spec.md §4.7,
// §6.3 "construct with a CRDT document").
func NewDocument(crdtDoc crdt.Document, opts ...Option) *Document {
	d := &Document{
		crdtDoc:     crdtDoc,
		cache:       entity.NewCache(),
		tracking:    tracking.New(nil),
		log:         logging.Discard,
		dedup:       depgraph.NewTable(),
		deps:        make(map[string]model.Doc),
		depVersions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.undo = d.crdtDoc.NewUndoManager()
	d.wireUndoLogging()
	return d
}

// newSubDocument builds the sub-orchestrator for a freshly fetched
// dependency document, sharing this document's dedup table and
// fetchDependency factory so transitive dependencies resolve the same way
// (spec.md §4.8 "resolves its own nested dependencies the same way").
func (d *Document) newSubDocument(crdtDoc crdt.Document, depID string) *Document {
	return NewDocument(crdtDoc,
		withDependencyTable(d.dedup),
		withDependencyID(depID),
		WithFetchDependency(d.fetchDependency),
		WithLogger(d.log),
	)
}

func (d *Document) wireUndoLogging() {
	d.undo.OnStackItemAdded(func(item crdt.StackItem) {
		d.log.Log("plexusdoc: undo stack item added (%d maps, %d arrays)", len(item.Maps), len(item.Arrays))
	})
	d.undo.OnStackItemPopped(func(item crdt.StackItem) {
		d.log.Log("plexusdoc: undo stack item popped (%d maps, %d arrays)", len(item.Maps), len(item.Arrays))
	})
}

// --- model.Doc -----------------------------------------------------------

func (d *Document) CRDT() crdt.Document          { return d.crdtDoc }
func (d *Document) Cache() model.EntityCache     { return d.cache }
func (d *Document) DependencyID() string         { return d.depID }
func (d *Document) Tracking() *tracking.Tracking { return d.tracking }

func (d *Document) ResolveDependency(depID string) (model.Doc, bool) {
	d.depsMu.Lock()
	defer d.depsMu.Unlock()
	doc, ok := d.deps[depID]
	return doc, ok
}

func (d *Document) NewEntity(typeName, id string) (model.Entity, error) {
	_, ctor, ok := registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", plexuserr.ErrUnknownType, typeName)
	}
	return ctor(id, d), nil
}

// Transact is I6/spec.md §4.7's reentrant transaction guard: the outermost
// call wraps fn in a CRDT transaction and drains the tracking queue on
// commit; nested calls just run fn (L4).
func (d *Document) Transact(fn func() error) error {
	outermost := d.tracking.EnterTransaction()
	var inner error
	err := d.crdtDoc.Transact(func(crdt.Transaction) (txErr error) {
		defer func() {
			if r := recover(); r != nil {
				txErr = fmt.Errorf("panic in transaction body: %v", r)
			}
		}()
		inner = fn()
		return inner
	})
	d.tracking.ExitTransaction(outermost, err != nil)
	if err != nil {
		return fmt.Errorf("%w: %v", plexuserr.ErrTransactionAborted, err)
	}
	return inner
}

// --- root loading ----------------------------------------------------------

// Root is spec.md §4.7's "rootPromise" / §6.3 "rootPromise": idempotent,
// lazy root loading. The first call either rehydrates the stored root or
// invokes createDefaultRoot, then resolves any declared dependencies before
// caching the result; every later call returns the cached root.
func (d *Document) Root(ctx context.Context) (model.Entity, error) {
	d.rootMu.Lock()
	defer d.rootMu.Unlock()
	if d.rootLoaded {
		return d.root, nil
	}

	root, err := d.loadOrCreateRoot()
	if err != nil {
		return nil, err
	}
	if err := d.resolveDependencies(ctx, root); err != nil {
		return nil, err
	}

	d.root = root
	d.rootLoaded = true
	return root, nil
}

func (d *Document) loadOrCreateRoot() (model.Entity, error) {
	models := d.crdtDoc.TopMap(modelsMapName)
	if v, ok := models.Get(rootID); ok {
		subtree, ok := v.(crdt.Map)
		if !ok {
			return nil, fmt.Errorf("plexusdoc: models[%q] is malformed", rootID)
		}
		typeTagV, _ := subtree.Get(typeTagKey)
		typeTag, _ := typeTagV.(string)
		if typeTag == "" {
			return nil, fmt.Errorf("%w: stored root has no type tag", plexuserr.ErrLifecycle)
		}
		root, err := d.NewEntity(typeTag, rootID)
		if err != nil {
			return nil, fmt.Errorf("%w: root type %q: %v", plexuserr.ErrUnknownType, typeTag, err)
		}
		d.cache.Put(rootID, root)
		return root, nil
	}

	if d.createDefaultRoot == nil {
		return nil, fmt.Errorf("%w: no root stored and no default-root factory configured", plexuserr.ErrLifecycle)
	}
	def, err := d.createDefaultRoot(d)
	if err != nil {
		return nil, fmt.Errorf("plexusdoc: createDefaultRoot: %w", err)
	}
	forcer, ok := def.(rootIDForcer)
	if !ok {
		return nil, fmt.Errorf("plexusdoc: default root type %T cannot be assigned the root id", def)
	}
	if err := forcer.ForceRootID(); err != nil {
		return nil, err
	}
	mat, ok := def.(codec.Materializer)
	if !ok {
		return nil, fmt.Errorf("plexusdoc: default root type %T is not materializable", def)
	}
	if err := d.Transact(func() error {
		_, err := mat.MaterializeInto(d)
		return err
	}); err != nil {
		return nil, err
	}
	return def, nil
}

// resolveDependencies reads the root's optional "dependencyVersion" record
// (spec.md §4.7) and fetches any dependency not already registered. It
// never mutates the "dependencies" set: that set's cross-document entity
// references were already stored by whichever replica first wrote them;
// this step only needs to make their target documents resolvable.
func (d *Document) resolveDependencies(ctx context.Context, root model.Entity) error {
	fa, ok := root.(fieldAccessor)
	if !ok {
		return nil
	}
	if _, has := fa.FieldSchema(dependencyVersionField); !has {
		return nil
	}
	versions, err := fa.RecordField(dependencyVersionField)
	if err != nil {
		return nil
	}
	entries, err := versions.Entries()
	if err != nil {
		return fmt.Errorf("plexusdoc: read %s: %w", dependencyVersionField, err)
	}
	for depID, v := range entries {
		version, _ := v.(string)
		if _, already := d.ResolveDependency(depID); already {
			continue
		}
		if _, err := d.fetchAndRegister(ctx, depID, version); err != nil {
			return fmt.Errorf("plexusdoc: resolve dependency %s: %w", depID, err)
		}
	}
	return nil
}

// --- load-by-id surface (spec.md §4.7) ------------------------------------

func (d *Document) requireRootLoaded() error {
	d.rootMu.Lock()
	loaded := d.rootLoaded
	d.rootMu.Unlock()
	if !loaded {
		return fmt.Errorf("%w: call Root before using the load-by-id surface", plexuserr.ErrLifecycle)
	}
	return nil
}

// LoadEntity resolves id against this document's models map.
func (d *Document) LoadEntity(id string) (model.Entity, error) {
	if err := d.requireRootLoaded(); err != nil {
		return nil, err
	}
	return codec.DecodeRef(d, crdt.RefTuple{EntityID: id})
}

// HasEntity reports whether id exists in this document's models map.
func (d *Document) HasEntity(id string) (bool, error) {
	if err := d.requireRootLoaded(); err != nil {
		return false, err
	}
	_, ok := d.crdtDoc.TopMap(modelsMapName).Get(id)
	return ok, nil
}

// GetEntityIds enumerates every entity id, or only those of typeName when
// non-empty.
func (d *Document) GetEntityIds(typeName string) ([]string, error) {
	if err := d.requireRootLoaded(); err != nil {
		return nil, err
	}
	models := d.crdtDoc.TopMap(modelsMapName)
	var ids []string
	for _, id := range models.Keys() {
		if typeName == "" {
			ids = append(ids, id)
			continue
		}
		v, _ := models.Get(id)
		subtree, ok := v.(crdt.Map)
		if !ok {
			continue
		}
		tt, _ := subtree.Get(typeTagKey)
		if s, _ := tt.(string); s == typeName {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetEntityType returns the type tag stored for id.
func (d *Document) GetEntityType(id string) (string, error) {
	if err := d.requireRootLoaded(); err != nil {
		return "", err
	}
	v, ok := d.crdtDoc.TopMap(modelsMapName).Get(id)
	if !ok {
		return "", fmt.Errorf("plexusdoc: no entity %s in document", id)
	}
	subtree, ok := v.(crdt.Map)
	if !ok {
		return "", fmt.Errorf("plexusdoc: entity %s subtree is malformed", id)
	}
	tt, _ := subtree.Get(typeTagKey)
	s, _ := tt.(string)
	if s == "" {
		return "", fmt.Errorf("%w: entity %s has no type tag", plexuserr.ErrUnknownType, id)
	}
	return s, nil
}

// --- dependencies (spec.md §4.7, C8) --------------------------------------

// fetchAndRegister fetches (or reuses, via the shared dedup table) the
// document for id@version and records it in this document's local
// dependency registry. It never touches this document's root; callers that
// need the "dependencies" set updated do that themselves (AddDependency).
func (d *Document) fetchAndRegister(ctx context.Context, id, version string) (*Document, error) {
	if d.fetchDependency == nil {
		return nil, fmt.Errorf("%w: dependency %s requested but no fetchDependency is configured", plexuserr.ErrLifecycle, id)
	}
	docIface, _, err := d.dedup.GetOrCreate(id, version, func() (model.Doc, error) {
		crdtDoc, ferr := d.fetchDependency(ctx, id, version)
		if ferr != nil {
			return nil, ferr
		}
		return d.newSubDocument(crdtDoc, id), nil
	})
	if err != nil {
		return nil, fmt.Errorf("plexusdoc: fetch dependency %s@%s: %w", id, version, err)
	}
	sub, ok := docIface.(*Document)
	if !ok {
		return nil, fmt.Errorf("plexusdoc: dependency %s resolved to an unexpected document type", id)
	}
	if _, err := sub.Root(ctx); err != nil {
		return nil, fmt.Errorf("plexusdoc: load root of dependency %s: %w", id, err)
	}

	d.depsMu.Lock()
	d.deps[id] = sub
	d.depVersions[id] = depgraph.CanonicalVersion(version)
	d.depsMu.Unlock()
	return sub, nil
}

// AddDependency fetches (or reuses) id@version and appends its root entity
// to the local root's "dependencies" set (spec.md §4.7). A second call with
// the same resolved version triggers no additional fetch (L3).
func (d *Document) AddDependency(ctx context.Context, id, version string) error {
	root, err := d.Root(ctx)
	if err != nil {
		return err
	}
	sub, err := d.fetchAndRegister(ctx, id, version)
	if err != nil {
		return err
	}
	return d.appendDependencyRoot(ctx, root, sub)
}

// UpdateDependency is a no-op if newVersion resolves to the same version
// already recorded for dep; otherwise it re-fetches and swaps dep's root
// out of the local "dependencies" set for the newly fetched one.
func (d *Document) UpdateDependency(ctx context.Context, dep model.Doc, newVersion string) error {
	depID := dep.DependencyID()
	if depID == "" {
		return fmt.Errorf("%w: the given document is not a dependency of this one", plexuserr.ErrLifecycle)
	}

	d.depsMu.Lock()
	cur, known := d.depVersions[depID]
	oldDoc := d.deps[depID]
	d.depsMu.Unlock()
	if known && cur == depgraph.CanonicalVersion(newVersion) {
		return nil
	}

	var oldRoot model.Entity
	if oldSub, ok := oldDoc.(*Document); ok {
		if r, err := oldSub.Root(ctx); err == nil {
			oldRoot = r
		}
	}

	root, err := d.Root(ctx)
	if err != nil {
		return err
	}
	sub, err := d.fetchAndRegister(ctx, depID, newVersion)
	if err != nil {
		return err
	}
	if err := d.appendDependencyRoot(ctx, root, sub); err != nil {
		return err
	}

	newRoot, err := sub.Root(ctx)
	if err != nil {
		return err
	}
	if oldRoot == nil || oldRoot.ID() == newRoot.ID() {
		return nil
	}
	fa, ok := root.(fieldAccessor)
	if !ok {
		return nil
	}
	depsSet, err := fa.SetField(dependenciesField)
	if err != nil {
		return nil
	}
	return d.Transact(func() error { return depsSet.Delete(oldRoot) })
}

func (d *Document) appendDependencyRoot(ctx context.Context, root model.Entity, sub *Document) error {
	fa, ok := root.(fieldAccessor)
	if !ok {
		return nil
	}
	if _, has := fa.FieldSchema(dependenciesField); !has {
		return nil
	}
	depsSet, err := fa.SetField(dependenciesField)
	if err != nil {
		return err
	}
	subRoot, err := sub.Root(ctx)
	if err != nil {
		return err
	}
	return d.Transact(func() error { return depsSet.Add(subRoot) })
}

// --- undo bridge (spec.md §4.7) -------------------------------------------

// Undo and Redo run the CRDT undo manager's replay inside the tracking
// transaction guard, so the container writes it replays (which the
// substrate fires through the same Map/Array Observe callbacks a live write
// uses) are batched and drained exactly like a normal transact body (spec.md
// P6, S6).
func (d *Document) Undo() error { return d.runUndoGuarded(d.undo.Undo) }
func (d *Document) Redo() error { return d.runUndoGuarded(d.undo.Redo) }

func (d *Document) CanUndo() bool { return d.undo.CanUndo() }
func (d *Document) CanRedo() bool { return d.undo.CanRedo() }

func (d *Document) runUndoGuarded(fn func() error) error {
	outermost := d.tracking.EnterTransaction()
	err := fn()
	d.tracking.ExitTransaction(outermost, err != nil)
	return err
}

// --- sync (spec.md §6.1) --------------------------------------------------

// EncodeStateAsUpdate snapshots the underlying CRDT document for exchange
// with another replica.
func (d *Document) EncodeStateAsUpdate() ([]byte, error) { return d.crdtDoc.EncodeStateAsUpdate() }

// ApplyRemoteUpdate merges update into this document inside the tracking
// transaction guard, so remote-origin writes notify trackers exactly like
// local ones (spec.md §5 "local and remote writes are indistinguishable
// except by timing", S3).
func (d *Document) ApplyRemoteUpdate(update []byte) error {
	return d.runUndoGuarded(func() error { return d.crdtDoc.ApplyUpdate(update) })
}
