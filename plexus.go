// Package plexus is the facade a host application imports: it re-exports
// the engine's public surface from internal/model, internal/entity,
// internal/plexusdoc, internal/crdt and internal/tracking behind one
// import path, the way the teacher's top-level beads.go re-exports
// internal/beads.
package plexus

import (
	"io"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/entity"
	"github.com/plexus-engine/plexus/internal/logging"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexusdoc"
	"github.com/plexus-engine/plexus/internal/registry"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// Field kinds (spec.md §3).
const (
	KindVal         = model.KindVal
	KindChildVal    = model.KindChildVal
	KindList        = model.KindList
	KindChildList   = model.KindChildList
	KindSet         = model.KindSet
	KindChildSet    = model.KindChildSet
	KindRecord      = model.KindRecord
	KindChildRecord = model.KindChildRecord
)

type (
	// Kind is a field's declared shape.
	Kind = model.Kind
	// FieldSchema describes one field: its kind and default-value factory.
	FieldSchema = model.FieldSchema
	// Schema is a registered type's field table.
	Schema = model.Schema
	// Entity is any object in the graph: ephemeral, materialized, or a
	// dependency's root.
	Entity = model.Entity
	// Doc is the document contract entities are bound to; *Document
	// satisfies it.
	Doc = model.Doc
	// Owner is the parent-child protocol surface.
	Owner = model.Owner

	// Base is embedded by every concrete model type to get entity identity,
	// contagious materialization, the parent-child protocol and field
	// accessors for free.
	Base = entity.Base
	// ListView, SetView and RecordView are a field's reactive view, whether
	// the underlying entity is still ephemeral or already materialized.
	ListView = entity.ListView
	SetView  = entity.SetView
	RecordView = entity.RecordView

	// Document is the orchestrator: root loading, load-by-id, transactions,
	// dependency resolution, undo/redo and state sync.
	Document = plexusdoc.Document
	// DocOption configures a Document at construction time.
	DocOption = plexusdoc.Option
	// CreateDefaultRootFunc builds a document's deterministic default root.
	CreateDefaultRootFunc = plexusdoc.CreateDefaultRootFunc
	// FetchDependencyFunc resolves a dependency id+version to its CRDT
	// document.
	FetchDependencyFunc = plexusdoc.FetchDependencyFunc

	// CRDTDocument is the substrate a Document is built over.
	CRDTDocument = crdt.Document

	// TrackingKey names a field (or the All/Indices sentinels) in a
	// tracked-read report.
	TrackingKey = tracking.Key
	// Logger is the engine's ambient logging interface.
	Logger = logging.Logger
)

// Sentinel tracking keys (spec.md §4.4).
var (
	TrackAll     = tracking.All
	TrackIndices = tracking.Indices
)

// NewDocument constructs a root orchestrator over crdtDoc.
func NewDocument(crdtDoc CRDTDocument, opts ...DocOption) *Document {
	return plexusdoc.NewDocument(crdtDoc, opts...)
}

// WithLogger attaches the orchestrator's ambient logger.
func WithLogger(l Logger) DocOption {
	return plexusdoc.WithLogger(l)
}

// NewLogger constructs the module's default Logger, writing timestamped
// lines to out (os.Stderr if nil) when enabled is true.
func NewLogger(out io.Writer, enabled bool) Logger {
	return logging.New(out, enabled)
}

// WithCreateDefaultRoot supplies the factory invoked when a document has no
// stored root yet.
func WithCreateDefaultRoot(fn CreateDefaultRootFunc) DocOption {
	return plexusdoc.WithCreateDefaultRoot(fn)
}

// WithFetchDependency supplies the factory used to resolve a dependency id
// and version to its CRDT document.
func WithFetchDependency(fn FetchDependencyFunc) DocOption {
	return plexusdoc.WithFetchDependency(fn)
}

// NewInMemoryCRDT constructs the one CRDT substrate this module ships,
// good enough to develop and test the engine against; production hosts
// supply their own implementation of internal/crdt's interfaces.
func NewInMemoryCRDT(clientID string) CRDTDocument {
	return crdt.NewDocument(clientID)
}

// Field builds one schema entry.
func Field(name string, kind Kind, def func() any) FieldSchema {
	return FieldSchema{Name: name, Kind: kind, Default: def}
}

// NewSchema builds a root schema (no parent) from field declarations.
func NewSchema(typeName string, fields ...FieldSchema) *Schema {
	return model.Merge(nil, typeName, fields)
}

// Extend builds a derived schema: parent's fields shallow-merged with
// ownFields, with ownFields taking precedence on name collisions,
// including kind overrides (spec.md §4.3).
func Extend(parent *Schema, typeName string, ownFields ...FieldSchema) *Schema {
	return model.Merge(parent, typeName, ownFields)
}

// RegisterModel adds typeName to the process-wide registry. It is an error
// to register the same type name twice.
func RegisterModel(typeName string, schema *Schema, ctor registry.Constructor) error {
	return registry.Register(typeName, schema, ctor)
}

// MustRegisterModel panics on a registration conflict.
func MustRegisterModel(typeName string, schema *Schema, ctor registry.Constructor) {
	registry.MustRegister(typeName, schema, ctor)
}

// NewEphemeral constructs a fresh, unmaterialized instance of self's type,
// seeding fields from initial (or their schema defaults).
func NewEphemeral(self Entity, typeName string, initial map[string]any) (*Base, error) {
	return entity.NewEphemeral(self, typeName, initial)
}

// FromRegistry constructs self bound to (id, doc); used by a registered
// type's Constructor.
func FromRegistry(self Entity, typeName, id string, doc Doc) (*Base, error) {
	return entity.FromRegistry(self, typeName, id, doc)
}

// TrackedRead runs reader while recording every field it accesses, then
// arranges for onChange to fire exactly once the first time any of those
// fields next changes (spec.md §4.4).
func TrackedRead[T any](doc *Document, onChange func(), reader func() T) T {
	return tracking.TrackedRead(doc.Tracking(), onChange, reader)
}

// SuppressTracking runs fn without recording any of the reads it performs.
func SuppressTracking(doc *Document, fn func()) {
	doc.Tracking().SuppressTracking(fn)
}

// OnAccess registers the document-wide field-access hook (spec.md §4.4).
func OnAccess(doc *Document, fn func(entityID string, field TrackingKey)) {
	doc.Tracking().OnAccess(fn)
}

// OnModify registers the document-wide field-modification hook.
func OnModify(doc *Document, fn func(entityID string, field TrackingKey)) {
	doc.Tracking().OnModify(fn)
}
