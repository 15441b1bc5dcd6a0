package plexusdoc_test

import (
	"context"
	"testing"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/entity"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/plexusdoc"
	"github.com/plexus-engine/plexus/internal/registry"
)

// project is the demo root type used to exercise plexusdoc: it has a plain
// val field, a child-val field, a non-child "dependencies" set and a plain
// "dependencyVersion" record, mirroring the shape spec.md §4.7 expects of a
// document's root.
type project struct{ *entity.Base }

const projectType = "plexusdoctest.Project"

func projectSchema() *model.Schema {
	return &model.Schema{
		TypeName: projectType,
		Fields: map[string]model.FieldSchema{
			"name":              {Name: "name", Kind: model.KindVal, Default: func() any { return "" }},
			"lead":              {Name: "lead", Kind: model.KindChildVal},
			"dependencies":      {Name: "dependencies", Kind: model.KindSet},
			"dependencyVersion": {Name: "dependencyVersion", Kind: model.KindRecord},
		},
		Order: []string{"name", "lead", "dependencies", "dependencyVersion"},
	}
}

func registerProjectType(t *testing.T) {
	t.Helper()
	registry.Reset()
	registry.MustRegister(projectType, projectSchema(), func(id string, doc model.Doc) model.Entity {
		p := &project{}
		b, err := entity.FromRegistry(p, projectType, id, doc)
		if err != nil {
			panic(err)
		}
		p.Base = b
		return p
	})
}

func newProject(t *testing.T, initial map[string]any) *project {
	t.Helper()
	p := &project{}
	b, err := entity.NewEphemeral(p, projectType, initial)
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	p.Base = b
	return p
}

func newTestDocument(t *testing.T, clientID string, opts ...plexusdoc.Option) *plexusdoc.Document {
	t.Helper()
	return plexusdoc.NewDocument(crdt.NewDocument(clientID), opts...)
}

func defaultRootFactory(t *testing.T) plexusdoc.CreateDefaultRootFunc {
	return func(doc model.Doc) (model.Entity, error) {
		p := newProject(t, map[string]any{"name": "untitled"})
		return p, nil
	}
}

func TestRootCreatesDeterministicDefaultAndCaches(t *testing.T) {
	registerProjectType(t)
	doc := newTestDocument(t, "r1", plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))

	root, err := doc.Root(context.Background())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	if root.ID() != "root" {
		t.Fatalf("root.ID() = %q, want \"root\"", root.ID())
	}

	root2, err := doc.Root(context.Background())
	if err != nil {
		t.Fatalf("Root (second call): %v", err)
	}
	if root2 != root {
		t.Fatalf("second Root() call returned a different entity instance")
	}

	has, err := doc.HasEntity("root")
	if err != nil || !has {
		t.Fatalf("HasEntity(root) = %v, %v; want true, nil", has, err)
	}
}

func TestRootRehydratesFromStoredEntity(t *testing.T) {
	registerProjectType(t)
	crdtDoc := crdt.NewDocument("r1")

	docA := plexusdoc.NewDocument(crdtDoc, plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))
	rootA, err := docA.Root(context.Background())
	if err != nil {
		t.Fatalf("Root (docA): %v", err)
	}

	// A second orchestrator over the SAME underlying CRDT document must
	// rehydrate the already-stored root rather than invoking
	// createDefaultRoot again (spec.md §4.7: "the first call either
	// rehydrates... or constructs one").
	docB := plexusdoc.NewDocument(crdtDoc, plexusdoc.WithCreateDefaultRoot(func(model.Doc) (model.Entity, error) {
		t.Fatalf("createDefaultRoot invoked on docB even though the root already exists")
		return nil, nil
	}))
	rootB, err := docB.Root(context.Background())
	if err != nil {
		t.Fatalf("Root (docB): %v", err)
	}
	if rootB.ID() != rootA.ID() {
		t.Fatalf("rootB.ID() = %q, want %q", rootB.ID(), rootA.ID())
	}
	if rootB.TypeName() != projectType {
		t.Fatalf("rootB.TypeName() = %q, want %q", rootB.TypeName(), projectType)
	}
}

func TestLoadEntityAndGetEntityIds(t *testing.T) {
	registerProjectType(t)
	doc := newTestDocument(t, "r1", plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))
	root, err := doc.Root(context.Background())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	p := root.(*project)

	lead := newProject(t, map[string]any{"name": "lead"})
	if err := p.SetVal("lead", lead); err != nil {
		t.Fatalf("SetVal(lead): %v", err)
	}

	ids, err := doc.GetEntityIds(projectType)
	if err != nil {
		t.Fatalf("GetEntityIds: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("GetEntityIds(%s) = %v, want 2 entries", projectType, ids)
	}

	loaded, err := doc.LoadEntity(lead.ID())
	if err != nil {
		t.Fatalf("LoadEntity: %v", err)
	}
	if loaded.ID() != lead.ID() {
		t.Fatalf("LoadEntity returned id %q, want %q", loaded.ID(), lead.ID())
	}

	typ, err := doc.GetEntityType(lead.ID())
	if err != nil || typ != projectType {
		t.Fatalf("GetEntityType(lead) = %q, %v; want %q, nil", typ, err, projectType)
	}
}

func TestLoadEntitySurfaceRequiresRootFirst(t *testing.T) {
	registerProjectType(t)
	doc := newTestDocument(t, "r1", plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))
	if _, err := doc.LoadEntity("anything"); err == nil {
		t.Fatalf("LoadEntity before Root() = nil error, want a lifecycle error")
	}
}

func TestUndoRedoThroughDocument(t *testing.T) {
	registerProjectType(t)
	doc := newTestDocument(t, "r1", plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))
	root, err := doc.Root(context.Background())
	if err != nil {
		t.Fatalf("Root: %v", err)
	}
	p := root.(*project)

	if err := doc.Transact(func() error { return p.SetVal("name", "renamed") }); err != nil {
		t.Fatalf("Transact: %v", err)
	}
	name, _ := p.GetVal("name")
	if name != "renamed" {
		t.Fatalf("name = %v, want renamed", name)
	}

	if !doc.CanUndo() {
		t.Fatalf("CanUndo() = false after a committed transaction")
	}
	if err := doc.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	name, _ = p.GetVal("name")
	if name != "untitled" {
		t.Fatalf("name after Undo = %v, want untitled", name)
	}

	if !doc.CanRedo() {
		t.Fatalf("CanRedo() = false after an undo")
	}
	if err := doc.Redo(); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	name, _ = p.GetVal("name")
	if name != "renamed" {
		t.Fatalf("name after Redo = %v, want renamed", name)
	}
}

func TestAddDependencyResolvesAndDedups(t *testing.T) {
	registerProjectType(t)

	depCRDT := crdt.NewDocument("dep1")
	depDoc := plexusdoc.NewDocument(depCRDT, plexusdoc.WithCreateDefaultRoot(func(model.Doc) (model.Entity, error) {
		return newProject(t, map[string]any{"name": "libcore"}), nil
	}))
	if _, err := depDoc.Root(context.Background()); err != nil {
		t.Fatalf("dep Root: %v", err)
	}

	fetchCount := 0
	fetch := func(ctx context.Context, id, version string) (crdt.Document, error) {
		fetchCount++
		return depCRDT, nil
	}

	doc := newTestDocument(t, "r1",
		plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)),
		plexusdoc.WithFetchDependency(fetch),
	)

	ctx := context.Background()
	if err := doc.AddDependency(ctx, "libcore", "1.0.0"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	if err := doc.AddDependency(ctx, "libcore", "v1.0.0"); err != nil {
		t.Fatalf("AddDependency (same version, differently spelled): %v", err)
	}
	if fetchCount != 1 {
		t.Fatalf("fetchDependency called %d times, want 1 (dedup on canonical version)", fetchCount)
	}

	resolved, ok := doc.ResolveDependency("libcore")
	if !ok {
		t.Fatalf("ResolveDependency(libcore) = false, want true")
	}
	if resolved.DependencyID() != "libcore" {
		t.Fatalf("resolved.DependencyID() = %q, want libcore", resolved.DependencyID())
	}

	root, _ := doc.Root(ctx)
	p := root.(*project)
	depsField, err := p.SetField("dependencies")
	if err != nil {
		t.Fatalf("SetField(dependencies): %v", err)
	}
	if depsField.Size() != 1 {
		t.Fatalf("dependencies set has %d members, want 1", depsField.Size())
	}
}

func TestEncodeStateAsUpdateRoundTrip(t *testing.T) {
	registerProjectType(t)
	doc := newTestDocument(t, "r1", plexusdoc.WithCreateDefaultRoot(defaultRootFactory(t)))
	if _, err := doc.Root(context.Background()); err != nil {
		t.Fatalf("Root: %v", err)
	}

	update, err := doc.EncodeStateAsUpdate()
	if err != nil {
		t.Fatalf("EncodeStateAsUpdate: %v", err)
	}

	mirror := newTestDocument(t, "r2")
	if err := mirror.ApplyRemoteUpdate(update); err != nil {
		t.Fatalf("ApplyRemoteUpdate: %v", err)
	}
	if _, err := mirror.Root(context.Background()); err != nil {
		t.Fatalf("Root on mirror after ApplyRemoteUpdate: %v", err)
	}
	ids, err := mirror.GetEntityIds("")
	if err != nil || len(ids) == 0 {
		t.Fatalf("mirror.GetEntityIds after sync = %v, %v; want at least one id", ids, err)
	}
}
