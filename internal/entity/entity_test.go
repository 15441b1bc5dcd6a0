package entity_test

import (
	"fmt"
	"testing"

	"github.com/plexus-engine/plexus/internal/crdt"
	"github.com/plexus-engine/plexus/internal/entity"
	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/registry"
	"github.com/plexus-engine/plexus/internal/tracking"
)

// node is a minimal concrete model type used to exercise internal/entity
// without depending on a demo package. It has a plain val field ("name"), a
// child-val field ("child"), a child-list field ("items"), a plain set
// field ("tags") and a child-record field ("kids").
type node struct{ *entity.Base }

const nodeType = "entitytest.Node"

func nodeSchema() *model.Schema {
	return &model.Schema{
		TypeName: nodeType,
		Fields: map[string]model.FieldSchema{
			"name":  {Name: "name", Kind: model.KindVal, Default: func() any { return "" }},
			"child": {Name: "child", Kind: model.KindChildVal, Default: func() any { return nil }},
			"items": {Name: "items", Kind: model.KindChildList},
			"tags":  {Name: "tags", Kind: model.KindSet},
			"kids":  {Name: "kids", Kind: model.KindChildRecord},
		},
		Order: []string{"name", "child", "items", "tags", "kids"},
	}
}

func registerNodeType(t *testing.T) {
	t.Helper()
	registry.Reset()
	registry.MustRegister(nodeType, nodeSchema(), func(id string, doc model.Doc) model.Entity {
		n := &node{}
		b, err := entity.FromRegistry(n, nodeType, id, doc)
		if err != nil {
			panic(err)
		}
		n.Base = b
		return n
	})
}

func newNode(t *testing.T, initial map[string]any) *node {
	t.Helper()
	n := &node{}
	b, err := entity.NewEphemeral(n, nodeType, initial)
	if err != nil {
		t.Fatalf("NewEphemeral: %v", err)
	}
	n.Base = b
	return n
}

// testDoc is a minimal model.Doc good enough to drive internal/entity in
// isolation, without depending on internal/plexusdoc.
type testDoc struct {
	crdtDoc  crdt.Document
	cache    *entity.Cache
	tracking *tracking.Tracking
	depID    string
	deps     map[string]model.Doc
}

func newTestDoc(clientID string) *testDoc {
	return &testDoc{
		crdtDoc:  crdt.NewDocument(clientID),
		cache:    entity.NewCache(),
		tracking: tracking.New(nil),
		deps:     make(map[string]model.Doc),
	}
}

func (d *testDoc) CRDT() crdt.Document               { return d.crdtDoc }
func (d *testDoc) Cache() model.EntityCache          { return d.cache }
func (d *testDoc) DependencyID() string              { return d.depID }
func (d *testDoc) Tracking() *tracking.Tracking      { return d.tracking }
func (d *testDoc) ResolveDependency(id string) (model.Doc, bool) {
	dd, ok := d.deps[id]
	return dd, ok
}

func (d *testDoc) NewEntity(typeName, id string) (model.Entity, error) {
	_, ctor, ok := registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("entitytest: unknown type %q", typeName)
	}
	return ctor(id, d), nil
}

func (d *testDoc) Transact(fn func() error) error {
	outermost := d.tracking.EnterTransaction()
	var inner error
	err := d.crdtDoc.Transact(func(crdt.Transaction) error {
		inner = fn()
		return inner
	})
	d.tracking.ExitTransaction(outermost, err != nil)
	if err != nil {
		return err
	}
	return inner
}

func mustMaterializeRoot(t *testing.T, doc *testDoc, n *node) {
	t.Helper()
	if _, err := n.MaterializeInto(doc); err != nil {
		t.Fatalf("MaterializeInto: %v", err)
	}
}

func TestEphemeralDefaultsAndExplicitValues(t *testing.T) {
	registerNodeType(t)
	n := newNode(t, map[string]any{"name": "explicit"})

	name, err := n.GetVal("name")
	if err != nil || name != "explicit" {
		t.Fatalf("GetVal(name) = %v, %v; want explicit, nil", name, err)
	}

	n2 := newNode(t, nil)
	name2, err := n2.GetVal("name")
	if err != nil || name2 != "" {
		t.Fatalf("GetVal(name) default = %v, %v; want \"\", nil", name2, err)
	}
}

func TestMaterializeIntoIsIdempotent(t *testing.T) {
	registerNodeType(t)
	doc := newTestDoc("r1")
	n := newNode(t, map[string]any{"name": "root"})

	id1, err := n.MaterializeInto(doc)
	if err != nil {
		t.Fatalf("MaterializeInto: %v", err)
	}
	id2, err := n.MaterializeInto(doc)
	if err != nil {
		t.Fatalf("MaterializeInto (repeat): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("repeat MaterializeInto returned a different id: %q vs %q", id1, id2)
	}

	cached, ok := doc.cache.Get(n.ID())
	if !ok || cached.ID() != n.ID() {
		t.Fatalf("entity not found in cache under its own id after materialization")
	}
}

func TestChildValAdoptionAndOrphanization(t *testing.T) {
	registerNodeType(t)
	doc := newTestDoc("r1")
	parent := newNode(t, map[string]any{"name": "parent"})
	mustMaterializeRoot(t, doc, parent)

	child := newNode(t, map[string]any{"name": "child"})
	if err := parent.SetVal("child", child); err != nil {
		t.Fatalf("SetVal(child): %v", err)
	}
	if child.Doc() == nil {
		t.Fatalf("child was not contagiously materialized by SetVal")
	}
	if got := child.Parent(); got == nil || got.ID() != parent.ID() {
		t.Fatalf("child.Parent() = %v, want %v", got, parent.ID())
	}

	// Replacing with nil must orphan the old child.
	if err := parent.SetVal("child", nil); err != nil {
		t.Fatalf("SetVal(child, nil): %v", err)
	}
	if got := child.Parent(); got != nil {
		t.Fatalf("child.Parent() after orphaning = %v, want nil", got)
	}
}

func TestChildValIdentityShortCircuit(t *testing.T) {
	registerNodeType(t)
	doc := newTestDoc("r1")
	parent := newNode(t, map[string]any{"name": "parent"})
	mustMaterializeRoot(t, doc, parent)
	child := newNode(t, map[string]any{"name": "child"})
	if err := parent.SetVal("child", child); err != nil {
		t.Fatalf("SetVal(child): %v", err)
	}

	var modifyCount int
	doc.tracking.OnModify(func(entityID string, field tracking.Key) {
		if entityID == parent.ID() && field == tracking.Key("child") {
			modifyCount++
		}
	})

	// Setting the exact same entity again must be a no-op (B4).
	if err := parent.SetVal("child", child); err != nil {
		t.Fatalf("SetVal(child) repeat: %v", err)
	}
	if modifyCount != 0 {
		t.Fatalf("identity-equal SetVal fired %d modify notifications, want 0", modifyCount)
	}
}

func TestChildListAdoptionMoveAndEmancipation(t *testing.T) {
	registerNodeType(t)
	doc := newTestDoc("r1")
	parent := newNode(t, map[string]any{"name": "parent"})
	mustMaterializeRoot(t, doc, parent)

	items, err := parent.ListField("items")
	if err != nil {
		t.Fatalf("ListField: %v", err)
	}
	a := newNode(t, map[string]any{"name": "a"})
	b := newNode(t, map[string]any{"name": "b"})
	if err := items.Push(a, b); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := a.Parent(); got == nil || got.ID() != parent.ID() {
		t.Fatalf("a.Parent() = %v, want %v", got, parent.ID())
	}

	// Moving a within the same list keeps it parented to the same owner.
	if _, err := items.Splice(0, 1); err != nil {
		t.Fatalf("Splice remove: %v", err)
	}
	if err := items.Push(a); err != nil {
		t.Fatalf("Push (move): %v", err)
	}
	if got := a.Parent(); got == nil || got.ID() != parent.ID() {
		t.Fatalf("a.Parent() after move = %v, want %v", got, parent.ID())
	}

	// Self-initiated orphaning clears the parent.
	if err := a.RequestOrphanization(); err != nil {
		t.Fatalf("RequestOrphanization: %v", err)
	}
	if got := a.Parent(); got != nil {
		t.Fatalf("a.Parent() after RequestOrphanization = %v, want nil", got)
	}
	if n := items.Len(); n != 1 {
		t.Fatalf("items.Len() = %d, want 1 (only b left)", n)
	}
}

func TestCloneRecursesChildrenAndAliasesNonChild(t *testing.T) {
	registerNodeType(t)
	shared := newNode(t, map[string]any{"name": "shared"})
	owned := newNode(t, map[string]any{"name": "owned"})

	source := newNode(t, map[string]any{"name": "source"})
	if err := source.SetVal("child", owned); err != nil {
		t.Fatalf("SetVal(child): %v", err)
	}
	tags, err := source.SetField("tags")
	if err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if err := tags.Add(shared); err != nil {
		t.Fatalf("tags.Add: %v", err)
	}
	items, err := owned.ListField("items")
	if err != nil {
		t.Fatalf("ListField: %v", err)
	}
	// owned's items list is left empty, so shared is reachable only through
	// source's non-child tags set and is never cloned: the clone's tags must
	// alias the original.
	_ = items

	clone, err := source.Clone(nil)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	cn := clone.(*node)
	if cn.ID() == source.ID() {
		t.Fatalf("clone has the same id as source")
	}

	childVal, err := cn.GetVal("child")
	if err != nil {
		t.Fatalf("GetVal(child) on clone: %v", err)
	}
	clonedChild, ok := childVal.(model.Entity)
	if !ok || clonedChild.ID() == owned.ID() {
		t.Fatalf("clone's child-val field still points at the source's child")
	}

	cloneTags, err := cn.SetField("tags")
	if err != nil {
		t.Fatalf("SetField(tags) on clone: %v", err)
	}
	cloneTagValues, err := cloneTags.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(cloneTagValues) != 1 {
		t.Fatalf("clone tags has %d members, want 1", len(cloneTagValues))
	}
	aliased, ok := cloneTagValues[0].(model.Entity)
	if !ok || aliased.ID() != shared.ID() {
		t.Fatalf("clone's non-child set field did not alias the original shared entity")
	}
}

func TestCloneOverridesWinOverSourceFields(t *testing.T) {
	registerNodeType(t)
	source := newNode(t, map[string]any{"name": "source"})
	clone, err := source.Clone(map[string]any{"name": "overridden"})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	cn := clone.(*node)
	v, err := cn.GetVal("name")
	if err != nil || v != "overridden" {
		t.Fatalf("GetVal(name) on clone = %v, %v; want overridden, nil", v, err)
	}
}
