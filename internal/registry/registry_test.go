package registry_test

import (
	"testing"

	"github.com/plexus-engine/plexus/internal/model"
	"github.com/plexus-engine/plexus/internal/registry"
)

func noopCtor(id string, doc model.Doc) model.Entity { return nil }

func TestDoubleRegistrationIsAnError(t *testing.T) {
	registry.Reset()
	schema := &model.Schema{TypeName: "registrytest.Widget", Fields: map[string]model.FieldSchema{}}
	if err := registry.Register("registrytest.Widget", schema, noopCtor); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := registry.Register("registrytest.Widget", schema, noopCtor); err == nil {
		t.Fatalf("second Register with the same type name succeeded, want error")
	}
}

func TestLookupReturnsSchemaAndConstructor(t *testing.T) {
	registry.Reset()
	schema := &model.Schema{TypeName: "registrytest.Widget", Fields: map[string]model.FieldSchema{}}
	if err := registry.Register("registrytest.Widget", schema, noopCtor); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ctor, ok := registry.Lookup("registrytest.Widget")
	if !ok {
		t.Fatalf("Lookup(Widget) = not found, want found")
	}
	if got != schema {
		t.Fatalf("Lookup(Widget) schema = %v, want the registered instance", got)
	}
	if ctor == nil {
		t.Fatalf("Lookup(Widget) constructor = nil, want noopCtor")
	}
	if _, _, ok := registry.Lookup("registrytest.DoesNotExist"); ok {
		t.Fatalf("Lookup(DoesNotExist) = found, want not found")
	}
}

// TestMergeDerivedFieldKindOverrideWins covers the schema side of spec.md
// §4.3: in the merged schema, a derived class's re-declaration of a field
// with a different kind replaces the parent's kind.
func TestMergeDerivedFieldKindOverrideWins(t *testing.T) {
	parent := &model.Schema{
		TypeName: "registrytest.Base",
		Fields: map[string]model.FieldSchema{
			"name":     {Name: "name", Kind: model.KindVal},
			"children": {Name: "children", Kind: model.KindList},
		},
		Order: []string{"name", "children"},
	}

	derived := model.Merge(parent, "registrytest.Derived", []model.FieldSchema{
		{Name: "children", Kind: model.KindChildList},
		{Name: "extra", Kind: model.KindVal},
	})

	f, ok := derived.Field("children")
	if !ok || f.Kind != model.KindChildList {
		t.Fatalf("derived.Field(children).Kind = %v, want KindChildList (override wins)", f.Kind)
	}
	if f, ok := derived.Field("name"); !ok || f.Kind != model.KindVal {
		t.Fatalf("derived.Field(name) = %v, %v; want KindVal inherited unchanged", f, ok)
	}
	if f, ok := derived.Field("extra"); !ok || f.Kind != model.KindVal {
		t.Fatalf("derived.Field(extra) = %v, %v; want a new field from the derived declarations", f, ok)
	}

	wantOrder := []string{"name", "children", "extra"}
	if len(derived.Order) != len(wantOrder) {
		t.Fatalf("derived.Order = %v, want %v", derived.Order, wantOrder)
	}
	for i, name := range wantOrder {
		if derived.Order[i] != name {
			t.Fatalf("derived.Order = %v, want %v", derived.Order, wantOrder)
		}
	}

	// Mutating the derived schema's fields must not reach back into the
	// parent's map (shallow merge copies the map, not the pointer).
	parentField, _ := parent.Field("children")
	if parentField.Kind != model.KindList {
		t.Fatalf("parent.Field(children).Kind = %v, want unchanged KindList", parentField.Kind)
	}
}
