package model_test

import (
	"testing"

	"github.com/plexus-engine/plexus/internal/model"
)

func TestKindStringNamesEveryDeclaredKind(t *testing.T) {
	cases := map[model.Kind]string{
		model.KindVal:         "val",
		model.KindChildVal:    "child-val",
		model.KindList:        "list",
		model.KindChildList:   "child-list",
		model.KindSet:         "set",
		model.KindChildSet:    "child-set",
		model.KindRecord:      "record",
		model.KindChildRecord: "child-record",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
	if got := model.Kind(99).String(); got != "unknown" {
		t.Fatalf("Kind(99).String() = %q, want unknown", got)
	}
}

func TestIsChildOnlyTrueForChildKinds(t *testing.T) {
	childKinds := map[model.Kind]bool{
		model.KindVal:         false,
		model.KindChildVal:    true,
		model.KindList:        false,
		model.KindChildList:   true,
		model.KindSet:         false,
		model.KindChildSet:    true,
		model.KindRecord:      false,
		model.KindChildRecord: true,
	}
	for k, want := range childKinds {
		if got := k.IsChild(); got != want {
			t.Fatalf("Kind(%v).IsChild() = %v, want %v", k, got, want)
		}
	}
}

func TestIsContainerFalseOnlyForValKinds(t *testing.T) {
	if model.KindVal.IsContainer() || model.KindChildVal.IsContainer() {
		t.Fatalf("val/child-val kinds must not report IsContainer = true")
	}
	for _, k := range []model.Kind{
		model.KindList, model.KindChildList,
		model.KindSet, model.KindChildSet,
		model.KindRecord, model.KindChildRecord,
	} {
		if !k.IsContainer() {
			t.Fatalf("Kind(%v).IsContainer() = false, want true", k)
		}
	}
}

func TestNonChildMapsChildKindsToTheirBase(t *testing.T) {
	cases := map[model.Kind]model.Kind{
		model.KindChildVal:    model.KindVal,
		model.KindChildList:   model.KindList,
		model.KindChildSet:    model.KindSet,
		model.KindChildRecord: model.KindRecord,
		model.KindVal:         model.KindVal,
		model.KindList:        model.KindList,
	}
	for in, want := range cases {
		if got := in.NonChild(); got != want {
			t.Fatalf("Kind(%v).NonChild() = %v, want %v", in, got, want)
		}
	}
}
