// Package registry is the process-wide model registry (spec.md §4.3): a
// map from type name to constructor and schema. Registration happens once
// per class; double registration is a hard error, matching the teacher's
// fail-fast style for misconfiguration (config.Initialize's explicit error
// returns rather than panics or silent overwrite).
package registry

import (
	"fmt"
	"sync"

	"github.com/plexus-engine/plexus/internal/model"
)

// Constructor builds a fresh, ephemeral, zero-valued instance of a
// registered type bound to the given (id, doc) pair. internal/entity
// supplies these when it registers a type.
type Constructor func(id string, doc model.Doc) model.Entity

type registration struct {
	schema      *model.Schema
	constructor Constructor
}

var (
	mu    sync.RWMutex
	types = make(map[string]registration)
)

// Register adds typeName to the process-wide registry. It is an error to
// register the same type name twice (spec.md §4.3).
func Register(typeName string, schema *model.Schema, ctor Constructor) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := types[typeName]; exists {
		return fmt.Errorf("registry: type %q already registered", typeName)
	}
	types[typeName] = registration{schema: schema, constructor: ctor}
	return nil
}

// MustRegister panics on a registration conflict; for use in package-level
// var blocks where a duplicate name is a programming error, the way the
// teacher's cobra commands panic-on-init for malformed flag definitions.
func MustRegister(typeName string, schema *model.Schema, ctor Constructor) {
	if err := Register(typeName, schema, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the schema and constructor for typeName.
func Lookup(typeName string) (*model.Schema, Constructor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	reg, ok := types[typeName]
	if !ok {
		return nil, nil, false
	}
	return reg.schema, reg.constructor, true
}

// Schema returns the schema for typeName without its constructor.
func Schema(typeName string) (*model.Schema, bool) {
	s, _, ok := Lookup(typeName)
	return s, ok
}

// Reset clears the registry. Tests use this between cases so repeated
// Register calls for the same demo types don't trip the double-registration
// error; production code has no reason to call it.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	types = make(map[string]registration)
}

// TypeNames returns all currently registered type names, in no particular
// order.
func TypeNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	return names
}
