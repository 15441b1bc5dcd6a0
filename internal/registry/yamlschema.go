package registry

import (
	"fmt"
	"os"

	"github.com/plexus-engine/plexus/internal/model"
	"gopkg.in/yaml.v3"
)

// yamlSchema mirrors a data-first schema declaration, for tooling that
// wants to describe a model's fields without writing Go (exercised by
// cmd/plexusctl's "schema validate" subcommand).
type yamlSchema struct {
	Type   string          `yaml:"type"`
	Fields []yamlFieldEntry `yaml:"fields"`
}

type yamlFieldEntry struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

var kindNames = map[string]model.Kind{
	"val":           model.KindVal,
	"child-val":     model.KindChildVal,
	"list":          model.KindList,
	"child-list":    model.KindChildList,
	"set":           model.KindSet,
	"child-set":     model.KindChildSet,
	"record":        model.KindRecord,
	"child-record":  model.KindChildRecord,
}

// LoadSchemaYAML parses a YAML schema descriptor and returns a *model.Schema
// without registering it, so callers can validate schema shape (field kind
// spelling, duplicate names) before wiring a constructor.
func LoadSchemaYAML(path string) (*model.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read schema file %s: %w", path, err)
	}

	var doc yamlSchema
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registry: parse schema file %s: %w", path, err)
	}
	if doc.Type == "" {
		return nil, fmt.Errorf("registry: schema file %s missing \"type\"", path)
	}

	schema := &model.Schema{TypeName: doc.Type, Fields: make(map[string]model.FieldSchema)}
	for _, f := range doc.Fields {
		kind, ok := kindNames[f.Kind]
		if !ok {
			return nil, fmt.Errorf("registry: schema file %s: field %q has unknown kind %q", path, f.Name, f.Kind)
		}
		if _, dup := schema.Fields[f.Name]; dup {
			return nil, fmt.Errorf("registry: schema file %s: duplicate field %q", path, f.Name)
		}
		schema.Fields[f.Name] = model.FieldSchema{Name: f.Name, Kind: kind, Default: defaultFor(kind)}
		schema.Order = append(schema.Order, f.Name)
	}
	return schema, nil
}

// defaultFor returns the kind-appropriate zero default (spec.md §6.3):
// nil for val kinds, empty containers for list/set/record kinds.
func defaultFor(k model.Kind) func() any {
	switch k {
	case model.KindVal, model.KindChildVal:
		return func() any { return nil }
	case model.KindList, model.KindChildList:
		return func() any { return []any{} }
	case model.KindSet, model.KindChildSet:
		return func() any { return map[any]struct{}{} }
	case model.KindRecord, model.KindChildRecord:
		return func() any { return map[string]any{} }
	default:
		return func() any { return nil }
	}
}
