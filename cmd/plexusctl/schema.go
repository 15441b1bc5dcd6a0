package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexus-engine/plexus"
	"github.com/plexus-engine/plexus/internal/registry"
)

// The demo schema mirrors the teacher's issue-tracker domain, translated
// into Plexus entities: a Workspace root owns a child-list of Tasks, each
// Task owns a child-set of Notes and non-child-references its blocking
// Tasks, and a Workspace may declare dependencies on other Plexus documents
// (libraries of shared Tasks).

const (
	workspaceType = "plexusctl.Workspace"
	taskType      = "plexusctl.Task"
	noteType      = "plexusctl.Note"
)

type Workspace struct{ *plexus.Base }
type Task struct{ *plexus.Base }
type Note struct{ *plexus.Base }

func registerDemoSchema() {
	noteSchema := plexus.NewSchema(noteType,
		plexus.Field("body", plexus.KindVal, func() any { return "" }),
	)
	plexus.MustRegisterModel(noteType, noteSchema, func(id string, doc plexus.Doc) plexus.Entity {
		n := &Note{}
		b, err := plexus.FromRegistry(n, noteType, id, doc)
		if err != nil {
			panic(err)
		}
		n.Base = b
		return n
	})

	taskSchema := plexus.NewSchema(taskType,
		plexus.Field("title", plexus.KindVal, func() any { return "" }),
		plexus.Field("done", plexus.KindVal, func() any { return false }),
		plexus.Field("notes", plexus.KindChildSet, nil),
		plexus.Field("blockedBy", plexus.KindSet, nil),
	)
	plexus.MustRegisterModel(taskType, taskSchema, func(id string, doc plexus.Doc) plexus.Entity {
		t := &Task{}
		b, err := plexus.FromRegistry(t, taskType, id, doc)
		if err != nil {
			panic(err)
		}
		t.Base = b
		return t
	})

	workspaceSchema := plexus.NewSchema(workspaceType,
		plexus.Field("name", plexus.KindVal, func() any { return "workspace" }),
		plexus.Field("tasks", plexus.KindChildList, nil),
		plexus.Field("dependencies", plexus.KindSet, nil),
		plexus.Field("dependencyVersion", plexus.KindRecord, nil),
	)
	plexus.MustRegisterModel(workspaceType, workspaceSchema, func(id string, doc plexus.Doc) plexus.Entity {
		w := &Workspace{}
		b, err := plexus.FromRegistry(w, workspaceType, id, doc)
		if err != nil {
			panic(err)
		}
		w.Base = b
		return w
	})
}

// newDefaultWorkspace is the deterministic default-root factory (spec.md
// §4.7): every replica that opens a document with no stored root yet builds
// the exact same ephemeral value here, so concurrent first-opens converge.
func newDefaultWorkspace(doc plexus.Doc) (plexus.Entity, error) {
	w := &Workspace{}
	b, err := plexus.NewEphemeral(w, workspaceType, map[string]any{"name": "workspace"})
	if err != nil {
		return nil, err
	}
	w.Base = b
	return w, nil
}

// NewEphemeralTask constructs a fresh, unmaterialized Task with the given
// title; contagious materialization attaches it to the workspace the first
// time it is pushed into a child-list field (spec.md §1 property 1).
func NewEphemeralTask(self *Task, title string) (*plexus.Base, error) {
	return plexus.NewEphemeral(self, taskType, map[string]any{"title": title})
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect and validate model schemas",
}

var schemaValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a YAML schema descriptor and report its field table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := registry.LoadSchemaYAML(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d field(s)\n", s.TypeName, len(s.Order))
		for _, name := range s.Order {
			fs := s.Fields[name]
			fmt.Printf("  %-20s %s\n", fs.Name, fs.Kind)
		}
		return nil
	},
}

func init() {
	schemaCmd.AddCommand(schemaValidateCmd)
	rootCmd.AddCommand(schemaCmd)
}
