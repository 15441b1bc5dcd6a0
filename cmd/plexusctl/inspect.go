package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/plexus-engine/plexus"
)

// renderInspection prints a markdown summary of root (rendered through
// glamour for terminal styling) followed by a lipgloss/tree view of its
// owned subtree, the way the teacher's internal/ui package builds a
// lipgloss/tree for an EntityGraph (internal/ui/graph_render.go) underneath
// a plain textual header.
func renderInspection(doc *plexus.Document, root plexus.Entity) (string, error) {
	md := fmt.Sprintf("# %s\n\n- **id**: `%s`\n- **type**: `%s`\n",
		doc.DependencyID(), root.ID(), root.TypeName())
	if doc.DependencyID() == "" {
		md = fmt.Sprintf("# workspace\n\n- **id**: `%s`\n- **type**: `%s`\n", root.ID(), root.TypeName())
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(terminalWidth()),
		glamour.WithColorProfile(colorProfile()),
	)
	if err != nil {
		return "", fmt.Errorf("plexusctl: build markdown renderer: %w", err)
	}
	header, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("plexusctl: render markdown summary: %w", err)
	}

	t := buildEntityTree(root)
	return header + t.String(), nil
}

func buildEntityTree(e plexus.Entity) *tree.Tree {
	t := tree.New().Root(fmt.Sprintf("%s (%s)", e.ID(), e.TypeName()))
	t.EnumeratorStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("63")))

	w, ok := e.(*Workspace)
	if ok {
		tasks, err := w.ListField("tasks")
		if err == nil {
			n := tasks.Len()
			for i := 0; i < n; i++ {
				v, err := tasks.Get(i)
				if err != nil {
					continue
				}
				if child, ok := v.(plexus.Entity); ok {
					t.Child(buildEntityTree(child))
				}
			}
		}
		return t
	}

	task, ok := e.(*Task)
	if ok {
		notes, err := task.SetField("notes")
		if err == nil {
			values, err := notes.Values()
			if err == nil {
				for _, v := range values {
					if child, ok := v.(plexus.Entity); ok {
						t.Child(buildEntityTree(child))
					}
				}
			}
		}
		return t
	}

	return t
}

// summaryLine is a one-line, non-interactive fallback used when stdout
// isn't a terminal (e.g. piped output), avoiding glamour's ANSI styling.
func summaryLine(root plexus.Entity) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", root.TypeName(), root.ID()))
}
