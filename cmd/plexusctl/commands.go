package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the workspace's root entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := doc.Root(context.Background())
		if err != nil {
			return err
		}
		w := root.(*Workspace)
		name, _ := w.GetVal("name")
		tasks, err := w.ListField("tasks")
		if err != nil {
			return err
		}
		fmt.Printf("workspace %s\n  name: %v\n  tasks: %d\n", w.ID(), name, tasks.Len())
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a val field on the workspace root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := doc.Root(context.Background())
		if err != nil {
			return err
		}
		w := root.(*Workspace)
		if err := doc.Transact(func() error { return w.SetVal(args[0], args[1]) }); err != nil {
			return fmt.Errorf("plexusctl: set %s: %w", args[0], err)
		}
		return persistWorkspace(s, doc)
	},
}

var addTaskCmd = &cobra.Command{
	Use:   "add-task <title>",
	Short: "Append a new task to the workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := doc.Root(context.Background())
		if err != nil {
			return err
		}
		w := root.(*Workspace)
		tasks, err := w.ListField("tasks")
		if err != nil {
			return err
		}

		task := &Task{}
		b, err := NewEphemeralTask(task, args[0])
		if err != nil {
			return err
		}
		task.Base = b

		if err := doc.Transact(func() error { return tasks.Push(task) }); err != nil {
			return fmt.Errorf("plexusctl: add task: %w", err)
		}
		fmt.Printf("added task %s\n", task.ID())
		return persistWorkspace(s, doc)
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the most recent container write recorded in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		if !doc.CanUndo() {
			return fmt.Errorf("plexusctl: nothing to undo")
		}
		if err := doc.Undo(); err != nil {
			return err
		}
		return persistWorkspace(s, doc)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Redo the most recently undone container write",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		if !doc.CanRedo() {
			return fmt.Errorf("plexusctl: nothing to redo")
		}
		if err := doc.Redo(); err != nil {
			return err
		}
		return persistWorkspace(s, doc)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Render the workspace's object graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, doc, err := openWorkspace()
		if err != nil {
			return err
		}
		defer s.Close()

		root, err := doc.Root(context.Background())
		if err != nil {
			return err
		}
		if !isTerminal() {
			fmt.Println(summaryLine(root))
			return nil
		}
		out, err := renderInspection(doc, root)
		if err != nil {
			fmt.Println(summaryLine(root))
			return nil
		}
		fmt.Println(out)
		return nil
	},
}
