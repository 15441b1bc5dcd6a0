// Command plexusctl is a demo host for the Plexus engine: it opens (or
// creates) a workspace document backed by SQLite persistence, runs
// transactions against it, and can simulate peer synchronization through a
// watched directory (SPEC_FULL.md §2, C9).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/plexus-engine/plexus"
	"github.com/plexus-engine/plexus/internal/config"
	"github.com/plexus-engine/plexus/internal/logging"
)

var (
	flagDir     string
	flagVerbose bool

	settings config.Settings
	log      plexus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "plexusctl",
	Short: "Drive a Plexus collaborative object graph from the command line",
}

func init() {
	registerDemoSchema()

	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", ".", "workspace directory (holds .plexus/)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log orchestrator activity to stderr")

	rootCmd.AddCommand(statusCmd, setCmd, addTaskCmd, undoCmd, redoCmd, watchCmd, syncCmd, inspectCmd, compactCmd)
}

func openWorkspace() (*store, *plexus.Document, error) {
	var err error
	settings, err = config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("plexusctl: load config: %w", err)
	}
	if flagVerbose {
		settings.Verbose = true
	}

	log = logging.New(os.Stderr, settings.Verbose)
	if settings.AuditLogPath != "" {
		log = logging.NewRotating(settings.AuditLogPath, 10, 3)
	}

	s, err := openStore(flagDir)
	if err != nil {
		return nil, nil, err
	}

	crdtDoc := plexus.NewInMemoryCRDT("plexusctl")
	if state, ok, loadErr := s.Load("workspace"); loadErr == nil && ok {
		if err := crdtDoc.ApplyUpdate(state); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("plexusctl: restore stored workspace: %w", err)
		}
	}

	doc := plexus.NewDocument(crdtDoc,
		plexus.WithLogger(log),
		plexus.WithCreateDefaultRoot(newDefaultWorkspace),
	)
	if _, err := doc.Root(context.Background()); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("plexusctl: load root: %w", err)
	}
	return s, doc, nil
}

// persistWorkspace saves the document's current state back to the store;
// every mutating command calls this before returning.
func persistWorkspace(s *store, doc *plexus.Document) error {
	data, err := doc.EncodeStateAsUpdate()
	if err != nil {
		return fmt.Errorf("plexusctl: encode workspace: %w", err)
	}
	return s.Save("workspace", data)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
