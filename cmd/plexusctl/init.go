package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// initConfigFile is the shape written to .plexus/config.toml, matching
// internal/config.Settings' field names.
type initConfigFile struct {
	CacheEvictionPollInterval string `toml:"cache-eviction-poll-interval"`
	AuditLogPath              string `toml:"audit-log-path"`
	DependencyFetchTimeout    string `toml:"dependency-fetch-timeout"`
	Verbose                   bool   `toml:"verbose"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .plexus/config.toml in the workspace directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := initConfigFile{
			CacheEvictionPollInterval: "30s",
			DependencyFetchTimeout:    "10s",
		}

		if isTerminal() {
			if err := runInitWizard(&cfg); err != nil {
				return fmt.Errorf("plexusctl: setup wizard: %w", err)
			}
		}

		plexusDir := filepath.Join(flagDir, ".plexus")
		if err := os.MkdirAll(plexusDir, 0o755); err != nil {
			return fmt.Errorf("plexusctl: create %s: %w", plexusDir, err)
		}
		path := filepath.Join(plexusDir, "config.toml")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("plexusctl: create %s: %w", path, err)
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return fmt.Errorf("plexusctl: write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

// runInitWizard prompts for the handful of settings internal/config.Settings
// exposes, the same huh.NewForm/huh.NewGroup shape the teacher's cmd/bd/init.go
// uses for its setup wizard, scaled down to this engine's one config knob set.
func runInitWizard(cfg *initConfigFile) error {
	verbose := cfg.Verbose
	auditLog := cfg.AuditLogPath

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Plexus workspace setup").
				Description("Configure the orchestrator's ambient settings for this workspace."),
			huh.NewInput().
				Title("Audit log path").
				Description("Leave blank to disable transaction/undo audit logging.").
				Value(&auditLog),
			huh.NewSelect[bool]().
				Title("Verbose logging?").
				Options(
					huh.NewOption("Yes", true),
					huh.NewOption("No", false),
				).
				Value(&verbose),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	cfg.AuditLogPath = auditLog
	cfg.Verbose = verbose
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
