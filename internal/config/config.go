// Package config is the orchestrator's ambient configuration layer, ported
// from the teacher's viper-based config.Initialize: the same layered
// precedence (project file > user config dir > defaults), adapted from
// beads' issue-tracker flags to plexus' engine settings (cache eviction,
// audit log path, dependency-fetch timeout). The file format is TOML,
// decoded with BurntSushi/toml (a direct teacher dependency, used by the
// teacher's cmd/bd/formula.go to read/write its own TOML files) into a raw
// map that is merged into viper, rather than leaning on viper's bundled TOML
// support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Settings is the resolved configuration an orchestrator is built with.
type Settings struct {
	// CacheEvictionPollInterval governs how often internal/cache's weak slots
	// are opportunistically swept of dead entries (best-effort; Go's weak
	// package already lazily purges on Get).
	CacheEvictionPollInterval time.Duration
	// AuditLogPath is where internal/logging.NewRotating writes the
	// transaction/undo audit trail. Empty disables file logging.
	AuditLogPath string
	// DependencyFetchTimeout bounds how long fetchDependency is allowed to
	// suspend before addDependency/updateDependency give up (spec.md §5:
	// "Timeouts are the caller's responsibility").
	DependencyFetchTimeout time.Duration
	// Verbose enables internal/logging.Verbose's stderr output. When
	// AuditLogPath is set, plexusctl logs to that file only and Verbose has
	// no effect; the two outputs are not combined.
	Verbose bool
}

// Default returns the settings used when no config file or environment
// override is present.
func Default() Settings {
	return Settings{
		CacheEvictionPollInterval: 30 * time.Second,
		AuditLogPath:              "",
		DependencyFetchTimeout:    10 * time.Second,
		Verbose:                   false,
	}
}

// Load resolves Settings the way the teacher's config.Initialize resolves
// bd's config.yaml: walk up from the CWD looking for a project-local
// ".plexus/config.toml", else a user config dir copy, else defaults; then
// let PLEXUS_-prefixed environment variables override whatever was found.
func Load() (Settings, error) {
	v := viper.New()

	settings := Default()
	v.SetDefault("cache-eviction-poll-interval", settings.CacheEvictionPollInterval.String())
	v.SetDefault("audit-log-path", settings.AuditLogPath)
	v.SetDefault("dependency-fetch-timeout", settings.DependencyFetchTimeout.String())
	v.SetDefault("verbose", settings.Verbose)

	v.SetEnvPrefix("PLEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, ok := findConfigFile(); ok {
		raw, err := decodeTOMLFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return Settings{}, fmt.Errorf("config: merge %s: %w", path, err)
		}
	}

	pollInterval, err := time.ParseDuration(v.GetString("cache-eviction-poll-interval"))
	if err != nil {
		return Settings{}, fmt.Errorf("config: cache-eviction-poll-interval: %w", err)
	}
	fetchTimeout, err := time.ParseDuration(v.GetString("dependency-fetch-timeout"))
	if err != nil {
		return Settings{}, fmt.Errorf("config: dependency-fetch-timeout: %w", err)
	}

	return Settings{
		CacheEvictionPollInterval: pollInterval,
		AuditLogPath:              v.GetString("audit-log-path"),
		DependencyFetchTimeout:    fetchTimeout,
		Verbose:                   v.GetBool("verbose"),
	}, nil
}

// decodeTOMLFile decodes path into a raw key/value map suitable for
// viper.MergeConfigMap, the same toml.Decode call the teacher's
// cmd/bd/formula.go uses to read a .formula.toml file.
func decodeTOMLFile(path string) (map[string]any, error) {
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// findConfigFile mirrors the teacher's three-tier search: project
// ".plexus/config.toml" found by walking up from the CWD, then
// "$XDG_CONFIG_HOME/plexusctl/config.toml", else none.
func findConfigFile() (string, bool) {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".plexus", "config.toml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true
			}
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "plexusctl", "config.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}
