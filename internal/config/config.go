// Package config assembles Marcus's runtime configuration the way the
// teacher's factory.DefaultConfig()/cmd/factory/main.go do: a defaults
// function, overridden by an optional YAML file, overridden by flags.
// Per-project tunables are not part of Config: each project's
// kanban.ProjectConfig is stored inside its project row by
// internal/registry (there is no separate config collection).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration: things that do not vary
// per-project (per-project tunables live in kanban.ProjectConfig).
type Config struct {
	DataDir        string        `yaml:"data_dir"`
	Backend        string        `yaml:"backend"` // "file" or "sqlite"
	SQLitePath     string        `yaml:"sqlite_path"`
	KanbanProvider string        `yaml:"kanban_provider"` // "planka", "github", "fake"
	AIProvider     string        `yaml:"ai_provider"`     // "anthropic", "openai", "google", "fake"
	HTTPAddr       string        `yaml:"http_addr"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"` // "text" or "json"
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
}

// Default mirrors the teacher's DefaultConfig(): every field has a
// sane, non-zero value so a caller can run with zero configuration.
func Default() Config {
	return Config{
		DataDir:        "./marcus-data",
		Backend:        "sqlite",
		SQLitePath:     "./marcus-data/marcus.db",
		KanbanProvider: "fake",
		AIProvider:     "fake",
		HTTPAddr:       ":8090",
		LogLevel:       "info",
		LogFormat:      "text",
		ShutdownGrace:  10 * time.Second,
	}
}

// LoadFile overlays YAML file contents onto the receiver, following the
// "file overrides defaults" layering the teacher applies for flags over
// DefaultConfig(). A missing file is not an error — it mirrors the
// teacher's tolerant fallback-to-defaults behavior in cmd/factory/main.go.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// UpgradeLegacyFlag resolves spec.md §9's Open Question 2: old configs
// persisted bare booleans for feature toggles; this upgrades a decoded
// raw value (bool or map) into the FeatureFlag shape lazily, at the
// point of use, rather than as a stand-alone migration pass. See
// kanban.FeatureFlag and DESIGN.md's Open Questions section.
func UpgradeLegacyFlag(raw any) (enabled bool, options map[string]any) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case map[string]any:
		if e, ok := v["enabled"].(bool); ok {
			enabled = e
		}
		if opts, ok := v["options"].(map[string]any); ok {
			options = opts
		}
		return enabled, options
	default:
		return false, nil
	}
}
