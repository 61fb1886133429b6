package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: $XDG_CONFIG_HOME/agentsched/config.json
// Project: .agentsched/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	globalPath := filepath.Join(xdg.ConfigHome, "agentsched", "config.json")
	projectPath := filepath.Join(".agentsched", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file over the base config.
// Missing files are silently skipped. Malformed JSON returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Missing file is not an error
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	// Unmarshaling into the populated struct overwrites only the keys present
	// in the file, which gives the defaults-then-override behavior for free.
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}

// validate rejects configurations the scheduler cannot run with.
func (c *Config) validate() error {
	if c.Monitor.SampleInterval <= 0 {
		return fmt.Errorf("monitor.sample_interval must be positive, got %s", c.Monitor.SampleInterval.Std())
	}
	if c.Monitor.PerAgentMemory == 0 {
		return fmt.Errorf("monitor.per_agent_memory must be positive")
	}
	if c.Scaler.SafetyLimit < 1 {
		return fmt.Errorf("scaler.safety_limit must be at least 1, got %d", c.Scaler.SafetyLimit)
	}
	if c.Matcher.MinConfidence < 0 || c.Matcher.MinConfidence > 1 {
		return fmt.Errorf("matcher.min_confidence must be in [0,1], got %v", c.Matcher.MinConfidence)
	}
	if c.Scheduler.CyclePeriod <= 0 {
		return fmt.Errorf("scheduler.cycle_period must be positive, got %s", c.Scheduler.CyclePeriod.Std())
	}
	switch c.Topology {
	case "hierarchical", "mesh", "ring", "star":
	default:
		return fmt.Errorf("unknown topology %q (want hierarchical, mesh, ring, or star)", c.Topology)
	}
	return nil
}
