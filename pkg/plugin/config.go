package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ManagerConfig is the parsed plugin manifest. PluginDir anchors relative
// plugin paths; Defaults applies to every plugin without its own policy.
type ManagerConfig struct {
	PluginDir string                  `yaml:"pluginDir"`
	Defaults  IsolationPolicy         `yaml:"defaults"`
	Plugins   map[string]PluginConfig `yaml:"plugins"`
}

// PluginConfig is the manifest block for a single plugin instance.
type PluginConfig struct {
	Enabled bool             `yaml:"enabled"`
	Path    string           `yaml:"path"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// IsolationPolicy governs the security restrictions enforced for a plugin.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// LoadManagerConfig parses a YAML manifest and anchors relative plugin
// paths on PluginDir.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse plugin manifest %s: %w", path, err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	if cfg.PluginDir != "" {
		for id, entry := range cfg.Plugins {
			if entry.Path != "" && !filepath.IsAbs(entry.Path) {
				entry.Path = filepath.Join(cfg.PluginDir, entry.Path)
				cfg.Plugins[id] = entry
			}
		}
	}
	return cfg, nil
}

// Validate rejects manifests that cannot be acted on: enabled plugins
// without a binary path, and policies that both allow and deny the same
// capability.
func (c ManagerConfig) Validate() error {
	for id, entry := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if !entry.Enabled {
			continue
		}
		if entry.Path == "" {
			return fmt.Errorf("plugin %s path cannot be empty when enabled", id)
		}
		if entry.Policy != nil {
			for _, capability := range entry.Policy.AllowedCapabilities {
				if slices.Contains(entry.Policy.DeniedCapabilities, capability) {
					return fmt.Errorf("plugin %s both allows and denies capability %s", id, capability)
				}
			}
		}
	}
	return nil
}
