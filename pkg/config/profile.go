package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an optional YAML overlay for settings better
// expressed as structured data than a single env var, grounded on the
// teacher's RegionalProfile loader. ReceiptGate has no jurisdictional
// concerns, so this profile only covers deployment-shape knobs: pool
// sizing and the aux projection layers.
type DeploymentProfile struct {
	Name               string `yaml:"name"`
	MaxConcurrentWrites int64  `yaml:"max_concurrent_writes"`
	EnableGraphLayer    bool   `yaml:"enable_graph_layer"`
	EnableSemanticLayer bool   `yaml:"enable_semantic_layer"`
}

// LoadProfile reads a DeploymentProfile from path. An empty path means no
// profile was configured; callers should fall back to Config's own fields.
func LoadProfile(path string) (*DeploymentProfile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading profile %q: %w", path, err)
	}
	var p DeploymentProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parsing profile %q: %w", path, err)
	}
	return &p, nil
}

// ApplyProfile overlays non-zero profile fields onto c.
func (c *Config) ApplyProfile(p *DeploymentProfile) {
	if p == nil {
		return
	}
	if p.MaxConcurrentWrites > 0 {
		c.maxConcurrentWrites = p.MaxConcurrentWrites
	}
	if p.EnableGraphLayer {
		c.EnableGraphLayer = true
	}
	if p.EnableSemanticLayer {
		c.EnableSemanticLayer = true
	}
}

// MaxConcurrentWrites returns the write-concurrency bound set by the
// deployment profile, or 32 if no profile set one (no env var feeds it).
func (c *Config) MaxConcurrentWrites() int64 {
	if c.maxConcurrentWrites > 0 {
		return c.maxConcurrentWrites
	}
	return 32
}
