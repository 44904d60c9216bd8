// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file every deployed strategy bundle carries.
const ManifestName = "strategy.yaml"

// Manifest is the edge schema describing one deployable strategy: identity,
// the edge type selecting the implementation, lifetime, trigger notes and
// tunable parameters.
type Manifest struct {
	StrategyID string             `yaml:"strategy_id"`
	EdgeType   string             `yaml:"edge_type"`
	Pair       string             `yaml:"pair,omitempty"`
	TTLHours   int                `yaml:"ttl_hours"`
	Triggers   []string           `yaml:"triggers,omitempty"`
	Params     map[string]float64 `yaml:"params,omitempty"`
	Bounds     map[string]Range   `yaml:"bounds,omitempty"`

	// Path is where the manifest was loaded from; not part of the schema.
	Path string `yaml:"-"`
}

// Range bounds one tunable parameter for mutation proposals.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Validate checks the fields every manifest must carry.
func (m Manifest) Validate() error {
	if m.StrategyID == "" {
		return errors.New("manifest missing strategy_id")
	}
	if m.EdgeType == "" {
		return fmt.Errorf("manifest for %s missing edge_type", m.StrategyID)
	}
	if m.TTLHours < 0 {
		return fmt.Errorf("manifest for %s has negative ttl_hours", m.StrategyID)
	}
	for name, r := range m.Bounds {
		if _, ok := m.Params[name]; !ok {
			return fmt.Errorf("manifest for %s bounds unknown param %q", m.StrategyID, name)
		}
		if r.Min > r.Max {
			return fmt.Errorf("manifest for %s has inverted bounds for %q", m.StrategyID, name)
		}
	}
	return nil
}

// TTL returns the manifest lifetime; zero means the strategy never expires.
func (m Manifest) TTL() time.Duration {
	return time.Duration(m.TTLHours) * time.Hour
}

// LoadManifest reads and validates a strategy.yaml.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.Path = path
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// WriteManifest persists a manifest, used when minting or promoting bundles.
func WriteManifest(path string, m Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
