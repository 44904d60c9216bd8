// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package strategy defines the detection interface strategies implement,
// the edge-type registry implementations self-register into, and the
// scoring and lifetime machinery the orchestrator runs them under.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mevog/warden/internal/feeds"
)

// Signal is one actionable observation from a strategy. A nil Signal from
// Detect means the market offered nothing this cycle.
type Signal struct {
	StrategyID string
	Pair       string
	Spread     float64
	Action     string
}

// Strategy is the detection surface the orchestrator drives. Implementations
// must be safe for concurrent Detect calls.
type Strategy interface {
	// ID returns the strategy id from the manifest that built it.
	ID() string

	// Detect inspects the feed and reports an opportunity, or nil.
	Detect(ctx context.Context, feed feeds.Feed) (*Signal, error)

	// Params exposes the current tunable parameters.
	Params() map[string]float64
}

// Tunable is implemented by strategies that accept parameter mutations.
// Mutations only ever arrive through an approved proposal.
type Tunable interface {
	Apply(params map[string]float64) error
}

// Factory builds a strategy instance from its manifest.
type Factory func(m Manifest) (Strategy, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a factory for an edge type. Implementations call this from
// init; registering the same edge type twice is a programming error.
func Register(edgeType string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if edgeType == "" || f == nil {
		panic("strategy: Register needs an edge type and a factory")
	}
	if _, dup := factories[edgeType]; dup {
		panic(fmt.Sprintf("strategy factory for edge type '%s' already registered", edgeType))
	}
	factories[edgeType] = f
}

// Build constructs the strategy a manifest describes.
func Build(m Manifest) (Strategy, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	factoryMu.RLock()
	f, ok := factories[m.EdgeType]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for edge type %q (strategy %s)", m.EdgeType, m.StrategyID)
	}
	return f(m)
}

// EdgeTypes lists the registered edge types, sorted.
func EdgeTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
