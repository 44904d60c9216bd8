// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/mevog/warden/internal/feeds"
)

// EdgeSpreadMonitor is the built-in edge type watching one pair for a
// cross-venue spread.
const EdgeSpreadMonitor = "spread_monitor"

// DefaultSpreadThreshold fires when venues disagree by 0.3 percent.
const DefaultSpreadThreshold = 0.003

func init() {
	Register(EdgeSpreadMonitor, newSpreadMonitor)
}

// SpreadMonitor reports a signal whenever the feed spread for its pair
// reaches the threshold. The threshold is tunable through mutation.
type SpreadMonitor struct {
	mu        sync.Mutex
	id        string
	pair      string
	threshold float64
}

func newSpreadMonitor(m Manifest) (Strategy, error) {
	if m.Pair == "" {
		return nil, fmt.Errorf("spread_monitor manifest %s needs a pair", m.StrategyID)
	}
	threshold := DefaultSpreadThreshold
	if v, ok := m.Params["threshold"]; ok {
		if v <= 0 {
			return nil, fmt.Errorf("spread_monitor %s: threshold must be > 0, got %v", m.StrategyID, v)
		}
		threshold = v
	}
	return &SpreadMonitor{id: m.StrategyID, pair: m.Pair, threshold: threshold}, nil
}

// ID implements Strategy.
func (s *SpreadMonitor) ID() string { return s.id }

// Detect implements Strategy.
func (s *SpreadMonitor) Detect(ctx context.Context, feed feeds.Feed) (*Signal, error) {
	spread, err := feed.Spread(ctx, s.pair)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	threshold := s.threshold
	s.mu.Unlock()
	if spread < threshold {
		return nil, nil
	}
	return &Signal{
		StrategyID: s.id,
		Pair:       s.pair,
		Spread:     spread,
		Action:     "capture_spread",
	}, nil
}

// Params implements Strategy.
func (s *SpreadMonitor) Params() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]float64{"threshold": s.threshold}
}

// Apply implements Tunable. Unknown keys are ignored so a shared mutation
// payload can carry parameters for other edge types.
func (s *SpreadMonitor) Apply(params map[string]float64) error {
	v, ok := params["threshold"]
	if !ok {
		return nil
	}
	if v <= 0 {
		return fmt.Errorf("threshold must be > 0, got %v", v)
	}
	s.mu.Lock()
	s.threshold = v
	s.mu.Unlock()
	return nil
}

var (
	_ Strategy = (*SpreadMonitor)(nil)
	_ Tunable  = (*SpreadMonitor)(nil)
)
