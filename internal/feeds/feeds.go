// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package feeds supplies market spread observations to strategies. The
// orchestrator decides which implementation a run gets: the HTTP feed for
// live mode, the file or static feeds for sim runs and drills.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownPair is returned when a feed has no observation for the pair.
var ErrUnknownPair = errors.New("no spread for pair")

// Feed reports the current relative spread for a trading pair. A spread of
// 0.004 means the venues disagree by 0.4 percent.
type Feed interface {
	Spread(ctx context.Context, pair string) (float64, error)
}

// StaticFeed serves spreads from memory. Drills mutate it mid-run to steer
// strategies through scenarios.
type StaticFeed struct {
	mu      sync.Mutex
	spreads map[string]float64
	nextErr error
}

// NewStaticFeed seeds the feed. The map is copied.
func NewStaticFeed(spreads map[string]float64) *StaticFeed {
	cp := make(map[string]float64, len(spreads))
	for k, v := range spreads {
		cp[k] = v
	}
	return &StaticFeed{spreads: cp}
}

// Set updates one pair.
func (f *StaticFeed) Set(pair string, spread float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spreads[pair] = spread
}

// FailNext makes the next Spread call return err.
func (f *StaticFeed) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextErr = err
}

// Spread implements Feed.
func (f *StaticFeed) Spread(ctx context.Context, pair string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr; err != nil {
		f.nextErr = nil
		return 0, err
	}
	s, ok := f.spreads[pair]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return s, nil
}

// FileFeed reads spreads from a JSON object of pair to spread. The file is
// re-read on every call so sim scenarios can rewrite it while running.
type FileFeed struct {
	path string
}

// NewFileFeed points the feed at a fixture file.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// Spread implements Feed.
func (f *FileFeed) Spread(ctx context.Context, pair string) (float64, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return 0, fmt.Errorf("read fixture: %w", err)
	}
	var spreads map[string]float64
	if err := json.Unmarshal(raw, &spreads); err != nil {
		return 0, fmt.Errorf("parse fixture %s: %w", f.path, err)
	}
	s, ok := spreads[pair]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return s, nil
}

// HTTPFeed queries a spread service over HTTP. Responses are JSON with a
// "spread" field; anything but 200 is an error.
type HTTPFeed struct {
	base   string
	client *http.Client
}

// NewHTTPFeed builds a feed against the service base URL.
func NewHTTPFeed(base string) *HTTPFeed {
	return &HTTPFeed{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

// Spread implements Feed.
func (f *HTTPFeed) Spread(ctx context.Context, pair string) (float64, error) {
	endpoint := fmt.Sprintf("%s/spread/%s", f.base, url.PathEscape(pair))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("query feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed returned %s for %s", resp.Status, pair)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read feed response: %w", err)
	}
	var out struct {
		Pair   string  `json:"pair"`
		Spread float64 `json:"spread"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode feed response: %w", err)
	}
	return out.Spread, nil
}
