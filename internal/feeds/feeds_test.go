// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package feeds

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticFeed(t *testing.T) {
	feed := NewStaticFeed(map[string]float64{"ETH/USDC": 0.004})

	s, err := feed.Spread(context.Background(), "ETH/USDC")
	if err != nil {
		t.Fatalf("Spread: %v", err)
	}
	if s != 0.004 {
		t.Fatalf("spread = %v, want 0.004", s)
	}

	if _, err := feed.Spread(context.Background(), "BTC/USDC"); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("err = %v, want ErrUnknownPair", err)
	}

	feed.Set("ETH/USDC", 0.01)
	if s, _ := feed.Spread(context.Background(), "ETH/USDC"); s != 0.01 {
		t.Fatalf("spread after Set = %v, want 0.01", s)
	}

	boom := errors.New("venue down")
	feed.FailNext(boom)
	if _, err := feed.Spread(context.Background(), "ETH/USDC"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want injected failure", err)
	}
	// injection is one-shot
	if _, err := feed.Spread(context.Background(), "ETH/USDC"); err != nil {
		t.Fatalf("second call: %v", err)
	}
}

func TestFileFeedReloadsEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spreads.json")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"ETH/USDC": 0.002}`)

	feed := NewFileFeed(path)
	if s, err := feed.Spread(context.Background(), "ETH/USDC"); err != nil || s != 0.002 {
		t.Fatalf("Spread = %v, %v", s, err)
	}

	write(`{"ETH/USDC": 0.009}`)
	if s, _ := feed.Spread(context.Background(), "ETH/USDC"); s != 0.009 {
		t.Fatalf("spread after rewrite = %v, want 0.009", s)
	}

	if _, err := feed.Spread(context.Background(), "BTC/USDC"); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("err = %v, want ErrUnknownPair", err)
	}

	write(`not json`)
	if _, err := feed.Spread(context.Background(), "ETH/USDC"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHTTPFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/spread/ETH%2FUSDC", "/spread/ETH/USDC":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"pair":"ETH/USDC","spread":0.0042}`))
		case "/spread/DOWN":
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL + "/")

	s, err := feed.Spread(context.Background(), "ETH/USDC")
	if err != nil {
		t.Fatalf("Spread: %v", err)
	}
	if s != 0.0042 {
		t.Fatalf("spread = %v, want 0.0042", s)
	}

	if _, err := feed.Spread(context.Background(), "NOPE"); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("err = %v, want ErrUnknownPair", err)
	}

	if _, err := feed.Spread(context.Background(), "DOWN"); err == nil {
		t.Fatal("expected error for 502")
	}
}
