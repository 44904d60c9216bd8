// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives a limiter without real sleeps. Slept durations advance
// the clock so pacing math is observable.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeLimiter(perSecond float64) (*Limiter, *fakeClock) {
	l := New(perSecond)
	c := &fakeClock{now: time.Unix(1000, 0)}
	l.now = func() time.Time { return c.now }
	l.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.slept = append(c.slept, d)
		c.now = c.now.Add(d)
		return nil
	}
	return l, c
}

func TestAllowSpacesSlots(t *testing.T) {
	l, c := newFakeLimiter(2) // one slot per 500ms

	if !l.Allow() {
		t.Fatal("first call blocked")
	}
	if l.Allow() {
		t.Fatal("second call allowed inside the interval")
	}
	c.now = c.now.Add(500 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("call blocked after the interval passed")
	}
}

func TestWaitPacesCalls(t *testing.T) {
	l, c := newFakeLimiter(2)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(c.slept) != 0 {
		t.Fatalf("first wait slept %v", c.slept)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(c.slept) != 1 || c.slept[0] != 500*time.Millisecond {
		t.Fatalf("second wait slept %v, want one 500ms sleep", c.slept)
	}
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(c.slept) != 2 || c.slept[1] != 500*time.Millisecond {
		t.Fatalf("third wait slept %v", c.slept)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRejectsBadRate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(0) did not panic")
		}
	}()
	New(0)
}
