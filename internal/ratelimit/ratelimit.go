// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ratelimit paces calls to external services. The limiter hands out
// evenly spaced slots on a monotonic clock; the tx engine and price feeds
// share one per endpoint so bursts never hit an upstream rate cap.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter spaces actions at a fixed rate. Safe for concurrent use; waiters
// are served in the order they reserve slots.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	allowAt  time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New returns a limiter allowing perSecond actions per second. It panics on
// a non-positive rate, which is always a programming error.
func New(perSecond float64) *Limiter {
	if perSecond <= 0 {
		panic(fmt.Sprintf("ratelimit: rate must be > 0, got %v", perSecond))
	}
	return &Limiter{
		interval: time.Duration(float64(time.Second) / perSecond),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Allow reports whether an action may run now, consuming a slot when it
// may. It never blocks.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Before(l.allowAt) {
		return false
	}
	l.allowAt = now.Add(l.interval)
	return true
}

// Wait blocks until the caller's reserved slot arrives or ctx is done. A
// cancelled wait forfeits the slot; the pacing schedule is not rewound.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	turn := l.allowAt
	if now.After(turn) {
		turn = now
	}
	l.allowAt = turn.Add(l.interval)
	l.mu.Unlock()

	if delay := turn.Sub(now); delay > 0 {
		return l.sleep(ctx, delay)
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
