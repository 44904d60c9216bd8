// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

// Founder token sources, checked in order.
const (
	EnvFounderToken     = "FOUNDER_TOKEN"
	EnvFounderTokenFile = "FOUNDER_TOKEN_FILE"
	DefaultTokenPath    = "founder.token"
)

// ErrFounderRequired is returned by Require when no valid founder approval
// covers the requested action.
var ErrFounderRequired = errors.New("founder approval required")

// FounderGate is the human-approval checkpoint for destructive operations.
// A token either names a single action with an expiry (`action:expiry`,
// RFC3339 or unix seconds) or is a bare standing token. Scoped tokens are
// the norm; standing tokens exist for break-glass runbooks.
type FounderGate struct {
	tokenPath string
	log       *oplog.Logger
	now       func() time.Time
}

// FounderOption configures a FounderGate.
type FounderOption func(*FounderGate)

// WithTokenPath overrides the default token file location.
func WithTokenPath(path string) FounderOption {
	return func(g *FounderGate) { g.tokenPath = path }
}

// WithFounderLogger sets an explicit logger.
func WithFounderLogger(l *oplog.Logger) FounderOption {
	return func(g *FounderGate) { g.log = l }
}

// WithFounderClock pins time for tests.
func WithFounderClock(now func() time.Time) FounderOption {
	return func(g *FounderGate) { g.now = now }
}

// NewFounderGate builds a gate reading FOUNDER_TOKEN, then the token file
// named by FOUNDER_TOKEN_FILE, then ./founder.token.
func NewFounderGate(opts ...FounderOption) *FounderGate {
	g := &FounderGate{
		tokenPath: DefaultTokenPath,
		now:       time.Now,
	}
	if p := os.Getenv(EnvFounderTokenFile); p != "" {
		g.tokenPath = p
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = oplog.New("founder_gate")
	}
	return g
}

// token returns the raw token and where it came from.
func (g *FounderGate) token() (string, string) {
	if env := os.Getenv(EnvFounderToken); env != "" {
		return env, "env"
	}
	data, err := os.ReadFile(g.tokenPath)
	if err != nil {
		return "", "none"
	}
	return strings.TrimSpace(string(data)), "file"
}

// Approved reports whether the current token authorizes action. Every check
// is logged with its outcome and token source.
func (g *FounderGate) Approved(action string) bool {
	token, source := g.token()
	approved := false
	if token != "" {
		if tokenAction, expiry, scoped := strings.Cut(token, ":"); scoped {
			approved = tokenAction == action && g.expiryValid(expiry)
		} else {
			// A bare token approves everything until it is removed.
			approved = true
		}
	}
	_ = g.log.Log(oplog.Entry{
		Event: "founder_check",
		Extra: map[string]any{
			"action":   action,
			"approved": approved,
			"source":   source,
		},
	})
	return approved
}

// expiryValid accepts RFC3339 or unix-seconds expiries in the future.
func (g *FounderGate) expiryValid(expiry string) bool {
	if ts, err := time.Parse(time.RFC3339, expiry); err == nil {
		return ts.After(g.now())
	}
	if secs, err := strconv.ParseFloat(expiry, 64); err == nil {
		return time.Unix(int64(secs), 0).After(g.now())
	}
	return false
}

// Require returns ErrFounderRequired unless the action is approved.
func (g *FounderGate) Require(action string) error {
	if !g.Approved(action) {
		return fmt.Errorf("%w for %s", ErrFounderRequired, action)
	}
	return nil
}

// MintToken formats a scoped token for action expiring at the given time.
// Used by `warden founder mint` so operators do not hand-assemble tokens.
func MintToken(action string, expiry time.Time) string {
	return action + ":" + expiry.UTC().Format(time.RFC3339)
}
