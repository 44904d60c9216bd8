// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/oplog"
)

// EnvOpsWebhook names the alert webhook endpoint. Notifications POST a
// {"text": ...} body, which both Slack and Mattermost accept.
const EnvOpsWebhook = "OPS_ALERT_WEBHOOK"

// PauseFlagName is the auto-pause flag file, relative to the root dir.
const PauseFlagName = "flags/ops_pause.flag"

// HealthCheck probes one aspect of the system. A nil error means healthy.
type HealthCheck func() error

// OpsAgent runs health checks and pauses trading when they fail. The pause
// is a flag file plus a registry bit, so other processes and the gatekeeper
// see it without talking to this one.
type OpsAgent struct {
	mu       sync.Mutex
	checks   map[string]HealthCheck
	paused   bool
	flagPath string

	registry *Registry
	log      *oplog.Logger
	client   *http.Client
	now      func() time.Time
	interval time.Duration
}

// OpsOption configures an OpsAgent.
type OpsOption func(*OpsAgent)

// WithOpsRegistry sets the registry the agent publishes to.
func WithOpsRegistry(r *Registry) OpsOption {
	return func(a *OpsAgent) { a.registry = r }
}

// WithOpsLogger sets an explicit logger.
func WithOpsLogger(l *oplog.Logger) OpsOption {
	return func(a *OpsAgent) { a.log = l }
}

// WithPauseFlag overrides the pause flag path.
func WithPauseFlag(path string) OpsOption {
	return func(a *OpsAgent) { a.flagPath = path }
}

// WithOpsInterval sets the check cadence for Run. Default is one minute.
func WithOpsInterval(d time.Duration) OpsOption {
	return func(a *OpsAgent) { a.interval = d }
}

// WithHTTPClient overrides the webhook client.
func WithHTTPClient(c *http.Client) OpsOption {
	return func(a *OpsAgent) { a.client = c }
}

// NewOpsAgent builds an agent over the given named checks. root anchors the
// pause flag file.
func NewOpsAgent(root string, checks map[string]HealthCheck, opts ...OpsOption) *OpsAgent {
	a := &OpsAgent{
		checks:   checks,
		flagPath: filepath.Join(root, filepath.FromSlash(PauseFlagName)),
		now:      time.Now,
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.log == nil {
		a.log = oplog.New("ops_agent")
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 5 * time.Second}
	}
	return a
}

// RunChecks executes every check once and returns the names that failed.
// Any failure pauses the agent.
func (a *OpsAgent) RunChecks(ctx context.Context) []string {
	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	for _, name := range names {
		if err := a.checks[name](); err != nil {
			_ = a.log.Log(oplog.Entry{Event: "health_exception", StrategyID: name, RiskLevel: "high", Error: err.Error()})
			failures = append(failures, name)
		}
	}
	if len(failures) > 0 {
		_ = a.log.Log(oplog.Entry{Event: "health_fail", StrategyID: strings.Join(failures, ","), RiskLevel: "high"})
		a.AutoPause(ctx, "health_fail")
	} else {
		_ = a.log.Log(oplog.Entry{Event: "health_ok", RiskLevel: "low"})
	}
	return failures
}

// AutoPause engages the pause once; repeated calls are no-ops until Unpause.
func (a *OpsAgent) AutoPause(ctx context.Context, reason string) {
	a.mu.Lock()
	if a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = true
	a.mu.Unlock()

	a.registry.SetBool(KeyOpsPaused, true)
	if err := a.writeFlag(reason); err != nil {
		logging.Warnf("ops pause flag: %v", err)
	}
	_ = a.log.Log(oplog.Entry{Event: "auto_pause", RiskLevel: "high", Error: reason})
	a.Notify(ctx, fmt.Sprintf("warden ops agent paused trading: %s", reason))
}

// Unpause clears the pause state and removes the flag file.
func (a *OpsAgent) Unpause() error {
	a.mu.Lock()
	a.paused = false
	a.mu.Unlock()

	a.registry.SetBool(KeyOpsPaused, false)
	if err := os.Remove(a.flagPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = a.log.Log(oplog.Entry{Event: "unpause", RiskLevel: "low"})
	return nil
}

// Paused reports whether this agent, or a previous process that left the
// flag file behind, paused trading.
func (a *OpsAgent) Paused() bool {
	a.mu.Lock()
	paused := a.paused
	a.mu.Unlock()
	if paused {
		return true
	}
	_, err := os.Stat(a.flagPath)
	return err == nil
}

func (a *OpsAgent) writeFlag(reason string) error {
	if err := os.MkdirAll(filepath.Dir(a.flagPath), 0o755); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"paused_at": a.now().UTC().Format(time.RFC3339),
		"reason":    reason,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(a.flagPath, append(body, '\n'), 0o644)
}

// Notify posts a message to the ops webhook when one is configured. Delivery
// failures are logged and swallowed; an alert must never take the agent down.
func (a *OpsAgent) Notify(ctx context.Context, message string) {
	if webhook := os.Getenv(EnvOpsWebhook); webhook != "" {
		body, _ := json.Marshal(map[string]string{"text": message})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			resp, err := a.client.Do(req)
			if err != nil {
				_ = a.log.Log(oplog.Entry{Event: "notify_fail", RiskLevel: "low", Error: err.Error()})
			} else {
				resp.Body.Close()
				if resp.StatusCode >= 300 {
					_ = a.log.Log(oplog.Entry{Event: "notify_fail", RiskLevel: "low", Error: resp.Status})
				}
			}
		}
	}
	_ = a.log.Log(oplog.Entry{Event: "notify", RiskLevel: "low", Extra: map[string]any{"message": message}})
}

// Run executes the checks on the configured interval until ctx is done.
func (a *OpsAgent) Run(ctx context.Context) error {
	a.RunChecks(ctx)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.RunChecks(ctx)
		}
	}
}

// DiskFreeCheck fails when the filesystem holding dir has fewer than
// minBytes available.
func DiskFreeCheck(dir string, minBytes uint64) HealthCheck {
	return func() error {
		free := drp.DiskFree(dir)
		if free < minBytes {
			return fmt.Errorf("disk free %d below minimum %d", free, minBytes)
		}
		return nil
	}
}

// LogFreshnessCheck fails when path has not been written within maxAge.
// A missing file counts as stale: a component that should be logging and
// is not is exactly what this check exists to catch.
func LogFreshnessCheck(path string, maxAge time.Duration) HealthCheck {
	return func() error {
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("log %s missing: %w", path, err)
		}
		if age := time.Since(fi.ModTime()); age > maxAge {
			return fmt.Errorf("log %s stale: last write %s ago", path, age.Round(time.Second))
		}
		return nil
	}
}

// DBPingCheck fails when the database is uninitialized or unreachable.
func DBPingCheck() HealthCheck {
	return func() error {
		if !db.IsInitialized() {
			return fmt.Errorf("database not initialized")
		}
		return db.Ping()
	}
}

// KillSwitchCheck fails while the kill switch is engaged, so an engaged
// switch also surfaces as an ops pause for anything watching only the pause.
func KillSwitchCheck(engaged func() bool) HealthCheck {
	return func() error {
		if engaged() {
			return fmt.Errorf("kill switch engaged")
		}
		return nil
	}
}
