// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// package killswitch implements the global trading halt. The switch is a flag
// file on disk: engaging it creates the file, disengaging removes it. Every
// execution path that can move funds checks the switch before acting, so the
// halt works even when the process that triggered it is gone.
package killswitch // import "github.com/mevog/warden/internal/killswitch"

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

const (
	// EnvOverride short-circuits Engaged() when set to "1". It lets an
	// operator halt trading through the environment before any file I/O
	// is possible, and lets drills simulate an engaged switch.
	EnvOverride = "KILL_SWITCH"

	// EnvFlagFile overrides the flag file location.
	EnvFlagFile = "KILL_SWITCH_FLAG_FILE"

	// EnvLogFile overrides the kill switch log location.
	EnvLogFile = "KILL_SWITCH_LOG_FILE"
)

// State is the JSON body written into the flag file when the switch engages.
type State struct {
	EngagedAt time.Time `json:"engaged_at"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
}

// Switch manages the flag file and its operation log.
type Switch struct {
	flagPath string
	log      *oplog.Logger
	now      func() time.Time
}

// Option configures a Switch.
type Option func(*Switch)

// WithFlagPath sets an explicit flag file path, bypassing root and env resolution.
func WithFlagPath(path string) Option {
	return func(s *Switch) { s.flagPath = path }
}

// WithLogger sets an explicit operation logger.
func WithLogger(l *oplog.Logger) Option {
	return func(s *Switch) { s.log = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Switch) { s.now = now }
}

// New returns a Switch rooted at the given working tree. The flag file
// defaults to flags/kill_switch.txt under root; KILL_SWITCH_FLAG_FILE
// overrides it.
func New(root string, opts ...Option) *Switch {
	s := &Switch{
		flagPath: filepath.Join(root, "flags", "kill_switch.txt"),
		now:      time.Now,
	}
	if p := os.Getenv(EnvFlagFile); p != "" {
		s.flagPath = p
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		logOpts := []oplog.Option{oplog.WithDir(filepath.Join(root, "logs")), oplog.WithChain()}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = append(logOpts, oplog.WithPath(p))
		}
		s.log = oplog.New("kill_switch", logOpts...)
	}
	return s
}

// FlagPath returns the resolved flag file location.
func (s *Switch) FlagPath() string { return s.flagPath }

// Engaged reports whether trading is halted. The KILL_SWITCH=1 environment
// override wins over the flag file so a halt can be forced per-process.
func (s *Switch) Engaged() bool {
	if os.Getenv(EnvOverride) == "1" {
		return true
	}
	_, err := os.Stat(s.flagPath)
	return err == nil
}

// ReadState returns the flag file body, or nil when the switch is not engaged
// on disk. A flag file with unparseable content still counts as engaged; the
// returned state is then zero-valued except for EngagedAt taken from mtime.
func (s *Switch) ReadState() (*State, error) {
	data, err := os.ReadFile(s.flagPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		st = State{}
		if fi, statErr := os.Stat(s.flagPath); statErr == nil {
			st.EngagedAt = fi.ModTime()
		}
	}
	return &st, nil
}

// Trigger engages the switch: it writes the flag file and logs the event.
// Triggering an already engaged switch refreshes the flag file content.
func (s *Switch) Trigger(actor, reason string) error {
	st := State{EngagedAt: s.now().UTC(), Actor: actor, Reason: reason}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal kill switch state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.flagPath), 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}
	if err := os.WriteFile(s.flagPath, data, 0o644); err != nil {
		return fmt.Errorf("write flag file: %w", err)
	}
	return s.log.Log(oplog.Entry{
		Event:     "trigger",
		RiskLevel: "critical",
		Extra: map[string]any{
			"actor":     actor,
			"reason":    reason,
			"flag_file": s.flagPath,
		},
	})
}

// Clean disengages the switch by removing the flag file. Cleaning a switch
// that is not engaged is not an error; the event is logged either way so the
// log tells the full story of every drill.
func (s *Switch) Clean(actor string) error {
	removed := true
	if err := os.Remove(s.flagPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove flag file: %w", err)
		}
		removed = false
	}
	return s.log.Log(oplog.Entry{
		Event: "clean",
		Extra: map[string]any{
			"actor":     actor,
			"flag_file": s.flagPath,
			"removed":   removed,
		},
	})
}

// DryRun logs what a trigger would do without touching the flag file.
func (s *Switch) DryRun(actor string) error {
	return s.log.Log(oplog.Entry{
		Event: "dry-run",
		Extra: map[string]any{
			"actor":     actor,
			"flag_file": s.flagPath,
		},
	})
}
