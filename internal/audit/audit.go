// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package audit turns the JSONL event logs back into a verdict. It counts
// failures per log, verifies hash chains, flags logs that have gone quiet
// and checks that every kill switch engagement has a matching recovery.
// The report feeds the audit command and the dashboard.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

const (
	// DefaultStaleAfter is how long a log may go without entries before
	// the report flags it.
	DefaultStaleAfter = 24 * time.Hour
	// DefaultTail is how many recent entries each log contributes to the
	// report.
	DefaultTail = 5
)

// killModule is the module name the kill switch logs under.
const killModule = "kill_switch"

// LogReport summarizes one log file.
type LogReport struct {
	Path       string         `json:"path"`
	Module     string         `json:"module,omitempty"`
	Events     int            `json:"events"`
	Failures   int            `json:"failures"`
	ByEvent    map[string]int `json:"by_event,omitempty"`
	LastEvent  string         `json:"last_event,omitempty"`
	Stale      bool           `json:"stale,omitempty"`
	Chained    bool           `json:"chained,omitempty"`
	ChainError string         `json:"chain_error,omitempty"`
	ReadError  string         `json:"read_error,omitempty"`
	OpenKill   bool           `json:"open_kill,omitempty"`
	Recent     []oplog.Entry  `json:"recent,omitempty"`
}

// Report is the audit verdict over every inspected log.
type Report struct {
	GeneratedAt string      `json:"generated_at"`
	Logs        []LogReport `json:"logs"`
	TotalEvents int         `json:"total_events"`
	Failures    int         `json:"failures"`
	OpenKills   int         `json:"open_kills"`
	Anomalies   []string    `json:"anomalies,omitempty"`
	Status      string      `json:"status"`
	Suggestions []string    `json:"suggestions"`
}

// Failed reports whether the audit found logged errors, broken chains or
// unreadable logs.
func (r *Report) Failed() bool { return r.Status == "fail" }

// Auditor reads the logs under one directory.
type Auditor struct {
	dir        string
	staleAfter time.Duration
	tail       int
	log        *oplog.Logger
	now        func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithStaleAfter sets the quiet-log threshold. Zero disables the check.
func WithStaleAfter(d time.Duration) Option {
	return func(a *Auditor) { a.staleAfter = d }
}

// WithTail sets how many recent entries each log report carries.
func WithTail(n int) Option {
	return func(a *Auditor) { a.tail = n }
}

// WithLogger sets an explicit logger.
func WithLogger(l *oplog.Logger) Option {
	return func(a *Auditor) { a.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// New builds an auditor over the given log directory.
func New(dir string, opts ...Option) *Auditor {
	a := &Auditor{
		dir:        dir,
		staleAfter: DefaultStaleAfter,
		tail:       DefaultTail,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tail < 0 {
		a.tail = 0
	}
	if a.log == nil {
		a.log = oplog.New("audit_agent")
	}
	return a
}

// Discover lists the JSONL logs under the auditor's directory, sorted.
func (a *Auditor) Discover() ([]string, error) {
	var out []string
	for _, pat := range []string{"*.log", "*.json", "*.jsonl"} {
		matches, err := filepath.Glob(filepath.Join(a.dir, pat))
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out, nil
}

// Run audits the named logs, or every log under the directory when none
// are given. The verdict is "fail" when any log carries errors, breaks
// its hash chain or cannot be read; anomalies that only need a look
// (stale logs, an engaged kill switch) are listed without failing the
// audit.
func (a *Auditor) Run(paths ...string) (*Report, error) {
	if len(paths) == 0 {
		discovered, err := a.Discover()
		if err != nil {
			return nil, err
		}
		paths = discovered
	}

	rep := &Report{GeneratedAt: a.now().UTC().Format(time.RFC3339), Status: "pass"}
	for _, path := range paths {
		lr := a.inspect(path)
		rep.Logs = append(rep.Logs, lr)
		rep.TotalEvents += lr.Events
		rep.Failures += lr.Failures

		base := filepath.Base(path)
		if lr.ReadError != "" {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("%s: unreadable: %s", base, lr.ReadError))
			rep.Status = "fail"
		}
		if lr.ChainError != "" {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("%s: %s", base, lr.ChainError))
			rep.Status = "fail"
		}
		if lr.Stale {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("%s: no entries in the last %s", base, a.staleAfter))
		}
		if lr.OpenKill {
			rep.OpenKills++
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("%s: kill switch engaged without a recorded recovery", base))
		}
	}
	if rep.Failures > 0 {
		rep.Status = "fail"
	}
	rep.Suggestions = rep.suggest()

	_ = a.log.Log(oplog.Entry{
		Event:     "audit_summary",
		RiskLevel: "low",
		Extra: map[string]any{
			"logs":         len(rep.Logs),
			"total_events": rep.TotalEvents,
			"failures":     rep.Failures,
			"open_kills":   rep.OpenKills,
			"status":       rep.Status,
		},
	})
	return rep, nil
}

func (a *Auditor) inspect(path string) LogReport {
	lr := LogReport{Path: path}
	entries, err := oplog.ReadFile(path)
	if err != nil {
		lr.ReadError = err.Error()
		_ = a.log.Log(oplog.Entry{
			Event:     "log_read_error",
			RiskLevel: "low",
			Error:     err.Error(),
			Extra:     map[string]any{"path": path},
		})
		return lr
	}

	lr.Events = len(entries)
	byEvent := map[string]int{}
	var last time.Time
	engaged := false
	for _, e := range entries {
		if lr.Module == "" {
			lr.Module = e.Module
		}
		byEvent[e.Event]++
		if e.Error != "" {
			lr.Failures++
		}
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil && ts.After(last) {
			last = ts
		}
		if e.Module == killModule {
			switch e.Event {
			case "trigger":
				engaged = true
			case "clean":
				engaged = false
			}
		}
	}
	if len(byEvent) > 0 {
		lr.ByEvent = byEvent
	}
	lr.OpenKill = engaged

	if !last.IsZero() {
		lr.LastEvent = last.UTC().Format(time.RFC3339)
	} else if fi, err := os.Stat(path); err == nil {
		// empty log, judge freshness by the file itself
		last = fi.ModTime()
	}
	if a.staleAfter > 0 && !last.IsZero() && a.now().Sub(last) > a.staleAfter {
		lr.Stale = true
	}

	if len(entries) > 1 && entries[1].PrevHash != "" {
		lr.Chained = true
		if _, err := oplog.VerifyChain(path); err != nil {
			lr.ChainError = err.Error()
		}
	}

	if a.tail > 0 && len(entries) > 0 {
		n := a.tail
		if n > len(entries) {
			n = len(entries)
		}
		lr.Recent = entries[len(entries)-n:]
	}
	return lr
}

// suggest turns the findings into next steps for whoever reads the
// report.
func (r *Report) suggest() []string {
	var out []string
	if r.Failures > 0 {
		out = append(out, "Address the logged errors and rerun the chaos drills.")
	}
	for _, lr := range r.Logs {
		base := filepath.Base(lr.Path)
		if lr.ReadError != "" {
			out = append(out, fmt.Sprintf("Repair or remove the unreadable log %s.", base))
		}
		if lr.ChainError != "" {
			out = append(out, fmt.Sprintf("Inspect %s for tampering or truncation before trusting its history.", base))
		}
		if lr.Stale {
			name := lr.Module
			if name == "" {
				name = base
			}
			out = append(out, fmt.Sprintf("Check whether %s is still running; its log has gone quiet.", name))
		}
	}
	if r.OpenKills > 0 {
		out = append(out, "Clean the kill switch once the incident is resolved.")
	}
	if len(out) == 0 {
		out = append(out, "No failures detected.")
	}
	return out
}
