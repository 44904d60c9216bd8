// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package oplog writes the structured JSON Lines event logs every module
// appends to under logs/. Each entry carries a fixed schema plus free-form
// extras, and a logger can chain entries with a SHA-256 hash of its
// predecessor so the audit agent can detect tampering or truncation.
package oplog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one structured log line. The fixed fields mirror what every
// module reports; Extra is folded into the same JSON object on write.
type Entry struct {
	Timestamp  string         `json:"timestamp"`
	Event      string         `json:"event"`
	Module     string         `json:"module"`
	TxID       string         `json:"tx_id,omitempty"`
	StrategyID string         `json:"strategy_id,omitempty"`
	MutationID string         `json:"mutation_id,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	Error      string         `json:"error,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Extra      map[string]any `json:"-"`
}

// canonical returns the fixed-field encoding used for chain hashing. Extras
// are deliberately excluded so hash verification never depends on map order.
func (e Entry) canonical() string {
	return strings.Join([]string{
		e.Timestamp, e.Event, e.Module, e.TxID, e.StrategyID,
		e.MutationID, e.RiskLevel, e.Error, e.TraceID, e.PrevHash,
	}, "|")
}

// Hash returns the SHA-256 hex digest of the entry's canonical encoding.
func (e Entry) Hash() string {
	sum := sha256.Sum256([]byte(e.canonical()))
	return hex.EncodeToString(sum[:])
}

// MarshalJSON folds Extra into the top-level object next to the fixed fields.
func (e Entry) MarshalJSON() ([]byte, error) {
	type fixed Entry
	raw, err := json.Marshal(fixed(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return raw, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// UnmarshalJSON splits fixed fields from extras so a read-back entry hashes
// the same as the written one.
func (e *Entry) UnmarshalJSON(data []byte) error {
	type fixed Entry
	var f fixed
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for _, k := range []string{"timestamp", "event", "module", "tx_id", "strategy_id",
		"mutation_id", "risk_level", "error", "trace_id", "prev_hash"} {
		delete(obj, k)
	}
	*e = Entry(f)
	if len(obj) > 0 {
		e.Extra = obj
	}
	return nil
}

// hook receives a copy of every entry written by any logger in the process.
type hook func(Entry)

var (
	hooksMu sync.Mutex
	hooks   []hook
)

// RegisterHook subscribes fn to every log entry. Hooks run synchronously on
// the writing goroutine; a panicking hook is recovered and dropped from the
// write path so logging never takes the process down.
func RegisterHook(fn func(Entry)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, fn)
}

// ResetHooks removes all registered hooks. Intended for tests.
func ResetHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
}

func broadcast(e Entry) {
	hooksMu.Lock()
	snapshot := make([]hook, len(hooks))
	copy(snapshot, hooks)
	hooksMu.Unlock()
	for _, h := range snapshot {
		func() {
			defer func() { _ = recover() }()
			h(e)
		}()
	}
}

// Logger appends structured entries for a single module to one JSONL file.
// The file is opened per write so external rotation stays safe.
type Logger struct {
	module string
	path   string
	chain  bool
	trace  bool
	now    func() time.Time

	mu       sync.Mutex
	lastHash string
	primed   bool
}

// Option adjusts a Logger at construction time.
type Option func(*Logger)

// WithDir places the log file under dir instead of the default logs/.
func WithDir(dir string) Option {
	return func(l *Logger) { l.path = filepath.Join(dir, l.module+".json") }
}

// WithPath sets the exact log file path, overriding dir and env resolution.
func WithPath(path string) Option {
	return func(l *Logger) { l.path = path }
}

// WithChain links every entry to its predecessor via prev_hash.
func WithChain() Option {
	return func(l *Logger) { l.chain = true }
}

// WithTraceIDs stamps entries missing a TraceID with a fresh UUID.
func WithTraceIDs() Option {
	return func(l *Logger) { l.trace = true }
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New builds a logger for module. The path defaults to logs/<module>.json
// and honors the <MODULE>_LOG environment override, matching the layout the
// rest of the tooling expects.
func New(module string, opts ...Option) *Logger {
	l := &Logger{
		module: module,
		path:   filepath.Join("logs", module+".json"),
		now:    time.Now,
	}
	if env := os.Getenv(strings.ToUpper(module) + "_LOG"); env != "" {
		l.path = env
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the file this logger appends to.
func (l *Logger) Path() string { return l.path }

// Log stamps, chains and appends the entry, then broadcasts it to hooks.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	if e.Module == "" {
		e.Module = l.module
	}
	if l.trace && e.TraceID == "" {
		e.TraceID = uuid.NewString()
	}
	if l.chain {
		if !l.primed {
			if last, err := lastChainHash(l.path); err == nil {
				l.lastHash = last
			}
			l.primed = true
		}
		e.PrevHash = l.lastHash
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal oplog entry: %w", err)
	}
	if err := appendLine(l.path, data); err != nil {
		return err
	}
	if l.chain {
		l.lastHash = e.Hash()
	}
	broadcast(e)
	return nil
}

// Event is shorthand for Log with just an event name and key/value extras.
func (l *Logger) Event(event string, extra map[string]any) error {
	return l.Log(Entry{Event: event, Extra: extra})
}

func appendLine(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// lastChainHash replays an existing log so a restarted process continues the
// chain instead of forking it.
func lastChainHash(path string) (string, error) {
	entries, err := ReadFile(path)
	if err != nil || len(entries) == 0 {
		return "", err
	}
	return entries[len(entries)-1].Hash(), nil
}

// ReadFile parses every entry in a JSONL log. Blank lines are skipped;
// a malformed line fails the whole read since it means the log was edited.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return out, fmt.Errorf("malformed log line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Tail returns the last n entries of a log, fewer if the log is shorter.
func Tail(path string, n int) ([]Entry, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(entries) {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// VerifyChain replays a chained log and checks every prev_hash link.
// It returns the number of entries inspected and the first break found.
func VerifyChain(path string) (int, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return i, fmt.Errorf("chain break at entry %d: prev_hash %q, want %q", i+1, e.PrevHash, prev)
		}
		prev = e.Hash()
	}
	return len(entries), nil
}
