// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package txengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/chain"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/nonce"
	"github.com/mevog/warden/internal/oplog"
)

func newTestEngine(t *testing.T, client chain.Client, opts ...Option) (*Builder, *metrics.Registry, string) {
	t.Helper()
	root := t.TempDir()
	logPath := filepath.Join(root, "tx_log.json")
	reg := metrics.NewRegistry()
	nm := nonce.NewManager(
		nonce.WithClient(client),
		nonce.WithCachePath(filepath.Join(root, "state", "nonce_cache.json")),
		nonce.WithLogger(oplog.New("nonce_manager", oplog.WithDir(root))),
	)
	signer := SignerFunc(func(_ context.Context, tx UnsignedTx) ([]byte, error) {
		return []byte(fmt.Sprintf("signed:%s:%d", tx.From, tx.Nonce)), nil
	})
	all := append([]Option{
		WithKillSwitch(killswitch.New(root)),
		WithLogger(oplog.New("tx_engine", oplog.WithPath(logPath))),
		WithMetrics(reg),
		WithBackoff(time.Millisecond),
	}, opts...)
	return NewBuilder(client, nm, signer, all...), reg, logPath
}

func txEvents(t *testing.T, path string) []oplog.Entry {
	t.Helper()
	entries, err := oplog.ReadFile(path)
	if err != nil {
		t.Fatalf("read tx log: %v", err)
	}
	return entries
}

func eventNames(entries []oplog.Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Event)
	}
	return names
}

func TestBuildSubmitsTransaction(t *testing.T) {
	client := chain.NewSimClient()
	client.SetNonce("0xabc", 7)
	eng, reg, logPath := newTestEngine(t, client)

	res, err := eng.Build(context.Background(), Request{
		From:       "0xabc",
		To:         "0xdef",
		Value:      big.NewInt(1),
		Data:       []byte{0x01, 0x02},
		StrategyID: "spread_monitor_v1",
		RiskLevel:  "medium",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.TxHash == "" || res.TxID == "" {
		t.Fatalf("result missing identifiers: %+v", res)
	}
	if res.Nonce != 7 {
		t.Fatalf("nonce = %d, want 7", res.Nonce)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", res.Attempts)
	}
	// sim estimates 21000 + 16 per byte, then the 1.2 margin applies
	if want := uint64(float64(21032) * DefaultGasMargin); res.GasLimit != want {
		t.Fatalf("gas limit = %d, want %d", res.GasLimit, want)
	}
	if res.GasPrice.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("gas price = %s, want 1 gwei", res.GasPrice)
	}

	sent := client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sent))
	}
	if string(sent[0].Raw) != "signed:0xabc:7" {
		t.Fatalf("raw bytes = %q", sent[0].Raw)
	}
	if sent[0].Hash != res.TxHash {
		t.Fatalf("hash mismatch: %s vs %s", sent[0].Hash, res.TxHash)
	}

	entries := txEvents(t, logPath)
	if got, want := fmt.Sprint(eventNames(entries)), "[built submitted]"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	for _, e := range entries {
		if e.TxID != res.TxID {
			t.Fatalf("entry %s has tx id %q, want %q", e.Event, e.TxID, res.TxID)
		}
		if e.StrategyID != "spread_monitor_v1" || e.RiskLevel != "medium" {
			t.Fatalf("entry %s lost request identity: %+v", e.Event, e)
		}
	}
	if reg.Value("tx_submitted_total") != 1 {
		t.Fatalf("tx_submitted_total = %v", reg.Value("tx_submitted_total"))
	}
}

func TestBuildBlockedByKillSwitch(t *testing.T) {
	client := chain.NewSimClient()
	eng, reg, logPath := newTestEngine(t, client)
	t.Setenv(killswitch.EnvOverride, "1")

	_, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if !errors.Is(err, ErrKillSwitch) {
		t.Fatalf("err = %v, want ErrKillSwitch", err)
	}
	if len(client.Sent()) != 0 {
		t.Fatal("blocked build reached the chain")
	}

	entries := txEvents(t, logPath)
	if len(entries) != 1 || entries[0].Event != "blocked" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Extra["reason"] != "kill_switch" {
		t.Fatalf("reason = %v", entries[0].Extra["reason"])
	}
	if entries[0].Extra["kill_triggered"] != true {
		t.Fatalf("kill_triggered = %v", entries[0].Extra["kill_triggered"])
	}
	if reg.Value("tx_blocked_total") != 1 {
		t.Fatalf("tx_blocked_total = %v", reg.Value("tx_blocked_total"))
	}
}

func TestBuildBlockedByCapitalLock(t *testing.T) {
	client := chain.NewSimClient()
	root := t.TempDir()
	lock := agents.NewCapitalLock(50, 100, 1000,
		agents.WithCapitalRegistry(agents.NewLocalRegistry()),
		agents.WithCapitalLogger(oplog.New("capital_lock", oplog.WithDir(root))))
	lock.RecordTrade(-200)
	if lock.TradeAllowed() {
		t.Fatal("lock should be blocked after blowing the loss limit")
	}

	eng, reg, logPath := newTestEngine(t, client, WithCapitalLock(lock))
	_, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if !errors.Is(err, ErrCapitalLocked) {
		t.Fatalf("err = %v, want ErrCapitalLocked", err)
	}
	if len(client.Sent()) != 0 {
		t.Fatal("blocked build reached the chain")
	}

	entries := txEvents(t, logPath)
	if len(entries) != 1 || entries[0].Extra["reason"] != "capital_lock" {
		t.Fatalf("entries = %+v", entries)
	}
	if reg.Value("tx_blocked_total") != 1 {
		t.Fatalf("tx_blocked_total = %v", reg.Value("tx_blocked_total"))
	}
}

func TestBuildRetriesOnNonceTooLow(t *testing.T) {
	client := chain.NewSimClient()
	client.SetNonce("0xabc", 5)
	client.FailNext("SendRawTx", errors.New("nonce too low"))
	eng, reg, _ := newTestEngine(t, client)

	res, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", res.Attempts)
	}
	if res.Nonce != 5 {
		t.Fatalf("nonce = %d, want 5 after resync", res.Nonce)
	}
	if reg.Value("tx_retries_total") != 1 {
		t.Fatalf("tx_retries_total = %v", reg.Value("tx_retries_total"))
	}
}

// failingClient makes every submission fail while the embedded sim serves
// the rest of the interface.
type failingClient struct {
	*chain.SimClient
	err error
}

func (f *failingClient) SendRawTx(ctx context.Context, raw []byte) (string, error) {
	return "", f.err
}

func TestBuildFailsAfterMaxAttempts(t *testing.T) {
	client := &failingClient{SimClient: chain.NewSimClient(), err: errors.New("mempool full")}
	eng, reg, logPath := newTestEngine(t, client, WithMaxAttempts(3))

	_, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "submit") || !strings.Contains(err.Error(), "mempool full") {
		t.Fatalf("err = %v", err)
	}

	entries := txEvents(t, logPath)
	if got, want := fmt.Sprint(eventNames(entries)), "[built failed]"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	last := entries[len(entries)-1]
	if last.Extra["stage"] != "submit" || last.Error == "" {
		t.Fatalf("failed entry = %+v", last)
	}
	if reg.Value("tx_retries_total") != 3 {
		t.Fatalf("tx_retries_total = %v", reg.Value("tx_retries_total"))
	}
	if reg.Value("tx_failed_total") != 1 {
		t.Fatalf("tx_failed_total = %v", reg.Value("tx_failed_total"))
	}
}

func TestBuildSignerErrorStopsPipeline(t *testing.T) {
	client := chain.NewSimClient()
	eng, _, logPath := newTestEngine(t, client)
	eng.signer = SignerFunc(func(context.Context, UnsignedTx) ([]byte, error) {
		return nil, errors.New("hsm offline")
	})

	_, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if err == nil || !strings.Contains(err.Error(), "sign: hsm offline") {
		t.Fatalf("err = %v", err)
	}
	if len(client.Sent()) != 0 {
		t.Fatal("unsigned transaction reached the chain")
	}
	entries := txEvents(t, logPath)
	last := entries[len(entries)-1]
	if last.Event != "failed" || last.Extra["stage"] != "sign" {
		t.Fatalf("failed entry = %+v", last)
	}
}

func TestBuildEstimateFailure(t *testing.T) {
	client := chain.NewSimClient()
	client.FailNext("EstimateGas", errors.New("execution reverted"))
	eng, reg, logPath := newTestEngine(t, client)

	_, err := eng.Build(context.Background(), Request{From: "0xabc", To: "0xdef"})
	if err == nil || !strings.Contains(err.Error(), "estimate: execution reverted") {
		t.Fatalf("err = %v", err)
	}
	entries := txEvents(t, logPath)
	if got, want := fmt.Sprint(eventNames(entries)), "[failed]"; got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if reg.Value("tx_failed_total") != 1 {
		t.Fatalf("tx_failed_total = %v", reg.Value("tx_failed_total"))
	}
}

func TestIsNonceTooLow(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("nonce too low"), true},
		{errors.New("rpc error -32000: Nonce TOO LOW"), true},
		{errors.New("replacement transaction underpriced"), true},
		{errors.New("insufficient funds"), false},
	}
	for _, tc := range cases {
		if got := isNonceTooLow(tc.err); got != tc.want {
			t.Errorf("isNonceTooLow(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
