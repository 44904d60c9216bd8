// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package txengine assembles, signs and submits transactions. Every build
// starts with the kill switch and the capital lock; nothing reaches the
// wire once either says stop. Submissions retry with backoff and resync
// the nonce allocator when the chain reports a stale nonce.
package txengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/chain"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/nonce"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/ratelimit"
)

// EnvLogFile overrides the transaction log location.
const EnvLogFile = "TX_LOG_FILE"

// DefaultGasMargin is the headroom multiplied onto gas estimates.
const DefaultGasMargin = 1.2

// DefaultMaxAttempts bounds submission retries.
const DefaultMaxAttempts = 3

// DefaultBackoff is the base delay between submission attempts; attempt n
// waits n times this.
const DefaultBackoff = 250 * time.Millisecond

var (
	// ErrKillSwitch is returned when the kill switch blocks a build.
	ErrKillSwitch = errors.New("kill switch active")

	// ErrCapitalLocked is returned when the capital lock blocks a build.
	ErrCapitalLocked = errors.New("capital lock engaged")
)

// Request describes one transaction to place.
type Request struct {
	From       string
	To         string
	Value      *big.Int
	Data       []byte
	StrategyID string
	MutationID string
	RiskLevel  string
}

// UnsignedTx is the assembled transaction handed to the signer.
type UnsignedTx struct {
	ChainID  uint64
	From     string
	To       string
	Value    *big.Int
	Data     []byte
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
}

// Signer turns an assembled transaction into raw signed bytes. Key custody
// lives behind this seam; the engine never sees private keys.
type Signer interface {
	Sign(ctx context.Context, tx UnsignedTx) ([]byte, error)
}

// SignerFunc adapts a function to the Signer interface.
type SignerFunc func(ctx context.Context, tx UnsignedTx) ([]byte, error)

// Sign implements Signer.
func (f SignerFunc) Sign(ctx context.Context, tx UnsignedTx) ([]byte, error) {
	return f(ctx, tx)
}

// Result reports a successful submission.
type Result struct {
	TxID     string
	TxHash   string
	Nonce    uint64
	GasLimit uint64
	GasPrice *big.Int
	Attempts int
}

// Builder drives the build-sign-submit pipeline.
type Builder struct {
	client  chain.Client
	nonces  *nonce.Manager
	signer  Signer
	kill    *killswitch.Switch
	lock    *agents.CapitalLock
	limiter *ratelimit.Limiter
	log     *oplog.Logger
	reg     *metrics.Registry

	gasMargin   float64
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	chainID uint64
	haveID  bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithKillSwitch sets the switch consulted before every build.
func WithKillSwitch(s *killswitch.Switch) Option {
	return func(b *Builder) { b.kill = s }
}

// WithCapitalLock wires the capital lock check.
func WithCapitalLock(l *agents.CapitalLock) Option {
	return func(b *Builder) { b.lock = l }
}

// WithRateLimiter paces submissions through the limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(b *Builder) { b.limiter = l }
}

// WithLogger sets an explicit transaction logger.
func WithLogger(l *oplog.Logger) Option {
	return func(b *Builder) { b.log = l }
}

// WithMetrics sets the registry submission counters land in.
func WithMetrics(r *metrics.Registry) Option {
	return func(b *Builder) { b.reg = r }
}

// WithGasMargin overrides the estimate headroom.
func WithGasMargin(m float64) Option {
	return func(b *Builder) { b.gasMargin = m }
}

// WithMaxAttempts overrides the submission retry bound.
func WithMaxAttempts(n int) Option {
	return func(b *Builder) { b.maxAttempts = n }
}

// WithBackoff overrides the base retry delay.
func WithBackoff(d time.Duration) Option {
	return func(b *Builder) { b.backoff = d }
}

// NewBuilder wires the pipeline. client, nonces and signer are required;
// everything else has working defaults.
func NewBuilder(client chain.Client, nonces *nonce.Manager, signer Signer, opts ...Option) *Builder {
	b := &Builder{
		client:      client,
		nonces:      nonces,
		signer:      signer,
		gasMargin:   DefaultGasMargin,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.kill == nil {
		b.kill = killswitch.New(".")
	}
	if b.reg == nil {
		b.reg = metrics.Default()
	}
	if b.log == nil {
		logOpts := []oplog.Option{oplog.WithPath(filepath.Join("logs", "tx_log.json"))}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = []oplog.Option{oplog.WithPath(p)}
		}
		b.log = oplog.New("tx_engine", logOpts...)
	}
	return b
}

// Build assembles, signs and submits the requested transaction. The
// returned Result carries the accepted hash; a nil Result means nothing
// reached the chain.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	txID := uuid.NewString()

	if b.kill.Engaged() {
		b.logEvent(req, txID, oplog.Entry{
			Event: "blocked",
			Extra: map[string]any{"reason": "kill_switch", "kill_triggered": true},
		})
		b.reg.Inc("tx_blocked_total")
		return nil, ErrKillSwitch
	}
	if b.lock != nil && !b.lock.TradeAllowed() {
		b.logEvent(req, txID, oplog.Entry{
			Event: "blocked",
			Extra: map[string]any{"reason": "capital_lock"},
		})
		b.reg.Inc("tx_blocked_total")
		return nil, ErrCapitalLocked
	}

	chainID, err := b.resolveChainID(ctx)
	if err != nil {
		return nil, b.fail(req, txID, "chain_id", err)
	}
	estimate, err := b.client.EstimateGas(ctx, chain.CallMsg{
		From: req.From, To: req.To, Value: req.Value, Data: req.Data,
	})
	if err != nil {
		return nil, b.fail(req, txID, "estimate", err)
	}
	gasLimit := uint64(float64(estimate) * b.gasMargin)
	gasPrice, err := b.client.GasPrice(ctx)
	if err != nil {
		return nil, b.fail(req, txID, "gas_price", err)
	}
	b.logEvent(req, txID, oplog.Entry{
		Event: "built",
		Extra: map[string]any{
			"gas_estimate": estimate,
			"gas_limit":    gasLimit,
			"gas_price":    gasPrice.String(),
		},
	})

	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		n, err := b.nonces.Next(ctx, req.From, txID)
		if err != nil {
			return nil, b.fail(req, txID, "nonce", err)
		}
		raw, err := b.signer.Sign(ctx, UnsignedTx{
			ChainID:  chainID,
			From:     req.From,
			To:       req.To,
			Value:    req.Value,
			Data:     req.Data,
			Nonce:    n,
			GasLimit: gasLimit,
			GasPrice: gasPrice,
		})
		if err != nil {
			return nil, b.fail(req, txID, "sign", err)
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, b.fail(req, txID, "pacing", err)
			}
		}
		hash, err := b.client.SendRawTx(ctx, raw)
		if err == nil {
			b.logEvent(req, txID, oplog.Entry{
				Event: "submitted",
				Extra: map[string]any{"tx_hash": hash, "nonce": n, "attempt": attempt},
			})
			b.reg.Inc("tx_submitted_total")
			return &Result{
				TxID:     txID,
				TxHash:   hash,
				Nonce:    n,
				GasLimit: gasLimit,
				GasPrice: gasPrice,
				Attempts: attempt,
			}, nil
		}
		lastErr = err
		b.reg.Inc("tx_retries_total")
		if isNonceTooLow(err) {
			if rerr := b.nonces.Reset(ctx, req.From, txID); rerr != nil {
				return nil, b.fail(req, txID, "nonce_reset", rerr)
			}
		}
		if attempt < b.maxAttempts {
			if err := b.sleep(ctx, time.Duration(attempt)*b.backoff); err != nil {
				break
			}
		}
	}
	return nil, b.fail(req, txID, "submit", lastErr)
}

func (b *Builder) resolveChainID(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.haveID {
		return b.chainID, nil
	}
	id, err := b.client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	b.chainID = id
	b.haveID = true
	return id, nil
}

func (b *Builder) fail(req Request, txID, stage string, err error) error {
	b.logEvent(req, txID, oplog.Entry{
		Event: "failed",
		Error: err.Error(),
		Extra: map[string]any{"stage": stage},
	})
	b.reg.Inc("tx_failed_total")
	return fmt.Errorf("%s: %w", stage, err)
}

func (b *Builder) logEvent(req Request, txID string, e oplog.Entry) {
	e.TxID = txID
	e.StrategyID = req.StrategyID
	e.MutationID = req.MutationID
	e.RiskLevel = req.RiskLevel
	_ = b.log.Log(e)
}

// isNonceTooLow matches the error text execution clients return for a
// stale nonce.
func isNonceTooLow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "replacement transaction underpriced")
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
