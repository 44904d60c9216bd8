// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"
)

// baseTxGas is the intrinsic gas of any transaction; the sim charges a flat
// per-byte rate on top so estimates stay deterministic.
const (
	baseTxGas  = 21000
	perByteGas = 16
)

// SentTx is one raw transaction accepted by the sim.
type SentTx struct {
	Hash string
	Raw  []byte
}

// SimClient is a deterministic in-memory Client. Drills and tests drive
// nonce drift and failures through its setters instead of a live endpoint.
type SimClient struct {
	mu       sync.Mutex
	chainID  uint64
	gasPrice *big.Int
	nonces   map[string]uint64
	sent     []SentTx
	failNext map[string]error
}

// SimOption configures a SimClient.
type SimOption func(*SimClient)

// WithSimChainID sets the reported chain id.
func WithSimChainID(id uint64) SimOption {
	return func(s *SimClient) { s.chainID = id }
}

// WithSimGasPrice sets the reported gas price in wei.
func WithSimGasPrice(wei *big.Int) SimOption {
	return func(s *SimClient) { s.gasPrice = new(big.Int).Set(wei) }
}

// WithSimNonce seeds the pending nonce for an address.
func WithSimNonce(address string, nonce uint64) SimOption {
	return func(s *SimClient) { s.nonces[address] = nonce }
}

// NewSimClient returns a sim on chain id 31337 with a 1 gwei gas price.
func NewSimClient(opts ...SimOption) *SimClient {
	s := &SimClient{
		chainID:  31337,
		gasPrice: big.NewInt(1_000_000_000),
		nonces:   map[string]uint64{},
		failNext: map[string]error{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of the named method return err.
func (s *SimClient) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *SimClient) takeFailure(method string) error {
	if err, ok := s.failNext[method]; ok {
		delete(s.failNext, method)
		return err
	}
	return nil
}

// ChainID implements Client.
func (s *SimClient) ChainID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("ChainID"); err != nil {
		return 0, err
	}
	return s.chainID, nil
}

// PendingNonce implements Client.
func (s *SimClient) PendingNonce(ctx context.Context, address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("PendingNonce"); err != nil {
		return 0, err
	}
	return s.nonces[address], nil
}

// GasPrice implements Client.
func (s *SimClient) GasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("GasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.gasPrice), nil
}

// EstimateGas implements Client.
func (s *SimClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("EstimateGas"); err != nil {
		return 0, err
	}
	return baseTxGas + perByteGas*uint64(len(msg.Data)), nil
}

// SendRawTx implements Client. The hash is the sha256 of the raw bytes so
// resubmitting identical bytes is visible in drill assertions.
func (s *SimClient) SendRawTx(ctx context.Context, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SendRawTx"); err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	hash := "0x" + hex.EncodeToString(sum[:])
	cp := make([]byte, len(raw))
	copy(cp, raw)
	s.sent = append(s.sent, SentTx{Hash: hash, Raw: cp})
	return hash, nil
}

// SetNonce moves the pending nonce for an address, simulating chain
// progress or an external spender.
func (s *SimClient) SetNonce(address string, nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[address] = nonce
}

// SetGasPrice moves the reported gas price.
func (s *SimClient) SetGasPrice(wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasPrice = new(big.Int).Set(wei)
}

// Sent returns a copy of every accepted transaction in order.
func (s *SimClient) Sent() []SentTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentTx, len(s.sent))
	copy(out, s.sent)
	return out
}

var _ Client = (*SimClient)(nil)
var _ Client = (*RPC)(nil)
