// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package chain abstracts the execution-layer RPC surface the trading stack
// needs: nonces, gas and raw transaction submission. The RPC client speaks
// JSON-RPC over HTTP; SimClient is a deterministic in-memory stand-in for
// tests and chaos drills.
package chain

import (
	"context"
	"math/big"
)

// CallMsg describes a transaction for gas estimation.
type CallMsg struct {
	From  string
	To    string
	Value *big.Int
	Data  []byte
}

// Client is the chain access surface. Implementations must be safe for
// concurrent use.
type Client interface {
	// ChainID returns the chain the endpoint serves.
	ChainID(ctx context.Context) (uint64, error)

	// PendingNonce returns the next usable nonce for address, counting
	// mempool transactions.
	PendingNonce(ctx context.Context, address string) (uint64, error)

	// GasPrice returns the current gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates the gas limit for the call.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTx submits a signed raw transaction and returns its hash.
	SendRawTx(ctx context.Context, raw []byte) (string, error)
}
