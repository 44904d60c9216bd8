// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestSimClientDeterminism(t *testing.T) {
	s := NewSimClient(WithSimChainID(1), WithSimNonce("0xdead", 7))
	ctx := context.Background()

	id, err := s.ChainID(ctx)
	if err != nil || id != 1 {
		t.Fatalf("ChainID = %d, %v", id, err)
	}
	nonce, err := s.PendingNonce(ctx, "0xdead")
	if err != nil || nonce != 7 {
		t.Fatalf("PendingNonce = %d, %v", nonce, err)
	}
	if nonce, _ := s.PendingNonce(ctx, "0xbeef"); nonce != 0 {
		t.Fatalf("unseeded address nonce = %d", nonce)
	}

	gas, err := s.EstimateGas(ctx, CallMsg{Data: make([]byte, 10)})
	if err != nil || gas != baseTxGas+10*perByteGas {
		t.Fatalf("EstimateGas = %d, %v", gas, err)
	}
	again, _ := s.EstimateGas(ctx, CallMsg{Data: make([]byte, 10)})
	if gas != again {
		t.Fatal("estimates drifted between identical calls")
	}

	h1, err := s.SendRawTx(ctx, []byte("signed-tx"))
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := s.SendRawTx(ctx, []byte("signed-tx"))
	if h1 != h2 {
		t.Error("identical raw bytes produced different hashes")
	}
	sent := s.Sent()
	if len(sent) != 2 || sent[0].Hash != h1 || string(sent[1].Raw) != "signed-tx" {
		t.Fatalf("unexpected sent record: %+v", sent)
	}
}

func TestSimClientFailureInjection(t *testing.T) {
	s := NewSimClient()
	boom := errors.New("rpc unreachable")
	s.FailNext("GasPrice", boom)

	if _, err := s.GasPrice(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	price, err := s.GasPrice(context.Background())
	if err != nil || price.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("failure injection not one-shot: %v, %v", price, err)
	}
}

func TestSimClientNonceMovement(t *testing.T) {
	s := NewSimClient()
	s.SetNonce("0xdead", 12)
	if n, _ := s.PendingNonce(context.Background(), "0xdead"); n != 12 {
		t.Fatalf("nonce = %d after SetNonce", n)
	}
	s.SetGasPrice(big.NewInt(55))
	if p, _ := s.GasPrice(context.Background()); p.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("gas price = %v after SetGasPrice", p)
	}
}
