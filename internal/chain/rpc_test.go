// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func rpcTestServer(t *testing.T, handle func(req rpcRequest) (string, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		result, rpcErr := handle(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCRoundTrips(t *testing.T) {
	var ids []uint64
	srv := rpcTestServer(t, func(req rpcRequest) (string, *rpcError) {
		ids = append(ids, req.ID)
		switch req.Method {
		case "eth_chainId":
			return "0x1", nil
		case "eth_getTransactionCount":
			if req.Params[0] != "0xdead" || req.Params[1] != "pending" {
				t.Errorf("unexpected params %v", req.Params)
			}
			return "0x2a", nil
		case "eth_gasPrice":
			return "0x3b9aca00", nil
		case "eth_estimateGas":
			obj, ok := req.Params[0].(map[string]any)
			if !ok || obj["from"] != "0xdead" || obj["to"] != "0xbeef" || obj["data"] != "0x0102" {
				t.Errorf("unexpected call object %v", req.Params[0])
			}
			return "0x5208", nil
		case "eth_sendRawTransaction":
			raw, _ := req.Params[0].(string)
			if !strings.HasPrefix(raw, "0x") {
				t.Errorf("raw tx not hex encoded: %v", req.Params[0])
			}
			return "0xtxhash", nil
		}
		t.Errorf("unexpected method %s", req.Method)
		return "", &rpcError{Code: -32601, Message: "method not found"}
	})

	c := NewRPC(srv.URL)
	ctx := context.Background()

	id, err := c.ChainID(ctx)
	if err != nil || id != 1 {
		t.Fatalf("ChainID = %d, %v", id, err)
	}
	nonce, err := c.PendingNonce(ctx, "0xdead")
	if err != nil || nonce != 42 {
		t.Fatalf("PendingNonce = %d, %v", nonce, err)
	}
	price, err := c.GasPrice(ctx)
	if err != nil || price.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("GasPrice = %v, %v", price, err)
	}
	gas, err := c.EstimateGas(ctx, CallMsg{From: "0xdead", To: "0xbeef", Data: []byte{1, 2}})
	if err != nil || gas != 21000 {
		t.Fatalf("EstimateGas = %d, %v", gas, err)
	}
	hash, err := c.SendRawTx(ctx, []byte{0xca, 0xfe})
	if err != nil || hash != "0xtxhash" {
		t.Fatalf("SendRawTx = %q, %v", hash, err)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Fatalf("request ids not monotonic: %v", ids)
		}
	}
}

func TestRPCErrorSurface(t *testing.T) {
	srv := rpcTestServer(t, func(req rpcRequest) (string, *rpcError) {
		return "", &rpcError{Code: -32000, Message: "nonce too low"}
	})
	c := NewRPC(srv.URL)

	_, err := c.PendingNonce(context.Background(), "0xdead")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "rpc error -32000") || !strings.Contains(err.Error(), "nonce too low") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestRPCBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := NewRPC(srv.URL).GasPrice(context.Background())
	if err == nil || !strings.Contains(err.Error(), "endpoint returned") {
		t.Fatalf("expected a status error, got %v", err)
	}
}

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x0", 0, false},
		{"0x2a", 42, false},
		{"0xde0b6b", 0xde0b6b, false},
		{"0x", 0, true},
		{"2a", 0, true},
		{"0xzz", 0, true},
	}
	for _, tt := range tests {
		got, err := parseQuantity(tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("parseQuantity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseQuantity(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	eth, err := parseBig("0xde0b6b3a7640000")
	if err != nil || eth.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Errorf("parseBig = %v, %v", eth, err)
	}
	if _, err := parseBig("nope"); err == nil {
		t.Error("parseBig accepted a non-quantity")
	}
}
