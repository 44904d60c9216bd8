// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultRPCTimeout bounds a single RPC round trip.
const DefaultRPCTimeout = 10 * time.Second

// RPC is a Client over an Ethereum JSON-RPC HTTP endpoint.
type RPC struct {
	endpoint string
	client   *http.Client
	id       atomic.Uint64
}

// RPCOption configures an RPC client.
type RPCOption func(*RPC)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) RPCOption {
	return func(r *RPC) { r.client = c }
}

// NewRPC returns a Client speaking JSON-RPC to the given HTTP endpoint.
func NewRPC(endpoint string, opts ...RPCOption) *RPC {
	r := &RPC{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultRPCTimeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one JSON-RPC round trip and decodes result into out.
func (r *RPC) call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      r.id.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: endpoint returned %s", method, resp.Status)
	}
	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// ChainID implements Client.
func (r *RPC) ChainID(ctx context.Context) (uint64, error) {
	var raw string
	if err := r.call(ctx, "eth_chainId", nil, &raw); err != nil {
		return 0, err
	}
	return parseQuantity(raw)
}

// PendingNonce implements Client.
func (r *RPC) PendingNonce(ctx context.Context, address string) (uint64, error) {
	var raw string
	if err := r.call(ctx, "eth_getTransactionCount", []any{address, "pending"}, &raw); err != nil {
		return 0, err
	}
	return parseQuantity(raw)
}

// GasPrice implements Client.
func (r *RPC) GasPrice(ctx context.Context) (*big.Int, error) {
	var raw string
	if err := r.call(ctx, "eth_gasPrice", nil, &raw); err != nil {
		return nil, err
	}
	return parseBig(raw)
}

// EstimateGas implements Client.
func (r *RPC) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	obj := map[string]string{}
	if msg.From != "" {
		obj["from"] = msg.From
	}
	if msg.To != "" {
		obj["to"] = msg.To
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		obj["value"] = encodeBig(msg.Value)
	}
	if len(msg.Data) > 0 {
		obj["data"] = "0x" + hex.EncodeToString(msg.Data)
	}
	var raw string
	if err := r.call(ctx, "eth_estimateGas", []any{obj}, &raw); err != nil {
		return 0, err
	}
	return parseQuantity(raw)
}

// SendRawTx implements Client.
func (r *RPC) SendRawTx(ctx context.Context, raw []byte) (string, error) {
	var hash string
	if err := r.call(ctx, "eth_sendRawTransaction", []any{"0x" + hex.EncodeToString(raw)}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// parseQuantity decodes a 0x-prefixed hex quantity into a uint64.
func parseQuantity(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return 0, fmt.Errorf("malformed quantity %q", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed quantity %q: %w", s, err)
	}
	return v, nil
}

// parseBig decodes a 0x-prefixed hex quantity of arbitrary size.
func parseBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" || trimmed == s {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	return v, nil
}

func encodeBig(v *big.Int) string {
	return "0x" + v.Text(16)
}
