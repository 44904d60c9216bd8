// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"github.com/mevog/warden/internal/oplog"
)

// Approver grants or refuses approval for a named action. FounderGate is
// the production implementation; tests inject fakes.
type Approver interface {
	Approved(action string) bool
}

// MultiSig requires a minimum number of independent approvals before a
// destructive action (capital unlock, prune, live promote) proceeds.
type MultiSig struct {
	provider  string
	required  int
	approvers []Approver
	log       *oplog.Logger
}

// MultiSigOption configures a MultiSig.
type MultiSigOption func(*MultiSig)

// WithMultiSigLogger sets an explicit logger.
func WithMultiSigLogger(l *oplog.Logger) MultiSigOption {
	return func(m *MultiSig) { m.log = l }
}

// NewMultiSig builds an approval group. required is clamped to at least 1;
// with no approvers a default founder gate is used.
func NewMultiSig(provider string, required int, approvers []Approver, opts ...MultiSigOption) *MultiSig {
	if required < 1 {
		required = 1
	}
	m := &MultiSig{
		provider:  provider,
		required:  required,
		approvers: approvers,
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.approvers) == 0 {
		m.approvers = []Approver{NewFounderGate()}
	}
	if m.log == nil {
		m.log = oplog.New("multi_sig")
	}
	return m
}

// Request collects approvals for action and reports whether the threshold
// was met. Payload rides into the log for the audit trail.
func (m *MultiSig) Request(action string, payload map[string]any) bool {
	granted := 0
	for _, a := range m.approvers {
		if a.Approved(action) {
			granted++
		}
	}
	extra := map[string]any{
		"action":    action,
		"provider":  m.provider,
		"granted":   granted,
		"required":  m.required,
		"approvers": len(m.approvers),
	}
	for k, v := range payload {
		extra["payload_"+k] = v
	}
	if granted >= m.required {
		_ = m.log.Log(oplog.Entry{Event: "multisig_approved", RiskLevel: "low", Extra: extra})
		return true
	}
	_ = m.log.Log(oplog.Entry{Event: "multisig_blocked", RiskLevel: "high", Extra: extra})
	return false
}
