// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

// FakeAuditWriter is an in-memory audit writer used by tests to assert on
// the action trail without a database.
type FakeAuditWriter struct {
	Calls [][2]string // action, details pairs in call order
	Err   error       // returned from LogAction when set
}

func (f *FakeAuditWriter) LogAction(action, details string) error {
	f.Calls = append(f.Calls, [2]string{action, details})
	return f.Err
}

// Actions returns just the action names, in call order.
func (f *FakeAuditWriter) Actions() []string {
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, c[0])
	}
	return out
}
