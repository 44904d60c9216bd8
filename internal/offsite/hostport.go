// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package offsite

import (
	"fmt"
	"net"
	"strings"
)

// ParseHostPort splits a host spec into host and port. Accepts bare hosts,
// host:port, bracketed and bare IPv6, and an optional leading user@ which is
// dropped. An empty port means the caller should apply its default.
func ParseHostPort(in string) (host, port string, err error) {
	s := in
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", "", fmt.Errorf("empty host in %q", in)
	}
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated bracket in %q", in)
		}
		host = s[1:end]
		rest := s[end+1:]
		switch {
		case rest == "":
			return host, "", nil
		case strings.HasPrefix(rest, ":"):
			return host, rest[1:], nil
		default:
			return "", "", fmt.Errorf("invalid host:port %q", in)
		}
	}
	// A bare IPv6 address has multiple colons and no brackets.
	if strings.Count(s, ":") > 1 {
		return s, "", nil
	}
	if h, p, splitErr := net.SplitHostPort(s); splitErr == nil {
		return h, p, nil
	}
	return s, "", nil
}

// JoinHostPort joins host and port, applying defaultPort when port is empty.
// IPv6 hosts come back bracketed.
func JoinHostPort(host, port, defaultPort string) string {
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// CanonicalizeHostPort normalizes a host spec to host:22 form, preserving an
// explicit port. Unparseable input is returned as-is.
func CanonicalizeHostPort(in string) string {
	host, port, err := ParseHostPort(in)
	if err != nil {
		return in
	}
	return JoinHostPort(host, port, "22")
}

// IsConnectionTimeoutError reports whether err looks like a connect timeout.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// IsConnectionRefusedError reports whether err looks like a refused or
// unroutable connection.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host")
}

// IsAuthenticationError reports whether err looks like an auth failure.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "permission denied")
}

// IsHostKeyError reports whether err came from host key verification.
func IsHostKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "host key mismatch") ||
		strings.Contains(msg, "unknown host key") ||
		strings.Contains(msg, "host key verification failed")
}

// ClassifyConnectionError wraps a raw dial error with a message naming the
// host and the failure class, so agent logs stay readable.
func ClassifyConnectionError(host string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("connection to %s timed out: %w", host, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("connection to %s refused: %w", host, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("authentication failed for %s: %w", host, err)
	case IsHostKeyError(err):
		return fmt.Errorf("host key verification failed for %s: %w", host, err)
	default:
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
}
