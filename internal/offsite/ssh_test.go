// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package offsite

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

func TestDefaultConnectionConfig(t *testing.T) {
	config := DefaultConnectionConfig()
	if config.ConnectionTimeout != DefaultConnectionTimeout {
		t.Errorf("ConnectionTimeout = %v, want %v", config.ConnectionTimeout, DefaultConnectionTimeout)
	}
	if config.CommandTimeout != DefaultCommandTimeout {
		t.Errorf("CommandTimeout = %v, want %v", config.CommandTimeout, DefaultCommandTimeout)
	}
	if config.SFTPTimeout != DefaultSFTPTimeout {
		t.Errorf("SFTPTimeout = %v, want %v", config.SFTPTimeout, DefaultSFTPTimeout)
	}
}

func TestHostPortHelpers(t *testing.T) {
	cases := []struct {
		in    string
		host  string
		port  string
		canon string
	}{
		{"backup.example.com", "backup.example.com", "", "backup.example.com:22"},
		{"backup.example.com:2222", "backup.example.com", "2222", "backup.example.com:2222"},
		{"192.168.1.10", "192.168.1.10", "", "192.168.1.10:22"},
		{"[2001:db8::1]", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"[2001:db8::1]:2200", "2001:db8::1", "2200", "[2001:db8::1]:2200"},
		{"2001:db8::1", "2001:db8::1", "", "[2001:db8::1]:22"},
		{"ops@backup.example.com", "backup.example.com", "", "backup.example.com:22"},
		{"ops@[2001:db8::1]:2222", "2001:db8::1", "2222", "[2001:db8::1]:2222"},
	}
	for _, c := range cases {
		h, p, err := ParseHostPort(c.in)
		if err != nil {
			t.Fatalf("unexpected error parsing %q: %v", c.in, err)
		}
		if h != c.host || p != c.port {
			t.Errorf("ParseHostPort(%q) = %q, %q; want %q, %q", c.in, h, p, c.host, c.port)
		}
		if canon := CanonicalizeHostPort(c.in); canon != c.canon {
			t.Errorf("CanonicalizeHostPort(%q) = %q; want %q", c.in, canon, c.canon)
		}
	}
}

func TestErrorClassifiers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		timeout bool
		refused bool
		auth    bool
		hostKey bool
	}{
		{"nil", nil, false, false, false, false},
		{"timeout", errors.New("i/o timeout"), true, false, false, false},
		{"deadline", errors.New("deadline exceeded"), true, false, false, false},
		{"refused", errors.New("connection refused"), false, true, false, false},
		{"no route", errors.New("no route to host"), false, true, false, false},
		{"unable to authenticate", errors.New("ssh: unable to authenticate"), false, false, true, false},
		{"permission denied", errors.New("permission denied (publickey)"), false, false, true, false},
		{"host key mismatch", errors.New("!!! HOST KEY MISMATCH FOR h !!!"), false, false, false, true},
		{"unknown host key", errors.New("unknown host key for h"), false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionTimeoutError(tt.err); got != tt.timeout {
				t.Errorf("IsConnectionTimeoutError = %v, want %v", got, tt.timeout)
			}
			if got := IsConnectionRefusedError(tt.err); got != tt.refused {
				t.Errorf("IsConnectionRefusedError = %v, want %v", got, tt.refused)
			}
			if got := IsAuthenticationError(tt.err); got != tt.auth {
				t.Errorf("IsAuthenticationError = %v, want %v", got, tt.auth)
			}
			if got := IsHostKeyError(tt.err); got != tt.hostKey {
				t.Errorf("IsHostKeyError = %v, want %v", got, tt.hostKey)
			}
		})
	}
}

func TestClassifyConnectionError(t *testing.T) {
	host := "backup.example.com"
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", errors.New("i/o timeout"), "connection to backup.example.com timed out"},
		{"refused", errors.New("connection refused"), "connection to backup.example.com refused"},
		{"auth", errors.New("ssh: unable to authenticate"), "authentication failed for backup.example.com"},
		{"host key", errors.New("unknown host key"), "host key verification failed for backup.example.com"},
		{"other", errors.New("weird failure"), "failed to connect to backup.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConnectionError(host, tt.err)
			if tt.err == nil {
				if got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				return
			}
			if got == nil || !strings.Contains(got.Error(), tt.want) {
				t.Errorf("ClassifyConnectionError = %v, want substring %q", got, tt.want)
			}
		})
	}
}

// mapHostKeyStore is an in-memory HostKeyStore for tests.
type mapHostKeyStore struct{ m map[string]string }

func newMapHostKeyStore() *mapHostKeyStore {
	return &mapHostKeyStore{m: map[string]string{}}
}

func (s *mapHostKeyStore) Known(host string) (string, error) { return s.m[host], nil }
func (s *mapHostKeyStore) Trust(host, key string) error      { s.m[host] = key; return nil }

type fakeConn struct{}

func (fakeConn) Close() error { return nil }

// genTestKey returns a PEM-encoded ed25519 private key and its public half.
func genTestKey(t *testing.T) ([]byte, ssh.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("new public key: %v", err)
	}
	return pem.EncodeToMemory(block), sshPub
}

func swapDialSeams(t *testing.T, dial func(network, addr string, config *ssh.ClientConfig) (sshConn, error), sftpFn func(conn sshConn) (remoteFS, error)) {
	t.Helper()
	origDial, origSFTP := sshDial, newSFTPClient
	if dial != nil {
		sshDial = dial
	}
	if sftpFn != nil {
		newSFTPClient = sftpFn
	}
	t.Cleanup(func() { sshDial, newSFTPClient = origDial, origSFTP })
}

func testLogger(t *testing.T) *oplog.Logger {
	t.Helper()
	return oplog.New("offsite", oplog.WithDir(t.TempDir()))
}

func TestDialRejectsUnknownHostKey(t *testing.T) {
	keyPEM, _ := genTestKey(t)
	_, hostPub := genTestKey(t)

	swapDialSeams(t, func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		if err := config.HostKeyCallback(addr, &net.TCPAddr{}, hostPub); err != nil {
			return nil, err
		}
		return fakeConn{}, nil
	}, nil)

	target := Target{User: "ops", Host: "backup.example.com", Dir: "/srv/drp"}
	_, err := Dial(target,
		WithPrivateKey(security.FromBytes(keyPEM)),
		WithHostKeys(newMapHostKeyStore()),
		WithLogger(testLogger(t)))
	if err == nil {
		t.Fatal("expected dial to fail for unknown host key")
	}
	if !strings.Contains(err.Error(), "trust-host") {
		t.Errorf("error should point at trust-host, got: %v", err)
	}
}

func TestDialDetectsHostKeyMismatch(t *testing.T) {
	keyPEM, _ := genTestKey(t)
	_, hostPub := genTestKey(t)
	_, otherPub := genTestKey(t)

	store := newMapHostKeyStore()
	store.m["backup.example.com"] = string(ssh.MarshalAuthorizedKey(otherPub))

	swapDialSeams(t, func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		if err := config.HostKeyCallback(addr, &net.TCPAddr{}, hostPub); err != nil {
			return nil, err
		}
		return fakeConn{}, nil
	}, nil)

	target := Target{User: "ops", Host: "backup.example.com", Dir: "/srv/drp"}
	_, err := Dial(target,
		WithPrivateKey(security.FromBytes(keyPEM)),
		WithHostKeys(store),
		WithLogger(testLogger(t)))
	if err == nil {
		t.Fatal("expected dial to fail on mismatched host key")
	}
	if !IsHostKeyError(err) {
		t.Errorf("expected a host key error, got: %v", err)
	}
}

func TestDialTrustedHostConnects(t *testing.T) {
	keyPEM, _ := genTestKey(t)
	_, hostPub := genTestKey(t)

	store := newMapHostKeyStore()
	store.m["backup.example.com"] = string(ssh.MarshalAuthorizedKey(hostPub))

	swapDialSeams(t, func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		if config.User != "ops" {
			t.Errorf("dialed as %q, want ops", config.User)
		}
		if err := config.HostKeyCallback(addr, &net.TCPAddr{}, hostPub); err != nil {
			return nil, err
		}
		return fakeConn{}, nil
	}, func(conn sshConn) (remoteFS, error) {
		return newFakeRemote(), nil
	})

	target := Target{User: "ops", Host: "backup.example.com", Dir: "/srv/drp"}
	c, err := Dial(target,
		WithPrivateKey(security.FromBytes(keyPEM)),
		WithHostKeys(store),
		WithLogger(testLogger(t)))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	c.Close()
}

func TestDialReportsMissingAgentFallback(t *testing.T) {
	keyPEM, _ := genTestKey(t)
	t.Setenv("SSH_AUTH_SOCK", "")

	swapDialSeams(t, func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		return nil, errors.New("ssh: unable to authenticate, attempted methods [publickey]")
	}, nil)

	target := Target{User: "ops", Host: "backup.example.com", Dir: "/srv/drp"}
	_, err := Dial(target,
		WithPrivateKey(security.FromBytes(keyPEM)),
		WithHostKeys(newMapHostKeyStore()),
		WithLogger(testLogger(t)))
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if !strings.Contains(err.Error(), "no SSH agent available") {
		t.Errorf("error should mention the missing agent fallback, got: %v", err)
	}
}

func TestDialRejectsEncryptedKeyWithoutPassphrase(t *testing.T) {
	// An OpenSSH key marked encrypted; parsing must surface ErrPassphraseRequired
	// rather than a generic parse error.
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("hunter2"))
	if err != nil {
		t.Fatalf("marshal encrypted key: %v", err)
	}

	target := Target{User: "ops", Host: "backup.example.com", Dir: "/srv/drp"}
	_, err = Dial(target,
		WithPrivateKey(security.FromBytes(pem.EncodeToMemory(block))),
		WithHostKeys(newMapHostKeyStore()),
		WithLogger(testLogger(t)))
	if !errors.Is(err, ErrPassphraseRequired) {
		t.Fatalf("expected ErrPassphraseRequired, got: %v", err)
	}
}

func TestTrustHostPinsKey(t *testing.T) {
	_, hostPub := genTestKey(t)

	swapDialSeams(t, func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		// The probe aborts the handshake from inside the callback.
		err := config.HostKeyCallback(addr, &net.TCPAddr{}, hostPub)
		return nil, err
	}, nil)

	store := newMapHostKeyStore()
	key, err := TrustHost("backup.example.com:2222", store)
	if err != nil {
		t.Fatalf("TrustHost failed: %v", err)
	}
	want := string(ssh.MarshalAuthorizedKey(hostPub))
	if key != want {
		t.Errorf("returned key %q, want %q", key, want)
	}
	if store.m["backup.example.com"] != want {
		t.Errorf("store did not pin the key for the bare hostname: %v", store.m)
	}
}
