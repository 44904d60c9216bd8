// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package offsite replicates disaster recovery archives to a remote host over
// SSH/SFTP. A replica on the box that just caught fire is not a replica, so
// the push path is deliberately boring: dial, upload to a temp name, rename.
//
// Host keys are pinned on first trust (warden offsite trust-host) and checked
// on every connection; an unknown or changed key aborts the dial.
package offsite

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

// EnvKey names the private key secret for offsite pushes. Resolved through
// the security package, so OFFSITE_SSH_KEY_FILE works too.
const EnvKey = "OFFSITE_SSH_KEY"

// ErrPassphraseRequired is returned when the configured private key is
// encrypted and no passphrase was supplied.
var ErrPassphraseRequired = errors.New("offsite: private key is encrypted and requires a passphrase")

// Connection timeouts. The push path runs unattended inside the DRP agent
// loop, so hanging forever on a dead host is worse than failing the cycle.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultCommandTimeout    = 30 * time.Second
	DefaultSFTPTimeout       = 30 * time.Second
)

// ConnectionConfig bundles the per-connection timeouts.
type ConnectionConfig struct {
	ConnectionTimeout time.Duration
	CommandTimeout    time.Duration
	SFTPTimeout       time.Duration
}

// DefaultConnectionConfig returns the timeouts used when none are configured.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectionTimeout: DefaultConnectionTimeout,
		CommandTimeout:    DefaultCommandTimeout,
		SFTPTimeout:       DefaultSFTPTimeout,
	}
}

// sshConn is the narrow slice of *ssh.Client the package needs. Tests swap
// sshDial to avoid real network connections.
type sshConn interface {
	Close() error
}

// remoteFS is the slice of *sftp.Client used by the push path.
type remoteFS interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	MkdirAll(path string) error
	Chmod(path string, mode os.FileMode) error
	Remove(path string) error
	Rename(oldpath, newpath string) error
	Close() error
}

// sftpFS adapts *sftp.Client to remoteFS.
type sftpFS struct{ c *sftp.Client }

func (f sftpFS) Create(path string) (io.WriteCloser, error) { return f.c.Create(path) }
func (f sftpFS) Open(path string) (io.ReadCloser, error)    { return f.c.Open(path) }
func (f sftpFS) Stat(path string) (os.FileInfo, error)      { return f.c.Stat(path) }
func (f sftpFS) ReadDir(path string) ([]os.FileInfo, error) { return f.c.ReadDir(path) }
func (f sftpFS) MkdirAll(path string) error                 { return f.c.MkdirAll(path) }
func (f sftpFS) Chmod(path string, mode os.FileMode) error  { return f.c.Chmod(path, mode) }
func (f sftpFS) Remove(path string) error                   { return f.c.Remove(path) }
func (f sftpFS) Rename(oldpath, newpath string) error       { return f.c.Rename(oldpath, newpath) }
func (f sftpFS) Close() error                               { return f.c.Close() }

// Dial seams, overridable in tests.
var (
	sshDial = func(network, addr string, config *ssh.ClientConfig) (sshConn, error) {
		return ssh.Dial(network, addr, config)
	}
	newSFTPClient = func(conn sshConn) (remoteFS, error) {
		client, ok := conn.(*ssh.Client)
		if !ok {
			return nil, fmt.Errorf("offsite: connection is not an *ssh.Client")
		}
		c, err := sftp.NewClient(client)
		if err != nil {
			return nil, err
		}
		return sftpFS{c: c}, nil
	}
)

// HostKeyStore persists trusted host keys in authorized_keys format.
type HostKeyStore interface {
	Known(host string) (string, error)
	Trust(host, key string) error
}

// stateHostKeyStore keeps trusted keys in the agent_state table so every
// component sharing the database agrees on what the offsite host looks like.
type stateHostKeyStore struct{}

func (stateHostKeyStore) Known(host string) (string, error) {
	row, err := db.GetAgentState(hostKeyStateName(host))
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.Value, nil
}

func (stateHostKeyStore) Trust(host, key string) error {
	return db.SetAgentState(hostKeyStateName(host), key)
}

func hostKeyStateName(host string) string {
	return "offsite_host_key:" + host
}

// DefaultHostKeyStore returns the database-backed store.
func DefaultHostKeyStore() HostKeyStore { return stateHostKeyStore{} }

// Client is an open SSH/SFTP connection to the offsite target.
type Client struct {
	target Target
	conn   sshConn
	fs     remoteFS
	cfg    ConnectionConfig
	log    *oplog.Logger
	now    func() time.Time
}

type dialConfig struct {
	key      security.Secret
	hostKeys HostKeyStore
	cfg      ConnectionConfig
	log      *oplog.Logger
	now      func() time.Time
}

// Option adjusts how Dial connects.
type Option func(*dialConfig)

// WithPrivateKey supplies the private key instead of resolving OFFSITE_SSH_KEY.
func WithPrivateKey(key security.Secret) Option {
	return func(c *dialConfig) { c.key = key }
}

// WithHostKeys swaps the trusted host key store.
func WithHostKeys(store HostKeyStore) Option {
	return func(c *dialConfig) { c.hostKeys = store }
}

// WithConnectionConfig overrides the default timeouts.
func WithConnectionConfig(cfg ConnectionConfig) Option {
	return func(c *dialConfig) { c.cfg = cfg }
}

// WithLogger swaps the push log.
func WithLogger(l *oplog.Logger) Option {
	return func(c *dialConfig) { c.log = l }
}

// WithClock pins time for tests.
func WithClock(now func() time.Time) Option {
	return func(c *dialConfig) { c.now = now }
}

// Dial opens an SSH connection to the target and an SFTP session over it.
//
// Authentication tries the configured private key first and falls back to a
// running SSH agent. The host key must already be trusted; an unknown key is
// an error pointing at `warden offsite trust-host`, a changed key is treated
// as a possible man-in-the-middle and reported loudly.
func Dial(target Target, opts ...Option) (*Client, error) {
	dc := dialConfig{
		hostKeys: DefaultHostKeyStore(),
		cfg:      DefaultConnectionConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&dc)
	}
	if dc.key.Empty() {
		dc.key = security.GetOr(EnvKey, nil)
	}
	if dc.log == nil {
		dc.log = oplog.New("offsite")
	}

	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// The hostname handed to the callback can include the port.
		host, _, err := net.SplitHostPort(hostname)
		if err != nil {
			host = hostname
		}
		presented := string(ssh.MarshalAuthorizedKey(key))
		known, err := dc.hostKeys.Known(host)
		if err != nil {
			return fmt.Errorf("failed to query trusted host keys: %w", err)
		}
		if known == "" {
			return fmt.Errorf("unknown host key for %s. run 'warden offsite trust-host' to add it", host)
		}
		if strings.TrimSpace(known) != strings.TrimSpace(presented) {
			return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presented)
		}
		return nil
	}

	addr := CanonicalizeHostPort(target.Host)
	var finalErr error

	// Attempt 1: the configured key, exclusively.
	if !dc.key.Empty() {
		signer, err := ssh.ParsePrivateKey(dc.key.Bytes())
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, ErrPassphraseRequired
			}
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}

		config := &ssh.ClientConfig{
			User:            target.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         dc.cfg.ConnectionTimeout,
		}
		conn, err := sshDial("tcp", addr, config)
		if err == nil {
			return newClient(target, conn, dc)
		}
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(target.Host, err)
		}
		// Auth failed with the key; remember why and try the agent.
		finalErr = err
	}

	// Attempt 2: a running SSH agent.
	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("key authentication failed and no SSH agent available for fallback: %w", finalErr)
		}
		return nil, fmt.Errorf("no authentication method available (no key configured and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dc.cfg.ConnectionTimeout,
	}
	conn, err := sshDial("tcp", addr, config)
	if err != nil {
		return nil, ClassifyConnectionError(target.Host, err)
	}
	return newClient(target, conn, dc)
}

func newClient(target Target, conn sshConn, dc dialConfig) (*Client, error) {
	fs, err := newSFTPClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create sftp session: %w", err)
	}
	return &Client{
		target: target,
		conn:   conn,
		fs:     fs,
		cfg:    dc.cfg,
		log:    dc.log,
		now:    dc.now,
	}, nil
}

// Close tears down the SFTP session and the SSH connection.
func (c *Client) Close() {
	if c.fs != nil {
		_ = c.fs.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// GetRemoteHostKey connects to a host just far enough to learn its public key.
func GetRemoteHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// No authentication needed, the key arrives during the handshake.
		User: "warden-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// Abort the handshake with a recognizable error once we have it.
			return errors.New("warden: successfully retrieved host key")
		},
		Timeout: 5 * time.Second,
	}

	_, err := sshDial("tcp", CanonicalizeHostPort(host), config)
	if err != nil {
		if strings.Contains(err.Error(), "warden: successfully retrieved host key") {
			return <-keyChan, nil
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	return nil, fmt.Errorf("handshake succeeded unexpectedly, host key not captured")
}

// TrustHost probes the host for its public key and pins it in the store.
func TrustHost(host string, store HostKeyStore) (string, error) {
	if store == nil {
		store = DefaultHostKeyStore()
	}
	bare, _, err := ParseHostPort(host)
	if err != nil {
		return "", err
	}
	pk, err := GetRemoteHostKey(host)
	if err != nil {
		return "", err
	}
	key := string(ssh.MarshalAuthorizedKey(pk))
	if err := store.Trust(bare, key); err != nil {
		return "", err
	}
	return key, nil
}
