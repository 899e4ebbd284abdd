package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach one remote node.
type SSHConfig struct {
	Address        string
	User           string
	Port           int
	KeyPath        string
	KnownHostsPath string // empty disables host-key verification
	DialTimeout    time.Duration
}

// SSHExecutor runs commands on a remote node over SSH with public-key
// auth. Commands are prefixed with "sudo -n" so they run with
// elevated privilege without an interactive prompt. The connection is
// dialed lazily on first use and reused across commands.
type SSHExecutor struct {
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHExecutor creates an executor bound to one remote node.
func NewSSHExecutor(cfg SSHConfig) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &SSHExecutor{cfg: cfg}
}

// Target returns the remote address.
func (e *SSHExecutor) Target() string {
	return e.cfg.Address
}

// connect dials the node if no cached connection exists.
func (e *SSHExecutor) connect(ctx context.Context) (*ssh.Client, error) {
	if e.client != nil {
		return e.client, nil
	}

	key, err := os.ReadFile(e.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key %s: %w", e.cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH key %s: %w", e.cfg.KeyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(e.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", e.cfg.KnownHostsPath, err)
		}
	}

	clientCfg := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         e.cfg.DialTimeout,
	}

	addr := net.JoinHostPort(e.cfg.Address, fmt.Sprintf("%d", e.cfg.Port))

	dialer := net.Dialer{Timeout: e.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}

	e.client = ssh.NewClient(sshConn, chans, reqs)
	return e.client, nil
}

// Run executes command on the remote node under sudo -n.
func (e *SSHExecutor) Run(ctx context.Context, command string) (*Result, error) {
	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead cached connection surfaces here; drop it so the next
		// attempt re-dials.
		e.Close()
		return nil, fmt.Errorf("failed to open session on %s: %w", e.cfg.Address, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	runErr := session.Run("sudo -n " + command)
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, &CommandError{
				Target:   e.cfg.Address,
				Command:  command,
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
			}
		}
		e.Close()
		return nil, fmt.Errorf("command on %s did not complete: %w", e.cfg.Address, runErr)
	}

	return res, nil
}

// Close drops the cached connection, if any.
func (e *SSHExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

var _ Executor = (*SSHExecutor)(nil)
