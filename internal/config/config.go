// Package config loads and validates bwprobe configuration.
package config

import (
	"fmt"
	"time"
)

// Default values applied when config.toml omits a field.
const (
	DefaultTestDuration = 10 * time.Second
	DefaultSettleDelay  = 2 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultServerPort   = 5201
	DefaultSSHPort      = 22
	DefaultMaxRetries   = 3
)

// RemoteNode identifies one SSH-reachable remote host.
type RemoteNode struct {
	Address string `toml:"address"`
	User    string `toml:"user,omitempty"`
	SSHPort int    `toml:"ssh_port,omitempty"`
}

// ExternalServer is one catalog entry for the public-server cascade.
type ExternalServer struct {
	Host      string `toml:"host"`
	PortStart int    `toml:"port_start"`
	PortEnd   int    `toml:"port_end"`
	IPv6      bool   `toml:"ipv6"`
}

// Config is the full, validated run configuration. It is immutable
// for the duration of a run; the orchestrator receives it once at
// construction.
type Config struct {
	LocalAddress string           `toml:"local_address"`
	Remotes      []RemoteNode     `toml:"remote"`
	External     []ExternalServer `toml:"external"`

	SSHKeyPath     string `toml:"ssh_key_path"`
	KnownHostsPath string `toml:"known_hosts_path,omitempty"`

	LogDir      string `toml:"log_dir"`
	ExcludeFile string `toml:"exclude_file,omitempty"`

	TestDurationSeconds int `toml:"test_duration_seconds,omitempty"`
	SettleSeconds       int `toml:"settle_seconds,omitempty"`
	ProbeTimeoutSeconds int `toml:"probe_timeout_seconds,omitempty"`
	ServerPort          int `toml:"server_port,omitempty"`
	MaxRetries          int `toml:"max_retries,omitempty"`
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.TestDurationSeconds == 0 {
		c.TestDurationSeconds = int(DefaultTestDuration / time.Second)
	}
	if c.SettleSeconds == 0 {
		c.SettleSeconds = int(DefaultSettleDelay / time.Second)
	}
	if c.ProbeTimeoutSeconds == 0 {
		c.ProbeTimeoutSeconds = int(DefaultProbeTimeout / time.Second)
	}
	if c.ServerPort == 0 {
		c.ServerPort = DefaultServerPort
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	for i := range c.Remotes {
		if c.Remotes[i].SSHPort == 0 {
			c.Remotes[i].SSHPort = DefaultSSHPort
		}
		if c.Remotes[i].User == "" {
			c.Remotes[i].User = "root"
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.LocalAddress == "" {
		return fmt.Errorf("local_address must be set")
	}
	if len(c.Remotes) == 0 {
		return fmt.Errorf("at least one [[remote]] node must be configured")
	}
	for _, r := range c.Remotes {
		if r.Address == "" {
			return fmt.Errorf("remote node with empty address")
		}
	}
	for _, e := range c.External {
		if e.Host == "" {
			return fmt.Errorf("external server with empty host")
		}
		if e.PortStart <= 0 || e.PortEnd < e.PortStart {
			return fmt.Errorf("external server %s: invalid port range %d-%d",
				e.Host, e.PortStart, e.PortEnd)
		}
	}
	if c.TestDurationSeconds <= 0 {
		return fmt.Errorf("test_duration_seconds must be positive")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log_dir must be set")
	}
	return nil
}

// TestDuration returns the per-test duration.
func (c *Config) TestDuration() time.Duration {
	return time.Duration(c.TestDurationSeconds) * time.Second
}

// SettleDelay returns the delay between server start and verification.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// ProbeTimeout returns the connectivity-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}
