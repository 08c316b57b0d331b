package types

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Mode represents the node's operation mode.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
)

// SecurityLevel is opaque to the core; it is passed through to the
// crypto/ratchet collaborator unmodified.
type SecurityLevel string

const (
	SecurityLow    SecurityLevel = "LOW"
	SecurityMedium SecurityLevel = "MEDIUM"
	SecurityHigh   SecurityLevel = "HIGH"
	SecurityUltra  SecurityLevel = "ULTRA"
	SecurityDivine SecurityLevel = "DIVINE"
)

func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch strings.ToUpper(s) {
	case string(SecurityLow):
		return SecurityLow, nil
	case string(SecurityMedium):
		return SecurityMedium, nil
	case string(SecurityHigh):
		return SecurityHigh, nil
	case string(SecurityUltra):
		return SecurityUltra, nil
	case string(SecurityDivine):
		return SecurityDivine, nil
	default:
		return "", fmt.Errorf("unknown security level %q", s)
	}
}

// UdpMode controls whether the virtual-connection forge installs a UDP
// route alongside the always-present TCP route.
type UdpMode string

const (
	UdpEnabled  UdpMode = "enabled"
	UdpDisabled UdpMode = "disabled"
)

// SecrecyMode mirrors SessionSecuritySettings' rekey schedule.
type SecrecyMode string

const (
	SecrecyPerfect    SecrecyMode = "perfect"
	SecrecyBestEffort SecrecyMode = "best_effort"
)

// NodeConfig is the configuration consumed by a session at construction
// time (spec.md 6, "Configuration options consumed by a session").
type NodeConfig struct {
	Mode          Mode          `json:"mode" yaml:"mode"`
	BindAddr      string        `json:"bindAddr" yaml:"bindAddr"`
	ServerAddr    string        `json:"serverAddr,omitempty" yaml:"serverAddr,omitempty"`
	StunServers   []string      `json:"stunServers" yaml:"stunServers"`
	SecurityLevel SecurityLevel `json:"securityLevel" yaml:"securityLevel"`
	UdpMode       UdpMode       `json:"udpMode" yaml:"udpMode"`
	SecrecyMode   SecrecyMode   `json:"secrecyMode" yaml:"secrecyMode"`

	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
	RetryCount     int           `json:"retryCount" yaml:"retryCount"`
	LogLevel       string        `json:"logLevel" yaml:"logLevel"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *NodeConfig {
	return &NodeConfig{
		StunServers:    []string{"stun.l.google.com:19302"},
		SecurityLevel:  SecurityMedium,
		UdpMode:        UdpEnabled,
		SecrecyMode:    SecrecyBestEffort,
		ConnectTimeout: 30 * time.Second,
		RetryCount:     3,
		LogLevel:       "info",
	}
}

// Validate validates the configuration.
func (c *NodeConfig) Validate() error {
	if c.Mode != ModeClient && c.Mode != ModeServer {
		return fmt.Errorf("invalid mode '%s', must be 'client' or 'server'", c.Mode)
	}

	if c.BindAddr == "" {
		return fmt.Errorf("bindAddr cannot be empty")
	}

	if c.Mode == ModeClient && c.ServerAddr == "" {
		return fmt.Errorf("client mode requires serverAddr")
	}

	if len(c.StunServers) == 0 {
		return fmt.Errorf("at least one stun server is required")
	}
	if len(c.StunServers) > 3 {
		return fmt.Errorf("at most three stun servers are supported, got %d", len(c.StunServers))
	}
	for i, s := range c.StunServers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			return fmt.Errorf("stunServers[%d] invalid %q: %w", i, s, err)
		}
	}

	if _, err := ParseSecurityLevel(string(c.SecurityLevel)); err != nil {
		return err
	}

	if c.UdpMode != UdpEnabled && c.UdpMode != UdpDisabled {
		return fmt.Errorf("invalid udpMode '%s'", c.UdpMode)
	}

	if c.SecrecyMode != SecrecyPerfect && c.SecrecyMode != SecrecyBestEffort {
		return fmt.Errorf("invalid secrecyMode '%s'", c.SecrecyMode)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connectTimeout must be positive")
	}

	if c.RetryCount < 0 {
		return fmt.Errorf("retryCount cannot be negative")
	}

	return nil
}
