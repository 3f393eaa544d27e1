package host

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Connection types.
const (
	SSH   = "ssh"
	Local = "local"
	Fake  = "fake"
)

// Config describes a host.
type Config struct {
	// ControlIP is the address commands are sent to.
	ControlIP string `yaml:"control_ip"`
	// TestIP is the address test traffic is sent to.
	TestIP string `yaml:"test_ip"`
	// TestInterface names a local interface whose address is used when
	// TestIP is not set. Local connections only.
	TestInterface string `yaml:"test_interface"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	KeyFile       string `yaml:"key_file"`
	Port          int    `yaml:"port"`
	// ConnectionType is one of "ssh", "local" or "fake".
	ConnectionType string `yaml:"connection_type"`
	// Timeout is the read timeout of housekeeping commands and the SSH
	// connect timeout.
	Timeout time.Duration `yaml:"timeout"`
	// Prefix is prepended, space separated, to every command.
	Prefix          string `yaml:"prefix"`
	OperatingSystem string `yaml:"operating_system"`
	KnownHosts      string `yaml:"known_hosts"`
	RevokedKeys     string `yaml:"revoked_keys"`
	// Proxy is an optional SOCKS5 proxy "host:port" for SSH.
	Proxy     string `yaml:"proxy"`
	DialTries uint   `yaml:"dial_tries"`
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:            22,
		ConnectionType:  SSH,
		Timeout:         DefaultTimeout,
		OperatingSystem: "linux",
		DialTries:       3,
	}
}

// Validate checks the configuration.
func (m *Config) Validate() error {
	switch m.ConnectionType {
	case SSH:
		if m.ControlIP == "" {
			return fmt.Errorf("control_ip is required for %q connections", SSH)
		}
		if m.Username == "" {
			return fmt.Errorf("username is required for %q connections", SSH)
		}
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("invalid port %d", m.Port)
		}
	case Local, Fake:
	default:
		return fmt.Errorf("unknown connection type %q, expected one of %q, %q or %q", m.ConnectionType, SSH, Local, Fake)
	}

	if m.TestIP == "" && m.TestInterface == "" {
		return fmt.Errorf("either test_ip or test_interface is required")
	}
	if m.TestIP == "" && m.ConnectionType != Local {
		return fmt.Errorf("test_interface can only be resolved for %q connections", Local)
	}
	if m.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", m.Timeout)
	}
	return nil
}

// Build creates the Host described by the configuration.
func (m *Config) Build(log *zap.SugaredLogger) (*Host, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	testIP := m.TestIP
	if testIP == "" {
		addr, err := InterfaceAddress(m.TestInterface)
		if err != nil {
			return nil, err
		}
		testIP = addr
	}

	name := m.ControlIP
	var dial DialFunc
	switch m.ConnectionType {
	case SSH:
		d, err := DialSSH(&SSHConfig{
			Address:     net.JoinHostPort(m.ControlIP, strconv.Itoa(m.Port)),
			Username:    m.Username,
			Password:    m.Password,
			KeyFile:     m.KeyFile,
			KnownHosts:  m.KnownHosts,
			RevokedKeys: m.RevokedKeys,
			Proxy:       m.Proxy,
			Timeout:     m.Timeout,
			DialTries:   m.DialTries,
		}, log)
		if err != nil {
			return nil, err
		}
		dial = d
	case Local:
		dial = DialLocal()
		if name == "" {
			name = "localhost"
		}
	case Fake:
		dial = NewFakeClient().Dial()
		if name == "" {
			name = "fake"
		}
	}

	return New(name, testIP, dial,
		WithPrefix(m.Prefix),
		WithTimeout(m.Timeout),
		WithOperatingSystem(m.OperatingSystem),
		WithLog(log),
	), nil
}
