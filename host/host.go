// Package host provides access to the machines iperf runs on.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the read timeout used for housekeeping commands.
const DefaultTimeout = time.Second

// Session is the capability set the test runner needs from a host.
type Session interface {
	// Execute starts the command on the host. A positive timeout bounds
	// the wait for every output line, zero disables it.
	Execute(ctx context.Context, command string, timeout time.Duration) (*Command, error)
	// KillAll kills every instance of the named process on the host.
	KillAll(ctx context.Context, process string) error
	// TestInterface returns the address other hosts send test traffic to.
	TestInterface() string
	// Close closes the connection to the host.
	Close() error
}

type options struct {
	Prefix          string
	Timeout         time.Duration
	OperatingSystem string
	KillTries       uint
	Log             *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Timeout:         DefaultTimeout,
		OperatingSystem: "linux",
		KillTries:       3,
		Log:             zap.NewNop().Sugar(),
	}
}

// HostOption configures a Host.
type HostOption func(*options)

// WithPrefix sets a string prepended, space separated, to every command.
func WithPrefix(prefix string) HostOption {
	return func(o *options) {
		o.Prefix = prefix
	}
}

// WithTimeout sets the read timeout for housekeeping commands.
func WithTimeout(timeout time.Duration) HostOption {
	return func(o *options) {
		if timeout > 0 {
			o.Timeout = timeout
		}
	}
}

// WithOperatingSystem records the host operating system.
func WithOperatingSystem(os string) HostOption {
	return func(o *options) {
		if os != "" {
			o.OperatingSystem = os
		}
	}
}

// WithKillTries sets how many times KillAll lists processes to verify the
// kill before giving up.
func WithKillTries(tries uint) HostOption {
	return func(o *options) {
		if tries > 0 {
			o.KillTries = tries
		}
	}
}

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) HostOption {
	return func(o *options) {
		o.Log = log
	}
}

// Host is a Session over a lazily established connection.
//
// The connection is dialed by the first command and after every Close, so a
// Host outlives any number of connections. Command start-up is serialized, so
// housekeeping commands never interleave with a long-running session on the
// wire.
type Host struct {
	name          string
	testInterface string
	dial          DialFunc
	opts          *options
	log           *zap.SugaredLogger

	mu     sync.Mutex
	client Client
}

// New creates a Host named name (typically the control address) whose test
// traffic goes to testInterface.
func New(name string, testInterface string, dial DialFunc, options ...HostOption) *Host {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	return &Host{
		name:          name,
		testInterface: testInterface,
		dial:          dial,
		opts:          opts,
		log:           opts.Log.With(zap.String("host", name)),
	}
}

// Name returns the host name.
func (m *Host) Name() string {
	return m.name
}

// TestInterface implements Session.
func (m *Host) TestInterface() string {
	return m.testInterface
}

// Timeout returns the read timeout for housekeeping commands.
func (m *Host) Timeout() time.Duration {
	return m.opts.Timeout
}

// OperatingSystem returns the host operating system.
func (m *Host) OperatingSystem() string {
	return m.opts.OperatingSystem
}

// Execute implements Session.
func (m *Host) Execute(ctx context.Context, command string, timeout time.Duration) (*Command, error) {
	if m.opts.Prefix != "" {
		command = m.opts.Prefix + " " + command
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := m.ensure(ctx)
	if err != nil {
		return nil, err
	}

	m.log.Debugw("executing command", zap.String("command", command), zap.Duration("timeout", timeout))

	process, err := client.Start(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %q on %s: %w", command, m.name, err)
	}

	return newCommand(process, timeout), nil
}

// ensure returns the current connection, dialing a new one if there is none.
// The caller must hold the lock.
func (m *Host) ensure(ctx context.Context) (Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	client, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", m.name, err)
	}
	m.log.Debugw("connected", zap.String("os", m.opts.OperatingSystem))

	m.client = client
	return client, nil
}

// Close implements Session. The next command reconnects.
func (m *Host) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	err := m.client.Close()
	m.client = nil
	if err != nil {
		return fmt.Errorf("failed to close connection to %s: %w", m.name, err)
	}

	m.log.Debug("connection closed")
	return nil
}

func (m *Host) String() string {
	return fmt.Sprintf("%s (os: %s, test interface: %s)", m.name, m.opts.OperatingSystem, m.testInterface)
}
