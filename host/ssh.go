package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stripe/krl"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/net/proxy"
)

var errRevokedKey = errors.New("host key is revoked")

// SSHConfig describes how to reach a host over SSH.
type SSHConfig struct {
	// Address is the "host:port" pair to connect to.
	Address  string
	Username string
	Password string
	// KeyFile is a private key used for public key authentication.
	KeyFile string
	// KnownHosts is an OpenSSH known_hosts file host keys are checked
	// against. Host keys are not checked when empty.
	KnownHosts string
	// RevokedKeys is an OpenSSH key revocation list. Hosts presenting a
	// revoked key are refused.
	RevokedKeys string
	// Proxy is an optional SOCKS5 proxy "host:port".
	Proxy string
	// Timeout bounds the TCP connect and the SSH handshake.
	Timeout time.Duration
	// DialTries is how many times connecting is attempted.
	DialTries uint
}

// DialSSH prepares a DialFunc for the given configuration. Key and host
// files are loaded here, so that configuration errors surface before any
// connection attempt.
func DialSSH(cfg *SSHConfig, log *zap.SugaredLogger) (DialFunc, error) {
	auth := []ssh.AuthMethod{}
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file %q: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	callback, err := hostKeyCallback(cfg, log)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         cfg.Timeout,
	}

	tries := cfg.DialTries
	if tries == 0 {
		tries = 1
	}

	return func(ctx context.Context) (Client, error) {
		connect := func() (*ssh.Client, error) {
			client, err := dialSSH(ctx, cfg, config)
			if err != nil {
				var keyErr *knownhosts.KeyError
				if errors.As(err, &keyErr) || errors.Is(err, errRevokedKey) {
					return nil, backoff.Permanent(err)
				}
				return nil, err
			}
			return client, nil
		}

		client, err := backoff.Retry(ctx, connect,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(tries),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warnw("failed to connect, retrying",
					zap.String("address", cfg.Address),
					zap.Error(err),
					zap.Duration("next", next),
				)
			}),
		)
		if err != nil {
			return nil, err
		}

		return &SSHClient{client: client}, nil
	}, nil
}

func hostKeyCallback(cfg *SSHConfig, log *zap.SugaredLogger) (ssh.HostKeyCallback, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		callback = cb
	} else {
		log.Warnw("host keys are not verified", zap.String("address", cfg.Address))
	}

	if cfg.RevokedKeys == "" {
		return callback, nil
	}

	data, err := os.ReadFile(cfg.RevokedKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to read key revocation list: %w", err)
	}
	revoked, err := krl.ParseKRL(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key revocation list %q: %w", cfg.RevokedKeys, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if revoked.IsRevoked(key) {
			return fmt.Errorf("%w: %s presented %s", errRevokedKey, hostname, ssh.FingerprintSHA256(key))
		}
		return callback(hostname, remote, key)
	}, nil
}

func dialSSH(ctx context.Context, cfg *SSHConfig, config *ssh.ClientConfig) (*ssh.Client, error) {
	var dialer proxy.ContextDialer = &net.Dialer{Timeout: cfg.Timeout}
	if cfg.Proxy != "" {
		d, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to configure proxy: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer does not support contexts")
		}
		dialer = cd
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Address, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", cfg.Address, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// SSHClient runs commands in SSH sessions over a single connection.
type SSHClient struct {
	client *ssh.Client
}

// Start implements Client.
func (m *SSHClient) Start(ctx context.Context, command string) (Process, error) {
	session, err := m.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to attach stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	return &sshProcess{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// Close implements Client.
func (m *SSHClient) Close() error {
	return m.client.Close()
}

type sshProcess struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (m *sshProcess) Stdin() io.WriteCloser {
	return m.stdin
}

func (m *sshProcess) Stdout() io.Reader {
	return m.stdout
}

func (m *sshProcess) Stderr() io.Reader {
	return m.stderr
}

func (m *sshProcess) Wait() error {
	return m.session.Wait()
}

func (m *sshProcess) Close() error {
	// Most servers ignore signals, closing the channel is what counts.
	_ = m.session.Signal(ssh.SIGKILL)

	err := m.session.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
