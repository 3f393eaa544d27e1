//go:build unix

package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// LocalClient runs commands on this machine through the shell.
type LocalClient struct {
	mu        sync.Mutex
	processes map[*localProcess]struct{}
}

// DialLocal returns a DialFunc for the local machine.
func DialLocal() DialFunc {
	return func(ctx context.Context) (Client, error) {
		return &LocalClient{processes: map[*localProcess]struct{}{}}, nil
	}
}

// Start implements Client.
//
// Every command runs in its own process group, so that closing it kills
// the whole pipeline and not just the shell.
func (m *LocalClient) Start(ctx context.Context, command string) (Process, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdin: %w", err)
	}

	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	// The child owns the write ends now.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %q: %w", command, err)
	}

	p := &localProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		client: m,
	}

	m.mu.Lock()
	m.processes[p] = struct{}{}
	m.mu.Unlock()

	return p, nil
}

// Close implements Client.
func (m *LocalClient) Close() error {
	m.mu.Lock()
	processes := m.processes
	m.processes = map[*localProcess]struct{}{}
	m.mu.Unlock()

	for p := range processes {
		p.Close()
	}
	return nil
}

func (m *LocalClient) forget(p *localProcess) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.processes, p)
}

type localProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File
	client *LocalClient

	waitOnce sync.Once
	waitErr  error
	exited   atomic.Bool
}

func (m *localProcess) Stdin() io.WriteCloser {
	return m.stdin
}

func (m *localProcess) Stdout() io.Reader {
	return m.stdout
}

func (m *localProcess) Stderr() io.Reader {
	return m.stderr
}

func (m *localProcess) Wait() error {
	m.waitOnce.Do(func() {
		m.waitErr = m.cmd.Wait()
		m.exited.Store(true)
		m.client.forget(m)
	})
	return m.waitErr
}

func (m *localProcess) Close() error {
	if !m.exited.Load() {
		// ESRCH only means the group is already gone.
		if err := unix.Kill(-m.cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			return fmt.Errorf("failed to kill process group %d: %w", m.cmd.Process.Pid, err)
		}
	}
	m.Wait()
	return nil
}
