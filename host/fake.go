package host

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// FakeResponse scripts the output of a command run on a FakeClient.
type FakeResponse struct {
	Stdout []string
	Stderr []string
	// Delay is waited before every output line.
	Delay time.Duration
	// Block keeps the output open after the last line until the process is
	// closed, like a server waiting for clients.
	Block bool
}

type fakeRule struct {
	pattern   glob.Glob
	responses []FakeResponse
	calls     int
}

// FakeClient is a Client that runs nothing and replies with scripted output.
// Commands matching no rule produce no output.
type FakeClient struct {
	mu        sync.Mutex
	rules     []*fakeRule
	commands  []string
	processes []*fakeProcess
	closes    int
}

// NewFakeClient creates a new FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// On registers the responses for commands matching the glob pattern. Every
// matching command consumes the next response, the last one repeats. Rules
// are tried in registration order.
func (m *FakeClient) On(pattern string, responses ...FakeResponse) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
	}
	if len(responses) == 0 {
		responses = []FakeResponse{{}}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rules = append(m.rules, &fakeRule{pattern: g, responses: responses})
	return nil
}

// Dial returns a DialFunc connecting to this client.
func (m *FakeClient) Dial() DialFunc {
	return func(ctx context.Context) (Client, error) {
		return m, nil
	}
}

// Commands returns the commands started so far.
func (m *FakeClient) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.commands...)
}

// Closes returns how many times the client was closed.
func (m *FakeClient) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closes
}

// Start implements Client.
func (m *FakeClient) Start(ctx context.Context, command string) (Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands = append(m.commands, command)

	response := FakeResponse{}
	for _, rule := range m.rules {
		if rule.pattern.Match(command) {
			idx := min(rule.calls, len(rule.responses)-1)
			response = rule.responses[idx]
			rule.calls++
			break
		}
	}

	p := newFakeProcess(response)
	m.processes = append(m.processes, p)
	return p, nil
}

// Close implements Client. The client stays usable.
func (m *FakeClient) Close() error {
	m.mu.Lock()
	processes := m.processes
	m.processes = nil
	m.closes++
	m.mu.Unlock()

	for _, p := range processes {
		p.Close()
	}
	return nil
}

type fakeProcess struct {
	stdout  *io.PipeReader
	stderr  *io.PipeReader
	stdoutW *io.PipeWriter
	stderrW *io.PipeWriter

	once   sync.Once
	closed chan struct{}
	done   sync.WaitGroup
}

func newFakeProcess(response FakeResponse) *fakeProcess {
	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()

	m := &fakeProcess{
		stdout:  stdout,
		stderr:  stderr,
		stdoutW: stdoutW,
		stderrW: stderrW,
		closed:  make(chan struct{}),
	}

	m.done.Add(2)
	go m.write(stdoutW, response.Stdout, response)
	go m.write(stderrW, response.Stderr, response)
	return m
}

func (m *fakeProcess) write(w *io.PipeWriter, lines []string, response FakeResponse) {
	defer m.done.Done()
	defer w.Close()

	for _, line := range lines {
		if response.Delay > 0 {
			select {
			case <-time.After(response.Delay):
			case <-m.closed:
				return
			}
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
	}

	if response.Block {
		<-m.closed
	}
}

func (m *fakeProcess) Stdin() io.WriteCloser {
	return nopWriteCloser{io.Discard}
}

func (m *fakeProcess) Stdout() io.Reader {
	return m.stdout
}

func (m *fakeProcess) Stderr() io.Reader {
	return m.stderr
}

func (m *fakeProcess) Wait() error {
	m.done.Wait()
	return nil
}

func (m *fakeProcess) Close() error {
	m.once.Do(func() {
		close(m.closed)
		m.stdoutW.Close()
		m.stderrW.Close()
	})
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
