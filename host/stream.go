package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// maxLineSize bounds a single output line.
const maxLineSize = 1 << 20

// LineStream reads a command output line by line.
//
// Lines are read in the background as soon as they are produced and queued
// without bound, so that a stream nobody reads yet never stalls the remote
// command.
type LineStream struct {
	timeout time.Duration

	mu     sync.Mutex
	lines  []string
	done   bool
	err    error
	notify chan struct{}
}

// NewLineStream starts reading r. A positive timeout bounds the wait for
// every single line; zero waits forever.
func NewLineStream(r io.Reader, timeout time.Duration) *LineStream {
	m := &LineStream{
		timeout: timeout,
		notify:  make(chan struct{}),
	}
	go m.read(r)
	return m
}

func (m *LineStream) read(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		m.push(strings.TrimRight(scanner.Text(), "\r"))
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	m.finish(err)
}

func (m *LineStream) push(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lines = append(m.lines, line)
	close(m.notify)
	m.notify = make(chan struct{})
}

func (m *LineStream) finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.done = true
	m.err = err
	close(m.notify)
	m.notify = make(chan struct{})
}

// Timeout returns the per-line read timeout.
func (m *LineStream) Timeout() time.Duration {
	return m.timeout
}

// Next returns the next line.
//
// It returns io.EOF once the output is exhausted, ErrReadTimeout if no line
// arrived within the read timeout, and the context error if ctx is done
// first.
func (m *LineStream) Next(ctx context.Context) (string, error) {
	var expired <-chan time.Time
	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		m.mu.Lock()
		if len(m.lines) > 0 {
			line := m.lines[0]
			m.lines = m.lines[1:]
			m.mu.Unlock()
			return line, nil
		}
		if m.done {
			err := m.err
			m.mu.Unlock()
			return "", err
		}
		notify := m.notify
		m.mu.Unlock()

		select {
		case <-notify:
		case <-expired:
			return "", fmt.Errorf("%w after %s", ErrReadTimeout, m.timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// ReadAll returns every remaining line.
func (m *LineStream) ReadAll(ctx context.Context) ([]string, error) {
	lines := []string{}
	for {
		line, err := m.Next(ctx)
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}
