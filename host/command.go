package host

import (
	"context"
	"io"
	"time"
)

// Process is a command started by a Client.
type Process interface {
	// Stdin returns the command input.
	Stdin() io.WriteCloser
	// Stdout returns the command output.
	Stdout() io.Reader
	// Stderr returns the command error output.
	Stderr() io.Reader
	// Wait waits for the command to exit.
	Wait() error
	// Close terminates the command if it is still running and releases
	// its resources.
	Close() error
}

// Client is a connection to a host able to start commands on it.
type Client interface {
	// Start starts the command without waiting for it to finish.
	Start(ctx context.Context, command string) (Process, error)
	// Close closes the connection. Commands still running are terminated.
	Close() error
}

// DialFunc establishes a new connection.
type DialFunc func(ctx context.Context) (Client, error)

// Command is a running command with line-oriented access to its output.
type Command struct {
	// Stdin is the command input.
	Stdin io.WriteCloser
	// Stdout is the command output.
	Stdout *LineStream
	// Stderr is the command error output.
	Stderr *LineStream

	process Process
}

func newCommand(process Process, timeout time.Duration) *Command {
	return &Command{
		Stdin:   process.Stdin(),
		Stdout:  NewLineStream(process.Stdout(), timeout),
		Stderr:  NewLineStream(process.Stderr(), timeout),
		process: process,
	}
}

// Wait waits for the command to exit.
func (m *Command) Wait() error {
	return m.process.Wait()
}

// Close terminates the command.
func (m *Command) Close() error {
	return m.process.Close()
}
