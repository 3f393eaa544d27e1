package host

import (
	"errors"
	"fmt"
)

// ErrReadTimeout is returned by LineStream.Next when no line arrives within
// the read timeout.
var ErrReadTimeout = errors.New("timed out waiting for output")

// PermissionError is returned when the remote side refuses to kill a
// process.
type PermissionError struct {
	Host    string
	Process string
	Message string
}

func (m *PermissionError) Error() string {
	return fmt.Sprintf("insufficient privileges to kill %q on %s: %s", m.Process, m.Host, m.Message)
}

// ProcessRunningError is returned when a process survives KillAll.
type ProcessRunningError struct {
	Host    string
	Process string
	PIDs    []string
}

func (m *ProcessRunningError) Error() string {
	return fmt.Sprintf("unable to kill %q on %s: still running as %v", m.Process, m.Host, m.PIDs)
}
