package iperf

import (
	"fmt"
)

// ConfigurationConflictError is returned when the client and the server
// disagree on the protocol.
type ConfigurationConflictError struct {
	ClientUDP bool
	ServerUDP bool
}

func (m *ConfigurationConflictError) Error() string {
	return fmt.Sprintf("client and server disagree on the protocol: client udp=%t, server udp=%t", m.ClientUDP, m.ServerUDP)
}

// ReadTimeoutError is returned when a command stays silent for longer than
// its read timeout.
type ReadTimeoutError struct {
	Command string
	Err     error
}

func (m *ReadTimeoutError) Error() string {
	return fmt.Sprintf("timed out reading the output of %q: %v", m.Command, m.Err)
}

func (m *ReadTimeoutError) Unwrap() error {
	return m.Err
}

// ClassificationError is returned when a summary cannot be attributed to
// either the client or the server.
type ClassificationError struct {
	Settings any
}

func (m *ClassificationError) Error() string {
	return fmt.Sprintf("unable to classify the summary of %T settings", m.Settings)
}
