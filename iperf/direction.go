package iperf

import (
	"fmt"
	"strings"

	"github.com/yanet-platform/rvr/host"
)

// Direction is the direction test traffic flows in, seen from the device
// under test.
type Direction string

const (
	// Upstream traffic flows from the device under test to the traffic
	// server.
	Upstream Direction = "upstream"
	// Downstream traffic flows from the traffic server to the device
	// under test.
	Downstream Direction = "downstream"
)

// ParseDirections parses a direction setting. Only the first letter counts:
// "u" is upstream, "d" is downstream and "b" is both, downstream first.
func ParseDirections(s string) ([]Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, fmt.Errorf("empty direction")
	}

	switch s[0] {
	case 'u':
		return []Direction{Upstream}, nil
	case 'd':
		return []Direction{Downstream}, nil
	case 'b':
		return []Direction{Downstream, Upstream}, nil
	}
	return nil, fmt.Errorf("unknown direction %q, expected upstream, downstream or both", s)
}

// Assignment tells which host runs the iperf client and which runs the
// server.
type Assignment struct {
	client host.Session
	server host.Session
}

// Assign maps a direction to host roles: downstream traffic is sent by the
// traffic host to the device under test, upstream the other way around.
func Assign(dir Direction, traffic host.Session, dut host.Session) (Assignment, error) {
	switch dir {
	case Downstream:
		return Assignment{client: traffic, server: dut}, nil
	case Upstream:
		return Assignment{client: dut, server: traffic}, nil
	}
	return Assignment{}, fmt.Errorf("unknown direction %q", dir)
}

// Client returns the host running the iperf client.
func (m Assignment) Client() host.Session {
	return m.client
}

// Server returns the host running the iperf server.
func (m Assignment) Server() host.Session {
	return m.server
}
