// Package barrier implements the gate that gives the iperf server a head
// start before the client connects.
//
// The gate is a timing heuristic: nothing on the remote side acknowledges
// that the server is listening, so the delay is a best guess.
package barrier

import (
	"context"
	"sync"
	"time"
)

// DefaultDelay is used when no delay is configured.
const DefaultDelay = time.Second

// Barrier is a one-shot gate released either explicitly or when its delay
// elapses after Arm.
type Barrier struct {
	delay time.Duration

	mu       sync.Mutex
	armedAt  time.Time
	released chan struct{}
}

// New creates a released barrier with the given delay. Non-positive delays
// fall back to DefaultDelay.
func New(delay time.Duration) *Barrier {
	if delay <= 0 {
		delay = DefaultDelay
	}

	released := make(chan struct{})
	close(released)

	return &Barrier{
		delay:    delay,
		released: released,
	}
}

// Delay returns the configured delay.
func (m *Barrier) Delay() time.Duration {
	return m.delay
}

// Arm resets the barrier to the not yet released state and starts the
// delay.
func (m *Barrier) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.armedAt = time.Now()
	m.released = make(chan struct{})
}

// Release opens the barrier before its delay elapses. Releasing an open
// barrier is a no-op.
func (m *Barrier) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.released:
	default:
		close(m.released)
	}
}

// Wait blocks until the barrier is released, the delay since Arm elapses or
// the context is done.
func (m *Barrier) Wait(ctx context.Context) error {
	m.mu.Lock()
	released := m.released
	remaining := m.delay - time.Since(m.armedAt)
	m.mu.Unlock()

	select {
	case <-released:
		return nil
	default:
	}
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-released:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
