package host

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLineStream(t *testing.T) {
	ctx := context.Background()
	s := NewLineStream(strings.NewReader("first\r\nsecond\n\nlast"), 0)

	lines, err := s.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "", "last"}, lines)

	_, err = s.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestLineStreamTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	s := NewLineStream(r, 50*time.Millisecond)
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrReadTimeout)

	_, err = io.WriteString(w, "late\n")
	require.NoError(t, err)
	line, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", line)
}

func TestLineStreamContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	s := NewLineStream(r, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func newFakeHost(t *testing.T, fake *FakeClient, options ...HostOption) (*Host, *int) {
	dials := 0
	dial := func(ctx context.Context) (Client, error) {
		dials++
		return fake, nil
	}
	options = append([]HostOption{WithLog(zaptest.NewLogger(t).Sugar())}, options...)
	return New("dut", "192.168.20.1", dial, options...), &dials
}

func TestExecutePrefixAndReconnect(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	require.NoError(t, fake.On("*uname*", FakeResponse{Stdout: []string{"Linux"}}))

	h, dials := newFakeHost(t, fake, WithPrefix("adb shell"))
	assert.Equal(t, "192.168.20.1", h.TestInterface())

	cmd, err := h.Execute(ctx, "uname", time.Second)
	require.NoError(t, err)
	lines, err := cmd.Stdout.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Linux"}, lines)
	require.NoError(t, cmd.Wait())

	_, err = h.Execute(ctx, "uname", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, *dials)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, 1, fake.Closes())

	_, err = h.Execute(ctx, "uname", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, *dials)

	assert.Equal(t, []string{"adb shell uname", "adb shell uname", "adb shell uname"}, fake.Commands())
}

func TestExecuteDialError(t *testing.T) {
	h := New("dut", "10.0.0.1", func(ctx context.Context) (Client, error) {
		return nil, errors.New("connection refused")
	})

	_, err := h.Execute(context.Background(), "true", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestKillAll(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	require.NoError(t, fake.On("ps -e | grep iperf",
		FakeResponse{Stdout: []string{
			" 1234 ?        00:00:01 iperf",
			" 1240 pts/0    00:00:00 grep iperf",
			" 1301 ?        00:00:00 iperf",
		}},
		FakeResponse{},
	))

	h, _ := newFakeHost(t, fake)
	require.NoError(t, h.KillAll(ctx, "iperf"))

	assert.Equal(t, []string{
		"ps -e | grep iperf",
		"kill -9 1234",
		"kill -9 1301",
		"ps -e | grep iperf",
	}, fake.Commands())
}

func TestKillAllNothingRunning(t *testing.T) {
	fake := NewFakeClient()
	h, _ := newFakeHost(t, fake)

	require.NoError(t, h.KillAll(context.Background(), "iperf"))
	assert.Equal(t, []string{"ps -e | grep iperf", "ps -e | grep iperf"}, fake.Commands())
}

func TestKillAllPermissionDenied(t *testing.T) {
	fake := NewFakeClient()
	require.NoError(t, fake.On("ps -e | grep iperf", FakeResponse{Stdout: []string{" 1234 ?  00:00:01 iperf"}}))
	require.NoError(t, fake.On("kill -9 *", FakeResponse{
		Stderr: []string{"kill: (1234) - Operation not permitted"},
	}))

	h, _ := newFakeHost(t, fake)
	err := h.KillAll(context.Background(), "iperf")

	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "iperf", perr.Process)
	assert.Equal(t, "dut", perr.Host)
}

func TestKillAllStillRunning(t *testing.T) {
	fake := NewFakeClient()
	require.NoError(t, fake.On("ps -e | grep iperf", FakeResponse{Stdout: []string{" 1234 ?  00:00:01 iperf"}}))

	h, _ := newFakeHost(t, fake, WithKillTries(2))
	err := h.KillAll(context.Background(), "iperf")

	var rerr *ProcessRunningError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, []string{"1234"}, rerr.PIDs)

	// One listing and kill, then two verification listings.
	assert.Len(t, fake.Commands(), 4)
}

func TestFakeBlockingProcess(t *testing.T) {
	ctx := context.Background()
	fake := NewFakeClient()
	require.NoError(t, fake.On("*--server*", FakeResponse{Stdout: []string{"listening"}, Block: true}))

	h, _ := newFakeHost(t, fake)
	cmd, err := h.Execute(ctx, "iperf --server", 0)
	require.NoError(t, err)

	line, err := cmd.Stdout.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "listening", line)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd.Stdout.ReadAll(ctx)
	}()

	select {
	case <-done:
		t.Fatal("blocking process finished before close")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, h.Close())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("closing the host did not end the output")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.ControlIP = "192.168.10.34"
	cfg.Username = "admin"
	cfg.TestIP = "192.168.20.34"
	assert.NoError(t, cfg.Validate())

	cfg.ConnectionType = "telnet"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ConnectionType = Fake
	cfg.TestInterface = "eth1"
	assert.Error(t, cfg.Validate())

	cfg.TestIP = "10.0.0.1"
	h, err := cfg.Build(zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, "fake", h.Name())
	assert.Equal(t, "10.0.0.1", h.TestInterface())
	assert.Equal(t, DefaultTimeout, h.Timeout())
}
