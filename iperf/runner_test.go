package iperf

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/rvr/host"
	"github.com/yanet-platform/rvr/parser"
	"github.com/yanet-platform/rvr/settings"
)

const (
	dutAddr     = "192.168.20.1"
	trafficAddr = "192.168.10.1"
)

type testbed struct {
	dutFake     *host.FakeClient
	trafficFake *host.FakeClient
	dut         *host.Host
	traffic     *host.Host
	client      *settings.ClientSettings
	server      *settings.ServerSettings
}

func newTestbed(t *testing.T) *testbed {
	log := zaptest.NewLogger(t).Sugar()

	dutFake := host.NewFakeClient()
	trafficFake := host.NewFakeClient()

	client, err := settings.NewClientSettings("")
	require.NoError(t, err)
	server := settings.NewServerSettings()
	require.NoError(t, server.SetSleep(0.01))

	return &testbed{
		dutFake:     dutFake,
		trafficFake: trafficFake,
		dut:         host.New("dut", dutAddr, dutFake.Dial(), host.WithLog(log)),
		traffic:     host.New("traffic", trafficAddr, trafficFake.Dial(), host.WithLog(log)),
		client:      client,
		server:      server,
	}
}

func (m *testbed) runner(t *testing.T, options ...RunnerOption) *Runner {
	options = append([]RunnerOption{
		WithLog(zaptest.NewLogger(t).Sugar()),
		WithSettleDelay(10 * time.Millisecond),
	}, options...)
	return NewRunner(m.dut, m.traffic, m.client, m.server, options...)
}

func readLines(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestDownstreamTCP(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.dutFake.On("iperf  --server*", host.FakeResponse{
		Stdout: []string{
			"------------------------------------------------------------",
			"Server listening on TCP port 5001",
			"TCP window size: 85.3 KByte (default)",
		},
		Block: true,
	}))
	require.NoError(t, tb.trafficFake.On("iperf  --client*", host.FakeResponse{
		Stdout: []string{
			"[  3] local 192.168.10.1 port 40000 connected with 192.168.20.1 port 5001",
			"[  3]  0.0-10.0 sec  1.10 GBytes   941 Mbits/sec",
		},
	}))
	require.NoError(t, tb.client.Set("time", 10))

	r := tb.runner(t)
	assert.Equal(t, 15*time.Second, r.ClientTimeout())

	dir := t.TempDir()
	require.NoError(t, r.Downstream(context.Background(), filepath.Join(dir, "raw", "run")))

	raw := readLines(t, filepath.Join(dir, "raw", "client_downstream_tcp_run"))
	assert.Len(t, raw, 2)

	parsed := readLines(t, filepath.Join(dir, "parsed", "client_downstream_tcp_run.csv"))
	assert.Equal(t, []string{"941"}, parsed)

	_, err := os.Stat(filepath.Join(dir, "parsed", "server_downstream_tcp_run.csv"))
	require.NoError(t, err)

	summary, ok := r.ClientSummary()
	require.True(t, ok)
	assert.Equal(t, 941.0, summary)
	_, ok = r.ServerSummary()
	assert.False(t, ok)

	assert.Equal(t, []string{
		"ps -e | grep iperf",
		"ps -e | grep iperf",
		"iperf  --client " + dutAddr + " --time 10",
	}, tb.trafficFake.Commands())
	assert.Equal(t, []string{
		"ps -e | grep iperf",
		"ps -e | grep iperf",
		"iperf  --server",
	}, tb.dutFake.Commands())
	assert.GreaterOrEqual(t, tb.dutFake.Closes(), 1)
}

func TestUpstreamWithReducer(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.trafficFake.On("iperf  --server*", host.FakeResponse{Block: true}))
	require.NoError(t, tb.dutFake.On("iperf  --client*", host.FakeResponse{
		Stdout: []string{
			"[  3]  0.0- 1.0 sec   112 MBytes   940 Mbits/sec",
			"[  3]  1.0- 2.0 sec   112 MBytes   944 Mbits/sec",
			"[  3]  2.0- 3.0 sec   112 MBytes   951 Mbits/sec",
			"[  3]  0.0- 3.0 sec   336 MBytes   945 Mbits/sec",
		},
		Stderr: []string{"read failed: Connection reset by peer"},
	}))
	require.NoError(t, tb.client.Set("interval", 1))
	require.NoError(t, tb.client.Set("time", 3))

	r := tb.runner(t, WithSummary(parser.Median))
	assert.Equal(t, 4*time.Second, r.ClientTimeout())

	dir := t.TempDir()
	require.NoError(t, r.Upstream(context.Background(), filepath.Join(dir, "raw", "run")))

	parsed := readLines(t, filepath.Join(dir, "parsed", "client_upstream_tcp_run.csv"))
	assert.Equal(t, []string{"940", "944", "951"}, parsed)

	summary, ok := r.ClientSummary()
	require.True(t, ok)
	assert.Equal(t, 944.0, summary)

	commands := tb.dutFake.Commands()
	require.NotEmpty(t, commands)
	assert.Equal(t, "iperf  --client "+trafficAddr+" --interval 1 --time 3", commands[len(commands)-1])
	assert.Equal(t, trafficAddr, tb.client.Server())
}

func TestProtocolMismatch(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.client.Set("udp", true))

	r := tb.runner(t)
	err := r.Downstream(context.Background(), filepath.Join(t.TempDir(), "run"))

	var conflict *ConfigurationConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.ClientUDP)
	assert.False(t, conflict.ServerUDP)

	assert.Empty(t, tb.dutFake.Commands())
	assert.Empty(t, tb.trafficFake.Commands())
}

func TestProtocol(t *testing.T) {
	tb := newTestbed(t)
	r := tb.runner(t)

	protocol, err := r.Protocol()
	require.NoError(t, err)
	assert.Equal(t, "tcp", protocol)

	require.NoError(t, tb.client.Set("udp", true))
	require.NoError(t, tb.server.Set("udp", true))
	protocol, err = r.Protocol()
	require.NoError(t, err)
	assert.Equal(t, "udp", protocol)
}

func TestClientReadTimeout(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.trafficFake.On("iperf  --client*", host.FakeResponse{Block: true}))
	require.NoError(t, tb.client.Set("interval", 0.01))

	r := tb.runner(t)
	err := r.Downstream(context.Background(), filepath.Join(t.TempDir(), "run"))

	var timeout *ReadTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.True(t, errors.Is(err, host.ErrReadTimeout))
	assert.GreaterOrEqual(t, tb.dutFake.Closes(), 1)
}

func TestKillPermissionDenied(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.dutFake.On("ps -e | grep iperf", host.FakeResponse{
		Stdout: []string{" 4242 ?        00:00:03 iperf"},
	}))
	require.NoError(t, tb.dutFake.On("kill -9 4242", host.FakeResponse{
		Stderr: []string{"kill: (4242) - Operation not permitted"},
	}))

	r := tb.runner(t)
	err := r.Downstream(context.Background(), filepath.Join(t.TempDir(), "run"))

	var perr *host.PermissionError
	require.ErrorAs(t, err, &perr)
	for _, cmd := range tb.dutFake.Commands() {
		assert.False(t, strings.HasPrefix(cmd, "iperf"), cmd)
	}
}

type otherSettings struct{}

func (otherSettings) Render() (string, error) { return "", nil }
func (otherSettings) UDP() bool { return false }

func TestClassify(t *testing.T) {
	tb := newTestbed(t)
	r := tb.runner(t)

	v := 1.5
	require.NoError(t, r.classify(tb.server, &v))
	summary, ok := r.ServerSummary()
	require.True(t, ok)
	assert.Equal(t, 1.5, summary)
	_, ok = r.ClientSummary()
	assert.False(t, ok)

	var cerr *ClassificationError
	require.ErrorAs(t, r.classify(otherSettings{}, &v), &cerr)
}

func TestVersion(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.dutFake.On("iperf --version", host.FakeResponse{
		Stderr: []string{"iperf version 2.0.13 (21 Jan 2019) pthreads"},
	}))

	r := tb.runner(t)
	version, err := r.Version(context.Background(), tb.dut)
	require.NoError(t, err)
	assert.Equal(t, "iperf version 2.0.13 (21 Jan 2019) pthreads", version)
}

func TestParsedPath(t *testing.T) {
	assert.Equal(t, filepath.FromSlash("out/parsed/client_x.csv"), ParsedPath(filepath.FromSlash("out/raw/client_x")))
	assert.Equal(t, filepath.FromSlash("out/rawdata/x.csv"), ParsedPath(filepath.FromSlash("out/rawdata/x")))
	assert.Equal(t, filepath.FromSlash("out/raw.csv"), ParsedPath(filepath.FromSlash("out/raw")))
	assert.Equal(t, "x.csv", ParsedPath("x"))
}

func TestAssign(t *testing.T) {
	tb := newTestbed(t)

	down, err := Assign(Downstream, tb.traffic, tb.dut)
	require.NoError(t, err)
	assert.Same(t, tb.traffic, down.Client())
	assert.Same(t, tb.dut, down.Server())

	up, err := Assign(Upstream, tb.traffic, tb.dut)
	require.NoError(t, err)
	assert.Same(t, tb.dut, up.Client())
	assert.Same(t, tb.traffic, up.Server())

	_, err = Assign(Direction("sideways"), tb.traffic, tb.dut)
	assert.Error(t, err)

	assert.Empty(t, tb.dutFake.Commands())
	assert.Empty(t, tb.trafficFake.Commands())
}

func TestParseDirections(t *testing.T) {
	cases := map[string][]Direction{
		"upstream": {Upstream},
		"Down":     {Downstream},
		"b":        {Downstream, Upstream},
		" both ":   {Downstream, Upstream},
	}
	for in, want := range cases {
		got, err := ParseDirections(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDirections("sideways")
	assert.Error(t, err)
	_, err = ParseDirections("")
	assert.Error(t, err)
}

func TestClientTimeoutZeroInterval(t *testing.T) {
	tb := newTestbed(t)
	require.NoError(t, tb.client.Set("interval", 0))
	require.NoError(t, tb.client.Set("time", 20))

	r := tb.runner(t)
	assert.Equal(t, 30*time.Second, r.ClientTimeout())

	require.NoError(t, tb.client.Set("time", 4))
	assert.Equal(t, 15*time.Second, r.ClientTimeout())
}

// stoppingSource cancels its context while handing out the first line.
type stoppingSource struct {
	cancel context.CancelFunc
	lines  []string
}

func (m *stoppingSource) Next(ctx context.Context) (string, error) {
	if len(m.lines) == 0 {
		return "", io.EOF
	}
	m.cancel()
	line := m.lines[0]
	m.lines = m.lines[1:]
	return line, nil
}

func TestConsumeKeepsLineReadOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &stoppingSource{cancel: cancel, lines: []string{"first", "second"}}

	handled := []string{}
	err := consume(ctx, src, "iperf", func(line string) error {
		handled = append(handled, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, handled)
}

func TestConsumeReadTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	err := consume(context.Background(), host.NewLineStream(r, 10*time.Millisecond), "iperf -s", func(string) error {
		return nil
	})
	var timeout *ReadTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "iperf -s", timeout.Command)
}
