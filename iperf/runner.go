// Package iperf runs iperf between two hosts and reduces its output to a
// bandwidth summary.
package iperf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/rvr/barrier"
	"github.com/yanet-platform/rvr/host"
	"github.com/yanet-platform/rvr/parser"
	"github.com/yanet-platform/rvr/settings"
)

const (
	// DefaultCommand is the iperf executable name.
	DefaultCommand = "iperf"
	// DefaultSettleDelay is waited before and after signaling the server
	// to stop.
	DefaultSettleDelay = time.Second

	// minClientTime is iperf's default transmission time, in seconds.
	minClientTime = 10
)

// Reducer reduces the interval samples of a run to a single bandwidth.
type Reducer func(samples []parser.Sample) float64

// Settings is what the runner needs from client and server settings.
type Settings interface {
	settings.Renderer
	UDP() bool
}

type options struct {
	Command      string
	Summary      Reducer
	SettleDelay  time.Duration
	BarrierDelay time.Duration
	Units        parser.Units
	Maximum      float64
	Log          *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Command:     DefaultCommand,
		SettleDelay: DefaultSettleDelay,
		Units:       parser.DefaultUnits,
		Log:         zap.NewNop().Sugar(),
	}
}

// RunnerOption configures a Runner.
type RunnerOption func(*options)

// WithCommand sets the iperf executable.
func WithCommand(command string) RunnerOption {
	return func(o *options) {
		o.Command = command
	}
}

// WithSummary sets the reducer computing run summaries. Without one the
// summary is iperf's own closing report.
func WithSummary(summary Reducer) RunnerOption {
	return func(o *options) {
		o.Summary = summary
	}
}

// WithSettleDelay sets the delay waited on both sides of stopping the
// server.
func WithSettleDelay(delay time.Duration) RunnerOption {
	return func(o *options) {
		o.SettleDelay = delay
	}
}

// WithBarrierDelay sets the server head start used when the server
// settings carry none.
func WithBarrierDelay(delay time.Duration) RunnerOption {
	return func(o *options) {
		o.BarrierDelay = delay
	}
}

// WithUnits sets the units samples and summaries are expressed in.
func WithUnits(units parser.Units) RunnerOption {
	return func(o *options) {
		o.Units = units
	}
}

// WithMaximum drops interval samples above the given bandwidth.
func WithMaximum(maximum float64) RunnerOption {
	return func(o *options) {
		o.Maximum = maximum
	}
}

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) RunnerOption {
	return func(o *options) {
		o.Log = log
	}
}

// Runner runs iperf between the device under test and the traffic host.
//
// Every run goes through the same steps: stale iperf processes are killed
// on both hosts, the server is started in the background and given a head
// start, then the client runs to completion. The output of both sides is
// saved raw, parsed into interval samples saved as CSV, and reduced to a
// summary. Finally the server is stopped and its connection closed.
//
// Runs must not overlap: they share the hosts and the settings.
type Runner struct {
	dut     host.Session
	traffic host.Session
	client  *settings.ClientSettings
	server  *settings.ServerSettings
	barrier *barrier.Barrier
	opts    *options
	log     *zap.SugaredLogger

	mu            sync.Mutex
	clientSummary *float64
	serverSummary *float64
}

// NewRunner creates a new Runner.
func NewRunner(
	dut host.Session,
	traffic host.Session,
	client *settings.ClientSettings,
	server *settings.ServerSettings,
	options ...RunnerOption,
) *Runner {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log.Named("iperf")

	delay := opts.BarrierDelay
	if sleep, ok := server.Sleep(); ok {
		delay = sleep
	} else if delay <= 0 {
		log.Debugw("server sleep is not set, using the default head start", zap.Duration("delay", barrier.DefaultDelay))
	}

	return &Runner{
		dut:     dut,
		traffic: traffic,
		client:  client,
		server:  server,
		barrier: barrier.New(delay),
		opts:    opts,
		log:     log,
	}
}

// Downstream runs traffic from the traffic host to the device under test.
func (m *Runner) Downstream(ctx context.Context, filename string) error {
	return m.Run(ctx, Downstream, filename)
}

// Upstream runs traffic from the device under test to the traffic host.
func (m *Runner) Upstream(ctx context.Context, filename string) error {
	return m.Run(ctx, Upstream, filename)
}

// Protocol returns "udp" or "tcp", failing when the client and the server
// disagree.
func (m *Runner) Protocol() (string, error) {
	clientUDP, serverUDP := m.client.UDP(), m.server.UDP()
	if clientUDP != serverUDP {
		return "", &ConfigurationConflictError{ClientUDP: clientUDP, ServerUDP: serverUDP}
	}
	if clientUDP {
		return "udp", nil
	}
	return "tcp", nil
}

// ClientTimeout returns the read timeout of the client: four intervals when
// iperf reports periodically, otherwise half as long again as the
// transmission takes.
func (m *Runner) ClientTimeout() time.Duration {
	if interval, ok := m.client.Interval(); ok && interval > 0 {
		return seconds(4 * interval)
	}

	t, ok := m.client.Time()
	if !ok {
		t = minClientTime
	}
	return seconds(1.5 * max(t, minClientTime))
}

// ClientSummary returns the summary of the last client run.
func (m *Runner) ClientSummary() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clientSummary == nil {
		return 0, false
	}
	return *m.clientSummary, true
}

// ServerSummary returns the summary of the last server run.
func (m *Runner) ServerSummary() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.serverSummary == nil {
		return 0, false
	}
	return *m.serverSummary, true
}

// Run runs iperf in the given direction. Output files are named after
// filename, prefixed with the direction and the protocol.
func (m *Runner) Run(ctx context.Context, dir Direction, filename string) error {
	log := m.log.With(zap.String("direction", string(dir)))

	protocol, err := m.Protocol()
	if err != nil {
		return err
	}
	roles, err := Assign(dir, m.traffic, m.dut)
	if err != nil {
		return err
	}

	for _, h := range []host.Session{roles.Client(), roles.Server()} {
		if err := h.KillAll(ctx, m.opts.Command); err != nil {
			return fmt.Errorf("failed to kill stale %s processes: %w", m.opts.Command, err)
		}
	}

	folder, base := filepath.Split(filename)
	filename = filepath.Join(folder, strings.Join([]string{string(dir), protocol, base}, "_"))

	if err := m.client.SetServer(roles.Server().TestInterface()); err != nil {
		return fmt.Errorf("failed to target the server: %w", err)
	}

	m.mu.Lock()
	m.clientSummary = nil
	m.serverSummary = nil
	m.mu.Unlock()

	stopCtx, stop := context.WithCancel(ctx)
	defer stop()

	wg := errgroup.Group{}
	wg.Go(func() error {
		return m.startServer(stopCtx, roles.Server(), filename, protocol == "udp")
	})
	m.barrier.Arm()
	log.Infow("started server", zap.Duration("head_start", m.barrier.Delay()))

	if err = m.barrier.Wait(ctx); err == nil {
		err = m.runClient(ctx, roles.Client(), filename, protocol == "udp")
	}

	log.Debugw("letting the server output finish", zap.Duration("delay", m.opts.SettleDelay))
	settle(ctx, m.opts.SettleDelay)
	stop()
	settle(ctx, m.opts.SettleDelay)

	if err := roles.Server().Close(); err != nil {
		log.Warnw("failed to close the server connection", zap.Error(err))
	}
	if err := wg.Wait(); err != nil {
		log.Debugw("server finished", zap.Error(err))
	}

	if err != nil {
		return err
	}
	return ctx.Err()
}

func (m *Runner) startServer(ctx context.Context, h host.Session, filename string, udp bool) error {
	folder, base := filepath.Split(filename)
	filename = filepath.Join(folder, "server_"+base)

	// UDP client reports carry nothing the server does not, so verbose
	// output comes from the server then.
	return m.run(ctx, h, m.server, filename, udp, 0)
}

func (m *Runner) runClient(ctx context.Context, h host.Session, filename string, udp bool) error {
	folder, base := filepath.Split(filename)
	filename = filepath.Join(folder, "client_"+base)

	timeout := m.ClientTimeout()
	m.log.Infow("setting client read timeout", zap.Duration("timeout", timeout))

	return m.run(ctx, h, m.client, filename, !udp, timeout)
}

// run executes iperf with the given settings and processes its output.
//
// The output is read until it ends or ctx is done, so canceling ctx is how
// a server is stopped.
func (m *Runner) run(
	ctx context.Context,
	h host.Session,
	s Settings,
	filename string,
	verbose bool,
	timeout time.Duration,
) error {
	rendered, err := s.Render()
	if err != nil {
		return err
	}
	command := m.opts.Command + " " + rendered
	log := m.log.With(zap.String("file", filepath.Base(filename)))

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	raw, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create raw output file: %w", err)
	}
	defer raw.Close()
	w := bufio.NewWriter(raw)

	cmd, err := h.Execute(ctx, command, timeout)
	if err != nil {
		return err
	}
	defer cmd.Close()

	threads := parser.WithThreads(m.client.Parallel())
	units := parser.WithUnits(m.opts.Units)
	intervals := parser.NewIntervalParser(threads, units, parser.WithMaximum(m.opts.Maximum), parser.WithLog(log))
	sums := parser.NewSumParser(threads, units, parser.WithLog(log))

	err = consume(ctx, cmd.Stdout, command, func(line string) error {
		log.Debug(line)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write raw output: %w", err)
		}
		if sample, ok := intervals.Feed(line); ok && verbose {
			log.Infow("bandwidth", zap.Float64("value", sample.Value), zap.String("units", string(sample.Units)))
		}
		sums.Feed(line)
		return nil
	})
	if err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write raw output: %w", err)
	}
	if err := writeParsed(ParsedPath(filename), intervals.Values()); err != nil {
		return err
	}

	var summary *float64
	if samples := intervals.Samples(); m.opts.Summary != nil && len(samples) > 0 {
		v := m.opts.Summary(samples)
		summary = &v
	} else if last, ok := sums.Last(); ok {
		summary = &last.Value
	}
	if err := m.classify(s, summary); err != nil {
		return err
	}

	m.drainStderr(ctx, log, cmd)
	return nil
}

type lineSource interface {
	Next(ctx context.Context) (string, error)
}

// consume hands every output line to handle until the output ends or ctx is
// done. A line read as ctx ends is still handled.
func consume(ctx context.Context, src lineSource, command string, handle func(line string) error) error {
	for {
		line, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, host.ErrReadTimeout) {
				return &ReadTimeoutError{Command: command, Err: err}
			}
			return fmt.Errorf("failed to read the output of %q: %w", command, err)
		}

		if err := handle(line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// classify stores the summary as the client or the server one, depending on
// who produced it.
func (m *Runner) classify(s Settings, summary *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch s.(type) {
	case *settings.ClientSettings:
		m.clientSummary = summary
	case *settings.ServerSettings:
		m.serverSummary = summary
	default:
		return &ClassificationError{Settings: s}
	}
	return nil
}

// drainStderr logs whatever iperf complained about. A killed server is
// expected to complain, so nothing here is an error.
func (m *Runner) drainStderr(ctx context.Context, log *zap.SugaredLogger, cmd *host.Command) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), max(m.opts.SettleDelay, 10*time.Millisecond))
	defer cancel()

	for {
		line, err := cmd.Stderr.Next(ctx)
		if err != nil {
			return
		}
		if line != "" {
			log.Debugw("stderr", zap.String("line", line))
		}
	}
}

// Version returns the iperf version installed on the host.
func (m *Runner) Version(ctx context.Context, h host.Session) (string, error) {
	return Version(ctx, h, m.opts.Command)
}

// Version returns the version of the iperf executable installed on the
// host. iperf prints it on stderr, so both streams are collected.
func Version(ctx context.Context, h host.Session, command string) (string, error) {
	cmd, err := h.Execute(ctx, command+" --version", host.DefaultTimeout)
	if err != nil {
		return "", err
	}
	defer cmd.Close()

	stdout, err := cmd.Stdout.ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read version: %w", err)
	}
	stderr, err := cmd.Stderr.ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read version: %w", err)
	}

	return strings.TrimSpace(strings.Join(append(stdout, stderr...), "\n")), nil
}

// ParsedPath returns where the parsed counterpart of a raw output file goes:
// "raw" path elements become "parsed" and ".csv" is appended.
func ParsedPath(raw string) string {
	parts := strings.Split(filepath.ToSlash(raw), "/")
	for idx, part := range parts[:len(parts)-1] {
		if part == "raw" {
			parts[idx] = "parsed"
		}
	}
	return filepath.FromSlash(strings.Join(parts, "/")) + ".csv"
}

func writeParsed(path string, values []float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parsed output directory: %w", err)
	}

	b := strings.Builder{}
	for _, v := range values {
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write parsed output: %w", err)
	}
	return nil
}

func settle(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
