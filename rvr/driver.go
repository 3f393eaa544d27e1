package rvr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/rvr/host"
	"github.com/yanet-platform/rvr/iperf"
	"github.com/yanet-platform/rvr/parser"
	"github.com/yanet-platform/rvr/settings"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DriverOption configures a Driver.
type DriverOption func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) DriverOption {
	return func(o *options) {
		o.Log = log
	}
}

// Driver repeats iperf runs in every configured direction and records their
// summaries.
type Driver struct {
	cfg        *Config
	dut        host.Session
	traffic    host.Session
	runner     *iperf.Runner
	directions []iperf.Direction
	log        *zap.SugaredLogger
}

// Build connects the hosts described by the configuration and creates a
// Driver over them. Connections are established by the first command.
func Build(cfg *Config, options ...DriverOption) (*Driver, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	dut, err := cfg.DUT.Build(opts.Log.Named("dut"))
	if err != nil {
		return nil, fmt.Errorf("failed to build dut: %w", err)
	}
	traffic, err := cfg.Server.Build(opts.Log.Named("server"))
	if err != nil {
		return nil, fmt.Errorf("failed to build server: %w", err)
	}

	return NewDriver(cfg, dut, traffic, options...)
}

// NewDriver creates a Driver running the configured tests between dut and
// traffic.
func NewDriver(cfg *Config, dut host.Session, traffic host.Session, options ...DriverOption) (*Driver, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	directions, err := cfg.Iperf.Directions()
	if err != nil {
		return nil, err
	}
	reducer, err := cfg.Iperf.Reducer()
	if err != nil {
		return nil, err
	}
	units, err := parser.ParseUnits(cfg.Iperf.Units)
	if err != nil {
		return nil, err
	}
	client, server, unknown, err := cfg.Iperf.Settings()
	if err != nil {
		return nil, err
	}
	for _, name := range unknown {
		opts.Log.Warnw("ignoring unknown iperf option", zap.String("option", name), zap.Any("value", cfg.Iperf.Options[name]))
	}

	runner := iperf.NewRunner(dut, traffic, client, server,
		iperf.WithCommand(cfg.Iperf.Command),
		iperf.WithSummary(reducer),
		iperf.WithSettleDelay(cfg.SettleDelay),
		iperf.WithUnits(units),
		iperf.WithMaximum(cfg.Iperf.Maximum),
		iperf.WithLog(opts.Log),
	)

	return &Driver{
		cfg:        cfg,
		dut:        dut,
		traffic:    traffic,
		runner:     runner,
		directions: directions,
		log:        opts.Log.Named("rvr"),
	}, nil
}

// Run runs every repetition in every direction, one at a time, waiting the
// recovery time in between.
//
// A failed run does not stop the others, unless it can not succeed on retry
// or ctx is done. All failures are returned joined.
func (m *Driver) Run(ctx context.Context) error {
	table, err := OpenSummaryTable(filepath.Join(m.cfg.ResultLocation, SummaryFile))
	if err != nil {
		return err
	}
	defer table.Close()

	m.log.Infow("starting tests",
		zap.String("test", m.cfg.TestName),
		zap.Int("repetitions", m.cfg.Repetitions),
		zap.Any("directions", m.directions),
	)

	errs := []error{}
	first := true
	for repetition := 1; repetition <= m.cfg.Repetitions; repetition++ {
		for _, dir := range m.directions {
			if !first {
				if err := m.waitRecovery(ctx); err != nil {
					return errors.Join(append(errs, err)...)
				}
			}
			first = false

			row, err := m.runOnce(ctx, repetition, dir)
			if err != nil {
				errs = append(errs, fmt.Errorf("repetition %d %s failed: %w", repetition, dir, err))
				if ctx.Err() != nil || fatal(err) {
					return errors.Join(errs...)
				}
				continue
			}

			if err := table.Append(row); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}
	}

	return errors.Join(errs...)
}

func (m *Driver) runOnce(ctx context.Context, repetition int, dir iperf.Direction) (Row, error) {
	log := m.log.With(zap.Int("repetition", repetition), zap.String("direction", string(dir)))
	log.Info("starting run")

	filename := filepath.Join(m.cfg.ResultLocation, "raw", fmt.Sprintf("%s_%d", m.cfg.TestName, repetition))
	if err := m.runner.Run(ctx, dir, filename); err != nil {
		log.Errorw("run failed", zap.Error(err))
		return Row{}, err
	}

	row := Row{Repetition: repetition, Direction: dir}
	if v, ok := m.runner.ClientSummary(); ok {
		row.Client = &v
	}
	if v, ok := m.runner.ServerSummary(); ok {
		row.Server = &v
	}

	log.Infow("run finished", zap.String("client", cell(row.Client)), zap.String("server", cell(row.Server)))
	return row, nil
}

func (m *Driver) waitRecovery(ctx context.Context) error {
	if m.cfg.RecoveryTime <= 0 {
		return ctx.Err()
	}

	m.log.Debugw("recovering", zap.Duration("recovery_time", m.cfg.RecoveryTime))

	timer := time.NewTimer(m.cfg.RecoveryTime)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fatal reports whether err would fail every other run as well.
func fatal(err error) bool {
	var conflict *iperf.ConfigurationConflictError
	var configuration *settings.ConfigurationError
	var permission *host.PermissionError
	return errors.As(err, &conflict) || errors.As(err, &configuration) || errors.As(err, &permission)
}

// Versions returns the iperf version found on the device under test and on
// the traffic server.
func (m *Driver) Versions(ctx context.Context) (string, string, error) {
	dut, err := m.runner.Version(ctx, m.dut)
	if err != nil {
		return "", "", fmt.Errorf("failed to query dut: %w", err)
	}
	traffic, err := m.runner.Version(ctx, m.traffic)
	if err != nil {
		return "", "", fmt.Errorf("failed to query server: %w", err)
	}
	return dut, traffic, nil
}

// Close closes the connections to both hosts.
func (m *Driver) Close() error {
	return errors.Join(m.dut.Close(), m.traffic.Close())
}
