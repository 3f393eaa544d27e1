package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

const notPermitted = "Operation not permitted"

// KillAll implements Session.
//
// Matching processes are listed with ps and killed one by one with SIGKILL.
// The listing is then repeated until no match is left or the attempts run
// out. A process that is not running at all is not an error.
func (m *Host) KillAll(ctx context.Context, process string) error {
	log := m.log.With(zap.String("process", process))

	pattern, err := glob.Compile("*" + glob.QuoteMeta(process) + "*")
	if err != nil {
		return fmt.Errorf("failed to compile process pattern: %w", err)
	}

	pids, err := m.list(ctx, process, pattern)
	if err != nil {
		return err
	}
	for _, pid := range pids {
		if err := m.kill(ctx, process, pid); err != nil {
			return err
		}
	}

	verify := func() (struct{}, error) {
		pids, err := m.list(ctx, process, pattern)
		if err != nil {
			var perr *PermissionError
			if errors.As(err, &perr) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		if len(pids) > 0 {
			return struct{}{}, &ProcessRunningError{Host: m.name, Process: process, PIDs: pids}
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, verify,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     100 * time.Millisecond,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         time.Second,
		}),
		backoff.WithMaxTries(m.opts.KillTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debugw("process still listed, retrying", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err != nil {
		return err
	}

	log.Debugw("no processes left", zap.Int("killed", len(pids)))
	return nil
}

// list returns the PIDs of processes matching pattern.
func (m *Host) list(ctx context.Context, process string, pattern glob.Glob) ([]string, error) {
	cmd, err := m.Execute(ctx, "ps -e | grep "+process, m.opts.Timeout)
	if err != nil {
		return nil, err
	}
	defer cmd.Close()

	lines, err := cmd.Stdout.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes on %s: %w", m.name, err)
	}

	pids := []string{}
	for _, line := range lines {
		m.log.Debug(line)
		switch {
		case strings.Contains(line, notPermitted):
			return nil, &PermissionError{Host: m.name, Process: process, Message: line}
		case pattern.Match(line) && !strings.Contains(line, "grep"):
			fields := strings.Fields(line)
			if len(fields) > 0 {
				pids = append(pids, fields[0])
			}
		}
	}

	if err := m.checkStderr(ctx, cmd, process); err != nil {
		return nil, err
	}
	return pids, nil
}

func (m *Host) kill(ctx context.Context, process string, pid string) error {
	cmd, err := m.Execute(ctx, "kill -9 "+pid, m.opts.Timeout)
	if err != nil {
		return err
	}
	defer cmd.Close()

	lines, err := cmd.Stdout.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to kill %s on %s: %w", pid, m.name, err)
	}
	for _, line := range lines {
		m.log.Debug(line)
	}

	return m.checkStderr(ctx, cmd, process)
}

// checkStderr logs the command error output and fails on permission
// errors.
func (m *Host) checkStderr(ctx context.Context, cmd *Command, process string) error {
	lines, err := cmd.Stderr.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to read error output on %s: %w", m.name, err)
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		m.log.Warn(line)
		if strings.Contains(line, notPermitted) {
			return &PermissionError{Host: m.name, Process: process, Message: line}
		}
	}
	return nil
}
