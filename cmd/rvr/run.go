package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/rvr/internal/xcmd"
	"github.com/yanet-platform/rvr/rvr"
)

const defaultConfigPath = "rvr.yaml"

var runCmd = &cobra.Command{
	Use:   "run [config...]",
	Short: "Run the tests described by each configuration file, in order",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			args = []string{defaultConfigPath}
		}
		exit(runConfigs(args))
	},
}

func runConfigs(paths []string) error {
	configs := make([]*rvr.Config, 0, len(paths))
	for _, path := range paths {
		cfg, err := rvr.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config %q: %w", path, err)
		}
		configs = append(configs, cfg)
	}

	for idx, cfg := range configs {
		if err := runConfig(paths[idx], cfg); err != nil {
			return err
		}
	}
	return nil
}

func runConfig(path string, cfg *rvr.Config) error {
	log, err := initLogging(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Infow("loaded config", zap.String("path", path))

	driver, err := rvr.Build(cfg, rvr.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize tests: %w", err)
	}
	defer driver.Close()

	wg, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Go(func() error {
		defer cancel()
		return driver.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		log.Infof("caught signal: %v", err)
		return err
	})

	return wg.Wait()
}
