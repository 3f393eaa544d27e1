package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/rvr/rvr"
)

var probeCmdArgs struct {
	ConfigPath string
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the iperf version found on both hosts",
	Run: func(cmd *cobra.Command, args []string) {
		exit(probe(cmd.Context()))
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeCmdArgs.ConfigPath, "config", "c", defaultConfigPath, "Path to the configuration file")
}

func probe(ctx context.Context) error {
	cfg, err := rvr.LoadConfig(probeCmdArgs.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := initLogging(&cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	driver, err := rvr.Build(cfg, rvr.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to initialize hosts: %w", err)
	}
	defer driver.Close()

	dut, server, err := driver.Versions(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("dut:    %s\nserver: %s\n", dut, server)
	return nil
}
