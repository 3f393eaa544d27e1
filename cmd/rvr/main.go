package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yanet-platform/rvr/internal/logging"
	"github.com/yanet-platform/rvr/internal/version"
	"github.com/yanet-platform/rvr/internal/xcmd"
)

var rootArgs struct {
	Debug  bool
	Silent bool
}

var rootCmd = &cobra.Command{
	Use:     "rvr",
	Short:   "Rate-vs-range iperf test runner",
	Version: version.Version(),
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootArgs.Debug, "debug", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVar(&rootArgs.Silent, "silent", false, "Log errors only")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "silent")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

// initLogging builds the logger, letting the command line flags override the
// configured level.
func initLogging(cfg *logging.Config) (*zap.SugaredLogger, error) {
	log, level, err := logging.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	switch {
	case rootArgs.Debug:
		level.SetLevel(zapcore.DebugLevel)
	case rootArgs.Silent:
		level.SetLevel(zapcore.ErrorLevel)
	}
	return log, nil
}

// exit reports err and terminates the process. Interruption is not an error.
func exit(err error) {
	if err == nil {
		return
	}

	var interrupted xcmd.Interrupted
	if errors.As(err, &interrupted) {
		return
	}

	fmt.Printf("ERROR: %v\n", err)
	os.Exit(1)
}
