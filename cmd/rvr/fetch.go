package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yanet-platform/rvr/rvr"
)

var fetchCmdArgs struct {
	Section string
	Output  string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Print a sample configuration",
	Run: func(cmd *cobra.Command, args []string) {
		exit(fetch())
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchCmdArgs.Section, "section", "s", "", "Print only this section: "+strings.Join(rvr.Sections(), ", "))
	fetchCmd.Flags().StringVarP(&fetchCmdArgs.Output, "output", "o", "", "Write to the file instead of stdout")
}

func fetch() error {
	sample, err := rvr.SampleConfig(fetchCmdArgs.Section)
	if err != nil {
		return err
	}

	if fetchCmdArgs.Output == "" {
		fmt.Print(sample)
		return nil
	}
	if err := os.WriteFile(fetchCmdArgs.Output, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	return nil
}
