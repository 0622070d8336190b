// Package main provides the entry point for the teledigest CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/teledigest/cmd/teledigest/commands"
	"github.com/Sumatoshi-tech/teledigest/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose, quiet bool

	rootCmd := &cobra.Command{
		Use:   "teledigest",
		Short: "Teledigest - telemetry sanitization and aggregation",
		Long: `Teledigest turns streams of loosely structured, often malformed vehicle
telemetry into a small fixed-shape statistical digest.

Commands:
  digest    Aggregate a record file into a digest
  repair    Repair one near-JSON document`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, commands.FlagVerbose, "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, commands.FlagQuiet, "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewDigestCommand())
	rootCmd.AddCommand(commands.NewRepairCommand())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
