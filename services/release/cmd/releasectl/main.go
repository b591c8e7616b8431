package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath  string
	debug       bool
	metricsFile string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "releasectl",
		Short:         "Build, bundle and release JavaScript artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to the releasekit config file (default releasekit.yaml)")
	cmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.metricsFile, "metrics-file", "", "Write step counters to this file in Prometheus text format")

	cmd.AddCommand(newBuildCommand(flags))
	cmd.AddCommand(newReleaseCommand(flags))
	cmd.AddCommand(newBundleCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
