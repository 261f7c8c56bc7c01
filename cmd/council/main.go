// Command council runs a single-decree Paxos simulation among the
// members described by a JSON configuration file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paxoscouncil/council/internal/config"
	"github.com/paxoscouncil/council/internal/orchestrator"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "council <config-file>",
		Short:         "Run a single-decree Paxos council over loopback TCP",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], logLevel)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logging verbosity: debug, info, warn, error")
	return cmd
}

func run(configPath, logLevel string) error {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	log.SetLevel(level)

	members, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	o := orchestrator.New(log)
	return o.Run(context.Background(), members)
}
