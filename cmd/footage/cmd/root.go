// Package cmd implements the footage CLI commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/footage.report/internal/config"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

const appVersion = "0.3.0"

// rootOptions carries the flags shared by every subcommand.
type rootOptions struct {
	detectorURL string
	matcherURL  string
	configPath  string
	verbose     bool

	tuning *config.TuningConfig
}

// NewCommand returns the root command for the footage CLI.
func NewCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "footage",
		Short:         "CCTV suspect-search analysis server",
		Long:          "footage runs a video analysis pipeline that finds and tracks persons in CCTV footage and matches them against registered targets.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	root.PersistentFlags().StringVar(&opts.detectorURL, "detector-url", "http://localhost:8001", "person-detection service base URL")
	root.PersistentFlags().StringVar(&opts.matcherURL, "matcher-url", "http://localhost:8002", "clothing-similarity service base URL")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "tuning config JSON file (partial configs allowed)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable diagnostic logging")

	root.AddCommand(
		newServeCommand(opts),
		newAnalyzeCommand(opts),
		newTargetsCommand(opts),
	)
	return root
}

func (o *rootOptions) setup() error {
	writers := monitoring.LogWriters{Ops: os.Stderr, Diag: io.Discard, Trace: io.Discard}
	if o.verbose {
		writers.Diag = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	if o.configPath == "" {
		o.tuning = config.EmptyTuningConfig()
		return nil
	}
	tuning, err := config.LoadTuningConfig(o.configPath)
	if err != nil {
		return fmt.Errorf("failed to load tuning config: %w", err)
	}
	o.tuning = tuning
	return nil
}
