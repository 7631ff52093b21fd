// Package cli implements the stablestore command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MikhailWahib/stablestore/internal/config"
	"github.com/MikhailWahib/stablestore/internal/engine"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/ticket"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataPath   string
	InMemory   bool
	Format     string // "json" | "text"
	Verbose    bool

	// Clock stamps created_at and updated_at.
	Clock ticket.Clock

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Clock: ticket.SystemClock})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stablestore",
		Short: "Persistent ticket store",
		Long: `stablestore keeps ticket records in a single partitioned region file.

The region holds a durable id counter and an ordered ticket map. Every
command opens the region, runs, and closes it again; "serve" keeps it open
behind an HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError, "invalid flags",
					fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DataPath, "data", "", "region file (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.InMemory, "in-memory", false, "keep the region on the heap")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// loadConfig resolves the config from file, environment and flags, in that
// order of increasing precedence, and initialises logging.
func (o *RootOptions) loadConfig(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid config", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return WrapExitError(ExitCommandError, "invalid environment", err)
	}
	if cmd.Flags().Changed("data") {
		cfg.DataPath = o.DataPath
	}
	if cmd.Flags().Changed("in-memory") {
		cfg.InMemory = o.InMemory
	}
	if o.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		return WrapExitError(ExitCommandError, "failed to init logging", err)
	}
	o.cfg = cfg
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// withService opens the store for the duration of fn.
func (o *RootOptions) withService(fn func(*ticket.Service) error) (err error) {
	e, err := engine.Open(o.cfg)
	if err != nil {
		return WrapExitError(ExitStorageFailure, "failed to open store", err)
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitStorageFailure, "failed to close store", cerr)
		}
	}()
	return fn(ticket.NewService(e, ticket.WithClock(o.Clock)))
}
