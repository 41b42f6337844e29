// Package cli implements the cutlog command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/kimhsiao/cutlog/internal/config"
	apperrors "github.com/kimhsiao/cutlog/internal/errors"
	"github.com/kimhsiao/cutlog/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// Version is set at build time.
var Version = "dev"

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	// Sync runs a pass before exiting when a command requested one.
	Sync bool

	cfg *config.Config
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "cutlog",
		Version: Version,
		Short:   "Offline-first haircut tracker",
		Long: `cutlog keeps profiles and their haircut records in a local cache and
synchronises them with the cutlog API in the background.

Every change is stored locally first and queued for upload; "cutlog sync"
or the daemon replays the queue and pulls remote changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			level := logging.ParseLevel(cfg.LogLevel)
			if opts.Verbose {
				level = logging.LevelDebug
			}
			logging.Init(cmd.ErrOrStderr(), level)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file (default $CUTLOG_CONFIG)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.Sync, "sync", false, "run a sync pass after changes")

	cmd.AddCommand(NewProfilesCommand(opts))
	cmd.AddCommand(NewRecordsCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		PrintError(cmd.ErrOrStderr(), err.Error())
		return exitCode(err)
	}
	return ExitSuccess
}

func exitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrValidation, apperrors.ErrInvalid, apperrors.ErrNotFound:
		return ExitCommandError
	}
	return ExitFailure
}
