// Package cli implements the cobra command tree for loom.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/logging"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return 1
	}
	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "loom",
		Short: "Prepare and compile mobile app platforms",
		Long: `loom coordinates native platform preparation and bundler
compilation per build target. In watch mode it keeps the bundler
subprocess alive, watches the native resource tree, and reports one
readiness event per compilation cycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: loom.yml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	cmd.AddCommand(
		newPrepareCommand(&cfgFile),
		newVersionCommand(),
	)

	return cmd
}

// loadConfig reads the config file and applies the log-level flag
// override.
func loadConfig(cmd *cobra.Command, cfgFile string) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, &ExitError{Code: 2, Err: err}
	}

	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		if _, ok := logging.ParseLevel(flagLevel); !ok {
			return config.Config{}, nil, &ExitError{Code: 2, Err: fmt.Errorf("unknown log level %q", flagLevel)}
		}
		cfg.LogLevel = flagLevel
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLoggerWithOutput(level, os.Stderr)
	return cfg, logger, nil
}
