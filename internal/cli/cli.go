// Package cli implements the command line interface of the query runtime
// demo binary.
package cli

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"quiver.io/incremental-query-runtime/internal/buildinfo"
)

type options struct {
	verbosity  int
	configFile string
	log        logr.Logger
}

// New builds the root command.
func New(info buildinfo.BuildInfo) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "queryrt",
		Short:        "Incremental query runtime utilities",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.log = newLogger(opts.verbosity)
		},
	}
	root.PersistentFlags().IntVarP(&opts.verbosity, "verbosity", "v", 0,
		"Log verbosity level.")
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"Runtime configuration file (YAML).")

	root.AddCommand(newVersionCmd(info))
	root.AddCommand(newQueryCmd(opts))

	return root
}

func newVersionCmd(info buildinfo.BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
		},
	}
}

func newLogger(verbosity int) logr.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity)) //nolint:gosec
	cfg.OutputPaths = []string{"stderr"}
	zlog, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build logger: %s\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zlog)
}
