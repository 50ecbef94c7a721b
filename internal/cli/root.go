// Package cli implements olplay, the command line of the OpenLineage playground.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/correlator-io/openlineage-playground/internal/config"
)

// Set at build time with -ldflags "-X ...cli.version=...".
var (
	version = "dev"
	commit  = "none"
)

// Execute runs olplay and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		return 1
	}

	return 0
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	logLevel string
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "olplay",
		Short: "OpenLineage playground",
		Long: heredoc.Doc(`
			Emit OpenLineage events from simulated pipelines, inspect event logs
			and extract lineage from SQL scripts.

			Transports are configured in openlineage.yml (or OPENLINEAGE_CONFIG);
			OPENLINEAGE_URL switches to the http transport.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, ok := config.ParseLogLevel(opts.logLevel)
			if !ok {
				return fmt.Errorf("invalid --log-level %q (want debug, info, warn or error)", opts.logLevel)
			}

			opts.logger = config.NewLogger(cmd.ErrOrStderr(), level)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level",
		config.GetEnvStr("LOG_LEVEL", "warn"), "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newEmitCmd(opts),
		newListCmd(),
		newInspectCmd(),
		newSQLCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the olplay version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "olplay %s (commit %s)\n", version, commit)

			return err
		},
	}
}
