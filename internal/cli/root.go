package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tdtool/config"
	"github.com/rustyeddy/tdtool/internal/forward"
)

const version = "1.0.0"

// rootState carries the configuration resolved once before any
// subcommand runs.
type rootState struct {
	cfg *config.Config
}

// exitError carries the wrapped trade program's exit status through
// cobra so the process can exit with it unchanged.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func NewRootCmd() *cobra.Command {
	st := &rootState{}

	cmd := &cobra.Command{
		Use:           "tdtool",
		Short:         "Trade-data tooling: query forwarding, market feed capture, and prices listings",
		Long: `tdtool works alongside the external trade program and its market database.

It provides tools for:
  - Forwarding nearby-system queries to the trade program (local)
  - Capturing live market quotes from the feed into the database (tap)
  - Generating the editable prices listing (prices)
  - Managing the tdtool configuration file (config)

The base data directory comes from $` + config.EnvDir + ` (default: the working
directory); a ` + config.FileName + ` found there supplies the defaults and
$` + config.EnvTrade + ` overrides the trade program path.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st.cfg = cfg
		return nil
	}

	cmd.AddCommand(
		newLocalCmd(st),
		newTapCmd(st),
		newPricesCmd(st),
		newConfigCmd(st),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tdtool version %s\n", version)
		},
	})

	return cmd
}

// Execute runs the CLI and maps errors to the process exit status:
// usage errors and failures exit 1, a forwarded trade-program status
// passes through unchanged.
func Execute(ctx context.Context) int {
	return status(NewRootCmd().ExecuteContext(ctx))
}

func status(err error) int {
	if err == nil {
		return 0
	}

	var usage *forward.UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(os.Stderr, usage.Error())
		return 1
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
