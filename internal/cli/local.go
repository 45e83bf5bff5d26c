package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tdtool/internal/forward"
)

func newLocalCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "local <place> <ly> [trade-args...]",
		Short: "Forward a nearby-systems query to the trade program",
		Long: `Run the trade program's "local" subcommand for a place and a
light-year range. Everything after the two positionals passes through
to the trade program untouched, so its own options work as usual:

  tdtool local Sol 10
  tdtool local "New Sol" 10 --detail

The command line is echoed (prefixed with $) before it runs, and the
trade program's exit status becomes tdtool's exit status.`,
		// All argument handling is manual: flag-shaped values are how
		// we detect a missing positional, and the tail belongs to the
		// trade program, not to us.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var place, ly string
			var extra []string
			if len(args) > 0 {
				place = args[0]
			}
			if len(args) > 1 {
				ly = args[1]
			}
			if len(args) > 2 {
				extra = args[2:]
			}

			if err := forward.Validate("tdtool local", place, ly); err != nil {
				return err
			}

			inv := forward.Invocation{
				Trade: st.cfg.Trade,
				Place: place,
				LY:    ly,
				Extra: extra,
			}
			code, err := forward.Run(cmd.Context(), inv, forward.Streams{
				In:  os.Stdin,
				Out: os.Stdout,
				Err: os.Stderr,
			})
			if err != nil {
				return err
			}
			if code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}
