package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tdtool/emdn"
	"github.com/rustyeddy/tdtool/tap"
	"github.com/rustyeddy/tdtool/tradedb"
)

func newTapCmd(st *rootState) *cobra.Command {
	var (
		firehoseURI string
		file        string
		dbPath      string
		seconds     int
		minutes     int
		records     int
		commitSecs  int
		noWrites    bool
		warn        bool
		warnTo      string
		verbose     int
	)

	cmd := &cobra.Command{
		Use:   "tap",
		Short: "Capture live market quotes into the trade database",
		Long: `Connect to the market-quote firehose and save incoming price
updates to the trade database, regenerating the prices listing as it
goes. A capture file (plain, .xz, or a .zip of captures) can replay a
feed offline:

  tdtool tap --records 1000
  tdtool tap --file capture.jsonl --no-writes -v

Unrecognized items, systems, or stations abort the capture unless
--warn demotes them to warnings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if firehoseURI != "" && file != "" {
				return fmt.Errorf("--firehose and --file are mutually exclusive")
			}

			uri := firehoseURI
			if file != "" {
				uri = file
				if !strings.Contains(file, "://") {
					uri = "file://" + file
				}
			}

			if dbPath == "" {
				dbPath = st.cfg.DBPath()
			}

			db, err := tradedb.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			hose, err := emdn.Open(uri)
			if err != nil {
				return err
			}
			defer hose.Close()
			hose.Debug = verbose
			hose.Logf = func(format string, args ...any) {
				fmt.Fprintf(os.Stdout, format+"\n", args...)
			}

			warnWriter := io.Writer(os.Stderr)
			if warnTo != "" {
				fh, err := os.Create(warnTo)
				if err != nil {
					return fmt.Errorf("open warning file: %w", err)
				}
				defer fh.Close()
				fmt.Fprintln(fh, "# tap warnings")
				warnWriter = fh
				warn = true
			}

			commitEvery := time.Duration(commitSecs) * time.Second
			fmt.Printf("* Fetching market data from %s to %s.\n", hose.URI(), dbPath)
			if commitEvery > 0 {
				fmt.Printf("* Automatic commits every %d seconds.\n", commitSecs)
			} else {
				fmt.Println("* Automatic commits disabled.")
			}

			err = tap.Run(cmd.Context(), hose, tap.Options{
				DB:          db,
				PricesPath:  st.cfg.PricesPath(),
				Duration:    time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second,
				Records:     records,
				CommitEvery: commitEvery,
				NoWrites:    noWrites,
				WarnOnly:    warn,
				Verbose:     verbose,
				Out:         os.Stdout,
				Warn:        warnWriter,
			})
			if err != nil {
				return fmt.Errorf("capture: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&firehoseURI, "firehose", "u", "", "feed URI (default "+emdn.DefaultURI+")")
	cmd.Flags().StringVarP(&file, "file", "f", "", "capture file to replay instead of the live feed")
	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "trade database to write to (default from config)")
	cmd.Flags().IntVarP(&seconds, "seconds", "s", 0, "maximum seconds to run for (0 is unlimited)")
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 0, "maximum minutes to run for (0 is unlimited)")
	cmd.Flags().IntVarP(&records, "records", "r", 0, "maximum records to retrieve (0 is unlimited)")
	cmd.Flags().IntVar(&commitSecs, "commit", 90, "commit automatically after this many seconds, 0 disables")
	cmd.Flags().BoolVar(&noWrites, "no-writes", false, "don't actually write to the database")
	cmd.Flags().BoolVar(&warn, "warn", false, "demote unrecognized items/stations to warnings")
	cmd.Flags().StringVar(&warnTo, "warn-to", "", "same as --warn but writes warnings to a file")
	cmd.Flags().CountVarP(&verbose, "verbose", "v", "increase verboseness")

	return cmd
}
