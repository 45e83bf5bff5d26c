package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tdtool/prices"
	"github.com/rustyeddy/tdtool/tradedb"
)

func newPricesCmd(st *rootState) *cobra.Command {
	var (
		dbPath     string
		station    string
		all        bool
		supply     bool
		timestamps bool
		zero       bool
		output     string
	)

	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Generate the editable prices listing from the database",
		Long: `Write the prices listing: stations grouped by system, items
grouped by category, in UI order. The file is meant to be hand-edited
and reloaded, so a station without committed prices lists every item
as a fill-in template.

  tdtool prices --supply --timestamps
  tdtool prices --station "Sol/Abraham Lincoln" -o lincoln.prices`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = st.cfg.DBPath()
			}

			db, err := tradedb.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			opts := prices.Options{Elements: prices.Basic, All: all, DefaultZero: zero}
			if supply {
				opts.Elements |= prices.Supply
			}
			if timestamps {
				opts.Elements |= prices.Timestamp
			}

			if station != "" {
				stn, err := resolveStation(db, station)
				if err != nil {
					return err
				}
				opts.StationID = stn.ID
			}

			out := io.Writer(os.Stdout)
			if output != "" {
				fh, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("open output: %w", err)
				}
				defer fh.Close()
				out = fh
			}

			if err := prices.Dump(db, opts, out); err != nil {
				return fmt.Errorf("generate prices: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "trade database to read (default from config)")
	cmd.Flags().StringVar(&station, "station", "", `limit to one station, as "System/Station"`)
	cmd.Flags().BoolVar(&all, "all", false, "list every item as a fill-in template, ignoring committed prices")
	cmd.Flags().BoolVar(&supply, "supply", false, "include demand and stock columns")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "include last-modified timestamps")
	cmd.Flags().BoolVar(&zero, "zero", false, "mark unknown demand/stock as n/a instead of unk")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")

	return cmd
}

func resolveStation(db *tradedb.DB, spec string) (tradedb.Station, error) {
	sysName, stnName, ok := strings.Cut(spec, "/")
	if !ok {
		return tradedb.Station{}, fmt.Errorf(`station must be given as "System/Station", got %q`, spec)
	}

	sys, err := db.LookupSystem(sysName)
	if err != nil {
		return tradedb.Station{}, err
	}
	return db.LookupStation(sys, stnName)
}
