// Package prices renders the human-editable prices listing from the
// market database. The format is line-oriented so players can curate
// it by hand: stations group items under categories, and demand/stock
// columns use compact "<qty><level>" codes.
package prices

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rustyeddy/tdtool/tradedb"
)

// Elements selects which columns the listing carries.
type Elements uint

const (
	Basic Elements = 1 << iota
	Supply
	Timestamp

	Full = Basic | Supply | Timestamp
)

// Options control a single Dump.
type Options struct {
	// StationID limits the listing to one station; 0 lists everything.
	StationID int64

	Elements Elements

	// All forces the fill-in template: every known item with zero
	// prices, even where the station has committed prices.
	All bool

	// DefaultZero renders unknown demand/stock as "n/a" instead of
	// "unk", marking untraded items as unavailable.
	DefaultZero bool
}

const (
	creditWidth = 7
	levelWidth  = 8
)

var levelCodes = map[int]string{
	-1: "?",
	0:  "0",
	1:  "L",
	2:  "M",
	3:  "H",
}

// Dump writes the listing for the selected station(s) to w.
func Dump(db *tradedb.DB, opts Options, w io.Writer) error {
	if opts.Elements == 0 {
		opts.Elements = Basic
	}
	withSupply := opts.Elements&Supply != 0
	withTimes := opts.Elements&Timestamp != 0

	systems, stations, categories, items, err := db.Names()
	if err != nil {
		return fmt.Errorf("load names: %w", err)
	}

	nameWidth := len("Item Name")
	for _, name := range items {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
	}

	def := -1
	if opts.DefaultZero {
		def = 0
	}

	var rows []tradedb.PriceRow
	switch {
	case opts.All:
		rows, err = db.EmptyPriceRows(opts.StationID, def)
	case opts.StationID != 0:
		var n int
		n, err = db.StationPriceCount(opts.StationID)
		if err != nil {
			return err
		}
		if n == 0 {
			// Nothing committed yet: emit a fill-in template of
			// every item.
			rows, err = db.EmptyPriceRows(opts.StationID, def)
		} else {
			rows, err = db.PriceRows(opts.StationID, def)
		}
	default:
		rows, err = db.PriceRows(0, def)
	}
	if err != nil {
		return err
	}

	if opts.StationID != 0 {
		fmt.Fprintf(w, "# Prices for %s\n", stations[opts.StationID])
	} else {
		fmt.Fprintf(w, "# Prices for ALL Systems/Stations\n")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# REMOVE ITEMS THAT DON'T APPEAR IN THE UI")
	fmt.Fprintln(w, "# ORDER IS REMEMBERED: Move items around within categories to match the game UI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# File syntax:")
	fmt.Fprintln(w, "# <item name> <sell> <buy> [ <demand units><level> <stock units><level> [<timestamp>] ]")
	fmt.Fprintln(w, "# You can write 'unk' for unknown demand/stock, 'n/a' if the item is unavailable,")
	fmt.Fprintln(w, "# level can be one of 'L', 'M' or 'H'.")
	fmt.Fprintln(w, "# If you omit the timestamp, the current time will be used when the file is loaded.")
	if opts.DefaultZero {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# CAUTION: Items marked 'n/a' are ignored for trade planning.")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "#     %-*s %*s %*s", nameWidth, "Item Name", creditWidth, "Sell Cr", creditWidth, "Buy Cr")
	if withSupply {
		fmt.Fprintf(w, "  %*s %*s", levelWidth, "Demand", levelWidth, "Stock")
	}
	if withTimes {
		fmt.Fprintf(w, "  Timestamp")
	}
	fmt.Fprint(w, "\n\n")

	var lastSys, lastStn, lastCat string
	for _, r := range rows {
		system := systems[r.SystemID]
		if system != lastSys {
			if lastStn != "" {
				fmt.Fprint(w, "\n\n")
			}
			lastStn, lastCat = "", ""
			lastSys = system
		}

		station := stations[r.StationID]
		if station != lastStn {
			if lastStn != "" {
				fmt.Fprintln(w)
			}
			lastCat = ""
			fmt.Fprintf(w, "@ %s/%s\n", strings.ToUpper(system), station)
			lastStn = station
		}

		category := categories[r.CategoryID]
		if category != lastCat {
			fmt.Fprintf(w, "   + %s\n", category)
			lastCat = category
		}

		fmt.Fprintf(w, "      %-*s %*d %*d", nameWidth, items[r.ItemID], creditWidth, r.SellTo, creditWidth, r.BuyFrom)
		if withSupply {
			fmt.Fprintf(w, "  %*s %*s",
				levelWidth, qtyAndLevel(r.Demand, r.DemandLevel, opts.DefaultZero),
				levelWidth, qtyAndLevel(r.Stock, r.StockLevel, opts.DefaultZero))
		}
		if withTimes {
			modified := "now"
			if r.Modified.Valid && r.Modified.String != "" {
				modified = r.Modified.String
			}
			fmt.Fprintf(w, "  %s", modified)
		}
		fmt.Fprintln(w)
	}

	return nil
}

// qtyAndLevel renders a demand or stock column: "unk" when nothing is
// known, "n/a" for unavailable, else quantity ('?' for unknown) plus a
// level code.
func qtyAndLevel(quantity, level int, defaultZero bool) string {
	if defaultZero && quantity == -1 && level == -1 {
		quantity, level = 0, 0
	}
	if quantity < 0 && level < 0 {
		return "unk"
	}
	if quantity == 0 && level == 0 {
		return "n/a"
	}

	qty := "?"
	if quantity >= 0 {
		qty = strconv.Itoa(quantity)
	}
	code, ok := levelCodes[level]
	if !ok {
		code = strconv.Itoa(level)
	}
	return qty + code
}
