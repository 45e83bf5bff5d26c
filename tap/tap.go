// Package tap drinks from the market-quote firehose and saves the
// observations into the trade database, regenerating the prices
// listing after each commit.
package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rustyeddy/tdtool/emdn"
	"github.com/rustyeddy/tdtool/prices"
	"github.com/rustyeddy/tdtool/tradedb"
)

// Items the feed reports that deliberately have no database entry.
var blackMarketItems = map[string]bool{
	"battleweapons": true,
}

// RejectError aborts a capture on a record the database cannot place:
// an unknown item, system, or station, a category mismatch, or a
// nonsense value. WarnOnly demotes these to warnings instead.
type RejectError struct {
	Kind   string
	Name   string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("[%s >> %s] %s", e.Kind, e.Name, e.Reason)
}

// Options configure a capture run.
type Options struct {
	DB         *tradedb.DB
	PricesPath string // regenerated after each commit; empty disables

	Duration    time.Duration // total run length; 0 is unlimited
	Records     int           // total record cap; 0 is unlimited
	CommitEvery time.Duration // commit interval; 0 commits only at the end

	NoWrites bool // do everything except write
	WarnOnly bool // demote rejects to warnings
	Verbose  int

	Out  io.Writer // progress channel; nil discards
	Warn io.Writer // warning channel; nil discards
}

type tap struct {
	opts    Options
	ledger  *tradedb.Ledger
	bleated map[string]bool
	pending []tradedb.PriceUpdate
	records int
}

// Run captures from the firehose until the source drains, a limit is
// reached, or ctx is cancelled. Pending records are committed on the
// way out.
func Run(ctx context.Context, hose *emdn.Firehose, opts Options) error {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Warn == nil {
		opts.Warn = io.Discard
	}

	ledger, err := opts.DB.LoadLedger()
	if err != nil {
		return err
	}

	t := &tap{
		opts:    opts,
		ledger:  ledger,
		bleated: make(map[string]bool),
	}

	// NoWrites keeps the session log untouched too; the run leaves no
	// trace in the database at all.
	var sess tradedb.CaptureSession
	if !opts.NoWrites {
		sess, err = opts.DB.BeginCapture(ctx, hose.URI())
		if err != nil {
			return err
		}
	}

	var endOfRun time.Time
	if opts.Duration > 0 {
		endOfRun = time.Now().Add(opts.Duration)
	}

	if opts.Verbose > 0 {
		fmt.Fprintln(opts.Out, "* Capture starting.")
	}

	runErr := t.loop(ctx, hose, endOfRun)

	// Whatever is queued still gets saved, even on abort.
	if err := t.commit(ctx); err != nil && runErr == nil {
		runErr = err
	}

	if !opts.NoWrites {
		if err := opts.DB.FinishCapture(context.WithoutCancel(ctx), sess, t.records); err != nil && runErr == nil {
			runErr = err
		}
	}

	if opts.Verbose > 0 {
		fmt.Fprintf(opts.Out, "Captured %d records total.\n", t.records)
	}
	return runErr
}

func (t *tap) loop(ctx context.Context, hose *emdn.Firehose, endOfRun time.Time) error {
	for {
		timeout := t.opts.CommitEvery
		if !endOfRun.IsZero() {
			left := time.Until(endOfRun)
			if left <= 0 {
				return nil
			}
			if timeout == 0 || left < timeout {
				timeout = left
			}
		}

		cycleCap := 0
		if t.opts.Records > 0 {
			cycleCap = t.opts.Records - t.records
			if cycleCap <= 0 {
				return nil
			}
		}

		exhausted, err := hose.Drink(ctx, emdn.DrinkOptions{Records: cycleCap, Timeout: timeout}, t.consume)
		if err != nil {
			return err
		}

		if t.opts.Verbose > 2 {
			fmt.Fprintln(t.opts.Out, "- tick")
		}
		if err := t.commit(ctx); err != nil {
			return err
		}

		switch {
		case exhausted:
			return nil
		case ctx.Err() != nil:
			return nil
		case t.opts.Records > 0 && t.records >= t.opts.Records:
			return nil
		case !endOfRun.IsZero() && !time.Now().Before(endOfRun):
			return nil
		}
	}
}

// warning writes to the warning channel, duplicating to the progress
// channel at higher verbosity.
func (t *tap) warning(msg string) {
	now := time.Now().Format("2006-01-02T15:04:05")
	fmt.Fprintf(t.opts.Warn, "%s %s\n", now, msg)
	if t.opts.Verbose > 1 {
		fmt.Fprintf(t.opts.Out, "# %s\n", msg)
	}
}

// bleat reports a reject once per subject. Unless WarnOnly is set, the
// first report aborts the capture.
func (t *tap) bleat(kind, name, reason string) error {
	key := kind + ":" + name
	if !t.bleated[key] {
		t.bleated[key] = true
		t.warning(fmt.Sprintf("[%s >> %s] %s", kind, name, reason))
	}
	if t.opts.WarnOnly {
		return nil
	}
	return &RejectError{Kind: kind, Name: name, Reason: reason}
}

func (t *tap) consume(rec emdn.Record) error {
	at := fmt.Sprintf("%s@%s/%s", rec.Item, rec.System, rec.Station)

	if rec.PayingCr == 0 && rec.AskingCr == 0 && t.opts.Verbose > 2 {
		fmt.Fprintf(t.opts.Out, "# 0/0 entry for %s\n", at)
	}
	if rec.PayingCr < 0 || rec.AskingCr < 0 ||
		rec.Stock < 0 || rec.StockLevel < 0 ||
		rec.Demand < 0 || rec.DemandLevel < 0 {
		return t.bleat("item", at, "invalid (negative) value in price/stock fields")
	}

	t.records++
	if t.opts.Verbose > 0 && t.records%1000 == 0 {
		fmt.Fprintf(t.opts.Out, "# At %s captured %d records.\n", rec.Timestamp, t.records)
	}
	if t.opts.Verbose > 1 {
		fmt.Fprintf(t.opts.Out, "%s %s %dcr %dcr\n", rec.Timestamp, at, rec.PayingCr, rec.AskingCr)
	}

	// The game UI shows a phantom entry, priced from the origin
	// station, for cargo the station doesn't actually handle.
	if rec.DemandLevel == 0 && rec.StockLevel == 0 {
		if t.opts.Verbose > 2 {
			t.warning(fmt.Sprintf("ignoring no-demand entry for %s", at))
		}
		return nil
	}

	item, err := t.opts.DB.LookupItem(rec.Item)
	if err != nil {
		var nf *tradedb.NotFoundError
		if errors.As(err, &nf) {
			if blackMarketItems[tradedb.Normalize(rec.Item)] {
				return nil
			}
			return t.bleat("item", rec.Item, "unrecognized item")
		}
		return err
	}
	if tradedb.Normalize(item.Category.Name) != tradedb.Normalize(rec.Category) {
		reason := fmt.Sprintf("category mismatch: feed says %s, database says %s", rec.Category, item.Category.Name)
		return t.bleat("item", rec.Item, reason)
	}

	system, err := t.opts.DB.LookupSystem(rec.System)
	if err != nil {
		return t.bleat("system", rec.System, "unrecognized system")
	}
	station, err := t.opts.DB.LookupStation(system, rec.Station)
	if err != nil {
		return t.bleat("station", rec.System+"/"+rec.Station, "unrecognized station")
	}

	prev := t.ledger.Previous(station.ID, item.ID)
	if t.opts.Verbose > 0 && prev.SellTo != 0 && prev.BuyFrom != 0 {
		sellDiff := rec.PayingCr - prev.SellTo
		buyDiff := rec.AskingCr - prev.BuyFrom
		if sellDiff != 0 && buyDiff != 0 {
			fmt.Fprintf(t.opts.Out, "%s %s %+dcr %+dcr\n", rec.Timestamp, at, sellDiff, buyDiff)
		}
	}
	prev.SellTo, prev.BuyFrom = rec.PayingCr, rec.AskingCr

	t.pending = append(t.pending, tradedb.PriceUpdate{
		ItemID:      item.ID,
		StationID:   station.ID,
		UIOrder:     t.ledger.UIOrder(station.ID, item.Category.ID, item.ID),
		SellTo:      rec.PayingCr,
		BuyFrom:     rec.AskingCr,
		Demand:      rec.Demand,
		DemandLevel: rec.DemandLevel,
		Stock:       rec.Stock,
		StockLevel:  rec.StockLevel,
	})
	return nil
}

// commit flushes pending updates and regenerates the prices listing.
// NoWrites reports what would happen without touching anything.
func (t *tap) commit(ctx context.Context) error {
	if len(t.pending) == 0 {
		if t.opts.Verbose > 2 {
			fmt.Fprintln(t.opts.Out, "-> no records to commit.")
		}
		return nil
	}

	suffix := ""
	if t.opts.NoWrites {
		suffix = " [disabled]"
	}
	if t.opts.Verbose > 0 {
		fmt.Fprintf(t.opts.Out, "-> Save %d updates%s\n", len(t.pending), suffix)
	}

	if !t.opts.NoWrites {
		if err := t.opts.DB.CommitPrices(ctx, t.pending); err != nil {
			return err
		}
	}
	t.pending = t.pending[:0]

	if t.opts.PricesPath == "" {
		return nil
	}
	if t.opts.Verbose > 1 {
		fmt.Fprintf(t.opts.Out, "-> Rebuild prices file%s\n", suffix)
	}
	if t.opts.NoWrites {
		return nil
	}
	return t.rebuildPrices()
}

func (t *tap) rebuildPrices() error {
	fh, err := os.Create(t.opts.PricesPath)
	if err != nil {
		return fmt.Errorf("rebuild prices file: %w", err)
	}
	if err := prices.Dump(t.opts.DB, prices.Options{Elements: prices.Full}, fh); err != nil {
		fh.Close()
		return fmt.Errorf("rebuild prices file: %w", err)
	}
	return fh.Close()
}
