package tap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tdtool/emdn"
	"github.com/rustyeddy/tdtool/tradedb"
)

func quoteLine(item, category, location string, sell, buy, demandLevel, stockLevel int) string {
	return fmt.Sprintf(`{"type":"marketquote","message":{"buyPrice":%d,"sellPrice":%d,"demand":100,"demandLevel":%d,"stationStock":50,"stationStockLevel":%d,"categoryName":%q,"itemName":%q,"stationName":%q,"timestamp":"2014-10-01T12:00:00"}}`,
		buy, sell, demandLevel, stockLevel, category, item, location)
}

func goldQuote() string {
	return quoteLine("Gold", "Metals", "Abraham Lincoln (Sol)", 9531, 9800, 2, 1)
}

func newMarket(t *testing.T) (*tradedb.DB, tradedb.Station, tradedb.Item) {
	t.Helper()

	db, err := tradedb.Open(filepath.Join(t.TempDir(), "trade.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sol, err := db.AddSystem("Sol")
	require.NoError(t, err)
	stn, err := db.AddStation(sol, "Abraham Lincoln")
	require.NoError(t, err)
	metals, err := db.AddCategory("Metals")
	require.NoError(t, err)
	gold, err := db.AddItem(metals, "Gold")
	require.NoError(t, err)

	return db, stn, gold
}

func captureHose(t *testing.T, lines ...string) *emdn.Firehose {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feed.jsonl")
	body := ""
	for _, l := range lines {
		body += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	hose, err := emdn.Open("file://" + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hose.Close() })
	return hose
}

func TestRunCommitsQuotes(t *testing.T) {
	t.Parallel()

	db, stn, gold := newMarket(t)
	hose := captureHose(t, goldQuote())
	pricesPath := filepath.Join(t.TempDir(), "trade.prices")

	err := Run(context.Background(), hose, Options{
		DB:         db,
		PricesPath: pricesPath,
	})
	require.NoError(t, err)

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, gold.ID, rows[0].ItemID)
	assert.Equal(t, 9531, rows[0].SellTo)
	assert.Equal(t, 9800, rows[0].BuyFrom)
	assert.Equal(t, 100, rows[0].Demand)

	listing, err := os.ReadFile(pricesPath)
	require.NoError(t, err)
	assert.Contains(t, string(listing), "@ SOL/Abraham Lincoln")
	assert.Contains(t, string(listing), "Gold")
}

func TestRunSkipsNoDemandEntries(t *testing.T) {
	t.Parallel()

	db, stn, _ := newMarket(t)
	hose := captureHose(t, quoteLine("Gold", "Metals", "Abraham Lincoln (Sol)", 9531, 9800, 0, 0))

	require.NoError(t, Run(context.Background(), hose, Options{DB: db}))

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	assert.Empty(t, rows, "phantom no-demand entries are dropped")
}

func TestRunRejectsUnknownItem(t *testing.T) {
	t.Parallel()

	db, _, _ := newMarket(t)
	hose := captureHose(t, quoteLine("Unobtainium", "Metals", "Abraham Lincoln (Sol)", 10, 20, 2, 1))

	err := Run(context.Background(), hose, Options{DB: db})
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	assert.Equal(t, "item", reject.Kind)
	assert.Equal(t, "Unobtainium", reject.Name)
}

func TestRunWarnOnlyKeepsGoing(t *testing.T) {
	t.Parallel()

	db, stn, _ := newMarket(t)
	hose := captureHose(t,
		quoteLine("Unobtainium", "Metals", "Abraham Lincoln (Sol)", 10, 20, 2, 1),
		quoteLine("Unobtainium", "Metals", "Abraham Lincoln (Sol)", 11, 21, 2, 1),
		goldQuote(),
	)

	var warnings bytes.Buffer
	err := Run(context.Background(), hose, Options{
		DB:       db,
		WarnOnly: true,
		Warn:     &warnings,
	})
	require.NoError(t, err)

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "the good record still lands")

	// Repeated rejects for the same subject are reported once.
	assert.Equal(t, 1, bytes.Count(warnings.Bytes(), []byte("Unobtainium")))
}

func TestRunRejectsCategoryMismatch(t *testing.T) {
	t.Parallel()

	db, _, _ := newMarket(t)
	hose := captureHose(t, quoteLine("Gold", "Medicines", "Abraham Lincoln (Sol)", 10, 20, 2, 1))

	err := Run(context.Background(), hose, Options{DB: db})
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	assert.Contains(t, reject.Reason, "category mismatch")
}

func TestRunRejectsNegativeValues(t *testing.T) {
	t.Parallel()

	db, _, _ := newMarket(t)
	hose := captureHose(t, quoteLine("Gold", "Metals", "Abraham Lincoln (Sol)", -5, 20, 2, 1))

	err := Run(context.Background(), hose, Options{DB: db})
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	assert.Contains(t, reject.Reason, "negative")
}

func TestRunRejectsUnknownSystemAndStation(t *testing.T) {
	t.Parallel()

	db, _, _ := newMarket(t)

	hose := captureHose(t, quoteLine("Gold", "Metals", "Azeban City (Eranin)", 10, 20, 2, 1))
	err := Run(context.Background(), hose, Options{DB: db})
	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	assert.Equal(t, "system", reject.Kind)

	hose = captureHose(t, quoteLine("Gold", "Metals", "Galileo (Sol)", 10, 20, 2, 1))
	err = Run(context.Background(), hose, Options{DB: db})
	require.ErrorAs(t, err, &reject)
	assert.Equal(t, "station", reject.Kind)
}

func TestRunSkipsBlackMarketItems(t *testing.T) {
	t.Parallel()

	db, stn, _ := newMarket(t)
	hose := captureHose(t,
		quoteLine("battleweapons", "Weapons", "Abraham Lincoln (Sol)", 10, 20, 2, 1),
		goldQuote(),
	)

	require.NoError(t, Run(context.Background(), hose, Options{DB: db}))

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRunNoWrites(t *testing.T) {
	t.Parallel()

	db, stn, _ := newMarket(t)
	hose := captureHose(t, goldQuote())
	pricesPath := filepath.Join(t.TempDir(), "trade.prices")

	err := Run(context.Background(), hose, Options{
		DB:         db,
		PricesPath: pricesPath,
		NoWrites:   true,
	})
	require.NoError(t, err)

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	assert.Empty(t, rows)

	sessions, err := db.CaptureCount()
	require.NoError(t, err)
	assert.Zero(t, sessions, "no session row should be recorded either")

	_, statErr := os.Stat(pricesPath)
	assert.True(t, os.IsNotExist(statErr), "prices file should not be written")
}

func TestRunRecordLimit(t *testing.T) {
	t.Parallel()

	db, stn, _ := newMarket(t)
	hose := captureHose(t, goldQuote(), goldQuote(), goldQuote())

	require.NoError(t, Run(context.Background(), hose, Options{DB: db, Records: 2}))

	rows, err := db.PriceRows(stn.ID, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "same station+item collapses to one row")
}

func TestRunRecordsCaptureSession(t *testing.T) {
	t.Parallel()

	db, _, _ := newMarket(t)
	hose := captureHose(t, goldQuote(), goldQuote())

	require.NoError(t, Run(context.Background(), hose, Options{DB: db}))

	// The session row carries the source URI and final record count.
	// Counted records include every quote that passed validation.
	var out bytes.Buffer
	hose2 := captureHose(t, goldQuote())
	require.NoError(t, Run(context.Background(), hose2, Options{DB: db, Verbose: 1, Out: &out}))
	assert.Contains(t, out.String(), "Captured 1 records total.")

	sessions, err := db.CaptureCount()
	require.NoError(t, err)
	assert.Equal(t, 2, sessions, "one session row per run")
}
