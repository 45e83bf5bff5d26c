package tradedb

import (
	"context"
	"database/sql"
	"fmt"
)

// PriceUpdate is one observed market quote queued for commit.
type PriceUpdate struct {
	ItemID      int64
	StationID   int64
	UIOrder     int
	SellTo      int // credits the station pays the player
	BuyFrom     int // credits the station asks
	Demand      int
	DemandLevel int
	Stock       int
	StockLevel  int
}

// OldPrice is the last committed sell/buy pair for a station+item,
// used to report deltas as new quotes arrive.
type OldPrice struct {
	SellTo  int
	BuyFrom int
}

type stationCat struct {
	stationID  int64
	categoryID int64
}

type stationItem struct {
	stationID int64
	itemID    int64
}

// Ledger tracks UI ordering and last-seen prices across a capture run.
// Items the database has never seen at a station need a plausible
// ui_order; the ledger hands out one past the highest order already in
// use for that station+category.
type Ledger struct {
	orders map[stationCat]map[int64]int
	last   map[stationItem]*OldPrice
}

// LoadLedger seeds a Ledger from the committed Price rows.
func (d *DB) LoadLedger() (*Ledger, error) {
	l := &Ledger{
		orders: make(map[stationCat]map[int64]int),
		last:   make(map[stationItem]*OldPrice),
	}

	rows, err := d.db.Query(`
		SELECT Price.station_id, Item.category_id, Price.item_id,
		       Price.ui_order, Price.sell_to, Price.buy_from
		  FROM Price INNER JOIN Item ON Price.item_id = Item.item_id`)
	if err != nil {
		return nil, fmt.Errorf("load price ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stationID, categoryID, itemID int64
		var uiOrder, sellTo, buyFrom int
		if err := rows.Scan(&stationID, &categoryID, &itemID, &uiOrder, &sellTo, &buyFrom); err != nil {
			return nil, err
		}
		l.cat(stationID, categoryID)[itemID] = uiOrder
		prev := l.Previous(stationID, itemID)
		prev.SellTo, prev.BuyFrom = sellTo, buyFrom
	}
	return l, rows.Err()
}

func (l *Ledger) cat(stationID, categoryID int64) map[int64]int {
	key := stationCat{stationID, categoryID}
	m := l.orders[key]
	if m == nil {
		m = make(map[int64]int)
		l.orders[key] = m
	}
	return m
}

// UIOrder returns the item's display order at the station, assigning
// the next free slot in its category on first sight.
func (l *Ledger) UIOrder(stationID, categoryID, itemID int64) int {
	cat := l.cat(stationID, categoryID)
	if order, ok := cat[itemID]; ok {
		return order
	}
	highest := 0
	for _, order := range cat {
		if order > highest {
			highest = order
		}
	}
	cat[itemID] = highest + 1
	return highest + 1
}

// Previous returns the mutable last-seen price for a station+item,
// zero-valued on first sight.
func (l *Ledger) Previous(stationID, itemID int64) *OldPrice {
	key := stationItem{stationID, itemID}
	p := l.last[key]
	if p == nil {
		p = &OldPrice{}
		l.last[key] = p
	}
	return p
}

// CommitPrices writes a batch of updates in one transaction. Existing
// rows for the same station+item are replaced and stamped with the
// current time.
func (d *DB) CommitPrices(ctx context.Context, updates []PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO Price
		(item_id, station_id, ui_order, sell_to, buy_from, modified,
		 demand, demand_level, stock, stock_level)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare commit: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		_, err := stmt.ExecContext(ctx,
			u.ItemID, u.StationID, u.UIOrder, u.SellTo, u.BuyFrom,
			u.Demand, u.DemandLevel, u.Stock, u.StockLevel)
		if err != nil {
			return fmt.Errorf("commit price for item %d: %w", u.ItemID, err)
		}
	}

	return tx.Commit()
}

// PriceRow is one line of the prices listing, joined and ordered for
// display.
type PriceRow struct {
	SystemID    int64
	StationID   int64
	CategoryID  int64
	ItemID      int64
	SellTo      int
	BuyFrom     int
	Modified    sql.NullString
	Demand      int
	DemandLevel int
	Stock       int
	StockLevel  int
}

// PriceRows returns committed prices ordered for the listing: by
// system, station, category name, ui_order, item name. stationID 0
// selects every station. Null demand/stock columns read back as def.
func (d *DB) PriceRows(stationID int64, def int) ([]PriceRow, error) {
	where := "1=1"
	args := []any{def, def, def, def}
	if stationID != 0 {
		where = "Station.station_id = ?"
		args = append(args, stationID)
	}

	rows, err := d.db.Query(fmt.Sprintf(`
		SELECT Station.system_id, Price.station_id, Item.category_id, Price.item_id,
		       Price.sell_to, Price.buy_from, Price.modified,
		       IFNULL(Price.demand, ?), IFNULL(Price.demand_level, ?),
		       IFNULL(Price.stock, ?), IFNULL(Price.stock_level, ?)
		  FROM Station, Item, Category, Price
		 WHERE %s
		   AND Station.station_id = Price.station_id
		   AND Item.category_id = Category.category_id
		   AND Item.item_id = Price.item_id
		 ORDER BY Station.system_id, Price.station_id, Category.name, Price.ui_order, Item.name`,
		where), args...)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	return scanPriceRows(rows)
}

// EmptyPriceRows fabricates a zero-price row for every item at a
// station, so the listing comes out as an editable template. stationID
// 0 templates every station.
func (d *DB) EmptyPriceRows(stationID int64, def int) ([]PriceRow, error) {
	where := "1=1"
	args := []any{def, def, def, def}
	if stationID != 0 {
		where = "Station.station_id = ?"
		args = append(args, stationID)
	}

	rows, err := d.db.Query(fmt.Sprintf(`
		SELECT Station.system_id, Station.station_id, Item.category_id, Item.item_id,
		       0, 0, NULL, ?, ?, ?, ?
		  FROM Item, Station, Category
		 WHERE %s
		   AND Item.category_id = Category.category_id
		 ORDER BY Station.system_id, Station.station_id, Category.name, Item.name`,
		where), args...)
	if err != nil {
		return nil, fmt.Errorf("query item template: %w", err)
	}
	defer rows.Close()

	return scanPriceRows(rows)
}

func scanPriceRows(rows *sql.Rows) ([]PriceRow, error) {
	var out []PriceRow
	for rows.Next() {
		var r PriceRow
		err := rows.Scan(&r.SystemID, &r.StationID, &r.CategoryID, &r.ItemID,
			&r.SellTo, &r.BuyFrom, &r.Modified,
			&r.Demand, &r.DemandLevel, &r.Stock, &r.StockLevel)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StationPriceCount reports how many committed price rows a station has.
func (d *DB) StationPriceCount(stationID int64) (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM Price WHERE station_id = ?`, stationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count station prices: %w", err)
	}
	return n, nil
}

// Names returns id->name maps for the listing header and row labels.
func (d *DB) Names() (systems, stations, categories, items map[int64]string, err error) {
	systems, err = d.nameMap(`SELECT system_id, name FROM System`)
	if err != nil {
		return
	}
	stations, err = d.nameMap(`SELECT station_id, name FROM Station`)
	if err != nil {
		return
	}
	categories, err = d.nameMap(`SELECT category_id, name FROM Category`)
	if err != nil {
		return
	}
	items, err = d.nameMap(`SELECT item_id, name FROM Item`)
	return
}

func (d *DB) nameMap(query string) (map[int64]string, error) {
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		m[id] = name
	}
	return m, rows.Err()
}
