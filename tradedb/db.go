// Package tradedb is the SQLite market database: systems, stations,
// item categories, items, and the observed prices at each station.
// Name lookups are normalized so feed spellings ("Eranin Pearl" vs
// "ERANIN PEARL") resolve to the same row.
package tradedb

import (
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

type System struct {
	ID   int64
	Name string
}

type Station struct {
	ID       int64
	SystemID int64
	Name     string
}

type Category struct {
	ID   int64
	Name string
}

type Item struct {
	ID       int64
	Name     string
	Category Category
}

// NotFoundError reports a failed name lookup.
type NotFoundError struct {
	Kind string // "item", "system" or "station"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.Name)
}

// DB wraps the SQLite handle together with in-memory lookup indexes,
// loaded once at open. The feed tap does a lookup per record, so these
// never go back to SQL.
type DB struct {
	db *sql.DB

	systems  map[string]System             // normalized name
	stations map[int64]map[string]Station  // system id -> normalized name
	items    map[string]Item               // normalized name
}

// Open opens (creating if necessary) the market database at path and
// loads the lookup indexes.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	d := &DB{db: db}
	if err := d.loadIndexes(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Normalize folds a name for lookup: lower-cased with everything that
// is not a letter or digit removed.
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d *DB) loadIndexes() error {
	d.systems = make(map[string]System)
	d.stations = make(map[int64]map[string]Station)
	d.items = make(map[string]Item)

	rows, err := d.db.Query(`SELECT system_id, name FROM System`)
	if err != nil {
		return fmt.Errorf("load systems: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s System
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return err
		}
		d.systems[Normalize(s.Name)] = s
	}
	if err := rows.Err(); err != nil {
		return err
	}

	stnRows, err := d.db.Query(`SELECT station_id, system_id, name FROM Station`)
	if err != nil {
		return fmt.Errorf("load stations: %w", err)
	}
	defer stnRows.Close()
	for stnRows.Next() {
		var s Station
		if err := stnRows.Scan(&s.ID, &s.SystemID, &s.Name); err != nil {
			return err
		}
		bySys := d.stations[s.SystemID]
		if bySys == nil {
			bySys = make(map[string]Station)
			d.stations[s.SystemID] = bySys
		}
		bySys[Normalize(s.Name)] = s
	}
	if err := stnRows.Err(); err != nil {
		return err
	}

	itemRows, err := d.db.Query(`
		SELECT Item.item_id, Item.name, Category.category_id, Category.name
		  FROM Item INNER JOIN Category ON Item.category_id = Category.category_id`)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var it Item
		if err := itemRows.Scan(&it.ID, &it.Name, &it.Category.ID, &it.Category.Name); err != nil {
			return err
		}
		d.items[Normalize(it.Name)] = it
	}
	return itemRows.Err()
}

// LookupSystem resolves a system by name.
func (d *DB) LookupSystem(name string) (System, error) {
	s, ok := d.systems[Normalize(name)]
	if !ok {
		return System{}, &NotFoundError{Kind: "system", Name: name}
	}
	return s, nil
}

// LookupStation resolves a station by name within a system.
func (d *DB) LookupStation(sys System, name string) (Station, error) {
	s, ok := d.stations[sys.ID][Normalize(name)]
	if !ok {
		return Station{}, &NotFoundError{Kind: "station", Name: name}
	}
	return s, nil
}

// LookupItem resolves an item by name.
func (d *DB) LookupItem(name string) (Item, error) {
	it, ok := d.items[Normalize(name)]
	if !ok {
		return Item{}, &NotFoundError{Kind: "item", Name: name}
	}
	return it, nil
}

// AddSystem inserts a system and refreshes the index.
func (d *DB) AddSystem(name string) (System, error) {
	res, err := d.db.Exec(`INSERT INTO System (name) VALUES (?)`, name)
	if err != nil {
		return System{}, fmt.Errorf("insert system: %w", err)
	}
	id, _ := res.LastInsertId()
	s := System{ID: id, Name: name}
	d.systems[Normalize(name)] = s
	return s, nil
}

// AddStation inserts a station into a system and refreshes the index.
func (d *DB) AddStation(sys System, name string) (Station, error) {
	res, err := d.db.Exec(`INSERT INTO Station (system_id, name) VALUES (?, ?)`, sys.ID, name)
	if err != nil {
		return Station{}, fmt.Errorf("insert station: %w", err)
	}
	id, _ := res.LastInsertId()
	s := Station{ID: id, SystemID: sys.ID, Name: name}
	bySys := d.stations[sys.ID]
	if bySys == nil {
		bySys = make(map[string]Station)
		d.stations[sys.ID] = bySys
	}
	bySys[Normalize(name)] = s
	return s, nil
}

// AddCategory inserts an item category.
func (d *DB) AddCategory(name string) (Category, error) {
	res, err := d.db.Exec(`INSERT INTO Category (name) VALUES (?)`, name)
	if err != nil {
		return Category{}, fmt.Errorf("insert category: %w", err)
	}
	id, _ := res.LastInsertId()
	return Category{ID: id, Name: name}, nil
}

// AddItem inserts an item under a category and refreshes the index.
func (d *DB) AddItem(cat Category, name string) (Item, error) {
	res, err := d.db.Exec(`INSERT INTO Item (category_id, name) VALUES (?, ?)`, cat.ID, name)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	id, _ := res.LastInsertId()
	it := Item{ID: id, Name: name, Category: cat}
	d.items[Normalize(name)] = it
	return it, nil
}
