// tradedb/schema.go
package tradedb

const Schema = `
CREATE TABLE IF NOT EXISTS System (
	system_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Station (
	station_id INTEGER PRIMARY KEY,
	system_id INTEGER NOT NULL REFERENCES System(system_id),
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS Category (
	category_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Item (
	item_id INTEGER PRIMARY KEY,
	category_id INTEGER NOT NULL REFERENCES Category(category_id),
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Price (
	item_id INTEGER NOT NULL REFERENCES Item(item_id),
	station_id INTEGER NOT NULL REFERENCES Station(station_id),
	ui_order INTEGER NOT NULL DEFAULT 0,
	sell_to INTEGER NOT NULL,
	buy_from INTEGER NOT NULL,
	modified DATETIME,
	demand INTEGER,
	demand_level INTEGER,
	stock INTEGER,
	stock_level INTEGER,
	PRIMARY KEY (item_id, station_id)
);

CREATE INDEX IF NOT EXISTS idx_price_station ON Price(station_id);

CREATE TABLE IF NOT EXISTS Capture (
	capture_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	started DATETIME NOT NULL,
	finished DATETIME,
	records INTEGER NOT NULL DEFAULT 0
);
`
