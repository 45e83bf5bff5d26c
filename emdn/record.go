// Package emdn is a client for the market-quote firehose: a stream of
// JSON envelopes carrying price observations from player scrapes. It
// reads the live tcp:// feed or file:// captures for offline replay.
package emdn

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one decoded market quote.
type Record struct {
	Item     string
	Category string
	System   string
	Station  string

	PayingCr int // station pays the player (sell-to)
	AskingCr int // station asks from the player (buy-from)

	Demand      int
	DemandLevel int
	Stock       int
	StockLevel  int

	Timestamp string
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s @ %s/%s %d/%d", r.Timestamp, r.Item, r.System, r.Station, r.PayingCr, r.AskingCr)
}

type envelope struct {
	Type    string `json:"type"`
	Message *quote `json:"message"`
}

type quote struct {
	BuyPrice          int    `json:"buyPrice"`
	SellPrice         int    `json:"sellPrice"`
	Demand            int    `json:"demand"`
	DemandLevel       int    `json:"demandLevel"`
	StationStock      int    `json:"stationStock"`
	StationStockLevel int    `json:"stationStockLevel"`
	CategoryName      string `json:"categoryName"`
	ItemName          string `json:"itemName"`
	StationName       string `json:"stationName"`
	Timestamp         string `json:"timestamp"`
}

// ParseLocation splits a feed station label of the form
// "Station (System)" into its parts. Labels without a system suffix
// are taken as both station and system; some early feed senders only
// reported the system.
func ParseLocation(location string) (system, station string) {
	open := strings.LastIndex(location, "(")
	if open < 0 || !strings.HasSuffix(location, ")") {
		return strings.TrimSpace(location), strings.TrimSpace(location)
	}
	station = strings.TrimSpace(location[:open])
	system = strings.TrimSpace(location[open+1 : len(location)-1])
	if station == "" {
		station = system
	}
	return system, station
}

// DecodeEnvelope decodes a raw feed payload. Envelopes of other types
// decode to (nil, nil) so callers can skip them; a marketquote missing
// required fields is an error.
func DecodeEnvelope(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode feed envelope: %w", err)
	}
	if env.Type != "marketquote" {
		return nil, nil
	}
	if env.Message == nil {
		return nil, fmt.Errorf("marketquote without a message body")
	}

	q := env.Message
	switch {
	case q.ItemName == "":
		return nil, fmt.Errorf("marketquote missing itemName")
	case q.CategoryName == "":
		return nil, fmt.Errorf("marketquote missing categoryName")
	case q.StationName == "":
		return nil, fmt.Errorf("marketquote missing stationName")
	case q.Timestamp == "":
		return nil, fmt.Errorf("marketquote missing timestamp")
	}

	system, station := ParseLocation(q.StationName)
	return &Record{
		Item:        q.ItemName,
		Category:    q.CategoryName,
		System:      system,
		Station:     station,
		PayingCr:    q.SellPrice,
		AskingCr:    q.BuyPrice,
		Demand:      q.Demand,
		DemandLevel: q.DemandLevel,
		Stock:       q.StationStock,
		StockLevel:  q.StationStockLevel,
		Timestamp:   q.Timestamp,
	}, nil
}
