package models

import "time"

// DateFormat is the canonical date layout used across the store and the
// upstream providers (dates are day-granular everywhere in this system).
const DateFormat = "2006-01-02"

// Stock represents one listed security in the universe. Securities are
// never deleted, only marked with a non-active status.
type Stock struct {
	Symbol     string    `json:"symbol"` // e.g. 000001.SZ
	Name       string    `json:"name"`
	Market     string    `json:"market"`   // SZ/SS
	Exchange   string    `json:"exchange"` // szse/sse
	IndustryL1 string    `json:"industry_l1,omitempty"`
	IndustryL2 string    `json:"industry_l2,omitempty"`
	ListDate   time.Time `json:"list_date"`
	DelistDate time.Time `json:"delist_date,omitempty"` // zero if still listed
	Currency   string    `json:"currency"`
	LotSize    int       `json:"lot_size"`
	Status     string    `json:"status"` // active/suspended/delisted
	IsST       bool      `json:"is_st"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsActive reports whether the stock participates in sync runs.
func (s *Stock) IsActive() bool {
	return s.Status == "active"
}

// TradingDay is one row of the trading calendar for a market.
type TradingDay struct {
	Date      time.Time `json:"date"`
	Market    string    `json:"market"` // CN
	IsTrading bool      `json:"is_trading"`
}

// Day truncates a timestamp to date precision in UTC. All date arithmetic
// in the sync core goes through this so that two values for the same
// calendar day always compare equal.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
