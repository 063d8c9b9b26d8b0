package models

import "time"

// ReportPeriod identifies a quarterly reporting period.
type ReportPeriod struct {
	Year    int
	Quarter int // 1-4
}

// EndDate returns the last calendar day of the reporting period.
func (p ReportPeriod) EndDate() time.Time {
	switch p.Quarter {
	case 1:
		return time.Date(p.Year, time.March, 31, 0, 0, 0, 0, time.UTC)
	case 2:
		return time.Date(p.Year, time.June, 30, 0, 0, 0, 0, time.UTC)
	case 3:
		return time.Date(p.Year, time.September, 30, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(p.Year, time.December, 31, 0, 0, 0, 0, time.UTC)
	}
}

// ReportType returns the Q1..Q4 label stored alongside financial rows.
func (p ReportPeriod) ReportType() string {
	switch p.Quarter {
	case 1:
		return "Q1"
	case 2:
		return "Q2"
	case 3:
		return "Q3"
	default:
		return "Q4"
	}
}

// ValuationRecord holds the daily valuation snapshot for a symbol.
// Upstream sources legitimately omit fields, so validity is judged by
// HasCoreIndicator rather than full presence.
type ValuationRecord struct {
	Symbol         string    `json:"symbol"`
	Date           time.Time `json:"date"`
	PERatio        float64   `json:"pe_ratio"`
	PBRatio        float64   `json:"pb_ratio"`
	PSRatio        float64   `json:"ps_ratio"`
	PCFRatio       float64   `json:"pcf_ratio"`
	MarketCap      float64   `json:"market_cap"`
	CirculatingCap float64   `json:"circulating_cap"`
	Source         string    `json:"source"`
}

// HasCoreIndicator reports whether at least one core valuation field is
// populated. A record failing this is treated as absent data, not an error.
func (v *ValuationRecord) HasCoreIndicator() bool {
	if v == nil {
		return false
	}
	return v.PERatio != 0 || v.PBRatio != 0 || v.MarketCap != 0
}

// FundamentalsRecord holds one quarterly financial report for a symbol.
type FundamentalsRecord struct {
	Symbol             string    `json:"symbol"`
	ReportDate         time.Time `json:"report_date"`
	ReportType         string    `json:"report_type"` // Q1/Q2/Q3/Q4
	Revenue            float64   `json:"revenue"`
	OperatingProfit    float64   `json:"operating_profit"`
	NetProfit          float64   `json:"net_profit"`
	TotalAssets        float64   `json:"total_assets"`
	TotalLiabilities   float64   `json:"total_liabilities"`
	ShareholdersEquity float64   `json:"shareholders_equity"`
	OperatingCashFlow  float64   `json:"operating_cash_flow"`
	EPS                float64   `json:"eps"`
	BPS                float64   `json:"bps"`
	ROE                float64   `json:"roe"`
	ROA                float64   `json:"roa"`
	DebtRatio          float64   `json:"debt_ratio"`
	Source             string    `json:"source"`
}

// HasCoreIndicator reports whether the report carries at least one
// meaningful figure.
func (f *FundamentalsRecord) HasCoreIndicator() bool {
	if f == nil {
		return false
	}
	return f.Revenue != 0 || f.NetProfit != 0 || f.TotalAssets != 0 || f.EPS != 0
}

// CorporateAction is one ex-rights/dividend event for a symbol.
type CorporateAction struct {
	Symbol        string    `json:"symbol"`
	ExDate        time.Time `json:"ex_date"`
	RecordDate    time.Time `json:"record_date,omitempty"`
	CashDividend  float64   `json:"cash_dividend"`
	StockDividend float64   `json:"stock_dividend"`
	RightsRatio   float64   `json:"rights_ratio"`
	RightsPrice   float64   `json:"rights_price"`
	SplitRatio    float64   `json:"split_ratio"`
	AdjFactor     float64   `json:"adj_factor"`
	Source        string    `json:"source"`
}
