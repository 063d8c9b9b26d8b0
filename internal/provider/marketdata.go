package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

const sourceName = "upstream"

type stockDTO struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Market     string `json:"market"`
	Exchange   string `json:"exchange"`
	IndustryL1 string `json:"industry_l1"`
	IndustryL2 string `json:"industry_l2"`
	ListDate   string `json:"list_date"`
	DelistDate string `json:"delist_date"`
	Status     string `json:"status"`
	IsST       bool   `json:"is_st"`
}

// FetchStockList fetches the full listed-security universe.
func (c *Client) FetchStockList(ctx context.Context) ([]*models.Stock, error) {
	var resp struct {
		Stocks []stockDTO `json:"stocks"`
	}
	if err := c.getJSON(ctx, "/v1/stocks", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch stock list: %w", err)
	}

	stocks := make([]*models.Stock, 0, len(resp.Stocks))
	for _, d := range resp.Stocks {
		s := &models.Stock{
			Symbol:     d.Symbol,
			Name:       d.Name,
			Market:     d.Market,
			Exchange:   d.Exchange,
			IndustryL1: d.IndustryL1,
			IndustryL2: d.IndustryL2,
			Status:     d.Status,
			IsST:       d.IsST,
			Currency:   "CNY",
			LotSize:    100,
		}
		if s.Status == "" {
			s.Status = "active"
		}
		s.ListDate = parseDate(d.ListDate)
		s.DelistDate = parseDate(d.DelistDate)
		stocks = append(stocks, s)
	}

	c.logger.WithField("count", len(stocks)).Debug("Fetched stock list")
	return stocks, nil
}

// FetchCalendar fetches trading-calendar rows for a market range.
func (c *Client) FetchCalendar(ctx context.Context, market string, start, end time.Time) ([]*models.TradingDay, error) {
	params := url.Values{}
	params.Add("market", market)
	params.Add("start", start.Format(models.DateFormat))
	params.Add("end", end.Format(models.DateFormat))

	var resp struct {
		Days []struct {
			Date      string `json:"date"`
			IsTrading bool   `json:"is_trading"`
		} `json:"days"`
	}
	if err := c.getJSON(ctx, "/v1/calendar", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch calendar: %w", err)
	}

	days := make([]*models.TradingDay, 0, len(resp.Days))
	for _, d := range resp.Days {
		date := parseDate(d.Date)
		if date.IsZero() {
			continue
		}
		days = append(days, &models.TradingDay{Date: date, Market: market, IsTrading: d.IsTrading})
	}

	return days, nil
}

type barDTO struct {
	Date         string  `json:"date"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	Amount       float64 `json:"amount"`
	TurnoverRate float64 `json:"turnover_rate"`
}

// FetchDaily fetches raw daily bars for one symbol over [start, end].
// Derived fields are not populated here; the sync core computes them.
func (c *Client) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]*models.DailyBar, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("start", start.Format(models.DateFormat))
	params.Add("end", end.Format(models.DateFormat))
	params.Add("frequency", "1d")

	var resp struct {
		Bars []barDTO `json:"bars"`
	}
	if err := c.getJSON(ctx, "/v1/bars", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch daily bars for %s: %w", symbol, err)
	}

	bars := make([]*models.DailyBar, 0, len(resp.Bars))
	for _, d := range resp.Bars {
		date := parseDate(d.Date)
		if date.IsZero() {
			continue
		}
		bars = append(bars, &models.DailyBar{
			Symbol:       symbol,
			Date:         date,
			Frequency:    "1d",
			Open:         d.Open,
			High:         d.High,
			Low:          d.Low,
			Close:        d.Close,
			Volume:       d.Volume,
			Amount:       d.Amount,
			TurnoverRate: d.TurnoverRate,
			Source:       sourceName,
			QualityScore: 100,
		})
	}

	c.logger.WithFields(logrus.Fields{
		"symbol": symbol,
		"count":  len(bars),
	}).Debug("Fetched daily bars")

	return bars, nil
}

type valuationDTO struct {
	Symbol         string  `json:"symbol"`
	Date           string  `json:"date"`
	PERatio        float64 `json:"pe_ratio"`
	PBRatio        float64 `json:"pb_ratio"`
	PSRatio        float64 `json:"ps_ratio"`
	PCFRatio       float64 `json:"pcf_ratio"`
	MarketCap      float64 `json:"market_cap"`
	CirculatingCap float64 `json:"circulating_cap"`
}

func (d *valuationDTO) toModel() *models.ValuationRecord {
	return &models.ValuationRecord{
		Symbol:         d.Symbol,
		Date:           parseDate(d.Date),
		PERatio:        d.PERatio,
		PBRatio:        d.PBRatio,
		PSRatio:        d.PSRatio,
		PCFRatio:       d.PCFRatio,
		MarketCap:      d.MarketCap,
		CirculatingCap: d.CirculatingCap,
		Source:         sourceName,
	}
}

// FetchValuation fetches the valuation snapshot for one symbol and date.
// Returns nil when the upstream has no data for the pair.
func (c *Client) FetchValuation(ctx context.Context, symbol string, date time.Time) (*models.ValuationRecord, error) {
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("date", date.Format(models.DateFormat))

	var resp struct {
		Valuation *valuationDTO `json:"valuation"`
	}
	if err := c.getJSON(ctx, "/v1/valuation", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch valuation for %s: %w", symbol, err)
	}
	if resp.Valuation == nil {
		return nil, nil
	}

	v := resp.Valuation.toModel()
	v.Symbol = symbol
	return v, nil
}

// FetchValuationsBulk fetches the valuation snapshot for every symbol on
// one date in a single call. Preferred when many symbols need the date.
func (c *Client) FetchValuationsBulk(ctx context.Context, date time.Time) ([]*models.ValuationRecord, error) {
	params := url.Values{}
	params.Add("date", date.Format(models.DateFormat))

	var resp struct {
		Valuations []valuationDTO `json:"valuations"`
	}
	if err := c.getJSON(ctx, "/v1/valuations", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch bulk valuations: %w", err)
	}

	out := make([]*models.ValuationRecord, 0, len(resp.Valuations))
	for i := range resp.Valuations {
		out = append(out, resp.Valuations[i].toModel())
	}

	c.logger.WithFields(logrus.Fields{
		"date":  date.Format(models.DateFormat),
		"count": len(out),
	}).Debug("Fetched bulk valuations")

	return out, nil
}

type fundamentalsDTO struct {
	Symbol             string  `json:"symbol"`
	ReportDate         string  `json:"report_date"`
	ReportType         string  `json:"report_type"`
	Revenue            float64 `json:"revenue"`
	OperatingProfit    float64 `json:"operating_profit"`
	NetProfit          float64 `json:"net_profit"`
	TotalAssets        float64 `json:"total_assets"`
	TotalLiabilities   float64 `json:"total_liabilities"`
	ShareholdersEquity float64 `json:"shareholders_equity"`
	OperatingCashFlow  float64 `json:"operating_cash_flow"`
	EPS                float64 `json:"eps"`
	BPS                float64 `json:"bps"`
	ROE                float64 `json:"roe"`
	ROA                float64 `json:"roa"`
	DebtRatio          float64 `json:"debt_ratio"`
}

func (d *fundamentalsDTO) toModel() *models.FundamentalsRecord {
	return &models.FundamentalsRecord{
		Symbol:             d.Symbol,
		ReportDate:         parseDate(d.ReportDate),
		ReportType:         d.ReportType,
		Revenue:            d.Revenue,
		OperatingProfit:    d.OperatingProfit,
		NetProfit:          d.NetProfit,
		TotalAssets:        d.TotalAssets,
		TotalLiabilities:   d.TotalLiabilities,
		ShareholdersEquity: d.ShareholdersEquity,
		OperatingCashFlow:  d.OperatingCashFlow,
		EPS:                d.EPS,
		BPS:                d.BPS,
		ROE:                d.ROE,
		ROA:                d.ROA,
		DebtRatio:          d.DebtRatio,
		Source:             sourceName,
	}
}

// FetchFundamentals fetches the latest quarterly reports for one symbol.
func (c *Client) FetchFundamentals(ctx context.Context, symbol string) ([]*models.FundamentalsRecord, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	var resp struct {
		Reports []fundamentalsDTO `json:"reports"`
	}
	if err := c.getJSON(ctx, "/v1/financials", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch fundamentals for %s: %w", symbol, err)
	}

	out := make([]*models.FundamentalsRecord, 0, len(resp.Reports))
	for i := range resp.Reports {
		r := resp.Reports[i].toModel()
		r.Symbol = symbol
		out = append(out, r)
	}
	return out, nil
}

// FetchCorporateActions fetches ex-rights events for one symbol.
func (c *Client) FetchCorporateActions(ctx context.Context, symbol string) ([]*models.CorporateAction, error) {
	params := url.Values{}
	params.Add("symbol", symbol)

	var resp struct {
		Actions []struct {
			ExDate        string  `json:"ex_date"`
			RecordDate    string  `json:"record_date"`
			CashDividend  float64 `json:"cash_dividend"`
			StockDividend float64 `json:"stock_dividend"`
			RightsRatio   float64 `json:"rights_ratio"`
			RightsPrice   float64 `json:"rights_price"`
			SplitRatio    float64 `json:"split_ratio"`
			AdjFactor     float64 `json:"adj_factor"`
		} `json:"actions"`
	}
	if err := c.getJSON(ctx, "/v1/corporate-actions", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch corporate actions for %s: %w", symbol, err)
	}

	out := make([]*models.CorporateAction, 0, len(resp.Actions))
	for _, d := range resp.Actions {
		exDate := parseDate(d.ExDate)
		if exDate.IsZero() {
			continue
		}
		out = append(out, &models.CorporateAction{
			Symbol:        symbol,
			ExDate:        exDate,
			RecordDate:    parseDate(d.RecordDate),
			CashDividend:  d.CashDividend,
			StockDividend: d.StockDividend,
			RightsRatio:   d.RightsRatio,
			RightsPrice:   d.RightsPrice,
			SplitRatio:    d.SplitRatio,
			AdjFactor:     d.AdjFactor,
			Source:        sourceName,
		})
	}
	return out, nil
}

// QuarterFingerprint returns the upstream content hash of one quarterly
// report drop. A changed hash means the drop was republished.
func (c *Client) QuarterFingerprint(ctx context.Context, period models.ReportPeriod) (string, error) {
	params := url.Values{}
	params.Add("year", fmt.Sprintf("%d", period.Year))
	params.Add("quarter", fmt.Sprintf("%d", period.Quarter))

	var resp struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := c.getJSON(ctx, "/v1/financials/quarter/fingerprint", params, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch quarter fingerprint: %w", err)
	}
	return resp.Fingerprint, nil
}

// FetchQuarterFundamentals fetches every symbol's report for one quarter.
func (c *Client) FetchQuarterFundamentals(ctx context.Context, period models.ReportPeriod) ([]*models.FundamentalsRecord, error) {
	params := url.Values{}
	params.Add("year", fmt.Sprintf("%d", period.Year))
	params.Add("quarter", fmt.Sprintf("%d", period.Quarter))

	var resp struct {
		Reports []fundamentalsDTO `json:"reports"`
	}
	if err := c.getJSON(ctx, "/v1/financials/quarter", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch quarter fundamentals: %w", err)
	}

	out := make([]*models.FundamentalsRecord, 0, len(resp.Reports))
	for i := range resp.Reports {
		r := resp.Reports[i].toModel()
		if r.ReportType == "" {
			r.ReportType = period.ReportType()
		}
		if r.ReportDate.IsZero() {
			r.ReportDate = period.EndDate()
		}
		out = append(out, r)
	}

	c.logger.WithFields(logrus.Fields{
		"year":    period.Year,
		"quarter": period.Quarter,
		"count":   len(out),
	}).Debug("Fetched quarter fundamentals")

	return out, nil
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(models.DateFormat, s)
	if err != nil {
		return time.Time{}
	}
	return models.Day(t)
}
