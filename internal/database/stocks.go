package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stock-sync/pkg/models"
)

// UpsertStocks writes the stock universe. Existing rows are updated in
// place; symbols absent from the input are left untouched so that
// delisted securities keep their history.
func (mc *MySQLClient) UpsertStocks(ctx context.Context, stocks []*models.Stock) error {
	if len(stocks) == 0 {
		return nil
	}

	query := `
		INSERT INTO stocks (
			symbol, name, market, exchange, industry_l1, industry_l2,
			list_date, delist_date, currency, lot_size, status, is_st
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			market = VALUES(market),
			exchange = VALUES(exchange),
			industry_l1 = VALUES(industry_l1),
			industry_l2 = VALUES(industry_l2),
			list_date = VALUES(list_date),
			delist_date = VALUES(delist_date),
			status = VALUES(status),
			is_st = VALUES(is_st),
			updated_at = CURRENT_TIMESTAMP
	`

	return mc.ExecTx(ctx, func(tx *Tx) error {
		for _, s := range stocks {
			_, err := tx.ExecContext(ctx, query,
				s.Symbol, s.Name, s.Market, s.Exchange,
				nullStr(s.IndustryL1), nullStr(s.IndustryL2),
				nullDate(s.ListDate), nullDate(s.DelistDate),
				s.Currency, s.LotSize, s.Status, s.IsST,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert stock %s: %w", s.Symbol, err)
			}
		}
		return nil
	})
}

// GetActiveStocks retrieves all stocks participating in sync runs
func (mc *MySQLClient) GetActiveStocks(ctx context.Context) ([]*models.Stock, error) {
	query := `
		SELECT symbol, name, market, COALESCE(exchange, ''),
		       COALESCE(industry_l1, ''), COALESCE(industry_l2, ''),
		       list_date, delist_date,
		       currency, lot_size, status, is_st, created_at, updated_at
		FROM stocks
		WHERE status = 'active'
		ORDER BY symbol
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	var stocks []*models.Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, s)
	}

	return stocks, rows.Err()
}

func scanStock(row interface {
	Scan(dest ...interface{}) error
}) (*models.Stock, error) {
	s := &models.Stock{}
	var listDate, delistDate sql.NullTime
	err := row.Scan(
		&s.Symbol, &s.Name, &s.Market, &s.Exchange,
		&s.IndustryL1, &s.IndustryL2,
		&listDate, &delistDate,
		&s.Currency, &s.LotSize, &s.Status, &s.IsST,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if listDate.Valid {
		s.ListDate = models.Day(listDate.Time)
	}
	if delistDate.Valid {
		s.DelistDate = models.Day(delistDate.Time)
	}
	return s, nil
}

// GetStock retrieves a single stock by symbol, nil if unknown.
func (mc *MySQLClient) GetStock(ctx context.Context, symbol string) (*models.Stock, error) {
	query := `
		SELECT symbol, name, market, COALESCE(exchange, ''),
		       COALESCE(industry_l1, ''), COALESCE(industry_l2, ''),
		       list_date, delist_date,
		       currency, lot_size, status, is_st, created_at, updated_at
		FROM stocks
		WHERE symbol = ?
	`

	s, err := scanStock(mc.db.QueryRowContext(ctx, query, symbol))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}

	return s, nil
}

// UpsertCalendar writes trading calendar rows
func (mc *MySQLClient) UpsertCalendar(ctx context.Context, days []*models.TradingDay) error {
	if len(days) == 0 {
		return nil
	}

	query := `
		INSERT INTO trading_calendar (date, market, is_trading)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE is_trading = VALUES(is_trading)
	`

	return mc.ExecTx(ctx, func(tx *Tx) error {
		for _, d := range days {
			if _, err := tx.ExecContext(ctx, query, d.Date.Format(models.DateFormat), d.Market, d.IsTrading); err != nil {
				return fmt.Errorf("failed to upsert calendar day: %w", err)
			}
		}
		return nil
	})
}

// GetTradingDays returns the trading dates for a market in [start, end],
// ascending.
func (mc *MySQLClient) GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT date FROM trading_calendar
		WHERE market = ? AND is_trading = TRUE AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := mc.db.QueryContext(ctx, query, market,
		start.Format(models.DateFormat), end.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query trading days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan trading day: %w", err)
		}
		days = append(days, models.Day(d))
	}

	return days, rows.Err()
}

// LatestCalendarDate returns the last date the calendar covers for a
// market, zero if the calendar is empty.
func (mc *MySQLClient) LatestCalendarDate(ctx context.Context, market string) (time.Time, error) {
	var d sql.NullTime
	err := mc.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM trading_calendar WHERE market = ?`, market).Scan(&d)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest calendar date: %w", err)
	}
	if !d.Valid {
		return time.Time{}, nil
	}
	return models.Day(d.Time), nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(models.DateFormat)
}
