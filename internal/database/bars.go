package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stock-sync/pkg/models"
)

const upsertBarQuery = `
	INSERT INTO market_data (
		symbol, date, frequency, open, high, low, close, volume, amount,
		prev_close, change_amount, change_percent, amplitude,
		high_limit, low_limit, is_limit_up, is_limit_down,
		turnover_rate, source, quality_score
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		open = VALUES(open),
		high = VALUES(high),
		low = VALUES(low),
		close = VALUES(close),
		volume = VALUES(volume),
		amount = VALUES(amount),
		prev_close = VALUES(prev_close),
		change_amount = VALUES(change_amount),
		change_percent = VALUES(change_percent),
		amplitude = VALUES(amplitude),
		high_limit = VALUES(high_limit),
		low_limit = VALUES(low_limit),
		is_limit_up = VALUES(is_limit_up),
		is_limit_down = VALUES(is_limit_down),
		turnover_rate = VALUES(turnover_rate),
		source = VALUES(source),
		quality_score = VALUES(quality_score)
`

// UpsertBarsTx writes bars inside an existing transaction. Re-running the
// same bars is a no-op beyond refreshing column values.
func (mc *MySQLClient) UpsertBarsTx(ctx context.Context, tx *Tx, bars []*models.DailyBar) error {
	for _, b := range bars {
		_, err := tx.ExecContext(ctx, upsertBarQuery,
			b.Symbol, b.Date.Format(models.DateFormat), b.Frequency,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.Amount,
			b.PrevClose, b.ChangeAmount, b.ChangePercent, b.Amplitude,
			b.HighLimit, b.LowLimit, b.IsLimitUp, b.IsLimitDown,
			b.TurnoverRate, b.Source, b.QualityScore,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert bar %s %s: %w", b.Symbol, b.Date.Format(models.DateFormat), err)
		}
	}
	return nil
}

// UpsertBars writes bars in a single transaction
func (mc *MySQLClient) UpsertBars(ctx context.Context, bars []*models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	return mc.ExecTx(ctx, func(tx *Tx) error {
		return mc.UpsertBarsTx(ctx, tx, bars)
	})
}

// MaxBarDate returns the newest persisted date for a series, zero if the
// series has no rows.
func (mc *MySQLClient) MaxBarDate(ctx context.Context, symbol, frequency string) (time.Time, error) {
	var d sql.NullTime
	err := mc.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM market_data WHERE symbol = ? AND frequency = ?`,
		symbol, frequency).Scan(&d)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query max bar date: %w", err)
	}
	if !d.Valid {
		return time.Time{}, nil
	}
	return models.Day(d.Time), nil
}

// MinBarDate returns the oldest persisted date for a series, zero if the
// series has no rows.
func (mc *MySQLClient) MinBarDate(ctx context.Context, symbol, frequency string) (time.Time, error) {
	var d sql.NullTime
	err := mc.db.QueryRowContext(ctx,
		`SELECT MIN(date) FROM market_data WHERE symbol = ? AND frequency = ?`,
		symbol, frequency).Scan(&d)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query min bar date: %w", err)
	}
	if !d.Valid {
		return time.Time{}, nil
	}
	return models.Day(d.Time), nil
}

// BarDates returns the persisted dates for a series in [start, end],
// ascending. Used by gap detection.
func (mc *MySQLClient) BarDates(ctx context.Context, symbol, frequency string, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT date FROM market_data
		WHERE symbol = ? AND frequency = ? AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := mc.db.QueryContext(ctx, query, symbol, frequency,
		start.Format(models.DateFormat), end.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query bar dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan bar date: %w", err)
		}
		dates = append(dates, models.Day(d))
	}

	return dates, rows.Err()
}

// GetBars returns the full bars for a series in [start, end], ascending.
func (mc *MySQLClient) GetBars(ctx context.Context, symbol, frequency string, start, end time.Time) ([]*models.DailyBar, error) {
	query := `
		SELECT symbol, date, frequency, open, high, low, close, volume,
		       COALESCE(amount, 0), prev_close, change_amount, change_percent,
		       amplitude, high_limit, low_limit, is_limit_up, is_limit_down,
		       COALESCE(turnover_rate, 0), source, quality_score
		FROM market_data
		WHERE symbol = ? AND frequency = ? AND date >= ? AND date <= ?
		ORDER BY date
	`

	rows, err := mc.db.QueryContext(ctx, query, symbol, frequency,
		start.Format(models.DateFormat), end.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []*models.DailyBar
	for rows.Next() {
		b := &models.DailyBar{}
		var date time.Time
		err := rows.Scan(
			&b.Symbol, &date, &b.Frequency,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Amount,
			&b.PrevClose, &b.ChangeAmount, &b.ChangePercent, &b.Amplitude,
			&b.HighLimit, &b.LowLimit, &b.IsLimitUp, &b.IsLimitDown,
			&b.TurnoverRate, &b.Source, &b.QualityScore,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Date = models.Day(date)
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// CountBars counts persisted bars for a symbol on a given date across all
// frequencies. Used to corroborate completed sync markers.
func (mc *MySQLClient) CountBars(ctx context.Context, symbol string, date time.Time) (int, error) {
	var n int
	err := mc.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM market_data WHERE symbol = ? AND date = ?`,
		symbol, date.Format(models.DateFormat)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return n, nil
}

// UpdateDerivedFields rewrites only the derived columns of existing bars.
// Raw OHLCV is never touched by this path.
func (mc *MySQLClient) UpdateDerivedFields(ctx context.Context, symbol, frequency string, fields []*models.DerivedFields) error {
	if len(fields) == 0 {
		return nil
	}

	query := `
		UPDATE market_data SET
			prev_close = ?,
			change_amount = ?,
			change_percent = ?,
			amplitude = ?,
			high_limit = ?,
			low_limit = ?,
			is_limit_up = ?,
			is_limit_down = ?
		WHERE symbol = ? AND frequency = ? AND date = ?
	`

	return mc.ExecTx(ctx, func(tx *Tx) error {
		for _, f := range fields {
			_, err := tx.ExecContext(ctx, query,
				f.PrevClose, f.ChangeAmount, f.ChangePercent, f.Amplitude,
				f.HighLimit, f.LowLimit, f.IsLimitUp, f.IsLimitDown,
				symbol, frequency, f.Date.Format(models.DateFormat),
			)
			if err != nil {
				return fmt.Errorf("failed to update derived fields: %w", err)
			}
		}
		return nil
	})
}
