package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stock-sync/pkg/models"
)

// GetExtendedStatuses returns the per-symbol progress rows for one
// sync type and target date, keyed by symbol.
func (mc *MySQLClient) GetExtendedStatuses(ctx context.Context, syncType string, targetDate time.Time) (map[string]*models.SyncStatus, error) {
	query := `
		SELECT symbol, sync_type, target_date, status, COALESCE(reason, ''),
		       COALESCE(session_id, ''), records_count, created_at, updated_at
		FROM extended_sync_status
		WHERE sync_type = ? AND target_date = ?
	`

	rows, err := mc.db.QueryContext(ctx, query, syncType, targetDate.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to query extended statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.SyncStatus)
	for rows.Next() {
		s := &models.SyncStatus{}
		var target time.Time
		err := rows.Scan(&s.Symbol, &s.SyncType, &target, &s.Status, &s.Reason,
			&s.SessionID, &s.Records, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extended status: %w", err)
		}
		s.TargetDate = models.Day(target)
		out[s.Symbol] = s
	}

	return out, rows.Err()
}

const upsertExtendedStatusQuery = `
	INSERT INTO extended_sync_status (
		symbol, sync_type, target_date, status, reason, session_id, records_count
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		status = VALUES(status),
		reason = VALUES(reason),
		session_id = VALUES(session_id),
		records_count = VALUES(records_count),
		updated_at = CURRENT_TIMESTAMP
`

// UpsertExtendedStatus writes one progress row.
func (mc *MySQLClient) UpsertExtendedStatus(ctx context.Context, s *models.SyncStatus) error {
	_, err := mc.db.ExecContext(ctx, upsertExtendedStatusQuery,
		s.Symbol, s.SyncType, s.TargetDate.Format(models.DateFormat),
		s.Status, s.Reason, s.SessionID, s.Records)
	if err != nil {
		return fmt.Errorf("failed to upsert extended status: %w", err)
	}
	return nil
}

// UpsertExtendedStatusTx writes one progress row inside a transaction, so
// the marker commits or rolls back together with the data it describes.
func (mc *MySQLClient) UpsertExtendedStatusTx(ctx context.Context, tx *Tx, s *models.SyncStatus) error {
	_, err := tx.ExecContext(ctx, upsertExtendedStatusQuery,
		s.Symbol, s.SyncType, s.TargetDate.Format(models.DateFormat),
		s.Status, s.Reason, s.SessionID, s.Records)
	if err != nil {
		return fmt.Errorf("failed to upsert extended status: %w", err)
	}
	return nil
}

// CountExtendedByStatus returns status -> row count for one sync type and
// target date. Drives the resume decision.
func (mc *MySQLClient) CountExtendedByStatus(ctx context.Context, syncType string, targetDate time.Time) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*) FROM extended_sync_status
		WHERE sync_type = ? AND target_date = ?
		GROUP BY status
	`

	rows, err := mc.db.QueryContext(ctx, query, syncType, targetDate.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to count extended statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		out[status] = n
	}

	return out, rows.Err()
}

// RequeueStaleProcessing flips processing rows older than the threshold
// back to pending. Returns the number of rows requeued.
func (mc *MySQLClient) RequeueStaleProcessing(ctx context.Context, syncType string, targetDate time.Time, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE extended_sync_status
		SET status = 'pending', reason = 'requeued after stale processing'
		WHERE sync_type = ? AND target_date = ? AND status = 'processing'
		  AND updated_at < ?
	`

	cutoff := time.Now().Add(-olderThan)
	res, err := mc.db.ExecContext(ctx, query, syncType,
		targetDate.Format(models.DateFormat), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DowngradeUncorroborated flips completed markers back to pending when no
// valuation row exists to back them. A marker is only trusted when the
// data it claims is actually present.
func (mc *MySQLClient) DowngradeUncorroborated(ctx context.Context, syncType string, targetDate time.Time) (int64, error) {
	query := `
		UPDATE extended_sync_status ess
		LEFT JOIN valuations v
		  ON v.symbol = ess.symbol AND v.date = ess.target_date
		SET ess.status = 'pending', ess.reason = 'completed marker had no backing data'
		WHERE ess.sync_type = ? AND ess.target_date = ?
		  AND ess.status = 'completed' AND v.symbol IS NULL
	`

	res, err := mc.db.ExecContext(ctx, query, syncType, targetDate.Format(models.DateFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to downgrade uncorroborated statuses: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetQuarterProgress returns the import marker for a reporting period,
// nil if the quarter was never imported.
func (mc *MySQLClient) GetQuarterProgress(ctx context.Context, period models.ReportPeriod) (*models.QuarterProgress, error) {
	query := `
		SELECT year, quarter, completed_at, record_count, source_fingerprint
		FROM quarter_sync_progress
		WHERE year = ? AND quarter = ?
	`

	p := &models.QuarterProgress{}
	var completedAt sql.NullTime
	err := mc.db.QueryRowContext(ctx, query, period.Year, period.Quarter).Scan(
		&p.Year, &p.Quarter, &completedAt, &p.RecordCount, &p.SourceFingerprint)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quarter progress: %w", err)
	}
	if completedAt.Valid {
		p.CompletedAt = completedAt.Time
	}
	return p, nil
}

// UpsertQuarterProgress records a quarter import.
func (mc *MySQLClient) UpsertQuarterProgress(ctx context.Context, p *models.QuarterProgress) error {
	query := `
		INSERT INTO quarter_sync_progress (year, quarter, completed_at, record_count, source_fingerprint)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			completed_at = VALUES(completed_at),
			record_count = VALUES(record_count),
			source_fingerprint = VALUES(source_fingerprint)
	`

	_, err := mc.db.ExecContext(ctx, query,
		p.Year, p.Quarter, p.CompletedAt, p.RecordCount, p.SourceFingerprint)
	if err != nil {
		return fmt.Errorf("failed to upsert quarter progress: %w", err)
	}
	return nil
}

// UpsertSummary writes a whole-run summary row.
func (mc *MySQLClient) UpsertSummary(ctx context.Context, s *models.SyncSummary) error {
	query := `
		INSERT INTO sync_status (
			symbol, frequency, last_sync_date, last_data_date, status, message, total_records
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			last_sync_date = VALUES(last_sync_date),
			last_data_date = VALUES(last_data_date),
			status = VALUES(status),
			message = VALUES(message),
			total_records = VALUES(total_records),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := mc.db.ExecContext(ctx, query,
		s.Symbol, s.Frequency,
		nullDate(s.LastSyncDate), nullDate(s.LastDataDate),
		s.Status, s.Message, s.TotalRecords)
	if err != nil {
		return fmt.Errorf("failed to upsert sync summary: %w", err)
	}
	return nil
}

// GetSummaries returns the latest summary rows, newest first.
func (mc *MySQLClient) GetSummaries(ctx context.Context, limit int) ([]*models.SyncSummary, error) {
	query := `
		SELECT symbol, frequency, last_sync_date, last_data_date, status,
		       COALESCE(message, ''), total_records, updated_at
		FROM sync_status
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := mc.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncSummary
	for rows.Next() {
		s := &models.SyncSummary{}
		var lastSync, lastData sql.NullTime
		err := rows.Scan(&s.Symbol, &s.Frequency, &lastSync, &lastData,
			&s.Status, &s.Message, &s.TotalRecords, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync summary: %w", err)
		}
		if lastSync.Valid {
			s.LastSyncDate = models.Day(lastSync.Time)
		}
		if lastData.Valid {
			s.LastDataDate = models.Day(lastData.Time)
		}
		out = append(out, s)
	}

	return out, rows.Err()
}
