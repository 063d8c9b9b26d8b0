// Package sync implements the incremental synchronization and resumable
// batch engine: window calculation, transactional batch execution with
// per-entity failure isolation, the phase orchestrator, gap detection
// and repair, and derived-field quality backfill.
package sync

import (
	"context"
	"time"

	"github.com/stock-sync/pkg/models"
)

// Store is the persistence surface the engine drives. Implemented by the
// MySQL client; tests use an in-memory fake.
type Store interface {
	// Universe and calendar.
	GetActiveStocks(ctx context.Context) ([]*models.Stock, error)
	UpsertStocks(ctx context.Context, stocks []*models.Stock) error
	UpsertCalendar(ctx context.Context, days []*models.TradingDay) error
	GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, error)
	LatestCalendarDate(ctx context.Context, market string) (time.Time, error)

	// Facts.
	MaxBarDate(ctx context.Context, symbol, frequency string) (time.Time, error)
	MinBarDate(ctx context.Context, symbol, frequency string) (time.Time, error)
	BarDates(ctx context.Context, symbol, frequency string, start, end time.Time) ([]time.Time, error)
	GetBars(ctx context.Context, symbol, frequency string, start, end time.Time) ([]*models.DailyBar, error)
	UpsertBars(ctx context.Context, bars []*models.DailyBar) error
	UpdateDerivedFields(ctx context.Context, symbol, frequency string, fields []*models.DerivedFields) error
	UpsertFundamentals(ctx context.Context, recs []*models.FundamentalsRecord) error
	DeleteQuarterFundamentals(ctx context.Context, period models.ReportPeriod) (int64, error)

	// Progress.
	GetExtendedStatuses(ctx context.Context, syncType string, targetDate time.Time) (map[string]*models.SyncStatus, error)
	UpsertExtendedStatus(ctx context.Context, s *models.SyncStatus) error
	CountExtendedByStatus(ctx context.Context, syncType string, targetDate time.Time) (map[string]int, error)
	RequeueStaleProcessing(ctx context.Context, syncType string, targetDate time.Time, olderThan time.Duration) (int64, error)
	DowngradeUncorroborated(ctx context.Context, syncType string, targetDate time.Time) (int64, error)
	GetQuarterProgress(ctx context.Context, period models.ReportPeriod) (*models.QuarterProgress, error)
	UpsertQuarterProgress(ctx context.Context, p *models.QuarterProgress) error
	UpsertSummary(ctx context.Context, s *models.SyncSummary) error

	// RunInTx runs fn inside one transaction; the engine opens at most
	// one write transaction at a time.
	RunInTx(ctx context.Context, fn func(tx StoreTx) error) error
}

// StoreTx is the write surface inside one open transaction. Savepoints
// give per-entity rollback without aborting the chunk.
type StoreTx interface {
	UpsertBars(ctx context.Context, bars []*models.DailyBar) error
	UpsertValuation(ctx context.Context, v *models.ValuationRecord) error
	UpsertFundamentals(ctx context.Context, f *models.FundamentalsRecord) error
	UpsertCorporateActions(ctx context.Context, actions []*models.CorporateAction) error
	UpsertStatus(ctx context.Context, s *models.SyncStatus) error

	Savepoint(ctx context.Context) (string, error)
	Release(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
}

// Provider is the upstream data source. Every call may legitimately
// return absent or partial data.
type Provider interface {
	FetchStockList(ctx context.Context) ([]*models.Stock, error)
	FetchCalendar(ctx context.Context, market string, start, end time.Time) ([]*models.TradingDay, error)
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]*models.DailyBar, error)
	FetchValuation(ctx context.Context, symbol string, date time.Time) (*models.ValuationRecord, error)
	FetchValuationsBulk(ctx context.Context, date time.Time) ([]*models.ValuationRecord, error)
	FetchFundamentals(ctx context.Context, symbol string) ([]*models.FundamentalsRecord, error)
	FetchCorporateActions(ctx context.Context, symbol string) ([]*models.CorporateAction, error)
	QuarterFingerprint(ctx context.Context, period models.ReportPeriod) (string, error)
	FetchQuarterFundamentals(ctx context.Context, period models.ReportPeriod) ([]*models.FundamentalsRecord, error)
}

// Cache is the optional two-tier cache. The engine works correctly, just
// slower, against NopCache.
type Cache interface {
	GetLastDataDate(ctx context.Context, symbol, frequency string) (time.Time, bool)
	SetLastDataDate(ctx context.Context, symbol, frequency string, date time.Time)
	InvalidateLastDataDate(ctx context.Context, symbol, frequency string)
	GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, bool)
	SetTradingDays(ctx context.Context, market string, start, end time.Time, days []time.Time)
	GetUniverseRefreshedAt(ctx context.Context) (time.Time, bool)
	SetUniverseRefreshedAt(ctx context.Context, t time.Time)
}

// Events publishes sync lifecycle notifications. NopEvents when
// messaging is disabled.
type Events interface {
	PublishPhase(sessionID, phase, status, errMsg string, targetDate time.Time)
	PublishRun(report *models.Report)
	PublishGapRepaired(sessionID string, gap *models.Gap)
}

// NopCache is a Cache that always misses.
type NopCache struct{}

func (NopCache) GetLastDataDate(context.Context, string, string) (time.Time, bool) {
	return time.Time{}, false
}
func (NopCache) SetLastDataDate(context.Context, string, string, time.Time)        {}
func (NopCache) InvalidateLastDataDate(context.Context, string, string)            {}
func (NopCache) GetTradingDays(context.Context, string, time.Time, time.Time) ([]time.Time, bool) {
	return nil, false
}
func (NopCache) SetTradingDays(context.Context, string, time.Time, time.Time, []time.Time) {}
func (NopCache) GetUniverseRefreshedAt(context.Context) (time.Time, bool) {
	return time.Time{}, false
}
func (NopCache) SetUniverseRefreshedAt(context.Context, time.Time) {}

// NopEvents is an Events that publishes nothing.
type NopEvents struct{}

func (NopEvents) PublishPhase(string, string, string, string, time.Time) {}
func (NopEvents) PublishRun(*models.Report)                              {}
func (NopEvents) PublishGapRepaired(string, *models.Gap)                 {}
