package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-sync/pkg/models"
)

func TestRecentPeriods(t *testing.T) {
	periods := RecentPeriods(day("2026-08-25"), 4)

	require.Len(t, periods, 4)
	assert.Equal(t, models.ReportPeriod{Year: 2026, Quarter: 2}, periods[0])
	assert.Equal(t, models.ReportPeriod{Year: 2026, Quarter: 1}, periods[1])
	assert.Equal(t, models.ReportPeriod{Year: 2025, Quarter: 4}, periods[2])
	assert.Equal(t, models.ReportPeriod{Year: 2025, Quarter: 3}, periods[3])
}

func TestRecentPeriodsYearBoundary(t *testing.T) {
	periods := RecentPeriods(day("2026-02-10"), 2)

	require.Len(t, periods, 2)
	assert.Equal(t, models.ReportPeriod{Year: 2025, Quarter: 4}, periods[0])
	assert.Equal(t, models.ReportPeriod{Year: 2025, Quarter: 3}, periods[1])
}

func quarterRecord(symbol string, p models.ReportPeriod, revenue float64) *models.FundamentalsRecord {
	return &models.FundamentalsRecord{
		Symbol:     symbol,
		ReportDate: p.EndDate(),
		ReportType: p.ReportType(),
		Revenue:    revenue,
	}
}

func TestQuarterImportFreshQuarter(t *testing.T) {
	store := newFakeStore()
	provider := newFakeProvider()

	q2 := models.ReportPeriod{Year: 2026, Quarter: 2}
	provider.fingerprints[quarterKey(q2)] = "fp-1"
	provider.quarterRecs[quarterKey(q2)] = []*models.FundamentalsRecord{
		quarterRecord("S1", q2, 1e9),
		quarterRecord("S2", q2, 2e9),
		{Symbol: "S3", ReportDate: q2.EndDate(), ReportType: q2.ReportType()}, // invalid, dropped
	}

	qi := NewQuarterImporter(store, provider, testLogger(), 1)
	report, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Imported)
	assert.Zero(t, report.Failed)
	assert.Len(t, store.fundamentals, 2)

	progress, err := store.GetQuarterProgress(context.Background(), q2)
	require.NoError(t, err)
	require.NotNil(t, progress)
	assert.Equal(t, "fp-1", progress.SourceFingerprint)
	assert.Equal(t, 2, progress.RecordCount)
}

func TestQuarterImportSkipsUnchangedFingerprint(t *testing.T) {
	store := newFakeStore()
	provider := newFakeProvider()

	q2 := models.ReportPeriod{Year: 2026, Quarter: 2}
	provider.fingerprints[quarterKey(q2)] = "fp-1"

	qi := NewQuarterImporter(store, provider, testLogger(), 1)

	_, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)

	report, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Imported)
	assert.Equal(t, 1, provider.callCount("quarter_fundamentals"))
}

func TestQuarterImportReimportsOnFingerprintChange(t *testing.T) {
	store := newFakeStore()
	provider := newFakeProvider()

	q2 := models.ReportPeriod{Year: 2026, Quarter: 2}
	provider.fingerprints[quarterKey(q2)] = "fp-1"
	provider.quarterRecs[quarterKey(q2)] = []*models.FundamentalsRecord{
		quarterRecord("S1", q2, 1e9),
		quarterRecord("S2", q2, 2e9),
	}

	qi := NewQuarterImporter(store, provider, testLogger(), 1)
	_, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)
	require.Len(t, store.fundamentals, 2)

	// Upstream restates the quarter: S2 disappears, S1 changes.
	provider.fingerprints[quarterKey(q2)] = "fp-2"
	provider.quarterRecs[quarterKey(q2)] = []*models.FundamentalsRecord{
		quarterRecord("S1", q2, 1.5e9),
	}

	report, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reimported)
	require.Len(t, store.fundamentals, 1)

	kept := store.fundamentals[fundamentalsKey("S1", q2.EndDate(), "Q2")]
	require.NotNil(t, kept)
	assert.Equal(t, 1.5e9, kept.Revenue)

	progress, _ := store.GetQuarterProgress(context.Background(), q2)
	assert.Equal(t, "fp-2", progress.SourceFingerprint)
}

func TestQuarterImportDoesNotTouchOtherQuarters(t *testing.T) {
	store := newFakeStore()
	provider := newFakeProvider()

	q1 := models.ReportPeriod{Year: 2026, Quarter: 1}
	q2 := models.ReportPeriod{Year: 2026, Quarter: 2}
	store.putFundamentals(quarterRecord("S1", q1, 9e8))

	provider.fingerprints[quarterKey(q2)] = "fp-1"
	provider.quarterRecs[quarterKey(q2)] = []*models.FundamentalsRecord{
		quarterRecord("S1", q2, 1e9),
	}

	// Mark q2 imported under an older fingerprint to force reimport.
	store.UpsertQuarterProgress(context.Background(), &models.QuarterProgress{
		Year: 2026, Quarter: 2, CompletedAt: day("2026-08-01"), SourceFingerprint: "fp-0",
	})

	qi := NewQuarterImporter(store, provider, testLogger(), 1)
	report, err := qi.Run(context.Background(), day("2026-08-25"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Reimported)
	// The Q1 row survived the Q2 delete-and-reimport.
	assert.NotNil(t, store.fundamentals[fundamentalsKey("S1", q1.EndDate(), "Q1")])
	assert.NotNil(t, store.fundamentals[fundamentalsKey("S1", q2.EndDate(), "Q2")])
}
