package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/models"
)

// Options parameterize one orchestrator run.
type Options struct {
	TargetDate  time.Time
	Symbols     []string // empty means the whole universe
	Frequencies []string // empty means the configured default
}

// Orchestrator drives the phases of one full sync in order:
// universe refresh, primary sync, extended sync, gap repair, validation.
// Transitions are strictly forward; a failed phase is recorded and later
// phases still run, except on storage-fatal errors.
type Orchestrator struct {
	store  Store
	cache  Cache
	events Events
	logger *logrus.Entry
	cfg    *config.SyncConfig

	universe *UniverseRefresher
	primary  *PrimarySyncer
	extended *ExtendedSyncer
	quarters *QuarterImporter
	gaps     *GapScanner
	quality  *QualityBackfiller

	now func() time.Time
}

// NewOrchestrator wires the full engine from its collaborators.
func NewOrchestrator(store Store, provider Provider, cache Cache, events Events, logger *logrus.Logger, cfg *config.SyncConfig) *Orchestrator {
	ranges := NewRangeCalculator(store, cache, cfg.DefaultStart(), cfg.MaxSyncDays)
	runner := NewBatchRunner(store, logger, cfg.BatchSize)

	return &Orchestrator{
		store:    store,
		cache:    cache,
		events:   events,
		logger:   logger.WithField("component", "orchestrator"),
		cfg:      cfg,
		universe: NewUniverseRefresher(store, provider, cache, logger, cfg.StockListMaxAge, cfg.DefaultStart()),
		primary:  NewPrimarySyncer(store, provider, cache, ranges, logger, cfg.MaxWorkers, cfg.BatchSize),
		extended: NewExtendedSyncer(store, provider, runner, logger, cfg.BulkThreshold, cfg.StaleAfter),
		quarters: NewQuarterImporter(store, provider, logger, 4),
		gaps:     NewGapScanner(store, provider, cache, events, logger, cfg.GapLookbackDays, cfg.MaxGapFixes, cfg.DefaultStart()),
		quality:  NewQualityBackfiller(store, logger, cfg.QualitySample, cfg.QualityBatchSize, cfg.DefaultStart()),
		now:      time.Now,
	}
}

// Run executes one full sync and returns the structured report. The
// returned error is non-nil only for run-fatal conditions (storage loss,
// cancellation); phase-level failures are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*models.Report, error) {
	target := o.resolveTarget(opts.TargetDate)

	report := &models.Report{
		TargetDate: target,
		SessionID:  uuid.NewString(),
		StartTime:  o.now(),
		Phases:     make(map[string]models.PhaseResult),
	}
	defer func() {
		report.EndTime = o.now()
		o.events.PublishRun(report)
	}()

	log := o.logger.WithField("session_id", report.SessionID)
	log.WithField("target", target.Format(models.DateFormat)).Info("Sync run starting")

	stocks, err := o.loadUniverse(ctx, opts.Symbols)
	if err != nil {
		return report, err
	}

	frequencies := opts.Frequencies
	if len(frequencies) == 0 {
		frequencies = o.cfg.Frequencies
	}

	// Resume decision: evidence of a prior interrupted run for the same
	// target date lets us skip straight to extended sync; a fully
	// completed target short-circuits the whole run.
	skipTo, done, err := o.resumePoint(ctx, stocks, target)
	if err != nil {
		return report, err
	}
	if done {
		log.Info("Target date already fully synced, nothing to do")
		report.Resumed = true
		return report, nil
	}
	report.Resumed = skipTo

	if !skipTo {
		if fatal := o.runPhase(ctx, report, models.PhaseUniverseRefresh, func() (interface{}, error) {
			err := o.universe.Run(ctx, target)
			return nil, err
		}); fatal != nil {
			return report, fatal
		}

		// A fresh universe may include symbols we did not have yet.
		if len(opts.Symbols) == 0 {
			if stocks, err = o.store.GetActiveStocks(ctx); err != nil {
				return report, err
			}
		}

		if fatal := o.runPhase(ctx, report, models.PhasePrimarySync, func() (interface{}, error) {
			totals := make(map[string]*BatchResult, len(frequencies))
			for _, freq := range frequencies {
				res, err := o.primary.Run(ctx, stocks, freq, target)
				totals[freq] = res
				if err != nil {
					return totals, err
				}
			}
			return totals, nil
		}); fatal != nil {
			return report, fatal
		}
	} else {
		log.Info("Resuming interrupted run, skipping to extended sync")
	}

	if fatal := o.runPhase(ctx, report, models.PhaseExtendedSync, func() (interface{}, error) {
		res, err := o.extended.Run(ctx, report.SessionID, stocks, target)
		if err != nil {
			return res, err
		}
		qres, qerr := o.quarters.Run(ctx, target)
		return map[string]interface{}{"entities": res, "quarters": qres}, qerr
	}); fatal != nil {
		return report, fatal
	}

	if fatal := o.runPhase(ctx, report, models.PhaseGapRepair, func() (interface{}, error) {
		totals := make(map[string]*GapReport, len(frequencies))
		for _, freq := range frequencies {
			res, err := o.gaps.Run(ctx, report.SessionID, stocks, freq, target)
			totals[freq] = res
			if err != nil {
				return totals, err
			}
		}
		return totals, nil
	}); fatal != nil {
		return report, fatal
	}

	if fatal := o.runPhase(ctx, report, models.PhaseValidation, func() (interface{}, error) {
		res, err := o.quality.Run(ctx, stocks, target)
		if err != nil {
			return res, err
		}
		return res, o.writeSummary(ctx, report, stocks, target)
	}); fatal != nil {
		return report, fatal
	}

	log.WithFields(logrus.Fields{
		"phases":    report.Summary.TotalPhases,
		"failed":    report.Summary.FailedPhases,
		"succeeded": report.Succeeded(),
	}).Info("Sync run finished")

	return report, nil
}

// RepairGaps runs gap detection and repair on its own, outside a full
// sync run. Keyed by frequency in the result.
func (o *Orchestrator) RepairGaps(ctx context.Context, opts Options) (map[string]*GapReport, error) {
	target := o.resolveTarget(opts.TargetDate)

	stocks, err := o.loadUniverse(ctx, opts.Symbols)
	if err != nil {
		return nil, err
	}

	frequencies := opts.Frequencies
	if len(frequencies) == 0 {
		frequencies = o.cfg.Frequencies
	}

	session := uuid.NewString()
	out := make(map[string]*GapReport, len(frequencies))
	for _, freq := range frequencies {
		res, err := o.gaps.Run(ctx, session, stocks, freq, target)
		out[freq] = res
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// BackfillQuality recomputes derived fields on its own, outside a full
// sync run.
func (o *Orchestrator) BackfillQuality(ctx context.Context, opts Options) (*QualityReport, error) {
	target := o.resolveTarget(opts.TargetDate)

	stocks, err := o.loadUniverse(ctx, opts.Symbols)
	if err != nil {
		return nil, err
	}
	return o.quality.Run(ctx, stocks, target)
}

// resolveTarget clamps the requested target date to today; zero means
// today.
func (o *Orchestrator) resolveTarget(requested time.Time) time.Time {
	target := models.Day(requested)
	if target.IsZero() || target.After(models.Day(o.now())) {
		target = models.Day(o.now())
	}
	return target
}

// runPhase executes one phase, records its outcome, and publishes the
// phase event. Cancellation is the only error treated as run-fatal here;
// everything else is recorded as a phase failure and the run continues.
func (o *Orchestrator) runPhase(ctx context.Context, report *models.Report, phase string, fn func() (interface{}, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	details, err := fn()
	res := models.PhaseResult{Status: "completed"}
	if details != nil {
		res.Details = map[string]interface{}{"result": details}
	}
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		o.logger.WithError(err).WithField("phase", phase).Error("Phase failed")
	}

	report.RecordPhase(phase, res)
	o.events.PublishPhase(report.SessionID, phase, res.Status, res.Error, report.TargetDate)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) loadUniverse(ctx context.Context, symbols []string) ([]*models.Stock, error) {
	stocks, err := o.store.GetActiveStocks(ctx)
	if err != nil {
		return nil, err
	}

	if len(symbols) == 0 {
		return stocks, nil
	}

	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	var out []*models.Stock
	for _, s := range stocks {
		if want[s.Symbol] {
			out = append(out, s)
		}
	}
	return out, nil
}

// resumePoint inspects persisted progress for the target date, after
// self-healing it: completed markers without corroborating data are
// downgraded and processing rows abandoned by a dead run are requeued,
// so a stale marker can never short-circuit a run. The completion ratio
// is computed over the requested entity set only. Any completed entities
// mean a prior run was interrupted: resume at extended sync with the
// remainder, or short-circuit entirely when the ratio is already 100%.
func (o *Orchestrator) resumePoint(ctx context.Context, stocks []*models.Stock, target time.Time) (skipToExtended, done bool, err error) {
	if len(stocks) == 0 {
		return false, false, nil
	}

	if _, err := o.store.DowngradeUncorroborated(ctx, models.SyncTypeExtended, target); err != nil {
		return false, false, err
	}
	if _, err := o.store.RequeueStaleProcessing(ctx, models.SyncTypeExtended, target, o.cfg.StaleAfter); err != nil {
		return false, false, err
	}

	statuses, err := o.store.GetExtendedStatuses(ctx, models.SyncTypeExtended, target)
	if err != nil {
		return false, false, err
	}

	completed := 0
	for _, s := range stocks {
		if st, ok := statuses[s.Symbol]; ok && st.Status == models.StatusCompleted {
			completed++
		}
	}
	if completed == 0 {
		return false, false, nil
	}
	if completed >= len(stocks) {
		return false, true, nil
	}

	o.logger.WithFields(logrus.Fields{
		"completed": completed,
		"total":     len(stocks),
	}).Info("Found progress from a previous run")
	return true, false, nil
}

func (o *Orchestrator) writeSummary(ctx context.Context, report *models.Report, stocks []*models.Stock, target time.Time) error {
	status := models.StatusCompleted
	if report.Summary.FailedPhases > 0 {
		status = models.StatusPartial
	}

	total := 0
	if res, ok := report.Phases[models.PhaseExtendedSync]; ok && res.Details != nil {
		if m, ok := res.Details["result"].(map[string]interface{}); ok {
			if br, ok := m["entities"].(*BatchResult); ok {
				total = br.Success
			}
		}
	}

	return o.store.UpsertSummary(ctx, &models.SyncSummary{
		Symbol:       "ALL_SYMBOLS",
		Frequency:    "1d",
		LastSyncDate: models.Day(o.now()),
		LastDataDate: target,
		Status:       status,
		Message:      "",
		TotalRecords: total,
	})
}
