package sync

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

func day(s string) time.Time {
	t, err := time.Parse(models.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return t
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func activeStock(symbol string, listDate string) *models.Stock {
	return &models.Stock{
		Symbol:   symbol,
		Name:     symbol,
		Market:   "CN",
		Status:   "active",
		ListDate: day(listDate),
	}
}

func barKey(symbol, frequency string) string {
	return symbol + "|" + frequency
}

func statusKey(symbol, syncType string, target time.Time) string {
	return symbol + "|" + syncType + "|" + models.Day(target).Format(models.DateFormat)
}

func fundamentalsKey(symbol string, reportDate time.Time, reportType string) string {
	return symbol + "|" + reportDate.Format(models.DateFormat) + "|" + reportType
}

func quarterKey(p models.ReportPeriod) string {
	return fmt.Sprintf("%d-%d", p.Year, p.Quarter)
}

// fakeStore is an in-memory Store with journal-based transactions, so
// savepoint rollbacks discard exactly the writes made since the mark.
type fakeStore struct {
	mu sync.Mutex

	stocks       []*models.Stock
	calendar     map[string][]time.Time
	bars         map[string]map[time.Time]*models.DailyBar
	valuations   map[string]map[time.Time]*models.ValuationRecord
	fundamentals map[string]*models.FundamentalsRecord
	actions      map[string]*models.CorporateAction
	statuses     map[string]*models.SyncStatus
	quarters     map[string]*models.QuarterProgress
	summaries    []*models.SyncSummary

	// Symbols whose transactional writes fail, for isolation tests.
	failWrites map[string]bool

	now func() time.Time
}

func newFakeStore(stocks ...*models.Stock) *fakeStore {
	return &fakeStore{
		stocks:       stocks,
		calendar:     make(map[string][]time.Time),
		bars:         make(map[string]map[time.Time]*models.DailyBar),
		valuations:   make(map[string]map[time.Time]*models.ValuationRecord),
		fundamentals: make(map[string]*models.FundamentalsRecord),
		actions:      make(map[string]*models.CorporateAction),
		statuses:     make(map[string]*models.SyncStatus),
		quarters:     make(map[string]*models.QuarterProgress),
		failWrites:   make(map[string]bool),
		now:          time.Now,
	}
}

func (f *fakeStore) GetActiveStocks(ctx context.Context) ([]*models.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Stock
	for _, s := range f.stocks {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertStocks(ctx context.Context, stocks []*models.Stock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	have := make(map[string]int, len(f.stocks))
	for i, s := range f.stocks {
		have[s.Symbol] = i
	}
	for _, s := range stocks {
		if i, ok := have[s.Symbol]; ok {
			f.stocks[i] = s
		} else {
			f.stocks = append(f.stocks, s)
		}
	}
	return nil
}

func (f *fakeStore) UpsertCalendar(ctx context.Context, days []*models.TradingDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range days {
		if !d.IsTrading {
			continue
		}
		f.calendar[d.Market] = append(f.calendar[d.Market], models.Day(d.Date))
	}
	for market := range f.calendar {
		sort.Slice(f.calendar[market], func(i, j int) bool {
			return f.calendar[market][i].Before(f.calendar[market][j])
		})
	}
	return nil
}

func (f *fakeStore) GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, d := range f.calendar[market] {
		if !d.Before(models.Day(start)) && !d.After(models.Day(end)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestCalendarDate(ctx context.Context, market string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	days := f.calendar[market]
	if len(days) == 0 {
		return time.Time{}, nil
	}
	return days[len(days)-1], nil
}

func (f *fakeStore) MaxBarDate(ctx context.Context, symbol, frequency string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max time.Time
	for d := range f.bars[barKey(symbol, frequency)] {
		if d.After(max) {
			max = d
		}
	}
	return max, nil
}

func (f *fakeStore) MinBarDate(ctx context.Context, symbol, frequency string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var min time.Time
	for d := range f.bars[barKey(symbol, frequency)] {
		if min.IsZero() || d.Before(min) {
			min = d
		}
	}
	return min, nil
}

func (f *fakeStore) BarDates(ctx context.Context, symbol, frequency string, start, end time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for d := range f.bars[barKey(symbol, frequency)] {
		if !d.Before(models.Day(start)) && !d.After(models.Day(end)) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakeStore) GetBars(ctx context.Context, symbol, frequency string, start, end time.Time) ([]*models.DailyBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DailyBar
	for d, b := range f.bars[barKey(symbol, frequency)] {
		if !d.Before(models.Day(start)) && !d.After(models.Day(end)) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeStore) UpsertBars(ctx context.Context, bars []*models.DailyBar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putBars(bars)
	return nil
}

func (f *fakeStore) putBars(bars []*models.DailyBar) {
	for _, b := range bars {
		key := barKey(b.Symbol, b.Frequency)
		if f.bars[key] == nil {
			f.bars[key] = make(map[time.Time]*models.DailyBar)
		}
		cp := *b
		f.bars[key][models.Day(b.Date)] = &cp
	}
}

func (f *fakeStore) UpdateDerivedFields(ctx context.Context, symbol, frequency string, fields []*models.DerivedFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	series := f.bars[barKey(symbol, frequency)]
	for _, fd := range fields {
		b, ok := series[models.Day(fd.Date)]
		if !ok {
			continue
		}
		b.PrevClose = fd.PrevClose
		b.ChangeAmount = fd.ChangeAmount
		b.ChangePercent = fd.ChangePercent
		b.Amplitude = fd.Amplitude
		b.HighLimit = fd.HighLimit
		b.LowLimit = fd.LowLimit
		b.IsLimitUp = fd.IsLimitUp
		b.IsLimitDown = fd.IsLimitDown
	}
	return nil
}

func (f *fakeStore) UpsertFundamentals(ctx context.Context, recs []*models.FundamentalsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.putFundamentals(r)
	}
	return nil
}

func (f *fakeStore) putFundamentals(r *models.FundamentalsRecord) {
	cp := *r
	f.fundamentals[fundamentalsKey(r.Symbol, r.ReportDate, r.ReportType)] = &cp
}

func (f *fakeStore) DeleteQuarterFundamentals(ctx context.Context, period models.ReportPeriod) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, r := range f.fundamentals {
		if models.Day(r.ReportDate).Equal(period.EndDate()) && r.ReportType == period.ReportType() {
			delete(f.fundamentals, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeStore) GetExtendedStatuses(ctx context.Context, syncType string, targetDate time.Time) (map[string]*models.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*models.SyncStatus)
	for _, s := range f.statuses {
		if s.SyncType == syncType && models.Day(s.TargetDate).Equal(models.Day(targetDate)) {
			out[s.Symbol] = s
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertExtendedStatus(ctx context.Context, s *models.SyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putStatus(s)
	return nil
}

func (f *fakeStore) putStatus(s *models.SyncStatus) {
	cp := *s
	cp.UpdatedAt = f.now()
	f.statuses[statusKey(s.Symbol, s.SyncType, s.TargetDate)] = &cp
}

func (f *fakeStore) CountExtendedByStatus(ctx context.Context, syncType string, targetDate time.Time) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int)
	for _, s := range f.statuses {
		if s.SyncType == syncType && models.Day(s.TargetDate).Equal(models.Day(targetDate)) {
			out[s.Status]++
		}
	}
	return out, nil
}

func (f *fakeStore) RequeueStaleProcessing(ctx context.Context, syncType string, targetDate time.Time, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	cutoff := f.now().Add(-olderThan)
	for _, s := range f.statuses {
		if s.SyncType != syncType || !models.Day(s.TargetDate).Equal(models.Day(targetDate)) {
			continue
		}
		if s.Status == models.StatusProcessing && s.UpdatedAt.Before(cutoff) {
			s.Status = models.StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DowngradeUncorroborated(ctx context.Context, syncType string, targetDate time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	target := models.Day(targetDate)
	for _, s := range f.statuses {
		if s.SyncType != syncType || !models.Day(s.TargetDate).Equal(target) {
			continue
		}
		if s.Status != models.StatusCompleted {
			continue
		}
		if _, ok := f.valuations[s.Symbol][target]; !ok {
			s.Status = models.StatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetQuarterProgress(ctx context.Context, period models.ReportPeriod) (*models.QuarterProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quarters[quarterKey(period)], nil
}

func (f *fakeStore) UpsertQuarterProgress(ctx context.Context, p *models.QuarterProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.quarters[quarterKey(models.ReportPeriod{Year: p.Year, Quarter: p.Quarter})] = &cp
	return nil
}

func (f *fakeStore) UpsertSummary(ctx context.Context, s *models.SyncSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.summaries = append(f.summaries, &cp)
	return nil
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(tx StoreTx) error) error {
	tx := &fakeTx{st: f, marks: make(map[string]int)}
	if err := fn(tx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, apply := range tx.journal {
		apply()
	}
	return nil
}

// fakeTx journals writes and applies them at commit. Savepoints mark
// journal positions; RollbackTo truncates back to the mark.
type fakeTx struct {
	st      *fakeStore
	journal []func()
	marks   map[string]int
	nsp     int
}

func (t *fakeTx) failFor(symbol string) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	if t.st.failWrites[symbol] {
		return fmt.Errorf("injected write failure for %s", symbol)
	}
	return nil
}

func (t *fakeTx) UpsertBars(ctx context.Context, bars []*models.DailyBar) error {
	if len(bars) > 0 {
		if err := t.failFor(bars[0].Symbol); err != nil {
			return err
		}
	}
	cp := make([]*models.DailyBar, len(bars))
	for i, b := range bars {
		c := *b
		cp[i] = &c
	}
	t.journal = append(t.journal, func() { t.st.putBars(cp) })
	return nil
}

func (t *fakeTx) UpsertValuation(ctx context.Context, v *models.ValuationRecord) error {
	if err := t.failFor(v.Symbol); err != nil {
		return err
	}
	cp := *v
	t.journal = append(t.journal, func() {
		if t.st.valuations[cp.Symbol] == nil {
			t.st.valuations[cp.Symbol] = make(map[time.Time]*models.ValuationRecord)
		}
		t.st.valuations[cp.Symbol][models.Day(cp.Date)] = &cp
	})
	return nil
}

func (t *fakeTx) UpsertFundamentals(ctx context.Context, r *models.FundamentalsRecord) error {
	if err := t.failFor(r.Symbol); err != nil {
		return err
	}
	cp := *r
	t.journal = append(t.journal, func() { t.st.putFundamentals(&cp) })
	return nil
}

func (t *fakeTx) UpsertCorporateActions(ctx context.Context, actions []*models.CorporateAction) error {
	if len(actions) > 0 {
		if err := t.failFor(actions[0].Symbol); err != nil {
			return err
		}
	}
	cp := make([]*models.CorporateAction, len(actions))
	for i, a := range actions {
		c := *a
		cp[i] = &c
	}
	t.journal = append(t.journal, func() {
		for _, a := range cp {
			t.st.actions[a.Symbol+"|"+a.ExDate.Format(models.DateFormat)] = a
		}
	})
	return nil
}

func (t *fakeTx) UpsertStatus(ctx context.Context, s *models.SyncStatus) error {
	cp := *s
	t.journal = append(t.journal, func() { t.st.putStatus(&cp) })
	return nil
}

func (t *fakeTx) Savepoint(ctx context.Context) (string, error) {
	t.nsp++
	name := fmt.Sprintf("sp_%d", t.nsp)
	t.marks[name] = len(t.journal)
	return name, nil
}

func (t *fakeTx) Release(ctx context.Context, name string) error {
	delete(t.marks, name)
	return nil
}

func (t *fakeTx) RollbackTo(ctx context.Context, name string) error {
	mark, ok := t.marks[name]
	if !ok {
		return fmt.Errorf("unknown savepoint %s", name)
	}
	t.journal = t.journal[:mark]
	return nil
}

// fakeProvider serves canned upstream data and counts calls.
type fakeProvider struct {
	mu sync.Mutex

	stockList    []*models.Stock
	calendarDays []*models.TradingDay
	dailyBars    map[string][]*models.DailyBar
	valuations   map[string]*models.ValuationRecord
	bulk         []*models.ValuationRecord
	fundamentals map[string][]*models.FundamentalsRecord
	actions      map[string][]*models.CorporateAction
	quarterRecs  map[string][]*models.FundamentalsRecord
	fingerprints map[string]string

	stockListErr error
	calendarErr  error
	dailyErr     error
	bulkErr      error

	calls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		dailyBars:    make(map[string][]*models.DailyBar),
		valuations:   make(map[string]*models.ValuationRecord),
		fundamentals: make(map[string][]*models.FundamentalsRecord),
		actions:      make(map[string][]*models.CorporateAction),
		quarterRecs:  make(map[string][]*models.FundamentalsRecord),
		fingerprints: make(map[string]string),
		calls:        make(map[string]int),
	}
}

func (p *fakeProvider) count(name string) {
	p.mu.Lock()
	p.calls[name]++
	p.mu.Unlock()
}

func (p *fakeProvider) callCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakeProvider) FetchStockList(ctx context.Context) ([]*models.Stock, error) {
	p.count("stock_list")
	return p.stockList, p.stockListErr
}

func (p *fakeProvider) FetchCalendar(ctx context.Context, market string, start, end time.Time) ([]*models.TradingDay, error) {
	p.count("calendar")
	if p.calendarErr != nil {
		return nil, p.calendarErr
	}
	var out []*models.TradingDay
	for _, d := range p.calendarDays {
		if !models.Day(d.Date).Before(models.Day(start)) && !models.Day(d.Date).After(models.Day(end)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *fakeProvider) FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]*models.DailyBar, error) {
	p.count("daily")
	if p.dailyErr != nil {
		return nil, p.dailyErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.DailyBar
	for _, b := range p.dailyBars[symbol] {
		if !models.Day(b.Date).Before(models.Day(start)) && !models.Day(b.Date).After(models.Day(end)) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *fakeProvider) FetchValuation(ctx context.Context, symbol string, date time.Time) (*models.ValuationRecord, error) {
	p.count("valuation")
	return p.valuations[symbol], nil
}

func (p *fakeProvider) FetchValuationsBulk(ctx context.Context, date time.Time) ([]*models.ValuationRecord, error) {
	p.count("valuations_bulk")
	return p.bulk, p.bulkErr
}

func (p *fakeProvider) FetchFundamentals(ctx context.Context, symbol string) ([]*models.FundamentalsRecord, error) {
	p.count("fundamentals")
	return p.fundamentals[symbol], nil
}

func (p *fakeProvider) FetchCorporateActions(ctx context.Context, symbol string) ([]*models.CorporateAction, error) {
	p.count("corporate_actions")
	return p.actions[symbol], nil
}

func (p *fakeProvider) QuarterFingerprint(ctx context.Context, period models.ReportPeriod) (string, error) {
	p.count("quarter_fingerprint")
	return p.fingerprints[quarterKey(period)], nil
}

func (p *fakeProvider) FetchQuarterFundamentals(ctx context.Context, period models.ReportPeriod) ([]*models.FundamentalsRecord, error) {
	p.count("quarter_fundamentals")
	return p.quarterRecs[quarterKey(period)], nil
}

// fakeCache is an always-consistent in-memory Cache.
type fakeCache struct {
	mu          sync.Mutex
	lastDates   map[string]time.Time
	tradingDays map[string][]time.Time
	universeAt  time.Time
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		lastDates:   make(map[string]time.Time),
		tradingDays: make(map[string][]time.Time),
	}
}

func (c *fakeCache) GetLastDataDate(ctx context.Context, symbol, frequency string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.lastDates[barKey(symbol, frequency)]
	return d, ok
}

func (c *fakeCache) SetLastDataDate(ctx context.Context, symbol, frequency string, date time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDates[barKey(symbol, frequency)] = models.Day(date)
}

func (c *fakeCache) InvalidateLastDataDate(ctx context.Context, symbol, frequency string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastDates, barKey(symbol, frequency))
	c.invalidated = append(c.invalidated, barKey(symbol, frequency))
}

func (c *fakeCache) GetTradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := market + "|" + models.Day(start).Format(models.DateFormat) + "|" + models.Day(end).Format(models.DateFormat)
	days, ok := c.tradingDays[key]
	return days, ok
}

func (c *fakeCache) SetTradingDays(ctx context.Context, market string, start, end time.Time, days []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := market + "|" + models.Day(start).Format(models.DateFormat) + "|" + models.Day(end).Format(models.DateFormat)
	c.tradingDays[key] = days
}

func (c *fakeCache) GetUniverseRefreshedAt(ctx context.Context) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.universeAt, !c.universeAt.IsZero()
}

func (c *fakeCache) SetUniverseRefreshedAt(ctx context.Context, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.universeAt = t
}

// fakeEvents records published notifications.
type fakeEvents struct {
	mu     sync.Mutex
	phases []string
	runs   int
	gaps   []*models.Gap
}

func (e *fakeEvents) PublishPhase(sessionID, phase, status, errMsg string, targetDate time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phases = append(e.phases, phase+":"+status)
}

func (e *fakeEvents) PublishRun(report *models.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs++
}

func (e *fakeEvents) PublishGapRepaired(sessionID string, gap *models.Gap) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gaps = append(e.gaps, gap)
}

func (e *fakeEvents) gapCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.gaps)
}
