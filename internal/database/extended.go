package database

import (
	"context"
	"fmt"
	"time"

	"github.com/stock-sync/pkg/models"
)

const upsertValuationQuery = `
	INSERT INTO valuations (
		symbol, date, pe_ratio, pb_ratio, ps_ratio, pcf_ratio,
		market_cap, circulating_cap, source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		pe_ratio = VALUES(pe_ratio),
		pb_ratio = VALUES(pb_ratio),
		ps_ratio = VALUES(ps_ratio),
		pcf_ratio = VALUES(pcf_ratio),
		market_cap = VALUES(market_cap),
		circulating_cap = VALUES(circulating_cap),
		source = VALUES(source)
`

// UpsertValuationTx writes one valuation row inside a transaction.
func (mc *MySQLClient) UpsertValuationTx(ctx context.Context, tx *Tx, v *models.ValuationRecord) error {
	_, err := tx.ExecContext(ctx, upsertValuationQuery,
		v.Symbol, v.Date.Format(models.DateFormat),
		v.PERatio, v.PBRatio, v.PSRatio, v.PCFRatio,
		v.MarketCap, v.CirculatingCap, v.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert valuation %s: %w", v.Symbol, err)
	}
	return nil
}

// UpsertValuations writes valuation rows in one transaction.
func (mc *MySQLClient) UpsertValuations(ctx context.Context, vals []*models.ValuationRecord) error {
	if len(vals) == 0 {
		return nil
	}
	return mc.ExecTx(ctx, func(tx *Tx) error {
		for _, v := range vals {
			if err := mc.UpsertValuationTx(ctx, tx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

const upsertFundamentalsQuery = `
	INSERT INTO financials (
		symbol, report_date, report_type, revenue, operating_profit,
		net_profit, total_assets, total_liabilities, shareholders_equity,
		operating_cash_flow, eps, bps, roe, roa, debt_ratio, source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		revenue = VALUES(revenue),
		operating_profit = VALUES(operating_profit),
		net_profit = VALUES(net_profit),
		total_assets = VALUES(total_assets),
		total_liabilities = VALUES(total_liabilities),
		shareholders_equity = VALUES(shareholders_equity),
		operating_cash_flow = VALUES(operating_cash_flow),
		eps = VALUES(eps),
		bps = VALUES(bps),
		roe = VALUES(roe),
		roa = VALUES(roa),
		debt_ratio = VALUES(debt_ratio),
		source = VALUES(source)
`

// UpsertFundamentalsTx writes one financial report inside a transaction.
func (mc *MySQLClient) UpsertFundamentalsTx(ctx context.Context, tx *Tx, f *models.FundamentalsRecord) error {
	_, err := tx.ExecContext(ctx, upsertFundamentalsQuery,
		f.Symbol, f.ReportDate.Format(models.DateFormat), f.ReportType,
		f.Revenue, f.OperatingProfit, f.NetProfit,
		f.TotalAssets, f.TotalLiabilities, f.ShareholdersEquity,
		f.OperatingCashFlow, f.EPS, f.BPS, f.ROE, f.ROA, f.DebtRatio, f.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert financials %s: %w", f.Symbol, err)
	}
	return nil
}

// UpsertFundamentals writes financial reports in one transaction.
func (mc *MySQLClient) UpsertFundamentals(ctx context.Context, recs []*models.FundamentalsRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return mc.ExecTx(ctx, func(tx *Tx) error {
		for _, f := range recs {
			if err := mc.UpsertFundamentalsTx(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteQuarterFundamentals removes every financial row of one reporting
// period. Run before reimporting a quarter whose source fingerprint
// changed.
func (mc *MySQLClient) DeleteQuarterFundamentals(ctx context.Context, period models.ReportPeriod) (int64, error) {
	res, err := mc.db.ExecContext(ctx,
		`DELETE FROM financials WHERE report_date = ? AND report_type = ?`,
		period.EndDate().Format(models.DateFormat), period.ReportType())
	if err != nil {
		return 0, fmt.Errorf("failed to delete quarter financials: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const upsertCorporateActionQuery = `
	INSERT INTO corporate_actions (
		symbol, ex_date, record_date, cash_dividend, stock_dividend,
		rights_ratio, rights_price, split_ratio, adj_factor, source
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		record_date = VALUES(record_date),
		cash_dividend = VALUES(cash_dividend),
		stock_dividend = VALUES(stock_dividend),
		rights_ratio = VALUES(rights_ratio),
		rights_price = VALUES(rights_price),
		split_ratio = VALUES(split_ratio),
		adj_factor = VALUES(adj_factor),
		source = VALUES(source)
`

// UpsertCorporateActionsTx writes ex-rights events inside a transaction.
func (mc *MySQLClient) UpsertCorporateActionsTx(ctx context.Context, tx *Tx, actions []*models.CorporateAction) error {
	for _, a := range actions {
		_, err := tx.ExecContext(ctx, upsertCorporateActionQuery,
			a.Symbol, a.ExDate.Format(models.DateFormat), nullDate(a.RecordDate),
			a.CashDividend, a.StockDividend,
			a.RightsRatio, a.RightsPrice, a.SplitRatio, a.AdjFactor, a.Source,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert corporate action %s: %w", a.Symbol, err)
		}
	}
	return nil
}

// UpsertCorporateActions writes ex-rights events
func (mc *MySQLClient) UpsertCorporateActions(ctx context.Context, actions []*models.CorporateAction) error {
	if len(actions) == 0 {
		return nil
	}
	return mc.ExecTx(ctx, func(tx *Tx) error {
		return mc.UpsertCorporateActionsTx(ctx, tx, actions)
	})
}

// CountValuations counts valuation rows for a symbol on a date.
func (mc *MySQLClient) CountValuations(ctx context.Context, symbol string, date time.Time) (int, error) {
	var n int
	err := mc.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM valuations WHERE symbol = ? AND date = ?`,
		symbol, date.Format(models.DateFormat)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count valuations: %w", err)
	}
	return n, nil
}
