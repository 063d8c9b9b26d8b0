package sync

import (
	"context"

	"github.com/stock-sync/internal/database"
	"github.com/stock-sync/pkg/models"
)

// mysqlStore adapts the MySQL client to the engine's Store interface.
// Everything except RunInTx forwards directly.
type mysqlStore struct {
	*database.MySQLClient
}

// NewStore wraps the MySQL client as a Store.
func NewStore(mc *database.MySQLClient) Store {
	return &mysqlStore{MySQLClient: mc}
}

func (s *mysqlStore) RunInTx(ctx context.Context, fn func(tx StoreTx) error) error {
	return s.ExecTx(ctx, func(tx *database.Tx) error {
		return fn(&mysqlStoreTx{mc: s.MySQLClient, tx: tx})
	})
}

type mysqlStoreTx struct {
	mc *database.MySQLClient
	tx *database.Tx
}

func (t *mysqlStoreTx) UpsertBars(ctx context.Context, bars []*models.DailyBar) error {
	return t.mc.UpsertBarsTx(ctx, t.tx, bars)
}

func (t *mysqlStoreTx) UpsertValuation(ctx context.Context, v *models.ValuationRecord) error {
	return t.mc.UpsertValuationTx(ctx, t.tx, v)
}

func (t *mysqlStoreTx) UpsertFundamentals(ctx context.Context, f *models.FundamentalsRecord) error {
	return t.mc.UpsertFundamentalsTx(ctx, t.tx, f)
}

func (t *mysqlStoreTx) UpsertCorporateActions(ctx context.Context, actions []*models.CorporateAction) error {
	return t.mc.UpsertCorporateActionsTx(ctx, t.tx, actions)
}

func (t *mysqlStoreTx) UpsertStatus(ctx context.Context, s *models.SyncStatus) error {
	return t.mc.UpsertExtendedStatusTx(ctx, t.tx, s)
}

func (t *mysqlStoreTx) Savepoint(ctx context.Context) (string, error) {
	return t.tx.Savepoint(ctx)
}

func (t *mysqlStoreTx) Release(ctx context.Context, name string) error {
	return t.tx.Release(ctx, name)
}

func (t *mysqlStoreTx) RollbackTo(ctx context.Context, name string) error {
	return t.tx.RollbackTo(ctx, name)
}
