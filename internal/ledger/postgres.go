package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"PosCache/internal/position"
)

// PostgresLedger reads authoritative balances from the ledger's Postgres
// projection tables. A missing row is an authoritative zero balance, not an
// error; only a failed query makes the ledger unavailable.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (pl *PostgresLedger) Collateral(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error) {
	return pl.readAmount(ctx, "collateral", account, instrument)
}

func (pl *PostgresLedger) Debt(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error) {
	return pl.readAmount(ctx, "debt", account, instrument)
}

func (pl *PostgresLedger) readAmount(ctx context.Context, column string, account position.AccountID, instrument position.Instrument) (uint64, error) {
	// column is one of two compile-time constants, never caller input.
	query := fmt.Sprintf(`
		SELECT %s FROM ledger.positions
		WHERE account_id = $1 AND instrument = $2
	`, column)

	var amount int64
	err := pl.db.QueryRowContext(ctx, query, account, instrument).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger %s read: %w", column, err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("ledger %s read: negative amount %d for %s/%s", column, amount, account, instrument)
	}
	return uint64(amount), nil
}

// Ping verifies connectivity for readiness checks.
func (pl *PostgresLedger) Ping(ctx context.Context) error {
	return pl.db.PingContext(ctx)
}
