package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"PosCache/internal/ledger"
	"PosCache/internal/testutil"
)

func TestPostgresLedger_ReadSides(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS ledger;
		CREATE TABLE IF NOT EXISTS ledger.positions (
			account_id UUID NOT NULL,
			instrument TEXT NOT NULL,
			collateral BIGINT NOT NULL DEFAULT 0,
			debt       BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_id, instrument)
		)`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	account := uuid.New()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO ledger.positions (account_id, instrument, collateral, debt) VALUES ($1, $2, $3, $4)`,
		account, "USDC", 1500, 300); err != nil {
		t.Fatalf("seed: %v", err)
	}

	pl := ledger.NewPostgresLedger(db)

	collateral, err := pl.Collateral(ctx, account, "USDC")
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if collateral != 1500 {
		t.Errorf("collateral = %d, want 1500", collateral)
	}

	debt, err := pl.Debt(ctx, account, "USDC")
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	if debt != 300 {
		t.Errorf("debt = %d, want 300", debt)
	}
}

func TestPostgresLedger_MissingRowIsZero(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	pl := ledger.NewPostgresLedger(db)
	collateral, err := pl.Collateral(ctx, uuid.New(), "USDC")
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if collateral != 0 {
		t.Errorf("collateral = %d, want authoritative zero", collateral)
	}
}
