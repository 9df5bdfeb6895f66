package storage

import (
	"testing"
	"time"

	"github.com/pegged-token/claimer/internal/config"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/pegged-token/claimer/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to a local database with migrations applied, or skips
func newTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "claimer_test",
		User:           "claimer",
		Password:       "claimer_dev_password",
		MaxConnections: 4,
	}

	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.URL(), "../../"+DefaultMigrationsPath); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}
	return db
}

func TestAccountRepository_LatestAndGuardedPatch(t *testing.T) {
	db := newTestPostgres(t)
	repo := NewAccountRepository(db)
	ctx := testContext(t)
	account := "test-" + time.Now().Format("150405.000000")

	_, err := repo.Latest(ctx, account)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	created, err := repo.Create(ctx, &models.AccountRecord{
		Account:         account,
		AvailableTokens: 500,
		TokenValue:      decimal.RequireFromString("1.25"),
	})
	require.NoError(t, err)

	latest, err := repo.Latest(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, created.ID, latest.ID)
	assert.True(t, decimal.RequireFromString("1.25").Equal(latest.TokenValue))

	now := time.Now().UTC().Truncate(time.Microsecond)
	patched, err := repo.Patch(ctx, created.ID, &models.RecordPatch{
		AvailableTokens:       models.Int64(0),
		TotalClaimed:          models.Int64(500),
		LastClaimAt:           models.Time(now),
		UpdatedAt:             models.Time(now),
		ExpectAvailableTokens: models.Int64(500),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), patched.AvailableTokens)
	assert.Equal(t, int64(500), patched.TotalClaimed)

	// Replaying the same guarded patch must not apply twice
	_, err = repo.Patch(ctx, created.ID, &models.RecordPatch{
		AvailableTokens:       models.Int64(0),
		TotalClaimed:          models.Int64(1000),
		ExpectAvailableTokens: models.Int64(500),
	})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = repo.Patch(ctx, "does-not-exist", &models.RecordPatch{AvailableTokens: models.Int64(1)})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestClaimAuditRepository(t *testing.T) {
	db := newTestPostgres(t)
	repo := NewClaimAuditRepository(db)
	ctx := testContext(t)

	msg := "patch failed"
	receipt := &models.ClaimReceipt{
		Account:   "default",
		RecordID:  "r1",
		Wallet:    "wallet",
		Amount:    500,
		BaseUnits: 500_000_000_000,
		Signature: "sig-" + time.Now().Format("150405.000000"),
		Status:    types.ClaimInconsistent,
		Error:     &msg,
	}
	require.NoError(t, repo.Record(ctx, receipt))

	open, err := repo.ListByStatus(ctx, types.ClaimInconsistent, 100)
	require.NoError(t, err)
	var found *models.ClaimReceipt
	for _, r := range open {
		if r.ID == receipt.ID {
			found = r
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, uint64(500_000_000_000), found.BaseUnits)
	assert.Nil(t, found.ResolvedAt)

	require.NoError(t, repo.Resolve(ctx, receipt.ID))
	assert.Error(t, repo.Resolve(ctx, receipt.ID), "already resolved")
}
