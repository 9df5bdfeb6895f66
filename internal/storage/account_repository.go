package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/shopspring/decimal"
)

// AccountRepository is the Postgres record store.
// Lookups are keyed by account and guarded patches are a single conditional UPDATE.
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account record repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountRecordColumns = `
	id, account, current_index, available_tokens, token_value::text,
	COALESCE(linked_wallet, ''), total_claimed, last_claim_at, updated_at, created_at`

func scanAccountRecord(row pgx.Row) (*models.AccountRecord, error) {
	var record models.AccountRecord
	var tokenValue string

	err := row.Scan(
		&record.ID,
		&record.Account,
		&record.CurrentIndex,
		&record.AvailableTokens,
		&tokenValue,
		&record.LinkedWallet,
		&record.TotalClaimed,
		&record.LastClaimAt,
		&record.UpdatedAt,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.TokenValue, err = decimal.NewFromString(tokenValue)
	if err != nil {
		return nil, fmt.Errorf("invalid token_value %q: %w", tokenValue, err)
	}
	return &record, nil
}

// Latest returns the most recent record of account
func (r *AccountRepository) Latest(ctx context.Context, account string) (*models.AccountRecord, error) {
	query := `
		SELECT ` + accountRecordColumns + `
		FROM account_records
		WHERE account = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	record, err := scanAccountRecord(r.db.Pool().QueryRow(ctx, query, account))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}
	return record, nil
}

// Patch applies the non-nil fields of patch. The availableTokens guard is part of the
// UPDATE predicate so a concurrent writer cannot slip in between check and write.
func (r *AccountRepository) Patch(ctx context.Context, id string, patch *models.RecordPatch) (*models.AccountRecord, error) {
	query := `
		UPDATE account_records SET
			available_tokens = COALESCE($2, available_tokens),
			linked_wallet    = COALESCE($3, linked_wallet),
			total_claimed    = COALESCE($4, total_claimed),
			last_claim_at    = COALESCE($5, last_claim_at),
			updated_at       = COALESCE($6, NOW())
		WHERE id = $1
		  AND ($7::bigint IS NULL OR available_tokens = $7)
		RETURNING ` + accountRecordColumns

	record, err := scanAccountRecord(r.db.Pool().QueryRow(ctx, query,
		id,
		patch.AvailableTokens,
		patch.LinkedWallet,
		patch.TotalClaimed,
		patch.LastClaimAt,
		patch.UpdatedAt,
		patch.ExpectAvailableTokens,
	))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to patch record %s: %w", id, err)
	}

	// No row updated: either the id is unknown or the guard rejected the patch
	var exists bool
	if err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM account_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check record %s: %w", id, err)
	}
	if !exists {
		return nil, ErrRecordNotFound
	}
	return nil, fmt.Errorf("%w: record %s", ErrConflict, id)
}

// Create inserts a new record
func (r *AccountRepository) Create(ctx context.Context, record *models.AccountRecord) (*models.AccountRecord, error) {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	var wallet *string
	if record.LinkedWallet != "" {
		wallet = &record.LinkedWallet
	}

	query := `
		INSERT INTO account_records (
			id, account, current_index, available_tokens, token_value,
			linked_wallet, total_claimed, last_claim_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
		RETURNING ` + accountRecordColumns

	created, err := scanAccountRecord(r.db.Pool().QueryRow(ctx, query,
		record.ID,
		record.Account,
		record.CurrentIndex,
		record.AvailableTokens,
		record.TokenValue.String(),
		wallet,
		record.TotalClaimed,
		record.LastClaimAt,
		record.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}
	return created, nil
}
