package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/pegged-token/claimer/internal/types"
)

// ClaimAuditRepository persists a receipt for every transfer that reached the ledger
type ClaimAuditRepository struct {
	db *PostgresDB
}

// NewClaimAuditRepository creates a new claim receipt repository
func NewClaimAuditRepository(db *PostgresDB) *ClaimAuditRepository {
	return &ClaimAuditRepository{db: db}
}

// Record inserts a claim receipt
func (r *ClaimAuditRepository) Record(ctx context.Context, receipt *models.ClaimReceipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO claim_receipts (
			id, account, record_id, wallet, amount, base_units,
			signature, status, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		receipt.ID,
		receipt.Account,
		receipt.RecordID,
		receipt.Wallet,
		receipt.Amount,
		int64(receipt.BaseUnits), // #nosec G115 - bounded by ToBaseUnits
		receipt.Signature,
		receipt.Status,
		receipt.Error,
		receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record claim receipt: %w", err)
	}
	return nil
}

// ListByStatus returns receipts with the given status, newest first
func (r *ClaimAuditRepository) ListByStatus(ctx context.Context, status types.ClaimStatus, limit int) ([]*models.ClaimReceipt, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account, record_id, wallet, amount, base_units,
		       signature, status, error, created_at, resolved_at
		FROM claim_receipts
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list claim receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*models.ClaimReceipt, 0)
	for rows.Next() {
		var receipt models.ClaimReceipt
		var baseUnits int64
		if err := rows.Scan(
			&receipt.ID,
			&receipt.Account,
			&receipt.RecordID,
			&receipt.Wallet,
			&receipt.Amount,
			&baseUnits,
			&receipt.Signature,
			&receipt.Status,
			&receipt.Error,
			&receipt.CreatedAt,
			&receipt.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claim receipt: %w", err)
		}
		receipt.BaseUnits = uint64(baseUnits) // #nosec G115 - stored from a uint64
		receipts = append(receipts, &receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claim receipts: %w", err)
	}
	return receipts, nil
}

// Resolve marks an inconsistent receipt as reconciled by an operator
func (r *ClaimAuditRepository) Resolve(ctx context.Context, id string) error {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE claim_receipts SET resolved_at = NOW() WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve claim receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim receipt %s not found or already resolved: %w", id, pgx.ErrNoRows)
	}
	return nil
}
