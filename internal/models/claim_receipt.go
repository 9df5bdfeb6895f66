package models

import (
	"time"

	"github.com/pegged-token/claimer/internal/types"
)

// ClaimReceipt is the audit row written for every transfer that reached the ledger
type ClaimReceipt struct {
	ID         string            `json:"id" db:"id"`
	Account    string            `json:"account" db:"account"`
	RecordID   string            `json:"recordId" db:"record_id"`
	Wallet     string            `json:"wallet" db:"wallet"`
	Amount     int64             `json:"amount" db:"amount"`
	BaseUnits  uint64            `json:"baseUnits" db:"base_units"`
	Signature  string            `json:"signature" db:"signature"`
	Status     types.ClaimStatus `json:"status" db:"status"`
	Error      *string           `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time         `json:"createdAt" db:"created_at"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty" db:"resolved_at"`
}
