// Package models provides data models for the token claim service.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountRecord is the current balance state of one account.
// Only the most recent record per account is authoritative.
type AccountRecord struct {
	ID              string          `json:"id" db:"id"`
	Account         string          `json:"account,omitempty" db:"account"`
	CurrentIndex    int64           `json:"current_index" db:"current_index"`
	AvailableTokens int64           `json:"available_tokens" db:"available_tokens"`
	TokenValue      decimal.Decimal `json:"token_value" db:"token_value"`
	LinkedWallet    string          `json:"solana_wallet,omitempty" db:"linked_wallet"`
	TotalClaimed    int64           `json:"total_tokens_claimed" db:"total_claimed"`
	LastClaimAt     *time.Time      `json:"last_claim,omitempty" db:"last_claim_at"`
	UpdatedAt       time.Time       `json:"last_updated" db:"updated_at"`
	CreatedAt       time.Time       `json:"created,omitempty" db:"created_at"`
}

// HasWallet reports whether a wallet has been linked
func (r *AccountRecord) HasWallet() bool {
	return r.LinkedWallet != ""
}

// Clone returns a copy that shares no pointers with r
func (r *AccountRecord) Clone() *AccountRecord {
	c := *r
	if r.LastClaimAt != nil {
		t := *r.LastClaimAt
		c.LastClaimAt = &t
	}
	return &c
}

// RecordPatch is a partial update of an AccountRecord. Nil fields are left untouched.
type RecordPatch struct {
	AvailableTokens *int64     `json:"available_tokens,omitempty"`
	LinkedWallet    *string    `json:"solana_wallet,omitempty"`
	TotalClaimed    *int64     `json:"total_tokens_claimed,omitempty"`
	LastClaimAt     *time.Time `json:"last_claim,omitempty"`
	UpdatedAt       *time.Time `json:"last_updated,omitempty"`

	// ExpectAvailableTokens guards the patch: it is applied only while the stored
	// available_tokens still equals this value.
	ExpectAvailableTokens *int64 `json:"-"`
}

// Apply writes the non-nil fields of p onto r
func (p *RecordPatch) Apply(r *AccountRecord) {
	if p.AvailableTokens != nil {
		r.AvailableTokens = *p.AvailableTokens
	}
	if p.LinkedWallet != nil {
		r.LinkedWallet = *p.LinkedWallet
	}
	if p.TotalClaimed != nil {
		r.TotalClaimed = *p.TotalClaimed
	}
	if p.LastClaimAt != nil {
		t := *p.LastClaimAt
		r.LastClaimAt = &t
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
	}
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v
func String(v string) *string { return &v }

// Time returns a pointer to v
func Time(v time.Time) *time.Time { return &v }
