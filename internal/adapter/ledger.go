package adapter

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pegged-token/claimer/internal/types"
)

// Decimals is the number of decimal places of the claimed SPL token
const Decimals = 9

// Ledger defines the token ledger operations the claim orchestrator depends on
type Ledger interface {
	// ValidateAddress checks that address decodes as a 32-byte base58 public key
	ValidateAddress(address string) error

	// HoldingAccountFor derives the token account of owner without touching the network
	HoldingAccountFor(owner string) (*HoldingAccount, error)

	// ResolveHoldingAccount returns the token account of owner, creating it with payer funds if missing
	ResolveHoldingAccount(ctx context.Context, owner string, payer *Treasury) (*HoldingAccount, error)

	// Balance returns the base-unit balance of a token account. A missing account has balance 0.
	Balance(ctx context.Context, account *HoldingAccount) (uint64, error)

	// Transfer moves amount base units and returns the confirmed transaction signature
	Transfer(ctx context.Context, from, to *HoldingAccount, authority *Treasury, amount uint64) (string, error)
}

// HoldingAccount is the token account holding the mint's balance for one owner
type HoldingAccount struct {
	Owner   string `json:"owner"`
	Address string `json:"address"`
}

// ToBaseUnits converts a display amount to base units
func ToBaseUnits(amount int64) (uint64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative amount: %d", amount)
	}
	scale := uint64(math.Pow10(Decimals))
	if uint64(amount) > math.MaxUint64/scale {
		return 0, fmt.Errorf("amount %d overflows base units", amount)
	}
	return uint64(amount) * scale, nil
}

// FromBaseUnits converts base units to a display amount, truncating fractions
func FromBaseUnits(base uint64) int64 {
	return int64(base / uint64(math.Pow10(Decimals)))
}

// Common error types for the ledger adapter

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrProviderUnavailable indicates the RPC provider is unavailable
	ErrProviderUnavailable = fmt.Errorf("ledger provider unavailable")

	// ErrProviderTimeout indicates the provider request timed out
	ErrProviderTimeout = fmt.Errorf("ledger provider request timeout")

	// ErrTransactionFailed indicates the transaction landed with an error
	ErrTransactionFailed = fmt.Errorf("transaction failed on chain")

	// ErrTransactionUnconfirmed indicates the transaction was sent but not seen confirmed in time
	ErrTransactionUnconfirmed = fmt.Errorf("transaction not confirmed")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Network types.Network
	Op      string // Operation that failed (e.g., "Transfer", "Balance")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("ledger adapter error [%s:%s]: %v (details: %+v)", e.Network, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("ledger adapter error [%s:%s]: %v", e.Network, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(network types.Network, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Network: network,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// SignatureOf returns the transaction signature carried by err, if any
func SignatureOf(err error) string {
	var adapterErr *AdapterError
	if !errors.As(err, &adapterErr) {
		return ""
	}
	sig, _ := adapterErr.Details["signature"].(string)
	return sig
}
