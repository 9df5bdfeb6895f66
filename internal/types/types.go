// Package types provides common type definitions for the token claim service.
package types

import "fmt"

// Network represents a Solana cluster the treasury transfers on
type Network string

const (
	// NetworkDevnet represents the public Solana devnet
	NetworkDevnet Network = "devnet"
	// NetworkTestnet represents the public Solana testnet
	NetworkTestnet Network = "testnet"
	// NetworkMainnetBeta represents Solana mainnet-beta
	NetworkMainnetBeta Network = "mainnet-beta"
	// NetworkLocalnet represents a local solana-test-validator
	NetworkLocalnet Network = "localnet"
)

// ParseNetwork validates a network selector
func ParseNetwork(s string) (Network, error) {
	switch Network(s) {
	case NetworkDevnet, NetworkTestnet, NetworkMainnetBeta, NetworkLocalnet:
		return Network(s), nil
	default:
		return "", fmt.Errorf("unknown solana network: %q", s)
	}
}

// RecordStoreKind selects the record store backend
type RecordStoreKind string

const (
	// StorePocketBase is the REST collection store used by the dashboard
	StorePocketBase RecordStoreKind = "pocketbase"
	// StorePostgres is the keyed Postgres store with conditional patches
	StorePostgres RecordStoreKind = "postgres"
)

// ClaimStatus represents the outcome recorded for a claim
type ClaimStatus string

const (
	// ClaimSucceeded means the transfer landed and the record was patched
	ClaimSucceeded ClaimStatus = "succeeded"
	// ClaimInconsistent means the transfer landed but the record patch failed
	ClaimInconsistent ClaimStatus = "inconsistent"
	// ClaimUnconfirmed means the transaction was sent but its confirmation was never observed
	ClaimUnconfirmed ClaimStatus = "unconfirmed"
)

// SyncOutcome describes what a reconciliation pass did
type SyncOutcome string

const (
	// SyncClaimed means a claim was executed
	SyncClaimed SyncOutcome = "claimed"
	// SyncNoWallet means no wallet is linked so tokens stay available
	SyncNoWallet SyncOutcome = "no_wallet"
	// SyncBelowMinimum means the available balance is under the claim minimum
	SyncBelowMinimum SyncOutcome = "below_minimum"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
