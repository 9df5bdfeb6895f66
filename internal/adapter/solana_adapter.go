package adapter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pegged-token/claimer/internal/circuitbreaker"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/metrics"
	"github.com/pegged-token/claimer/internal/retry"
	"github.com/pegged-token/claimer/internal/types"
	"golang.org/x/time/rate"
)

// solanaRPC is the subset of *rpc.Client the adapter uses
type solanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// SolanaAdapter implements Ledger for an SPL token mint
type SolanaAdapter struct {
	network      types.Network
	client       solanaRPC
	mint         solana.PublicKey
	breaker      *circuitbreaker.CircuitBreaker
	timeout      time.Duration
	confirmation *retry.RetryConfig
	limiter      *rate.Limiter // nil means unthrottled
}

// SolanaAdapterConfig holds configuration for creating a SolanaAdapter
type SolanaAdapterConfig struct {
	// Network selects the public endpoint when RPCURL is empty
	Network types.Network

	// RPCURL overrides the network endpoint
	RPCURL string

	// MintAddress is the SPL token mint. Required.
	MintAddress string

	// Timeout bounds every single RPC call
	Timeout time.Duration

	// ConfirmTimeout bounds how long a sent transaction is polled for confirmation
	ConfirmTimeout time.Duration

	// BreakerThreshold is the number of consecutive RPC failures that opens the breaker
	BreakerThreshold int

	// RequestsPerSecond throttles outgoing RPC calls; zero disables throttling
	RequestsPerSecond float64
}

// EndpointFor returns the public RPC endpoint of a network
func EndpointFor(network types.Network) string {
	switch network {
	case types.NetworkMainnetBeta:
		return rpc.MainNetBeta_RPC
	case types.NetworkTestnet:
		return rpc.TestNet_RPC
	case types.NetworkLocalnet:
		return rpc.LocalNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}

// NewSolanaAdapter creates a ledger adapter with a long-lived RPC client
func NewSolanaAdapter(cfg SolanaAdapterConfig) (*SolanaAdapter, error) {
	endpoint := cfg.RPCURL
	if endpoint == "" {
		endpoint = EndpointFor(cfg.Network)
	}
	return newSolanaAdapter(cfg, rpc.New(endpoint))
}

func newSolanaAdapter(cfg SolanaAdapterConfig, client solanaRPC) (*SolanaAdapter, error) {
	if client == nil {
		return nil, fmt.Errorf("rpc client cannot be nil")
	}
	mint, err := solana.PublicKeyFromBase58(cfg.MintAddress)
	if err != nil {
		return nil, NewAdapterError(cfg.Network, "NewSolanaAdapter", fmt.Errorf("%w: mint %q", ErrInvalidAddress, cfg.MintAddress), nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}

	breakerCfg := circuitbreaker.DefaultConfig("solana-" + string(cfg.Network))
	if cfg.BreakerThreshold > 0 {
		breakerCfg.MaxFailures = cfg.BreakerThreshold
	}

	a := &SolanaAdapter{
		network:      cfg.Network,
		client:       client,
		mint:         mint,
		breaker:      circuitbreaker.NewCircuitBreaker(breakerCfg),
		timeout:      cfg.Timeout,
		confirmation: retry.ConfirmationConfig(cfg.ConfirmTimeout),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return a, nil
}

// Network returns the network the adapter transfers on
func (a *SolanaAdapter) Network() types.Network {
	return a.network
}

// Mint returns the token mint address
func (a *SolanaAdapter) Mint() string {
	return a.mint.String()
}

// BreakerStats exposes the RPC circuit breaker state for health reporting
func (a *SolanaAdapter) BreakerStats() *circuitbreaker.Stats {
	return a.breaker.GetStats()
}

// ValidateAddress checks that address decodes as a 32-byte base58 public key
func (a *SolanaAdapter) ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// HoldingAccountFor derives the associated token account of owner for the mint
func (a *SolanaAdapter) HoldingAccountFor(owner string) (*HoldingAccount, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, NewAdapterError(a.network, "HoldingAccountFor", fmt.Errorf("%w: %v", ErrInvalidAddress, err), map[string]interface{}{
			"owner": owner,
		})
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, a.mint)
	if err != nil {
		return nil, NewAdapterError(a.network, "HoldingAccountFor", err, map[string]interface{}{
			"owner": owner,
		})
	}
	return &HoldingAccount{Owner: owner, Address: ata.String()}, nil
}

// ResolveHoldingAccount returns the associated token account of owner, creating it if missing.
// The payer funds the rent and signs the creation.
func (a *SolanaAdapter) ResolveHoldingAccount(ctx context.Context, owner string, payer *Treasury) (*HoldingAccount, error) {
	holding, err := a.HoldingAccountFor(owner)
	if err != nil {
		return nil, err
	}

	exists, err := a.accountExists(ctx, holding)
	if err != nil {
		return nil, err
	}
	if exists {
		return holding, nil
	}
	if payer == nil {
		return nil, NewAdapterError(a.network, "ResolveHoldingAccount", fmt.Errorf("token account missing and no payer given"), map[string]interface{}{
			"owner": owner,
		})
	}

	ownerKey := solana.MustPublicKeyFromBase58(owner)
	ix := associatedtokenaccount.NewCreateInstruction(payer.PublicKey(), ownerKey, a.mint).Build()

	sig, err := a.sendAndConfirm(ctx, "CreateTokenAccount", []solana.Instruction{ix}, payer)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"owner":        owner,
		"tokenAccount": holding.Address,
		"signature":    sig,
	}).Info("Created associated token account")

	return holding, nil
}

// Balance returns the base-unit balance of a token account. A missing account has balance 0.
func (a *SolanaAdapter) Balance(ctx context.Context, account *HoldingAccount) (uint64, error) {
	exists, err := a.accountExists(ctx, account)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	key, err := solana.PublicKeyFromBase58(account.Address)
	if err != nil {
		return 0, NewAdapterError(a.network, "Balance", fmt.Errorf("%w: %v", ErrInvalidAddress, err), nil)
	}

	var amount string
	err = a.call(ctx, "get_token_account_balance", func(ctx context.Context) error {
		res, err := a.client.GetTokenAccountBalance(ctx, key, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty token balance response")
		}
		amount = res.Value.Amount
		return nil
	})
	if err != nil {
		return 0, a.wrap("Balance", err, map[string]interface{}{"tokenAccount": account.Address})
	}

	balance, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, NewAdapterError(a.network, "Balance", fmt.Errorf("malformed token amount %q: %w", amount, err), nil)
	}
	return balance, nil
}

// Transfer moves amount base units from one token account to another, signed by authority
func (a *SolanaAdapter) Transfer(ctx context.Context, from, to *HoldingAccount, authority *Treasury, amount uint64) (string, error) {
	if authority == nil {
		return "", NewAdapterError(a.network, "Transfer", fmt.Errorf("transfer authority is required"), nil)
	}
	if amount == 0 {
		return "", NewAdapterError(a.network, "Transfer", fmt.Errorf("transfer amount must be positive"), nil)
	}

	source, err := solana.PublicKeyFromBase58(from.Address)
	if err != nil {
		return "", NewAdapterError(a.network, "Transfer", fmt.Errorf("%w: source: %v", ErrInvalidAddress, err), nil)
	}
	destination, err := solana.PublicKeyFromBase58(to.Address)
	if err != nil {
		return "", NewAdapterError(a.network, "Transfer", fmt.Errorf("%w: destination: %v", ErrInvalidAddress, err), nil)
	}

	ix := token.NewTransferInstruction(amount, source, destination, authority.PublicKey(), nil).Build()
	return a.sendAndConfirm(ctx, "Transfer", []solana.Instruction{ix}, authority)
}

// accountExists reports whether the token account has been created on chain
func (a *SolanaAdapter) accountExists(ctx context.Context, account *HoldingAccount) (bool, error) {
	key, err := solana.PublicKeyFromBase58(account.Address)
	if err != nil {
		return false, NewAdapterError(a.network, "GetAccountInfo", fmt.Errorf("%w: %v", ErrInvalidAddress, err), nil)
	}

	exists := false
	err = a.call(ctx, "get_account_info", func(ctx context.Context) error {
		res, err := a.client.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{Commitment: rpc.CommitmentConfirmed})
		if errors.Is(err, rpc.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = res != nil && res.Value != nil
		return nil
	})
	if err != nil {
		return false, a.wrap("GetAccountInfo", err, map[string]interface{}{"tokenAccount": account.Address})
	}
	return exists, nil
}

// sendAndConfirm signs the instructions with signer as fee payer, sends them and polls until confirmed
func (a *SolanaAdapter) sendAndConfirm(ctx context.Context, op string, ixs []solana.Instruction, signer *Treasury) (string, error) {
	logger := logging.FromContext(ctx)

	var blockhash solana.Hash
	err := a.call(ctx, "get_latest_blockhash", func(ctx context.Context) error {
		res, err := a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		if res == nil || res.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		blockhash = res.Value.Blockhash
		return nil
	})
	if err != nil {
		return "", a.wrap(op, err, nil)
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return "", NewAdapterError(a.network, op, fmt.Errorf("failed to build transaction: %w", err), nil)
	}
	if _, err := tx.Sign(signer.signer); err != nil {
		return "", NewAdapterError(a.network, op, fmt.Errorf("failed to sign transaction: %w", err), nil)
	}

	var sig solana.Signature
	err = a.call(ctx, "send_transaction", func(ctx context.Context) error {
		s, err := a.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	if err != nil {
		return "", a.wrap(op, err, nil)
	}

	logger.WithFields(map[string]interface{}{
		"op":        op,
		"signature": sig.String(),
	}).Debug("Transaction sent, waiting for confirmation")

	if err := a.awaitConfirmation(ctx, sig); err != nil {
		return "", a.wrap(op, err, map[string]interface{}{"signature": sig.String()})
	}
	return sig.String(), nil
}

// awaitConfirmation polls the signature status with backoff until it is confirmed or fails
func (a *SolanaAdapter) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	result := retry.WithExponentialBackoff(ctx, a.confirmation, func(ctx context.Context, attempt int) error {
		var status *rpc.SignatureStatusesResult
		err := a.call(ctx, "get_signature_statuses", func(ctx context.Context) error {
			res, err := a.client.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				return err
			}
			if res != nil && len(res.Value) > 0 {
				status = res.Value[0]
			}
			return nil
		})
		if err != nil {
			return err
		}
		if status == nil {
			return ErrTransactionUnconfirmed
		}
		if status.Err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err))
		}
		switch status.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		default:
			return ErrTransactionUnconfirmed
		}
	})

	if result.Success {
		return nil
	}
	if retry.IsPermanent(result.LastError) {
		return errors.Unwrap(result.LastError)
	}
	if errors.Is(result.LastError, context.Canceled) || errors.Is(result.LastError, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransactionUnconfirmed, result.LastError)
	}
	if errors.Is(result.LastError, ErrTransactionUnconfirmed) {
		return result.LastError
	}
	return fmt.Errorf("%w: %w", ErrTransactionUnconfirmed, result.LastError)
}

// call runs one RPC under the circuit breaker with a bounded timeout and records its latency
func (a *SolanaAdapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rpc budget: %w", err)
		}
	}

	start := time.Now()
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		err := fn(callCtx)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrProviderTimeout, op, a.timeout)
		}
		return err
	})
	metrics.ObserveLedgerCall(op, err, time.Since(start))
	return err
}

// wrap converts breaker and transport failures into adapter errors
func (a *SolanaAdapter) wrap(op string, err error, details map[string]interface{}) error {
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return NewAdapterError(a.network, op, err, details)
}
