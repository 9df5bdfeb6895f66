package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pegged-token/claimer/internal/adapter"
	apperrors "github.com/pegged-token/claimer/internal/errors"
	"github.com/pegged-token/claimer/internal/lock"
	"github.com/pegged-token/claimer/internal/logging"
	"github.com/pegged-token/claimer/internal/metrics"
	"github.com/pegged-token/claimer/internal/models"
	"github.com/pegged-token/claimer/internal/storage"
	"github.com/pegged-token/claimer/internal/types"
	"github.com/shopspring/decimal"
)

const (
	// MinClaimAmount is the smallest available balance that can be claimed
	MinClaimAmount int64 = 1
	// ConversionRate converts available tokens to ledger tokens
	ConversionRate int64 = 1
	// Decimals is the base-unit exponent of the ledger token
	Decimals = adapter.Decimals

	// patchConflictRetries bounds how often the post-transfer patch is re-read and retried
	patchConflictRetries = 3
)

// errBalanceAlreadyClaimed means the record lost the tokens that were just transferred to another claim
var errBalanceAlreadyClaimed = errors.New("available balance no longer covers the transferred amount")

// BalanceCache caches on-chain wallet balances for the stats view
type BalanceCache interface {
	Get(ctx context.Context, wallet string) (uint64, bool, error)
	Set(ctx context.Context, wallet string, balance uint64) error
	Invalidate(ctx context.Context, wallet string) error
}

// ClaimAuditor stores a receipt for every transfer that reached the ledger
type ClaimAuditor interface {
	Record(ctx context.Context, receipt *models.ClaimReceipt) error
}

// ClaimServiceConfig holds the orchestrator settings
type ClaimServiceConfig struct {
	Account      string        // account scope whose latest record is operated on
	StoreTimeout time.Duration // bound for each record store call
	LockWait     time.Duration // how long an operation waits for the account lock
}

// ClaimService orchestrates wallet linking, claims and reconciliation for one account
type ClaimService struct {
	store    storage.RecordStore
	ledger   adapter.Ledger
	treasury *adapter.Treasury
	locker   lock.Locker
	cache    BalanceCache
	auditor  ClaimAuditor

	account      string
	storeTimeout time.Duration
	lockWait     time.Duration
	now          func() time.Time
}

// Option configures optional ClaimService collaborators
type Option func(*ClaimService)

// WithBalanceCache enables caching of on-chain balances in GetStats
func WithBalanceCache(cache BalanceCache) Option {
	return func(s *ClaimService) { s.cache = cache }
}

// WithAuditor enables claim receipts
func WithAuditor(auditor ClaimAuditor) Option {
	return func(s *ClaimService) { s.auditor = auditor }
}

// NewClaimService creates a new claim orchestrator
func NewClaimService(
	store storage.RecordStore,
	ledger adapter.Ledger,
	treasury *adapter.Treasury,
	locker lock.Locker,
	cfg ClaimServiceConfig,
	opts ...Option,
) *ClaimService {
	if cfg.Account == "" {
		cfg.Account = "default"
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 10 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 15 * time.Second
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}

	s := &ClaimService{
		store:        store,
		ledger:       ledger,
		treasury:     treasury,
		locker:       locker,
		account:      cfg.Account,
		storeTimeout: cfg.StoreTimeout,
		lockWait:     cfg.LockWait,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns the account scope the service operates on
func (s *ClaimService) Account() string {
	return s.account
}

// Output types

// ClaimResult describes a successful claim
type ClaimResult struct {
	Signature    string    `json:"signature"`
	Amount       int64     `json:"amount"`
	BaseUnits    uint64    `json:"baseUnits"`
	Wallet       string    `json:"wallet"`
	TotalClaimed int64     `json:"totalClaimed"`
	ClaimedAt    time.Time `json:"claimedAt"`
}

// LinkResult is the composite outcome of linking a wallet and the chained claim.
// A failed chained claim leaves Linked true and sets ClaimError.
type LinkResult struct {
	Linked     bool         `json:"linked"`
	Wallet     string       `json:"wallet"`
	Claimed    bool         `json:"claimed"`
	Claim      *ClaimResult `json:"claim,omitempty"`
	ClaimError error        `json:"-"`
}

// Stats is the read-only account view
type Stats struct {
	AvailableTokens     int64           `json:"availableTokens"`
	OnChainBalance      decimal.Decimal `json:"onChainBalance"`
	OnChainBalanceError string          `json:"onChainBalanceError,omitempty"`
	TotalClaimed        int64           `json:"totalClaimed"`
	WalletLinked        bool            `json:"walletLinked"`
	WalletAddress       string          `json:"walletAddress,omitempty"`
	CanClaim            bool            `json:"canClaim"`
	LastClaim           *time.Time      `json:"lastClaim,omitempty"`
	TokenValue          decimal.Decimal `json:"tokenValue"`
	LastUpdated         time.Time       `json:"lastUpdated"`
}

// SyncResult describes what a reconciliation pass did
type SyncResult struct {
	Outcome types.SyncOutcome `json:"outcome"`
	Message string            `json:"message"`
	Claim   *ClaimResult      `json:"claim,omitempty"`
}

// AccrueResult describes an accrual of available tokens
type AccrueResult struct {
	RecordID        string    `json:"id"`
	AvailableTokens int64     `json:"availableTokens"`
	PreviousTokens  int64     `json:"previousTokens"`
	TokensAdded     int64     `json:"tokensAdded"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// TokenData is the raw record view served to the dashboard
type TokenData struct {
	CurrentIndex    int64           `json:"currentIndex"`
	AvailableTokens int64           `json:"availableTokens"`
	TokenValue      decimal.Decimal `json:"tokenValue"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}

// transferAmount converts available tokens to ledger tokens, rounding down
func transferAmount(available int64) int64 {
	return available * ConversionRate
}

// LinkWallet links address to the account and claims right away when enough tokens are available
func (s *ClaimService) LinkWallet(ctx context.Context, address string) (*LinkResult, error) {
	address = strings.TrimSpace(address)
	if err := s.ledger.ValidateAddress(address); err != nil {
		return nil, apperrors.NewInvalidAddressError(address, err)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account": s.account,
		"wallet":  address,
	})

	record, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	patch := &models.RecordPatch{
		LinkedWallet: models.String(address),
		TotalClaimed: models.Int64(record.TotalClaimed),
		UpdatedAt:    models.Time(now),
	}
	if _, err := s.patch(ctx, record.ID, patch); err != nil {
		return nil, err
	}
	logger.Info("Wallet linked")

	linked := record.Clone()
	patch.Apply(linked)

	result := &LinkResult{Linked: true, Wallet: address}
	if linked.AvailableTokens < MinClaimAmount {
		return result, nil
	}

	logger.WithField("availableTokens", linked.AvailableTokens).Info("Available tokens found, claiming")
	claim, err := s.claimLocked(ctx, linked)
	if err != nil {
		logger.WithError(err).Warn("Chained claim after wallet link failed")
		result.ClaimError = err
		return result, nil
	}

	result.Claimed = true
	result.Claim = claim
	return result, nil
}

// ClaimTokens transfers all available tokens to the linked wallet
func (s *ClaimService) ClaimTokens(ctx context.Context) (*ClaimResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.claimLocked(ctx, record)
}

// SyncTokens claims when a wallet is linked and enough tokens are available, otherwise does nothing
func (s *ClaimService) SyncTokens(ctx context.Context) (*SyncResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithField("account", s.account)

	if !record.HasWallet() {
		logger.Debug("No wallet linked, tokens remain available")
		return &SyncResult{
			Outcome: types.SyncNoWallet,
			Message: "no wallet linked, tokens remain as available tokens",
		}, nil
	}
	if record.AvailableTokens < MinClaimAmount {
		logger.WithField("availableTokens", record.AvailableTokens).Debug("Below claim minimum")
		return &SyncResult{
			Outcome: types.SyncBelowMinimum,
			Message: fmt.Sprintf("only %d available tokens, need %d minimum", record.AvailableTokens, MinClaimAmount),
		}, nil
	}

	claim, err := s.claimLocked(ctx, record)
	if err != nil {
		return nil, err
	}
	return &SyncResult{
		Outcome: types.SyncClaimed,
		Message: fmt.Sprintf("claimed %d tokens", claim.Amount),
		Claim:   claim,
	}, nil
}

// GetStats returns the account view including the on-chain balance of the linked wallet.
// It never creates ledger accounts; a failed balance lookup degrades to zero.
func (s *ClaimService) GetStats(ctx context.Context) (*Stats, error) {
	record, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		AvailableTokens: record.AvailableTokens,
		OnChainBalance:  decimal.Zero,
		TotalClaimed:    record.TotalClaimed,
		WalletLinked:    record.HasWallet(),
		WalletAddress:   record.LinkedWallet,
		CanClaim:        record.AvailableTokens >= MinClaimAmount,
		LastClaim:       record.LastClaimAt,
		TokenValue:      record.TokenValue,
		LastUpdated:     record.UpdatedAt,
	}

	if record.HasWallet() {
		balance, err := s.onChainBalance(ctx, record.LinkedWallet)
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("wallet", record.LinkedWallet).
				Warn("Failed to read on-chain balance, reporting zero")
			stats.OnChainBalanceError = err.Error()
		} else {
			stats.OnChainBalance = displayAmount(balance)
		}
	}

	return stats, nil
}

// AccrueTokens adds amount to the available tokens of the latest record
func (s *ClaimService) AccrueTokens(ctx context.Context, amount int64) (*AccrueResult, error) {
	if amount < 1 {
		return nil, apperrors.NewInvalidParameterError("amount", "must be at least 1")
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	next := record.AvailableTokens + amount
	patch := &models.RecordPatch{
		AvailableTokens:       models.Int64(next),
		UpdatedAt:             models.Time(now),
		ExpectAvailableTokens: models.Int64(record.AvailableTokens),
	}
	if _, err := s.patch(ctx, record.ID, patch); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":         s.account,
		"tokensAdded":     amount,
		"availableTokens": next,
	}).Info("Tokens accrued")

	return &AccrueResult{
		RecordID:        record.ID,
		AvailableTokens: next,
		PreviousTokens:  record.AvailableTokens,
		TokensAdded:     amount,
		LastUpdated:     now,
	}, nil
}

// TokenData returns the raw record view, or a zero view when the account has no record yet
func (s *ClaimService) TokenData(ctx context.Context) (*TokenData, error) {
	record, err := s.latest(ctx)
	if apperrors.HasCode(err, apperrors.CodeNotFound) {
		return &TokenData{
			TokenValue:  decimal.Zero,
			TotalValue:  decimal.Zero,
			LastUpdated: s.now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &TokenData{
		CurrentIndex:    record.CurrentIndex,
		AvailableTokens: record.AvailableTokens,
		TokenValue:      record.TokenValue,
		TotalValue:      record.TokenValue.Mul(decimal.NewFromInt(record.AvailableTokens)),
		LastUpdated:     record.UpdatedAt,
	}, nil
}

// InitAccount creates an empty record for the account unless one already exists
func (s *ClaimService) InitAccount(ctx context.Context) (*models.AccountRecord, bool, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	existing, err := s.latest(ctx)
	if err == nil {
		return existing, false, nil
	}
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil, false, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	created, err := s.store.Create(storeCtx, &models.AccountRecord{
		Account:    s.account,
		TokenValue: decimal.Zero,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return nil, false, apperrors.NewStoreUnavailableError("create", err)
	}
	return created, true, nil
}

// claimLocked runs the claim sequence. The caller holds the account lock and passes the record it read.
func (s *ClaimService) claimLocked(ctx context.Context, record *models.AccountRecord) (*ClaimResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  s.account,
		"recordId": record.ID,
	})

	if !record.HasWallet() {
		metrics.RecordClaim(apperrors.CodeWalletNotLinked, 0)
		return nil, apperrors.NewWalletNotLinkedError()
	}
	if record.AvailableTokens < MinClaimAmount {
		metrics.RecordClaim(apperrors.CodeInsufficientBalance, 0)
		return nil, apperrors.NewInsufficientBalanceError(MinClaimAmount, record.AvailableTokens)
	}

	amount := transferAmount(record.AvailableTokens)
	baseUnits, err := adapter.ToBaseUnits(amount)
	if err != nil {
		return nil, apperrors.NewInvalidParameterError("availableTokens", err.Error())
	}
	wallet := record.LinkedWallet
	logger = logger.WithFields(map[string]interface{}{
		"wallet": wallet,
		"amount": amount,
	})

	recipient, err := s.ledger.ResolveHoldingAccount(ctx, wallet, s.treasury)
	if err != nil {
		metrics.RecordClaim(apperrors.CodeTransferFailed, 0)
		return nil, apperrors.NewTransferFailedError("resolve_recipient_account", err)
	}
	source, err := s.ledger.ResolveHoldingAccount(ctx, s.treasury.Address(), s.treasury)
	if err != nil {
		metrics.RecordClaim(apperrors.CodeTransferFailed, 0)
		return nil, apperrors.NewTransferFailedError("resolve_treasury_account", err)
	}

	// From here on the caller can no longer abandon the sequence halfway
	execCtx := context.WithoutCancel(ctx)

	signature, err := s.ledger.Transfer(execCtx, source, recipient, s.treasury, baseUnits)
	if err != nil {
		metrics.RecordClaim(apperrors.CodeTransferFailed, 0)
		transferErr := apperrors.NewTransferFailedError("transfer", err)
		if sig := adapter.SignatureOf(err); sig != "" && errors.Is(err, adapter.ErrTransactionUnconfirmed) {
			transferErr.Details["signature"] = sig
			logger.WithError(err).WithField("signature", sig).
				Error("Transfer sent but not confirmed, verify on chain before retrying")
			s.audit(execCtx, record, wallet, amount, baseUnits, sig, types.ClaimUnconfirmed, err)
		}
		return nil, transferErr
	}
	logger = logger.WithField("signature", signature)

	claimedAt := s.now()
	totalClaimed, err := s.commitClaim(execCtx, record, amount, claimedAt)
	if err != nil {
		metrics.RecordClaim(apperrors.CodeInconsistentState, 0)
		logger.WithError(err).WithField("baseUnits", baseUnits).
			Error("Tokens transferred but account record was not updated, manual reconciliation required")
		s.audit(execCtx, record, wallet, amount, baseUnits, signature, types.ClaimInconsistent, err)
		return nil, apperrors.NewInconsistentStateError(record.ID, signature, amount, err)
	}

	s.audit(execCtx, record, wallet, amount, baseUnits, signature, types.ClaimSucceeded, nil)
	if s.cache != nil {
		if err := s.cache.Invalidate(execCtx, wallet); err != nil {
			logger.WithError(err).Warn("Failed to invalidate cached balance")
		}
	}
	metrics.RecordClaim("success", amount)
	logger.Info("Tokens claimed")

	return &ClaimResult{
		Signature:    signature,
		Amount:       amount,
		BaseUnits:    baseUnits,
		Wallet:       wallet,
		TotalClaimed: totalClaimed,
		ClaimedAt:    claimedAt,
	}, nil
}

// commitClaim patches the record after a transfer. The patch is guarded by the balance
// that was read; when another writer changed it, the transferred amount is deducted from
// the fresh balance instead so concurrently accrued tokens are kept. A fresh balance that
// no longer covers the amount means it was already paid out elsewhere.
func (s *ClaimService) commitClaim(ctx context.Context, record *models.AccountRecord, amount int64, at time.Time) (int64, error) {
	current := record
	var lastErr error

	for attempt := 0; attempt < patchConflictRetries; attempt++ {
		if current.AvailableTokens < amount {
			return 0, fmt.Errorf("%w: available %d, transferred %d", errBalanceAlreadyClaimed, current.AvailableTokens, amount)
		}
		remaining := current.AvailableTokens - amount
		total := current.TotalClaimed + amount
		patch := &models.RecordPatch{
			AvailableTokens:       models.Int64(remaining),
			TotalClaimed:          models.Int64(total),
			LastClaimAt:           models.Time(at),
			UpdatedAt:             models.Time(at),
			ExpectAvailableTokens: models.Int64(current.AvailableTokens),
		}

		_, err := s.patch(ctx, record.ID, patch)
		if err == nil {
			return total, nil
		}
		lastErr = err
		if !apperrors.HasCode(err, apperrors.CodeConflict) {
			return 0, err
		}

		fresh, err := s.latest(ctx)
		if err != nil {
			return 0, err
		}
		if fresh.ID != record.ID {
			return 0, fmt.Errorf("latest record changed from %s to %s during claim", record.ID, fresh.ID)
		}
		current = fresh
	}
	return 0, lastErr
}

// onChainBalance returns the base-unit balance of the wallet's token account, using the cache when present
func (s *ClaimService) onChainBalance(ctx context.Context, wallet string) (uint64, error) {
	logger := logging.FromContext(ctx)

	if s.cache != nil {
		balance, ok, err := s.cache.Get(ctx, wallet)
		if err != nil {
			logger.WithError(err).Debug("Balance cache unavailable")
		} else if ok {
			return balance, nil
		}
	}

	holding, err := s.ledger.HoldingAccountFor(wallet)
	if err != nil {
		return 0, err
	}
	balance, err := s.ledger.Balance(ctx, holding)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, wallet, balance); err != nil {
			logger.WithError(err).Debug("Failed to cache balance")
		}
	}
	return balance, nil
}

// displayAmount converts base units to display units without losing precision
func displayAmount(base uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(base), -Decimals)
}

// audit writes a claim receipt; failures are logged and never fail the claim
func (s *ClaimService) audit(ctx context.Context, record *models.AccountRecord, wallet string, amount int64, baseUnits uint64, signature string, status types.ClaimStatus, cause error) {
	if s.auditor == nil {
		return
	}

	receipt := &models.ClaimReceipt{
		Account:   s.account,
		RecordID:  record.ID,
		Wallet:    wallet,
		Amount:    amount,
		BaseUnits: baseUnits,
		Signature: signature,
		Status:    status,
		CreatedAt: s.now(),
	}
	if cause != nil {
		msg := cause.Error()
		receipt.Error = &msg
	}

	auditCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.auditor.Record(auditCtx, receipt); err != nil {
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"signature": signature,
			"status":    status,
		}).Error("Failed to write claim receipt")
	}
}

// acquire takes the account lock, waiting at most lockWait
func (s *ClaimService) acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	release, err := s.locker.Acquire(waitCtx, s.account)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, apperrors.NewConflictError("another operation is in progress for this account", err)
		}
		return nil, apperrors.NewStoreUnavailableError("lock", err)
	}
	return release, nil
}

// latest reads the authoritative record with the store timeout applied
func (s *ClaimService) latest(ctx context.Context) (*models.AccountRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.store.Latest(storeCtx, s.account)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("account record", s.account)
		}
		return nil, apperrors.NewStoreUnavailableError("fetch_latest", err)
	}
	return record, nil
}

// patch writes a partial update with the store timeout applied
func (s *ClaimService) patch(ctx context.Context, id string, patch *models.RecordPatch) (*models.AccountRecord, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	record, err := s.store.Patch(storeCtx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, apperrors.NewConflictError("account record changed concurrently", err)
		case errors.Is(err, storage.ErrRecordNotFound):
			return nil, apperrors.NewNotFoundError("account record", id)
		default:
			return nil, apperrors.NewStoreUnavailableError("patch", err)
		}
	}
	return record, nil
}
