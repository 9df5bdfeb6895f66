package service

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/pegged-token/claimer/internal/models"
)

// Property: a claim either moves the whole available balance into total claimed with one
// transfer of the matching base units, or leaves the record untouched.
func TestClaimConservesTokens(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("claim conserves available plus claimed", prop.ForAll(
		func(available, claimed int64, linked, transferFails bool) bool {
			record := &models.AccountRecord{AvailableTokens: available, TotalClaimed: claimed}
			if linked {
				record.LinkedWallet = testWallet
			}
			store := newMemoryStore(record)
			ledger := newFakeLedger()
			if transferFails {
				ledger.transferErr = errors.New("rpc down")
			}
			svc := newTestService(t, store, ledger)

			result, err := svc.ClaimTokens(context.Background())
			after := store.current()

			if after.AvailableTokens+after.TotalClaimed != available+claimed {
				return false
			}

			shouldSucceed := linked && available >= MinClaimAmount && !transferFails
			if !shouldSucceed {
				return err != nil &&
					ledger.transferCount() == 0 &&
					after.AvailableTokens == available &&
					after.TotalClaimed == claimed
			}

			return err == nil &&
				ledger.transferCount() == 1 &&
				ledger.transfers[0].amount == uint64(available)*1_000_000_000 &&
				after.AvailableTokens == 0 &&
				result.TotalClaimed == claimed+available
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: linking never performs more than one claim and always links
func TestLinkClaimsAtMostOnce(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("link claims exactly when balance reaches the minimum", prop.ForAll(
		func(available int64) bool {
			store := newMemoryStore(&models.AccountRecord{AvailableTokens: available})
			ledger := newFakeLedger()
			svc := newTestService(t, store, ledger)

			result, err := svc.LinkWallet(context.Background(), testWallet)
			if err != nil || !result.Linked || store.current().LinkedWallet != testWallet {
				return false
			}

			expected := 0
			if available >= MinClaimAmount {
				expected = 1
			}
			return ledger.transferCount() == expected && result.Claimed == (expected == 1)
		},
		gen.Int64Range(0, 10_000),
	))

	properties.TestingRun(t)
}
