package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total.Sign() != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %s", assetName, total)
		}
	}

	return nil
}

// ValidateUserSavingsNonNegative checks a user's savings custody balance
func (v *InvariantValidator) ValidateUserSavingsNonNegative(userID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, SubTypeSavings, assetID))
}

// ValidateInstanceNonNegative checks an instance's collateral and lent
// accounts never go below zero
func (v *InvariantValidator) ValidateInstanceNonNegative(entityID [16]byte, assetID AssetID) error {
	if err := v.tracker.ValidateNonNegative(NewInstanceAccountKey(entityID, SubTypeCollateral, assetID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewInstanceAccountKey(entityID, SubTypeLent, assetID))
}

// ValidateBatchAccountsNonNegative checks every internal account touched
// by a batch after application. External boundary accounts are allowed
// to go negative (they mirror value outside the system).
func (v *InvariantValidator) ValidateBatchAccountsNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope == AccountScopeExternal {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return fmt.Errorf("batch %s: %w", batch.BatchID, err)
			}
		}
	}
	return nil
}
