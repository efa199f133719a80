package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

func (bt *BalanceTracker) balance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return b
	}
	b := new(big.Int)
	bt.balances[key] = b
	return b
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balance(j.DebitAccount).Add(bt.balance(j.DebitAccount), j.Amount)
	bt.balance(j.CreditAccount).Sub(bt.balance(j.CreditAccount), j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GetUserSavings returns the user's token-level savings custody balance
func (bt *BalanceTracker) GetUserSavings(userID uuid.UUID, assetID AssetID) *big.Int {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeSavings, assetID))
}

// GetInstanceCollateral returns collateral locked against an instance
func (bt *BalanceTracker) GetInstanceCollateral(entityID [16]byte, assetID AssetID) *big.Int {
	return bt.GetBalance(NewInstanceAccountKey(entityID, SubTypeCollateral, assetID))
}

// GetInstanceLent returns the claimable lender funds held by an instance
func (bt *BalanceTracker) GetInstanceLent(entityID [16]byte, assetID AssetID) *big.Int {
	return bt.GetBalance(NewInstanceAccountKey(entityID, SubTypeLent, assetID))
}

// === Invariant Checks ===

// ValidateSufficient checks the account can cover the requested amount
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	have := bt.GetBalance(key)
	if have.Cmp(required) < 0 {
		return fmt.Errorf("insufficient balance in %s: have=%s, need=%s",
			key.AccountPath(), have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if b, ok := bt.balances[key]; ok && b.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), b)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]*big.Int {
	totals := make(map[AssetID]*big.Int)

	for key, balance := range bt.balances {
		if t, ok := totals[key.AssetID]; ok {
			t.Add(t, balance)
		} else {
			totals[key.AssetID] = new(big.Int).Set(balance)
		}
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// Restore replaces all balances from a snapshot (recovery path)
func (bt *BalanceTracker) Restore(balances map[AccountKey]*big.Int) {
	bt.balances = make(map[AccountKey]*big.Int, len(balances))
	for k, v := range balances {
		bt.balances[k] = new(big.Int).Set(v)
	}
}
