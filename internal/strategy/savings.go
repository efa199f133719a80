package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

var ErrInsufficientSavings = errors.New("strategy: insufficient savings balance")

type savingsKey struct {
	account  uuid.UUID
	asset    string
	strategy ID
}

// SavingsLedger tracks per-account share balances across strategies.
// It is the shared custody ledger that depositCollateral(fromSavings)
// pulls from and repay(fromSavings) fans out across.
//
// Not safe for concurrent use; the engine serializes all access.
type SavingsLedger struct {
	balances map[savingsKey]*big.Int
}

func NewSavingsLedger() *SavingsLedger {
	return &SavingsLedger{balances: make(map[savingsKey]*big.Int)}
}

func (l *SavingsLedger) Balance(account uuid.UUID, asset string, id ID) *big.Int {
	if b, ok := l.balances[savingsKey{account, asset, id}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *SavingsLedger) Deposit(account uuid.UUID, asset string, id ID, shares *big.Int) error {
	if shares.Sign() <= 0 {
		return fmt.Errorf("strategy: deposit shares must be > 0, got %s", shares)
	}
	key := savingsKey{account, asset, id}
	if b, ok := l.balances[key]; ok {
		b.Add(b, shares)
	} else {
		l.balances[key] = new(big.Int).Set(shares)
	}
	return nil
}

func (l *SavingsLedger) Withdraw(account uuid.UUID, asset string, id ID, shares *big.Int) error {
	if shares.Sign() <= 0 {
		return fmt.Errorf("strategy: withdraw shares must be > 0, got %s", shares)
	}
	key := savingsKey{account, asset, id}
	b, ok := l.balances[key]
	if !ok || b.Cmp(shares) < 0 {
		return fmt.Errorf("%w: %s %s via %s", ErrInsufficientSavings, account, asset, id)
	}
	b.Sub(b, shares)
	if b.Sign() == 0 {
		delete(l.balances, key)
	}
	return nil
}

// ShareEntry is one flattened savings row, used by snapshots.
type ShareEntry struct {
	Account  uuid.UUID
	Asset    string
	Strategy ID
	Shares   *big.Int
}

// Entries dumps every balance, sorted for deterministic snapshots.
func (l *SavingsLedger) Entries() []ShareEntry {
	out := make([]ShareEntry, 0, len(l.balances))
	for key, shares := range l.balances {
		out = append(out, ShareEntry{
			Account:  key.account,
			Asset:    key.asset,
			Strategy: key.strategy,
			Shares:   new(big.Int).Set(shares),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Account != b.Account {
			return a.Account.String() < b.Account.String()
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Strategy < b.Strategy
	})
	return out
}

// RestoreEntries replaces all balances from a snapshot dump.
func (l *SavingsLedger) RestoreEntries(entries []ShareEntry) {
	l.balances = make(map[savingsKey]*big.Int, len(entries))
	for _, e := range entries {
		if e.Shares == nil || e.Shares.Sign() <= 0 {
			continue
		}
		l.balances[savingsKey{e.Account, e.Asset, e.Strategy}] = new(big.Int).Set(e.Shares)
	}
}

// StrategyBalance is one (strategy, balance) pair, token-denominated.
type StrategyBalance struct {
	Strategy ID
	Tokens   *big.Int
}

// TokenBalances values an account's asset holdings across all
// strategies it has shares in, sorted by strategy ID for deterministic
// iteration.
func (l *SavingsLedger) TokenBalances(account uuid.UUID, asset string, reg *RegistrySnapshot) ([]StrategyBalance, error) {
	var out []StrategyBalance
	for key, shares := range l.balances {
		if key.account != account || key.asset != asset {
			continue
		}
		st, err := reg.Get(key.strategy)
		if err != nil {
			return nil, err
		}
		out = append(out, StrategyBalance{
			Strategy: key.strategy,
			Tokens:   st.TokensForShares(asset, shares),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strategy < out[j].Strategy })
	return out, nil
}
