package strategy

import (
	"fmt"
	"math/big"
	"sort"
)

// Allocation is the amount to withdraw from one strategy.
type Allocation struct {
	Strategy ID
	Tokens   *big.Int
}

// AllocateWithdrawal splits a requested token amount across strategy
// balances proportionally to balance size. Floor division leaves a
// remainder of at most one unit per strategy; remainder units go to
// the largest balances first, ties broken by ascending strategy ID.
// The result is deterministic and sums exactly to amount.
func AllocateWithdrawal(amount *big.Int, balances []StrategyBalance) ([]Allocation, error) {
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("strategy: allocation amount must be > 0, got %s", amount)
	}
	total := new(big.Int)
	for _, b := range balances {
		total.Add(total, b.Tokens)
	}
	if total.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientSavings, total, amount)
	}

	ordered := make([]StrategyBalance, len(balances))
	copy(ordered, balances)
	sort.Slice(ordered, func(i, j int) bool {
		if c := ordered[i].Tokens.Cmp(ordered[j].Tokens); c != 0 {
			return c > 0
		}
		return ordered[i].Strategy < ordered[j].Strategy
	})

	allocs := make([]Allocation, 0, len(ordered))
	assigned := new(big.Int)
	for _, b := range ordered {
		share := new(big.Int).Mul(amount, b.Tokens)
		share.Quo(share, total)
		if share.Cmp(b.Tokens) > 0 {
			share.Set(b.Tokens)
		}
		allocs = append(allocs, Allocation{Strategy: b.Strategy, Tokens: share})
		assigned.Add(assigned, share)
	}

	// Distribute the floor-division remainder, largest balances first.
	remainder := new(big.Int).Sub(amount, assigned)
	for i := range allocs {
		if remainder.Sign() == 0 {
			break
		}
		headroom := new(big.Int).Sub(ordered[i].Tokens, allocs[i].Tokens)
		if headroom.Sign() <= 0 {
			continue
		}
		take := remainder
		if headroom.Cmp(remainder) < 0 {
			take = headroom
		}
		allocs[i].Tokens.Add(allocs[i].Tokens, take)
		remainder = new(big.Int).Sub(remainder, take)
	}
	if remainder.Sign() != 0 {
		// Unreachable while total >= amount; a hit here is a bookkeeping bug.
		panic("strategy: allocation remainder not exhausted")
	}

	// Drop zero allocations.
	out := allocs[:0]
	for _, a := range allocs {
		if a.Tokens.Sign() > 0 {
			out = append(out, a)
		}
	}
	return out, nil
}
