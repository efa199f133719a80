package strategy_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"CredLedger/internal/fixedpoint"
	"CredLedger/internal/strategy"
)

// ============================================================================
// Test: conversions
// ============================================================================

func TestNoYield_OneToOne(t *testing.T) {
	s := strategy.NoYield{}
	tokens := big.NewInt(12_345)

	shares := s.SharesForTokens("DAI", tokens)
	if shares.Cmp(tokens) != 0 {
		t.Errorf("shares: got %s, want %s", shares, tokens)
	}
	back := s.TokensForShares("DAI", shares)
	if back.Cmp(tokens) != 0 {
		t.Errorf("tokens: got %s, want %s", back, tokens)
	}
}

func TestCompounding_DefaultRateIsOne(t *testing.T) {
	c := strategy.NewCompounding()
	shares := c.SharesForTokens("DAI", big.NewInt(1000))
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("fresh asset should convert 1:1, got %s", shares)
	}
}

func TestCompounding_RateAppreciation(t *testing.T) {
	c := strategy.NewCompounding()
	// 1 share = 2 tokens
	rate := new(big.Int).Mul(fixedpoint.Scale, big.NewInt(2))
	if err := c.SetExchangeRate("DAI", rate); err != nil {
		t.Fatalf("SetExchangeRate: %v", err)
	}

	shares := c.SharesForTokens("DAI", big.NewInt(100))
	if shares.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("shares: got %s, want 50", shares)
	}
	tokens := c.TokensForShares("DAI", shares)
	if tokens.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("tokens: got %s, want 100", tokens)
	}
}

func TestCompounding_RoundTripWithinTolerance(t *testing.T) {
	c := strategy.NewCompounding()
	// awkward rate: 1.37 tokens per share
	rate := new(big.Int).Mul(fixedpoint.Scale, big.NewInt(137))
	rate.Quo(rate, big.NewInt(100))
	c.SetExchangeRate("DAI", rate)

	deposit := big.NewInt(100)
	shares := c.SharesForTokens("DAI", deposit)
	back := c.TokensForShares("DAI", shares)

	if back.Cmp(deposit) > 0 {
		t.Errorf("round trip minted tokens: %s -> %s", deposit, back)
	}
	diff := new(big.Int).Sub(deposit, back)
	if diff.Cmp(big.NewInt(50)) > 0 {
		t.Errorf("round trip lost more than tolerance: %s", diff)
	}
}

func TestCompounding_RejectsRateRegression(t *testing.T) {
	c := strategy.NewCompounding()
	c.SetExchangeRate("DAI", new(big.Int).Mul(fixedpoint.Scale, big.NewInt(2)))

	err := c.SetExchangeRate("DAI", fixedpoint.Scale)
	if !errors.Is(err, strategy.ErrRateRegression) {
		t.Errorf("got %v, want ErrRateRegression", err)
	}
}

// ============================================================================
// Test: Registry
// ============================================================================

func TestRegistry_AddRemove(t *testing.T) {
	r := strategy.NewRegistry()
	if err := r.Add(strategy.NoYield{}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(strategy.NoYield{}); err == nil {
		t.Error("duplicate Add should fail")
	}

	snap := r.Snapshot()
	if !snap.IsValid(strategy.NoYieldID) {
		t.Error("no_yield should be whitelisted")
	}
	if snap.IsValid(strategy.CompoundingID) {
		t.Error("compounding was never registered")
	}

	if err := r.Remove(strategy.NoYieldID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.Snapshot().IsValid(strategy.NoYieldID) {
		t.Error("removed strategy should not be whitelisted")
	}
}

func TestRegistrySnapshot_IsolatedFromRemoval(t *testing.T) {
	r := strategy.NewRegistry()
	r.Add(strategy.NoYield{})
	snap := r.Snapshot()

	r.Remove(strategy.NoYieldID)
	if !snap.IsValid(strategy.NoYieldID) {
		t.Error("snapshot taken before removal should still whitelist no_yield")
	}
}

// ============================================================================
// Test: SavingsLedger
// ============================================================================

func TestSavingsLedger_DepositWithdraw(t *testing.T) {
	l := strategy.NewSavingsLedger()
	account := uuid.New()

	if err := l.Deposit(account, "DAI", strategy.NoYieldID, big.NewInt(1000)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if got := l.Balance(account, "DAI", strategy.NoYieldID); got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("balance: got %s, want 1000", got)
	}

	if err := l.Withdraw(account, "DAI", strategy.NoYieldID, big.NewInt(400)); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := l.Balance(account, "DAI", strategy.NoYieldID); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("balance after withdraw: got %s, want 600", got)
	}

	err := l.Withdraw(account, "DAI", strategy.NoYieldID, big.NewInt(601))
	if !errors.Is(err, strategy.ErrInsufficientSavings) {
		t.Errorf("got %v, want ErrInsufficientSavings", err)
	}
}

func TestSavingsLedger_TokenBalancesSorted(t *testing.T) {
	l := strategy.NewSavingsLedger()
	r := strategy.NewRegistry()
	r.Add(strategy.NoYield{})
	r.Add(strategy.NewCompounding())
	account := uuid.New()

	l.Deposit(account, "DAI", strategy.NoYieldID, big.NewInt(300))
	l.Deposit(account, "DAI", strategy.CompoundingID, big.NewInt(700))

	balances, err := l.TokenBalances(account, "DAI", r.Snapshot())
	if err != nil {
		t.Fatalf("TokenBalances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(balances))
	}
	if balances[0].Strategy != strategy.CompoundingID {
		t.Errorf("balances should be sorted by strategy ID, got %s first", balances[0].Strategy)
	}
}

// ============================================================================
// Test: AllocateWithdrawal
// ============================================================================

func TestAllocateWithdrawal_Proportional(t *testing.T) {
	balances := []strategy.StrategyBalance{
		{Strategy: "a", Tokens: big.NewInt(300)},
		{Strategy: "b", Tokens: big.NewInt(700)},
	}

	allocs, err := strategy.AllocateWithdrawal(big.NewInt(100), balances)
	if err != nil {
		t.Fatalf("AllocateWithdrawal: %v", err)
	}

	got := map[strategy.ID]int64{}
	for _, a := range allocs {
		got[a.Strategy] = a.Tokens.Int64()
	}
	if got["a"] != 30 || got["b"] != 70 {
		t.Errorf("got a=%d b=%d, want a=30 b=70", got["a"], got["b"])
	}
}

func TestAllocateWithdrawal_RemainderToLargestBalance(t *testing.T) {
	// 100 over 3/3/3: floors to 33 each, remainder 1 unit goes to the
	// largest balance, ties broken by strategy ID.
	balances := []strategy.StrategyBalance{
		{Strategy: "x", Tokens: big.NewInt(50)},
		{Strategy: "y", Tokens: big.NewInt(50)},
		{Strategy: "z", Tokens: big.NewInt(50)},
	}

	allocs, err := strategy.AllocateWithdrawal(big.NewInt(100), balances)
	if err != nil {
		t.Fatalf("AllocateWithdrawal: %v", err)
	}

	total := new(big.Int)
	got := map[strategy.ID]int64{}
	for _, a := range allocs {
		got[a.Strategy] = a.Tokens.Int64()
		total.Add(total, a.Tokens)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("allocations must sum to the request, got %s", total)
	}
	if got["x"] != 34 {
		t.Errorf("remainder should go to lowest strategy ID on balance tie, got x=%d", got["x"])
	}
}

func TestAllocateWithdrawal_ExhaustsSmallBalance(t *testing.T) {
	balances := []strategy.StrategyBalance{
		{Strategy: "a", Tokens: big.NewInt(10)},
		{Strategy: "b", Tokens: big.NewInt(990)},
	}

	allocs, err := strategy.AllocateWithdrawal(big.NewInt(1000), balances)
	if err != nil {
		t.Fatalf("AllocateWithdrawal: %v", err)
	}
	for _, a := range allocs {
		want := int64(10)
		if a.Strategy == "b" {
			want = 990
		}
		if a.Tokens.Int64() != want {
			t.Errorf("%s: got %d, want %d", a.Strategy, a.Tokens.Int64(), want)
		}
	}
}

func TestAllocateWithdrawal_Insufficient(t *testing.T) {
	balances := []strategy.StrategyBalance{
		{Strategy: "a", Tokens: big.NewInt(10)},
	}
	_, err := strategy.AllocateWithdrawal(big.NewInt(11), balances)
	if !errors.Is(err, strategy.ErrInsufficientSavings) {
		t.Errorf("got %v, want ErrInsufficientSavings", err)
	}
}

func TestAllocateWithdrawal_Deterministic(t *testing.T) {
	balances := []strategy.StrategyBalance{
		{Strategy: "b", Tokens: big.NewInt(333)},
		{Strategy: "a", Tokens: big.NewInt(333)},
		{Strategy: "c", Tokens: big.NewInt(334)},
	}

	first, err := strategy.AllocateWithdrawal(big.NewInt(500), balances)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := strategy.AllocateWithdrawal(big.NewInt(500), balances)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("allocation lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Strategy != second[i].Strategy || first[i].Tokens.Cmp(second[i].Tokens) != 0 {
			t.Errorf("allocation %d differs between runs", i)
		}
	}
}
