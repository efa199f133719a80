package fixedpoint_test

import (
	"math/big"
	"testing"

	"CredLedger/internal/fixedpoint"
)

func bigInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int literal: " + s)
	}
	return v
}

// ============================================================================
// Test: CalculateInterest
// ============================================================================

func TestCalculateInterest_OneYearFullRate(t *testing.T) {
	// 100% yearly rate on 1000 units over one year accrues 1000.
	principal := big.NewInt(1000)
	rate := fixedpoint.FromPercent(100)

	got := fixedpoint.CalculateInterest(principal, rate, fixedpoint.SecondsPerYear)
	if got.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("got %s, want 1000", got)
	}
}

func TestCalculateInterest_HalfYear(t *testing.T) {
	principal := bigInt("1000000000000000000") // 10^18
	rate := fixedpoint.FromPercent(10)

	got := fixedpoint.CalculateInterest(principal, rate, fixedpoint.SecondsPerYear/2)
	want := bigInt("50000000000000000") // 5% of principal
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCalculateInterest_ZeroElapsed(t *testing.T) {
	got := fixedpoint.CalculateInterest(big.NewInt(1000), fixedpoint.FromPercent(10), 0)
	if got.Sign() != 0 {
		t.Errorf("no time elapsed should accrue nothing, got %s", got)
	}
}

func TestCalculateInterest_RoundsDown(t *testing.T) {
	// 1 unit at 100% for 1 second: 1/SecondsPerYear, floors to 0.
	got := fixedpoint.CalculateInterest(big.NewInt(1), fixedpoint.FromPercent(100), 1)
	if got.Sign() != 0 {
		t.Errorf("sub-unit interest should floor to 0, got %s", got)
	}
}

func TestCalculateInterest_WideOperands(t *testing.T) {
	// principal * rate far exceeds 256 bits of headroom without big.Int.
	principal := bigInt("100000000000000000000000000000000000000") // 10^38
	rate := fixedpoint.FromPercent(50)

	got := fixedpoint.CalculateInterest(principal, rate, fixedpoint.SecondsPerYear)
	want := bigInt("50000000000000000000000000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

// ============================================================================
// Test: Fraction / TimeScaledFraction
// ============================================================================

func TestFraction_ProtocolFee(t *testing.T) {
	amount := big.NewInt(1_000_000)
	fee := fixedpoint.FromPercent(1)

	got := fixedpoint.Fraction(amount, fee)
	if got.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("got %s, want 10000", got)
	}
}

func TestFraction_ZeroFraction(t *testing.T) {
	got := fixedpoint.Fraction(big.NewInt(1_000_000), new(big.Int))
	if got.Sign() != 0 {
		t.Errorf("zero fraction should yield 0, got %s", got)
	}
}

func TestTimeScaledFraction_CancelPenalty(t *testing.T) {
	// fraction * rate * base * t / (Scale * Scale * SecondsPerYear)
	// 10% fraction, 20% rate, base 10^18, one year: 0.1*0.2*10^18 = 2*10^16.
	fraction := fixedpoint.FromPercent(10)
	rate := fixedpoint.FromPercent(20)
	base := bigInt("1000000000000000000")

	got := fixedpoint.TimeScaledFraction(fraction, rate, base, fixedpoint.SecondsPerYear)
	want := bigInt("20000000000000000")
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestTimeScaledFraction_ZeroWindow(t *testing.T) {
	got := fixedpoint.TimeScaledFraction(
		fixedpoint.FromPercent(10), fixedpoint.FromPercent(20), big.NewInt(1000), 0)
	if got.Sign() != 0 {
		t.Errorf("zero window should yield 0, got %s", got)
	}
}

// ============================================================================
// Test: Ratio
// ============================================================================

func TestRatio_TwoHundredPercent(t *testing.T) {
	got := fixedpoint.Ratio(big.NewInt(200), big.NewInt(100))
	if got.Cmp(fixedpoint.FromPercent(200)) != 0 {
		t.Errorf("got %s, want %s", got, fixedpoint.FromPercent(200))
	}
}

func TestRatio_ZeroDebt(t *testing.T) {
	got := fixedpoint.Ratio(big.NewInt(500), new(big.Int))
	if got.Sign() != 0 {
		t.Errorf("zero debt should yield ratio 0, got %s", got)
	}
}

// ============================================================================
// Test: MulDiv rounding
// ============================================================================

func TestMulDiv_RoundDown(t *testing.T) {
	got := fixedpoint.MulDiv(big.NewInt(7), big.NewInt(1), big.NewInt(2), fixedpoint.RoundDown)
	if got.Cmp(big.NewInt(3)) != 0 {
		t.Errorf("got %s, want 3", got)
	}
}

func TestMulDiv_RoundHalfUp(t *testing.T) {
	cases := []struct {
		a, den, want int64
	}{
		{7, 2, 4},  // 3.5 rounds up
		{6, 4, 2},  // 1.5 rounds up
		{5, 4, 1},  // 1.25 rounds down
		{10, 5, 2}, // exact
	}
	for _, tc := range cases {
		got := fixedpoint.MulDiv(big.NewInt(tc.a), big.NewInt(1), big.NewInt(tc.den), fixedpoint.RoundHalfUp)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("%d/%d: got %s, want %d", tc.a, tc.den, got, tc.want)
		}
	}
}

// ============================================================================
// Test: idempotence
// ============================================================================

func TestCalculateInterest_Idempotent(t *testing.T) {
	principal := bigInt("123456789000000000000")
	rate := fixedpoint.FromPercent(17)

	first := fixedpoint.CalculateInterest(principal, rate, 86_400)
	second := fixedpoint.CalculateInterest(principal, rate, 86_400)
	if first.Cmp(second) != 0 {
		t.Errorf("same inputs must yield same interest: %s vs %s", first, second)
	}
}
