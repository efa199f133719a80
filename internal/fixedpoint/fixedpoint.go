package fixedpoint

import (
	"math/big"
	"sync"
)

// Scale is the fixed-point denominator shared by rates, ratios and
// fractions. A ratio of 2*Scale reads as 200%.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

// SecondsPerYear is the accrual year used by every rate in the system.
const SecondsPerYear int64 = 365 * 24 * 60 * 60

var secondsPerYearBig = big.NewInt(SecondsPerYear)

var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // floor (default for value conversions)
	RoundHalfUp
)

// MulDiv computes a * b / denominator with the given rounding mode.
// Intermediates are arbitrary precision, so a*b never overflows.
func MulDiv(a, b, denominator *big.Int, mode RoundingMode) *big.Int {
	if denominator.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}
	num := getInt()
	rem := getInt()
	num.Mul(a, b)

	result := new(big.Int)
	result.QuoRem(num, denominator, rem)

	if mode == RoundHalfUp && rem.Sign() != 0 {
		// round up when 2*remainder >= denominator
		rem.Lsh(rem, 1)
		if rem.CmpAbs(denominator) >= 0 {
			result.Add(result, big.NewInt(1))
		}
	}

	putInt(num)
	putInt(rem)
	return result
}

// Fraction applies a Scale-scaled fraction to an amount, rounding down.
func Fraction(amount, fraction *big.Int) *big.Int {
	return MulDiv(amount, fraction, Scale, RoundDown)
}

// FromPercent converts a plain percentage (200 = 200%) to Scale terms.
func FromPercent(percent int64) *big.Int {
	p := new(big.Int).Mul(big.NewInt(percent), Scale)
	return p.Quo(p, big.NewInt(100))
}

// CalculateInterest computes simple interest on principal at borrowRate
// over elapsed seconds:
//
//	principal * borrowRate * seconds / Scale / SecondsPerYear
//
// borrowRate is Scale-scaled per-year. Result is in principal units,
// rounded down.
func CalculateInterest(principal, borrowRate *big.Int, seconds int64) *big.Int {
	if seconds <= 0 || principal.Sign() <= 0 || borrowRate.Sign() <= 0 {
		return new(big.Int)
	}
	num := getInt()
	num.Mul(principal, borrowRate)
	num.Mul(num, big.NewInt(seconds))

	result := new(big.Int).Quo(num, Scale)
	result.Quo(result, secondsPerYearBig)

	putInt(num)
	return result
}

// TimeScaledFraction computes fraction * rate * base * seconds over
// (Scale * Scale * SecondsPerYear). The cancellation penalty and the
// grace penalty are both this shape, differing only in which fraction
// and which time window feed it.
func TimeScaledFraction(fraction, rate, base *big.Int, seconds int64) *big.Int {
	if seconds <= 0 || fraction.Sign() <= 0 || rate.Sign() <= 0 || base.Sign() <= 0 {
		return new(big.Int)
	}
	num := getInt()
	num.Mul(fraction, rate)
	num.Mul(num, base)
	num.Mul(num, big.NewInt(seconds))

	result := new(big.Int).Quo(num, Scale)
	result.Quo(result, Scale)
	result.Quo(result, secondsPerYearBig)

	putInt(num)
	return result
}

// Ratio returns value / debt in Scale terms, rounded down. A zero debt
// yields a zero ratio rather than a division failure, so a line with no
// collateral and no principal compares below every threshold.
func Ratio(value, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int)
	}
	return MulDiv(value, Scale, debt, RoundDown)
}
