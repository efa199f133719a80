package creditline

import (
	"errors"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"CredLedger/internal/fixedpoint"
	"CredLedger/internal/strategy"
)

// Status is the credit line lifecycle state. Transitions are one-way:
// Requested -> Active -> Closed.
type Status uint8

const (
	StatusRequested Status = iota
	StatusActive
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusRequested:
		return "Requested"
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Stable rejection reasons asserted on by integrators.
var (
	ErrSameAddress     = errors.New("Lender and Borrower cannot be same addresses")
	ErrNotActive       = errors.New("CreditLine not active")
	ErrWithdrawRatio   = errors.New("collateral ratio doesn't allow to withdraw the amount")
	ErrNotFound        = errors.New("CreditLine does not exist")
	ErrWrongCaller     = errors.New("caller not permitted for this operation")
	ErrBorrowLimit     = errors.New("borrow amount exceeds borrow limit")
	ErrNotRequested    = errors.New("CreditLine not in requested state")
	ErrDebtOutstanding = errors.New("principal must be repaid before closing")
	ErrNotLiquidatable = errors.New("collateral ratio above liquidation threshold")
	ErrRatioThreshold  = errors.New("collateral ratio below liquidation threshold")
)

// CreditLine is one lender/borrower agreement.
type CreditLine struct {
	ID              uint64
	Lender          uuid.UUID
	Borrower        uuid.UUID
	RequestedBy     uuid.UUID
	BorrowLimit     *big.Int
	BorrowAsset     string
	CollateralAsset string
	BorrowRate      *big.Int // Scale-scaled yearly rate
	IdealRatio      *big.Int // requested collateral ratio, Scale-scaled
	AutoLiquidation bool
	Status          Status

	Principal                     *big.Int
	InterestAccruedTillLastUpdate *big.Int
	LastPrincipalUpdateTime       int64

	// Collateral shares per strategy deposited against this line.
	CollateralShares map[strategy.ID]*big.Int
}

// InterestAccrued composes the stored snapshot with fresh simple
// interest since the last principal update. Pure: calling it twice
// with the same clock yields the same value.
func (cl *CreditLine) InterestAccrued(now int64) *big.Int {
	total := new(big.Int).Set(cl.InterestAccruedTillLastUpdate)
	if cl.Status != StatusActive || cl.Principal.Sign() == 0 {
		return total
	}
	elapsed := now - cl.LastPrincipalUpdateTime
	fresh := fixedpoint.CalculateInterest(cl.Principal, cl.BorrowRate, elapsed)
	return total.Add(total, fresh)
}

// CurrentDebt is principal plus all accrued interest.
func (cl *CreditLine) CurrentDebt(now int64) *big.Int {
	debt := cl.InterestAccrued(now)
	return debt.Add(debt, cl.Principal)
}

// accrue snapshots interest into the stored field before a
// principal-mutating operation.
func (cl *CreditLine) accrue(now int64) {
	cl.InterestAccruedTillLastUpdate = cl.InterestAccrued(now)
	cl.LastPrincipalUpdateTime = now
}

// strategyIDs returns the line's collateral strategies in stable order.
func (cl *CreditLine) strategyIDs() []strategy.ID {
	ids := make([]strategy.ID, 0, len(cl.CollateralShares))
	for id := range cl.CollateralShares {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CollateralTokens values the line's collateral shares in collateral
// asset tokens at the current strategy exchange rates.
func (cl *CreditLine) CollateralTokens(reg *strategy.RegistrySnapshot) (*big.Int, error) {
	total := new(big.Int)
	for _, id := range cl.strategyIDs() {
		st, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		total.Add(total, st.TokensForShares(cl.CollateralAsset, cl.CollateralShares[id]))
	}
	return total, nil
}
