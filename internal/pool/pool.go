package pool

import (
	"errors"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"CredLedger/internal/fixedpoint"
	"CredLedger/internal/strategy"
)

// Status is the pool lifecycle stage.
type Status int

const (
	StatusCollection Status = iota
	StatusActive
	StatusClosed
	StatusCancelled
	StatusTerminated
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusCollection:
		return "Collection"
	case StatusActive:
		return "Active"
	case StatusClosed:
		return "Closed"
	case StatusCancelled:
		return "Cancelled"
	case StatusTerminated:
		return "Terminated"
	case StatusDefaulted:
		return "Defaulted"
	default:
		return "Unknown"
	}
}

// Stable rejection reasons. Integrators assert on these strings.
var (
	ErrNotFound          = errors.New("pool does not exist")
	ErrNotCollection     = errors.New("pool not in collection stage")
	ErrNotActive         = errors.New("pool not active")
	ErrPoolSizeExceeded  = errors.New("amount would exceed pool size")
	ErrMinBorrowFraction = errors.New("Amount lent smaller than required")
	ErrWrongCaller       = errors.New("caller not permitted for this operation")
	ErrBeforeLoanStart   = errors.New("loan start time not reached")
	ErrWithdrawalClosed  = errors.New("liquidity locked while the loan is running")
	ErrAlreadyBorrowed   = errors.New("borrowed amount already withdrawn")
	ErrMarginCallOpen    = errors.New("margin call already open for this lender")
	ErrNoMarginCall      = errors.New("no open margin call for this lender")
	ErrMarginCallActive  = errors.New("margin call deadline not elapsed")
	ErrRatioHealthy      = errors.New("collateral ratio above margin call threshold")
	ErrRatioIdeal        = errors.New("Collateral ratio cant go below ideal")
	ErrExtensionActive   = errors.New("extension already active")
	ErrVoteClosed        = errors.New("extension vote window closed")
	ErrAlreadyVoted      = errors.New("lender already voted on this extension")
	ErrNoVotingPower     = errors.New("caller holds no pool tokens")
	ErrNotDefaulted      = errors.New("pool repayments not in default")
	ErrGraceNotElapsed   = errors.New("grace period still running")
	ErrNothingToClaim    = errors.New("no pool tokens to redeem")
	ErrPastGrace         = errors.New("repayment window past grace period")
	ErrRatioThreshold    = errors.New("collateral ratio below liquidation threshold")
)

// Pool is one borrow pool: a single borrower against many lenders who
// hold pool tokens minted 1:1 for lent borrow-asset tokens.
type Pool struct {
	ID       uuid.UUID
	Borrower uuid.UUID

	BorrowAsset     string
	CollateralAsset string
	Strategy        strategy.ID

	PoolSize          *big.Int // max borrow tokens
	BorrowRate        *big.Int // Scale-scaled yearly
	IdealRatio        *big.Int // Scale-scaled
	MinBorrowFraction *big.Int // Scale-scaled fraction of PoolSize

	CollectionPeriod       int64
	LoanWithdrawalDuration int64
	RepaymentInterval      int64
	NoOfRepaymentIntervals int64

	CreatedAt              int64
	LoanStartTime          int64
	LoanWithdrawalDeadline int64

	Status          Status
	Borrowed        bool // borrower pulled the lent amount
	TransfersFrozen bool // pool tokens locked after a terminal state

	// CollateralShares is the borrower's collateral, in strategy
	// shares of the pool's chosen strategy.
	CollateralShares *big.Int
	// MarginCallShares is collateral earmarked per lender by margin
	// call answers; it counts toward the pool's total cover.
	MarginCallShares map[uuid.UUID]*big.Int

	// Pool token accounting, 1:1 with lent tokens.
	TotalSupply *big.Int
	Balances    map[uuid.UUID]*big.Int

	// PrincipalOutstanding is the drawn-down amount still owed. Set
	// when the borrower withdraws, reduced by principal repayments.
	PrincipalOutstanding *big.Int

	// Pots held in pool custody, claimable pro rata by token holders
	// on exit: lent-then-repaid borrow asset and penalty/liquidation
	// proceeds in collateral asset.
	BorrowAssetPot *big.Int
	CollateralPot  *big.Int

	Schedule  *Schedule
	Extension *Extension
	// MarginCalls keyed by lender; cleared when answered or liquidated.
	MarginCalls map[uuid.UUID]*MarginCall
}

func (p *Pool) Principal() *big.Int {
	return new(big.Int).Set(p.PrincipalOutstanding)
}

// InterestOutstanding is accrued, unpaid interest at now, clamped to
// the schedule's end.
func (p *Pool) InterestOutstanding(now int64) *big.Int {
	if !p.Borrowed {
		return new(big.Int)
	}
	until := now
	if final := p.Schedule.FinalDeadline(); until > final {
		until = final
	}
	elapsed := until - p.Schedule.InterestRepaidUntil
	if elapsed <= 0 {
		return new(big.Int)
	}
	due := InterestPerSecond(p.PrincipalOutstanding, p.BorrowRate)
	due.Mul(due, big.NewInt(elapsed))
	return due.Quo(due, fixedpoint.Scale)
}

// Debt is principal plus unpaid interest.
func (p *Pool) Debt(now int64) *big.Int {
	return new(big.Int).Add(p.PrincipalOutstanding, p.InterestOutstanding(now))
}

func (p *Pool) BalanceOf(account uuid.UUID) *big.Int {
	if b, ok := p.Balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (p *Pool) mint(account uuid.UUID, amount *big.Int) {
	if b, ok := p.Balances[account]; ok {
		b.Add(b, amount)
	} else {
		p.Balances[account] = new(big.Int).Set(amount)
	}
	p.TotalSupply.Add(p.TotalSupply, amount)
}

func (p *Pool) burn(account uuid.UUID, amount *big.Int) {
	b := p.Balances[account]
	b.Sub(b, amount)
	if b.Sign() == 0 {
		delete(p.Balances, account)
	}
	p.TotalSupply.Sub(p.TotalSupply, amount)
}

// lenderIDs returns token holders sorted for deterministic iteration.
func (p *Pool) lenderIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Balances))
	for id := range p.Balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// totalCollateralShares is base collateral plus all margin call
// earmarks.
func (p *Pool) totalCollateralShares() *big.Int {
	total := new(big.Int).Set(p.CollateralShares)
	for _, s := range p.MarginCallShares {
		total.Add(total, s)
	}
	return total
}

// CollateralTokens values the pool's full collateral in tokens.
func (p *Pool) CollateralTokens(reg *strategy.RegistrySnapshot) (*big.Int, error) {
	st, err := reg.Get(p.Strategy)
	if err != nil {
		return nil, err
	}
	return st.TokensForShares(p.CollateralAsset, p.totalCollateralShares()), nil
}

// MarginCall is one lender's open demand for more collateral.
type MarginCall struct {
	Lender      uuid.UUID
	RequestedAt int64
	Deadline    int64
}

// Extension is a borrower-requested shift of the next instalment
// deadline, granted by token-weighted lender vote.
type Extension struct {
	VoteEndTime int64
	VotingPower *big.Int // cumulative yes-weight
	Voted       map[uuid.UUID]bool
	Passed      bool
	// ActiveUntil is the shifted deadline; a new extension can only
	// be requested after it elapses.
	ActiveUntil int64
}

func (e *Extension) voteOpen(now int64) bool {
	return !e.Passed && now <= e.VoteEndTime
}

// Schedule tracks instalment progress. Interest repayments advance
// InterestRepaidUntil along the loan clock; an instalment is complete
// once it reaches that instalment's deadline.
type Schedule struct {
	LoanStartTime       int64
	Interval            int64
	Count               int64
	InterestRepaidUntil int64
	// ShiftedInstalment is the 1-based instalment whose deadline was
	// pushed one interval by a passed extension, 0 when none.
	ShiftedInstalment int64
}

func NewSchedule(loanStart, interval, count int64) *Schedule {
	return &Schedule{
		LoanStartTime:       loanStart,
		Interval:            interval,
		Count:               count,
		InterestRepaidUntil: loanStart,
	}
}

// currentInstalment is the 1-based instalment that
// InterestRepaidUntil falls in.
func (s *Schedule) currentInstalment() int64 {
	n := (s.InterestRepaidUntil-s.LoanStartTime)/s.Interval + 1
	if n > s.Count {
		n = s.Count
	}
	return n
}

// NextInstalmentDeadline is when the current instalment's interest
// must be fully paid, including any extension shift.
func (s *Schedule) NextInstalmentDeadline() int64 {
	n := s.currentInstalment()
	deadline := s.LoanStartTime + n*s.Interval
	if n == s.ShiftedInstalment {
		deadline += s.Interval
	}
	return deadline
}

// FinalDeadline is the end of the whole schedule.
func (s *Schedule) FinalDeadline() int64 {
	deadline := s.LoanStartTime + s.Count*s.Interval
	if s.ShiftedInstalment == s.Count {
		deadline += s.Interval
	}
	return deadline
}

// InterestPerSecond is principal * rate / secondsPerYear, kept
// Scale-scaled for precision.
func InterestPerSecond(principal, borrowRate *big.Int) *big.Int {
	ips := new(big.Int).Mul(principal, borrowRate)
	return ips.Quo(ips, big.NewInt(fixedpoint.SecondsPerYear))
}

// InterestDueTillInstalmentDeadline is the unpaid interest for the
// current instalment at the given principal.
func (s *Schedule) InterestDueTillInstalmentDeadline(principal, borrowRate *big.Int) *big.Int {
	elapsed := s.NextInstalmentDeadline() - s.InterestRepaidUntil
	if elapsed <= 0 {
		return new(big.Int)
	}
	due := InterestPerSecond(principal, borrowRate)
	due.Mul(due, big.NewInt(elapsed))
	return due.Quo(due, fixedpoint.Scale)
}

// advance credits paid interest as covered seconds on the loan clock,
// capped at the current instalment deadline. Returns the amount
// actually consumed as interest.
func (s *Schedule) advance(paid, principal, borrowRate *big.Int) *big.Int {
	ips := InterestPerSecond(principal, borrowRate)
	if ips.Sign() == 0 {
		return new(big.Int)
	}
	deadline := s.NextInstalmentDeadline()
	due := s.InterestDueTillInstalmentDeadline(principal, borrowRate)
	if paid.Cmp(due) >= 0 {
		s.InterestRepaidUntil = deadline
		return due
	}
	seconds := new(big.Int).Mul(paid, fixedpoint.Scale)
	seconds.Quo(seconds, ips)
	s.InterestRepaidUntil += seconds.Int64()
	// consumed = exactly the seconds' worth, so dust below one
	// second of interest stays with the payer
	consumed := new(big.Int).Mul(ips, seconds)
	return consumed.Quo(consumed, fixedpoint.Scale)
}

// Complete reports whether all instalments are interest-settled.
func (s *Schedule) Complete() bool {
	return s.InterestRepaidUntil >= s.LoanStartTime+s.Count*s.Interval
}
