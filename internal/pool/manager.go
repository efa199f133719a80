package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"CredLedger/internal/event"
	"CredLedger/internal/fixedpoint"
	"CredLedger/internal/oracle"
	"CredLedger/internal/params"
	"CredLedger/internal/strategy"
)

// Manager owns all pool state. Not safe for concurrent use; the core
// engine serializes every operation.
type Manager struct {
	pools map[uuid.UUID]*Pool

	// owner is the factory admin allowed to terminate pools.
	owner uuid.UUID

	registry *strategy.Registry
	savings  *strategy.SavingsLedger
	oracle   *oracle.Oracle
	params   *params.Manager
}

func NewManager(owner uuid.UUID, reg *strategy.Registry, sav *strategy.SavingsLedger, orc *oracle.Oracle, pm *params.Manager) *Manager {
	return &Manager{
		pools:    make(map[uuid.UUID]*Pool),
		owner:    owner,
		registry: reg,
		savings:  sav,
		oracle:   orc,
		params:   pm,
	}
}

func (m *Manager) Get(id uuid.UUID) (*Pool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *Manager) Pools() map[uuid.UUID]*Pool { return m.pools }

func (m *Manager) RestorePool(p *Pool) { m.pools[p.ID] = p }

// ShareMovement is one per-strategy share delta backing an operation.
type ShareMovement struct {
	Strategy strategy.ID
	Shares   *big.Int
	Tokens   *big.Int
}

// CollateralRatio is pool collateral value over outstanding debt,
// Scale-scaled. Zero debt yields zero.
func (m *Manager) CollateralRatio(p *Pool, now int64) (*big.Int, error) {
	orc := m.oracle.Snapshot(now)
	reg := m.registry.Snapshot()
	tokens, err := p.CollateralTokens(reg)
	if err != nil {
		return nil, err
	}
	value, err := orc.EquivalentTokens(p.CollateralAsset, p.BorrowAsset, tokens)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Ratio(value, p.Debt(now)), nil
}

// graceSeconds is the post-deadline window during which repayment is
// still accepted, with penalty.
func (m *Manager) graceSeconds(p *Pool) int64 {
	gp := m.params.Snapshot()
	return fixedpoint.Fraction(big.NewInt(p.RepaymentInterval), gp.GracePeriodFraction).Int64()
}

// === Creation and collection ===

// CreatePlan locks the borrower's initial collateral.
type CreatePlan struct {
	CollateralTokens *big.Int
	CollateralShares *big.Int
	FromSavings      bool
}

// Create validates the factory parameters and opens the pool in
// Collection. The borrower must post enough collateral to cover a
// full draw-down at the ideal ratio.
func (m *Manager) Create(e *event.PoolCreate) (*Pool, *CreatePlan, error) {
	if _, ok := m.pools[e.PoolID]; ok {
		return nil, nil, fmt.Errorf("pool %s already exists", e.PoolID)
	}
	if e.PoolSize == nil || e.PoolSize.Sign() <= 0 {
		return nil, nil, fmt.Errorf("pool size must be > 0")
	}
	if e.RepaymentInterval <= 0 || e.NoOfRepaymentIntervals <= 0 {
		return nil, nil, fmt.Errorf("repayment schedule must have positive interval and count")
	}
	if e.CollectionPeriod <= 0 || e.LoanWithdrawalDuration <= 0 {
		return nil, nil, fmt.Errorf("collection and withdrawal windows must be positive")
	}
	if e.MinBorrowFraction == nil || e.MinBorrowFraction.Sign() < 0 || e.MinBorrowFraction.Cmp(fixedpoint.Scale) > 0 {
		return nil, nil, fmt.Errorf("min borrow fraction must lie in [0, 1]")
	}
	if !m.oracle.HasFeed(e.BorrowAsset, e.CollateralAsset) {
		return nil, nil, fmt.Errorf("%w: %s/%s", oracle.ErrFeedNotRegistered, e.BorrowAsset, e.CollateralAsset)
	}
	gp := m.params.Snapshot()
	if e.IdealCollateralRatio.Cmp(gp.LiquidationThreshold) < 0 {
		return nil, nil, ErrRatioThreshold
	}

	reg := m.registry.Snapshot()
	st, err := reg.Get(strategy.ID(e.Strategy))
	if err != nil {
		return nil, nil, err
	}

	// required cover for the full pool size at the ideal ratio
	orc := m.oracle.Snapshot(e.Timestamp)
	required := fixedpoint.MulDiv(e.PoolSize, e.IdealCollateralRatio, fixedpoint.Scale, fixedpoint.RoundDown)
	value, err := orc.EquivalentTokens(e.CollateralAsset, e.BorrowAsset, e.CollateralAmount)
	if err != nil {
		return nil, nil, err
	}
	if value.Cmp(required) < 0 {
		return nil, nil, fmt.Errorf("%w: collateral %s below required cover %s", ErrRatioIdeal, value, required)
	}

	shares := st.SharesForTokens(e.CollateralAsset, e.CollateralAmount)
	if e.FromSavings {
		if err := m.savings.Withdraw(e.Borrower, e.CollateralAsset, st.ID(), shares); err != nil {
			return nil, nil, err
		}
	}

	loanStart := e.Timestamp + e.CollectionPeriod
	p := &Pool{
		ID:                     e.PoolID,
		Borrower:               e.Borrower,
		BorrowAsset:            e.BorrowAsset,
		CollateralAsset:        e.CollateralAsset,
		Strategy:               st.ID(),
		PoolSize:               new(big.Int).Set(e.PoolSize),
		BorrowRate:             new(big.Int).Set(e.BorrowRate),
		IdealRatio:             new(big.Int).Set(e.IdealCollateralRatio),
		MinBorrowFraction:      new(big.Int).Set(e.MinBorrowFraction),
		CollectionPeriod:       e.CollectionPeriod,
		LoanWithdrawalDuration: e.LoanWithdrawalDuration,
		RepaymentInterval:      e.RepaymentInterval,
		NoOfRepaymentIntervals: e.NoOfRepaymentIntervals,
		CreatedAt:              e.Timestamp,
		LoanStartTime:          loanStart,
		LoanWithdrawalDeadline: loanStart + e.LoanWithdrawalDuration,
		Status:                 StatusCollection,
		CollateralShares:       shares,
		MarginCallShares:       make(map[uuid.UUID]*big.Int),
		TotalSupply:            new(big.Int),
		Balances:               make(map[uuid.UUID]*big.Int),
		PrincipalOutstanding:   new(big.Int),
		BorrowAssetPot:         new(big.Int),
		CollateralPot:          new(big.Int),
		MarginCalls:            make(map[uuid.UUID]*MarginCall),
	}
	p.Schedule = NewSchedule(loanStart, e.RepaymentInterval, e.NoOfRepaymentIntervals)
	m.pools[p.ID] = p

	return p, &CreatePlan{
		CollateralTokens: new(big.Int).Set(e.CollateralAmount),
		CollateralShares: shares,
		FromSavings:      e.FromSavings,
	}, nil
}

// LendPlan moves lent tokens into pool custody.
type LendPlan struct {
	Receiver    uuid.UUID
	Amount      *big.Int
	FromSavings bool
	Movements   []ShareMovement
}

// Lend mints pool tokens 1:1 during collection.
func (m *Manager) Lend(e *event.PoolLend) (*Pool, *LendPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusCollection {
		return nil, nil, ErrNotCollection
	}
	if e.Timestamp >= p.LoanStartTime {
		return nil, nil, ErrNotCollection
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("lend amount must be > 0")
	}
	newSupply := new(big.Int).Add(p.TotalSupply, e.Amount)
	if newSupply.Cmp(p.PoolSize) > 0 {
		return nil, nil, ErrPoolSizeExceeded
	}

	receiver := e.Receiver
	if receiver == uuid.Nil {
		receiver = e.Caller
	}

	var movements []ShareMovement
	if e.FromSavings {
		reg := m.registry.Snapshot()
		movements, err = m.fanOutSavings(e.Caller, p.BorrowAsset, e.Amount, reg)
		if err != nil {
			return nil, nil, err
		}
		for _, mv := range movements {
			if err := m.savings.Withdraw(e.Caller, p.BorrowAsset, mv.Strategy, mv.Shares); err != nil {
				return nil, nil, err
			}
		}
	}

	p.mint(receiver, e.Amount)
	p.BorrowAssetPot.Add(p.BorrowAssetPot, e.Amount)

	return p, &LendPlan{
		Receiver:    receiver,
		Amount:      new(big.Int).Set(e.Amount),
		FromSavings: e.FromSavings,
		Movements:   movements,
	}, nil
}

// BorrowedPlan disburses the collected amount to the borrower.
type BorrowedPlan struct {
	Amount *big.Int // full drawn amount
	Fee    *big.Int // protocol's cut of the disbursement
}

// WithdrawBorrowed draws the collected liquidity down to the borrower
// once the collection window closed and the minimum was met.
func (m *Manager) WithdrawBorrowed(e *event.PoolWithdrawBorrowed) (*Pool, *BorrowedPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusCollection {
		return nil, nil, ErrNotCollection
	}
	if e.Caller != p.Borrower {
		return nil, nil, fmt.Errorf("%w: only the borrower draws down", ErrWrongCaller)
	}
	if p.Borrowed {
		return nil, nil, ErrAlreadyBorrowed
	}
	if e.Timestamp < p.LoanStartTime {
		return nil, nil, ErrBeforeLoanStart
	}
	if e.Timestamp > p.LoanWithdrawalDeadline {
		return nil, nil, fmt.Errorf("loan withdrawal deadline passed")
	}

	// totalSupply >= minBorrowFraction * poolSize
	lentScaled := new(big.Int).Mul(p.TotalSupply, fixedpoint.Scale)
	minScaled := new(big.Int).Mul(p.MinBorrowFraction, p.PoolSize)
	if lentScaled.Cmp(minScaled) < 0 {
		return nil, nil, ErrMinBorrowFraction
	}

	amount := new(big.Int).Set(p.TotalSupply)
	gp := m.params.Snapshot()
	fee := fixedpoint.Fraction(amount, gp.ProtocolFeeFraction)

	p.Status = StatusActive
	p.Borrowed = true
	p.PrincipalOutstanding.Set(amount)
	p.BorrowAssetPot.Sub(p.BorrowAssetPot, amount)

	return p, &BorrowedPlan{Amount: amount, Fee: fee}, nil
}

// === Exit paths ===

// ExitPlan pays a lender their pro rata share of the pool's pots.
type ExitPlan struct {
	TokensBurned   *big.Int
	BorrowAssetOut *big.Int
	CollateralOut  *big.Int
}

// WithdrawLiquidity redeems the caller's full pool token balance.
// Permitted only when the pool never activated past its withdrawal
// deadline, or after a terminal state.
func (m *Manager) WithdrawLiquidity(e *event.PoolWithdrawLiquidity) (*Pool, *ExitPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	balance := p.BalanceOf(e.Caller)
	if balance.Sign() == 0 {
		return nil, nil, ErrNothingToClaim
	}

	switch p.Status {
	case StatusClosed, StatusCancelled, StatusTerminated, StatusDefaulted:
		// settled, pots are claimable
	case StatusCollection:
		if p.Borrowed || e.Timestamp <= p.LoanWithdrawalDeadline {
			return nil, nil, ErrWithdrawalClosed
		}
		// borrower never drew down, principal returns untouched
	default:
		return nil, nil, ErrWithdrawalClosed
	}

	borrowOut := fixedpoint.MulDiv(p.BorrowAssetPot, balance, p.TotalSupply, fixedpoint.RoundDown)
	collOut := fixedpoint.MulDiv(p.CollateralPot, balance, p.TotalSupply, fixedpoint.RoundDown)

	p.burn(e.Caller, balance)
	p.BorrowAssetPot.Sub(p.BorrowAssetPot, borrowOut)
	p.CollateralPot.Sub(p.CollateralPot, collOut)

	if borrowOut.Sign() > 0 {
		if err := m.savings.Deposit(e.Caller, p.BorrowAsset, strategy.NoYieldID, borrowOut); err != nil {
			return nil, nil, err
		}
	}
	if collOut.Sign() > 0 {
		if err := m.savings.Deposit(e.Caller, p.CollateralAsset, strategy.NoYieldID, collOut); err != nil {
			return nil, nil, err
		}
	}

	return p, &ExitPlan{TokensBurned: balance, BorrowAssetOut: borrowOut, CollateralOut: collOut}, nil
}

// CancelPlan settles a cancelled pool: penalty to the lenders' pot,
// the rest of the collateral back to the borrower.
type CancelPlan struct {
	Penalty            *big.Int // collateral tokens moved to the pot
	ReturnedToBorrower *big.Int // collateral tokens
}

// Cancel aborts a pool that never activated. The borrower may cancel
// any time before drawing down; anyone may cancel once the withdrawal
// deadline lapsed unused. The cancellation penalty comes out of the
// borrower's collateral and accrues to the lenders.
func (m *Manager) Cancel(e *event.PoolCancel) (*Pool, *CancelPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusCollection || p.Borrowed {
		return nil, nil, ErrNotCollection
	}
	if e.Caller != p.Borrower && e.Timestamp <= p.LoanWithdrawalDeadline {
		return nil, nil, fmt.Errorf("%w: only the borrower cancels before the withdrawal deadline", ErrWrongCaller)
	}

	reg := m.registry.Snapshot()
	st, err := reg.Get(p.Strategy)
	if err != nil {
		return nil, nil, err
	}
	collateral := st.TokensForShares(p.CollateralAsset, p.CollateralShares)

	gp := m.params.Snapshot()
	penaltyTime := p.RepaymentInterval
	if e.Timestamp > p.LoanStartTime {
		penaltyTime += e.Timestamp - p.LoanStartTime
	}
	penalty := fixedpoint.TimeScaledFraction(gp.PoolCancelPenaltyFraction, p.BorrowRate, collateral, penaltyTime)
	if penalty.Cmp(collateral) > 0 {
		penalty.Set(collateral)
	}
	returned := new(big.Int).Sub(collateral, penalty)

	p.CollateralPot.Add(p.CollateralPot, penalty)
	p.CollateralShares.SetInt64(0)
	if returned.Sign() > 0 {
		if err := m.savings.Deposit(p.Borrower, p.CollateralAsset, strategy.NoYieldID, returned); err != nil {
			return nil, nil, err
		}
	}

	p.Status = StatusCancelled
	p.TransfersFrozen = true
	return p, &CancelPlan{Penalty: penalty, ReturnedToBorrower: returned}, nil
}

// TerminatePlan sweeps the pool's collateral to the factory owner.
type TerminatePlan struct {
	CollateralSwept *big.Int
}

// Terminate is the factory owner's escape hatch. It freezes the pool
// immediately, whatever state it is in.
func (m *Manager) Terminate(e *event.PoolTerminate) (*Pool, *TerminatePlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if e.Caller != m.owner {
		return nil, nil, fmt.Errorf("%w: only the factory owner terminates", ErrWrongCaller)
	}
	switch p.Status {
	case StatusClosed, StatusCancelled, StatusTerminated, StatusDefaulted:
		return nil, nil, fmt.Errorf("pool already in terminal state %s", p.Status)
	}

	reg := m.registry.Snapshot()
	tokens, err := p.CollateralTokens(reg)
	if err != nil {
		return nil, nil, err
	}
	if tokens.Sign() > 0 {
		if err := m.savings.Deposit(m.owner, p.CollateralAsset, strategy.NoYieldID, tokens); err != nil {
			return nil, nil, err
		}
	}
	p.CollateralShares.SetInt64(0)
	p.MarginCallShares = make(map[uuid.UUID]*big.Int)

	p.Status = StatusTerminated
	p.TransfersFrozen = true
	return p, &TerminatePlan{CollateralSwept: tokens}, nil
}

// === Repayment ===

// RepayPlan is the settlement split of one pool repayment.
type RepayPlan struct {
	Total       *big.Int
	Penalty     *big.Int
	Interest    *big.Int
	Principal   *big.Int
	FromSavings bool
	Movements   []ShareMovement
	// Closed is set when this repayment retired the loan; collateral
	// then returns to the borrower.
	Closed             bool
	CollateralReturned *big.Int
}

// Repay applies a payment to the current instalment: grace penalty
// first if overdue, then interest, then principal. A repayment past
// the grace window is rejected and leaves the pool liquidatable.
func (m *Manager) Repay(e *event.PoolRepay) (*Pool, *RepayPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("repay amount must be > 0")
	}

	deadline := p.Schedule.NextInstalmentDeadline()
	penalty := new(big.Int)
	if e.Timestamp > deadline {
		if e.Timestamp > deadline+m.graceSeconds(p) {
			return nil, nil, ErrPastGrace
		}
		gp := m.params.Snapshot()
		penalty = fixedpoint.CalculateInterest(p.PrincipalOutstanding, gp.GracePenaltyRate, e.Timestamp-deadline)
	}

	if e.Amount.Cmp(penalty) <= 0 {
		return nil, nil, fmt.Errorf("amount %s does not cover the grace penalty %s", e.Amount, penalty)
	}

	// cap at penalty + this instalment's interest + principal
	due := p.Schedule.InterestDueTillInstalmentDeadline(p.PrincipalOutstanding, p.BorrowRate)
	maxSettle := new(big.Int).Add(penalty, due)
	maxSettle.Add(maxSettle, p.PrincipalOutstanding)
	amount := new(big.Int).Set(e.Amount)
	if amount.Cmp(maxSettle) > 0 {
		amount.Set(maxSettle)
	}

	var movements []ShareMovement
	reg := m.registry.Snapshot()
	if e.FromSavings {
		movements, err = m.fanOutSavings(e.Caller, p.BorrowAsset, amount, reg)
		if err != nil {
			return nil, nil, err
		}
		for _, mv := range movements {
			if err := m.savings.Withdraw(e.Caller, p.BorrowAsset, mv.Strategy, mv.Shares); err != nil {
				return nil, nil, err
			}
		}
	}

	remaining := new(big.Int).Sub(amount, penalty)
	interest := p.Schedule.advance(remaining, p.PrincipalOutstanding, p.BorrowRate)
	remaining.Sub(remaining, interest)

	// principal only after the instalment's interest is settled
	principal := new(big.Int)
	if remaining.Sign() > 0 && p.Schedule.InterestRepaidUntil >= deadline {
		principal.Set(remaining)
		if principal.Cmp(p.PrincipalOutstanding) > 0 {
			principal.Set(p.PrincipalOutstanding)
		}
		p.PrincipalOutstanding.Sub(p.PrincipalOutstanding, principal)
	}

	settled := new(big.Int).Add(penalty, new(big.Int).Add(interest, principal))
	p.BorrowAssetPot.Add(p.BorrowAssetPot, settled)

	plan := &RepayPlan{
		Total:              settled,
		Penalty:            penalty,
		Interest:           interest,
		Principal:          principal,
		FromSavings:        e.FromSavings,
		Movements:          movements,
		CollateralReturned: new(big.Int),
	}

	if p.PrincipalOutstanding.Sign() == 0 {
		tokens, err := p.CollateralTokens(reg)
		if err != nil {
			return nil, nil, err
		}
		if tokens.Sign() > 0 {
			if err := m.savings.Deposit(p.Borrower, p.CollateralAsset, strategy.NoYieldID, tokens); err != nil {
				return nil, nil, err
			}
		}
		p.CollateralShares.SetInt64(0)
		p.MarginCallShares = make(map[uuid.UUID]*big.Int)
		p.Status = StatusClosed
		p.TransfersFrozen = true
		plan.Closed = true
		plan.CollateralReturned = tokens
	}

	return p, plan, nil
}

// === Margin calls ===

// RequestMarginCall opens a collateral demand from one lender while
// the ratio sits below the pool's ideal ratio.
func (m *Manager) RequestMarginCall(e *event.MarginCallRequest) (*Pool, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusActive {
		return nil, ErrNotActive
	}
	if p.BalanceOf(e.Caller).Sign() == 0 {
		return nil, ErrNoVotingPower
	}
	if _, open := p.MarginCalls[e.Caller]; open {
		return nil, ErrMarginCallOpen
	}
	ratio, err := m.CollateralRatio(p, e.Timestamp)
	if err != nil {
		return nil, err
	}
	if ratio.Cmp(p.IdealRatio) >= 0 {
		return nil, ErrRatioHealthy
	}

	gp := m.params.Snapshot()
	p.MarginCalls[e.Caller] = &MarginCall{
		Lender:      e.Caller,
		RequestedAt: e.Timestamp,
		Deadline:    e.Timestamp + gp.MarginCallDuration,
	}
	return p, nil
}

// AnswerPlan tops up collateral against an open margin call.
type AnswerPlan struct {
	Lender      uuid.UUID
	Tokens      *big.Int
	Shares      *big.Int
	FromSavings bool
	// Cleared is set once the top-up restored the ratio and the call
	// is closed.
	Cleared bool
}

// AnswerMarginCall lets the borrower post collateral earmarked to the
// calling lender. The call clears once the pool ratio is back at or
// above ideal.
func (m *Manager) AnswerMarginCall(e *event.MarginCallAnswer) (*Pool, *AnswerPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Caller != p.Borrower {
		return nil, nil, fmt.Errorf("%w: only the borrower answers a margin call", ErrWrongCaller)
	}
	call, ok := p.MarginCalls[e.Lender]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoMarginCall, e.Lender)
	}
	if e.Timestamp > call.Deadline {
		return nil, nil, fmt.Errorf("margin call deadline elapsed for %s", e.Lender)
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("top-up amount must be > 0")
	}

	reg := m.registry.Snapshot()
	st, err := reg.Get(p.Strategy)
	if err != nil {
		return nil, nil, err
	}
	shares := st.SharesForTokens(p.CollateralAsset, e.Amount)
	if e.FromSavings {
		if err := m.savings.Withdraw(p.Borrower, p.CollateralAsset, st.ID(), shares); err != nil {
			return nil, nil, err
		}
	}
	if cur, ok := p.MarginCallShares[e.Lender]; ok {
		cur.Add(cur, shares)
	} else {
		p.MarginCallShares[e.Lender] = new(big.Int).Set(shares)
	}

	plan := &AnswerPlan{
		Lender:      e.Lender,
		Tokens:      new(big.Int).Set(e.Amount),
		Shares:      shares,
		FromSavings: e.FromSavings,
	}

	ratio, err := m.CollateralRatio(p, e.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	if ratio.Cmp(p.IdealRatio) >= 0 {
		// call answered: fold the earmark into base collateral
		p.CollateralShares.Add(p.CollateralShares, p.MarginCallShares[e.Lender])
		delete(p.MarginCallShares, e.Lender)
		delete(p.MarginCalls, e.Lender)
		plan.Cleared = true
	}
	return p, plan, nil
}

// === Extension voting ===

// RequestExtension opens a token-weighted vote to push the next
// instalment deadline by one interval.
func (m *Manager) RequestExtension(e *event.ExtensionRequest) (*Pool, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusActive {
		return nil, ErrNotActive
	}
	if e.Caller != p.Borrower {
		return nil, fmt.Errorf("%w: only the borrower requests an extension", ErrWrongCaller)
	}
	if ext := p.Extension; ext != nil {
		if ext.voteOpen(e.Timestamp) || (ext.Passed && e.Timestamp <= ext.ActiveUntil) {
			return nil, ErrExtensionActive
		}
	}

	gp := m.params.Snapshot()
	p.Extension = &Extension{
		VoteEndTime: e.Timestamp + gp.ExtensionVoteDuration,
		VotingPower: new(big.Int),
		Voted:       make(map[uuid.UUID]bool),
	}
	return p, nil
}

// VoteOnExtension adds the caller's pool token weight to the open
// vote. The extension passes the moment cumulative weight strictly
// exceeds the voting pass ratio of total supply.
func (m *Manager) VoteOnExtension(e *event.ExtensionVote) (*Pool, bool, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, false, err
	}
	if p.Status != StatusActive {
		return nil, false, ErrNotActive
	}
	ext := p.Extension
	if ext == nil || !ext.voteOpen(e.Timestamp) {
		return nil, false, ErrVoteClosed
	}
	weight := p.BalanceOf(e.Caller)
	if weight.Sign() == 0 {
		return nil, false, ErrNoVotingPower
	}
	if ext.Voted[e.Caller] {
		return nil, false, ErrAlreadyVoted
	}

	ext.Voted[e.Caller] = true
	ext.VotingPower.Add(ext.VotingPower, weight)

	gp := m.params.Snapshot()
	// votingPower / totalSupply > votingPassRatio; exactly at the
	// threshold does not pass
	lhs := new(big.Int).Mul(ext.VotingPower, fixedpoint.Scale)
	rhs := new(big.Int).Mul(gp.VotingPassRatio, p.TotalSupply)
	if lhs.Cmp(rhs) <= 0 {
		return p, false, nil
	}

	ext.Passed = true
	p.Schedule.ShiftedInstalment = p.Schedule.currentInstalment()
	ext.ActiveUntil = p.Schedule.NextInstalmentDeadline()
	return p, true, nil
}

// === Liquidation ===

// LenderLiquidationPlan settles one margin-called lender out of the
// pool against seized collateral.
type LenderLiquidationPlan struct {
	Lender       uuid.UUID
	Liquidator   uuid.UUID
	TokensBurned *big.Int
	Seized       *big.Int // collateral tokens
	Reward       *big.Int
}

// LiquidateLender seizes the margin-called lender's pro rata share of
// collateral after the call deadline passed unanswered, burning their
// pool tokens and writing the matching principal off.
func (m *Manager) LiquidateLender(e *event.LenderLiquidation) (*Pool, *LenderLiquidationPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	call, ok := p.MarginCalls[e.Lender]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoMarginCall, e.Lender)
	}
	if e.Timestamp <= call.Deadline {
		return nil, nil, ErrMarginCallActive
	}
	balance := p.BalanceOf(e.Lender)
	if balance.Sign() == 0 {
		return nil, nil, ErrNothingToClaim
	}

	reg := m.registry.Snapshot()
	st, err := reg.Get(p.Strategy)
	if err != nil {
		return nil, nil, err
	}

	totalShares := p.totalCollateralShares()
	seizedShares := fixedpoint.MulDiv(totalShares, balance, p.TotalSupply, fixedpoint.RoundDown)

	// the lender's earmark is consumed first, the rest from base
	remaining := new(big.Int).Set(seizedShares)
	if earmark, ok := p.MarginCallShares[e.Lender]; ok {
		if earmark.Cmp(remaining) <= 0 {
			remaining.Sub(remaining, earmark)
			delete(p.MarginCallShares, e.Lender)
		} else {
			earmark.Sub(earmark, remaining)
			remaining.SetInt64(0)
		}
	}
	if p.CollateralShares.Cmp(remaining) < 0 {
		remaining.Set(p.CollateralShares)
	}
	p.CollateralShares.Sub(p.CollateralShares, remaining)

	seized := st.TokensForShares(p.CollateralAsset, seizedShares)
	gp := m.params.Snapshot()
	reward := new(big.Int)
	if e.Caller != e.Lender {
		reward = fixedpoint.Fraction(seized, gp.LiquidatorRewardFraction)
	}
	remainder := new(big.Int).Sub(seized, reward)

	if reward.Sign() > 0 {
		if err := m.savings.Deposit(e.Caller, p.CollateralAsset, strategy.NoYieldID, reward); err != nil {
			return nil, nil, err
		}
	}
	if remainder.Sign() > 0 {
		if err := m.savings.Deposit(e.Lender, p.CollateralAsset, strategy.NoYieldID, remainder); err != nil {
			return nil, nil, err
		}
	}

	p.burn(e.Lender, balance)
	if p.PrincipalOutstanding.Cmp(balance) < 0 {
		p.PrincipalOutstanding.SetInt64(0)
	} else {
		p.PrincipalOutstanding.Sub(p.PrincipalOutstanding, balance)
	}
	delete(p.MarginCalls, e.Lender)

	return p, &LenderLiquidationPlan{
		Lender:       e.Lender,
		Liquidator:   e.Caller,
		TokensBurned: balance,
		Seized:       seized,
		Reward:       reward,
	}, nil
}

// PoolLiquidationPlan defaults the whole pool.
type PoolLiquidationPlan struct {
	Liquidator uuid.UUID
	Seized     *big.Int // collateral tokens
	Reward     *big.Int
}

// LiquidatePool defaults the pool after a missed repayment beyond
// grace or any margin call left unanswered past its deadline. All
// collateral is seized; the liquidator takes the reward fraction, the
// rest goes to the lenders' pot.
func (m *Manager) LiquidatePool(e *event.PoolLiquidation) (*Pool, *PoolLiquidationPlan, error) {
	p, err := m.Get(e.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusActive {
		return nil, nil, ErrNotActive
	}

	defaulted := false
	deadline := p.Schedule.NextInstalmentDeadline()
	if e.Timestamp > deadline+m.graceSeconds(p) {
		defaulted = true
	}
	for _, call := range p.MarginCalls {
		if e.Timestamp > call.Deadline {
			defaulted = true
		}
	}
	if !defaulted {
		return nil, nil, ErrNotDefaulted
	}

	reg := m.registry.Snapshot()
	tokens, err := p.CollateralTokens(reg)
	if err != nil {
		return nil, nil, err
	}

	gp := m.params.Snapshot()
	reward := fixedpoint.Fraction(tokens, gp.LiquidatorRewardFraction)
	remainder := new(big.Int).Sub(tokens, reward)

	if reward.Sign() > 0 {
		if err := m.savings.Deposit(e.Caller, p.CollateralAsset, strategy.NoYieldID, reward); err != nil {
			return nil, nil, err
		}
	}
	p.CollateralPot.Add(p.CollateralPot, remainder)
	p.CollateralShares.SetInt64(0)
	p.MarginCallShares = make(map[uuid.UUID]*big.Int)
	p.MarginCalls = make(map[uuid.UUID]*MarginCall)

	p.Status = StatusDefaulted
	p.TransfersFrozen = true

	return p, &PoolLiquidationPlan{
		Liquidator: e.Caller,
		Seized:     tokens,
		Reward:     reward,
	}, nil
}

// === helpers ===

// fanOutSavings allocates a token amount across the account's savings
// strategies proportionally and converts each slice back to shares.
func (m *Manager) fanOutSavings(account uuid.UUID, asset string, amount *big.Int, reg *strategy.RegistrySnapshot) ([]ShareMovement, error) {
	balances, err := m.savings.TokenBalances(account, asset, reg)
	if err != nil {
		return nil, err
	}
	allocs, err := strategy.AllocateWithdrawal(amount, balances)
	if err != nil {
		return nil, err
	}
	movements := make([]ShareMovement, 0, len(allocs))
	for _, a := range allocs {
		st, err := reg.Get(a.Strategy)
		if err != nil {
			return nil, err
		}
		shares := st.SharesForTokens(asset, a.Tokens)
		held := m.savings.Balance(account, asset, a.Strategy)
		if shares.Cmp(held) > 0 {
			shares = held
		}
		movements = append(movements, ShareMovement{Strategy: a.Strategy, Shares: shares, Tokens: a.Tokens})
	}
	return movements, nil
}
