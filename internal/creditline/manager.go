package creditline

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

// Manager owns all credit line state. It is not safe for concurrent
// use; the core engine serializes every operation.
type Manager struct {
	lines  map[uint64]*CreditLine
	nextID uint64

	registry *strategy.Registry
	savings  *strategy.SavingsLedger
	oracle   *oracle.Oracle
	params   *params.Manager
}

func NewManager(reg *strategy.Registry, sav *strategy.SavingsLedger, orc *oracle.Oracle, pm *params.Manager) *Manager {
	return &Manager{
		lines:    make(map[uint64]*CreditLine),
		nextID:   1,
		registry: reg,
		savings:  sav,
		oracle:   orc,
		params:   pm,
	}
}

func (m *Manager) Get(id uint64) (*CreditLine, error) {
	cl, ok := m.lines[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return cl, nil
}

// Lines returns all lines (query path).
func (m *Manager) Lines() map[uint64]*CreditLine { return m.lines }

// NextID exposes the id counter for snapshots.
func (m *Manager) NextID() uint64 { return m.nextID }

func (m *Manager) RestoreLine(cl *CreditLine) {
	m.lines[cl.ID] = cl
	if cl.ID >= m.nextID {
		m.nextID = cl.ID + 1
	}
}

// collateralValue prices the line's collateral in borrow-asset terms.
func (m *Manager) collateralValue(cl *CreditLine, orc *oracle.Snapshot, reg *strategy.RegistrySnapshot) (*big.Int, error) {
	tokens, err := cl.CollateralTokens(reg)
	if err != nil {
		return nil, err
	}
	return orc.EquivalentTokens(cl.CollateralAsset, cl.BorrowAsset, tokens)
}

// CollateralRatio is collateral value over debt, Scale-scaled. Zero
// debt yields zero rather than a division failure.
func (m *Manager) CollateralRatio(cl *CreditLine, now int64) (*big.Int, error) {
	orc := m.oracle.Snapshot(now)
	reg := m.registry.Snapshot()
	value, err := m.collateralValue(cl, orc, reg)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Ratio(value, cl.CurrentDebt(now)), nil
}

// BorrowableAmount is how much more the borrower could draw while
// keeping the ratio at or above ideal. Zero principal and zero
// collateral yields zero, never an error.
func (m *Manager) BorrowableAmount(cl *CreditLine, now int64) (*big.Int, error) {
	orc := m.oracle.Snapshot(now)
	reg := m.registry.Snapshot()
	value, err := m.collateralValue(cl, orc, reg)
	if err != nil {
		return nil, err
	}
	// capacity = value / idealRatio, in borrow-asset terms
	capacity := fixedpoint.MulDiv(value, fixedpoint.Scale, cl.IdealRatio, fixedpoint.RoundDown)
	capacity.Sub(capacity, cl.CurrentDebt(now))
	if capacity.Sign() < 0 {
		return new(big.Int), nil
	}

	// the borrow limit caps capacity regardless of collateral
	headroom := new(big.Int).Sub(cl.BorrowLimit, cl.CurrentDebt(now))
	if headroom.Sign() < 0 {
		return new(big.Int), nil
	}
	if capacity.Cmp(headroom) > 0 {
		return headroom, nil
	}
	return capacity, nil
}

// === Operations ===

// Request creates a new line in Requested.
func (m *Manager) Request(e *event.CreditLineRequest) (*CreditLine, error) {
	if e.Lender == e.Borrower {
		return nil, ErrSameAddress
	}
	if e.RequestAsLender && e.Requester != e.Lender {
		return nil, fmt.Errorf("%w: requester is not the lender", ErrWrongCaller)
	}
	if !e.RequestAsLender && e.Requester != e.Borrower {
		return nil, fmt.Errorf("%w: requester is not the borrower", ErrWrongCaller)
	}
	if e.BorrowLimit == nil || e.BorrowLimit.Sign() <= 0 {
		return nil, fmt.Errorf("borrow limit must be > 0")
	}
	if !m.oracle.HasFeed(e.BorrowAsset, e.CollateralAsset) {
		return nil, fmt.Errorf("%w: %s/%s", oracle.ErrFeedNotRegistered, e.BorrowAsset, e.CollateralAsset)
	}
	p := m.params.Snapshot()
	if e.CollateralRatio.Cmp(p.LiquidationThreshold) < 0 {
		return nil, ErrRatioThreshold
	}

	cl := &CreditLine{
		ID:                            m.nextID,
		Lender:                        e.Lender,
		Borrower:                      e.Borrower,
		RequestedBy:                   e.Requester,
		BorrowLimit:                   new(big.Int).Set(e.BorrowLimit),
		BorrowAsset:                   e.BorrowAsset,
		CollateralAsset:               e.CollateralAsset,
		BorrowRate:                    new(big.Int).Set(e.BorrowRate),
		IdealRatio:                    new(big.Int).Set(e.CollateralRatio),
		AutoLiquidation:               e.AutoLiquidation,
		Status:                        StatusRequested,
		Principal:                     new(big.Int),
		InterestAccruedTillLastUpdate: new(big.Int),
		CollateralShares:              make(map[strategy.ID]*big.Int),
	}
	m.lines[cl.ID] = cl
	m.nextID++
	return cl, nil
}

// Accept activates a requested line. Only the counter-party of the
// requester may accept.
func (m *Manager) Accept(e *event.CreditLineAccept) (*CreditLine, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, err
	}
	if cl.Status != StatusRequested {
		return nil, ErrNotRequested
	}
	counterParty := cl.Borrower
	if cl.RequestedBy == cl.Borrower {
		counterParty = cl.Lender
	}
	if e.Caller != counterParty {
		return nil, fmt.Errorf("%w: only the counter-party can accept", ErrWrongCaller)
	}

	cl.Status = StatusActive
	cl.LastPrincipalUpdateTime = e.Timestamp
	return cl, nil
}

// DepositPlan tells the engine which custody transfer backs a deposit.
type DepositPlan struct {
	Strategy    strategy.ID
	Shares      *big.Int
	Tokens      *big.Int
	FromSavings bool
}

// DepositCollateral locks tokens into the chosen strategy against the
// line.
func (m *Manager) DepositCollateral(e *event.CollateralDeposit) (*CreditLine, *DepositPlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("deposit amount must be > 0")
	}
	reg := m.registry.Snapshot()
	st, err := reg.Get(strategy.ID(e.Strategy))
	if err != nil {
		return nil, nil, err
	}

	shares := st.SharesForTokens(cl.CollateralAsset, e.Amount)
	if e.FromSavings {
		if err := m.savings.Withdraw(e.Caller, cl.CollateralAsset, st.ID(), shares); err != nil {
			return nil, nil, err
		}
	}

	if cur, ok := cl.CollateralShares[st.ID()]; ok {
		cur.Add(cur, shares)
	} else {
		cl.CollateralShares[st.ID()] = new(big.Int).Set(shares)
	}

	return cl, &DepositPlan{
		Strategy:    st.ID(),
		Shares:      shares,
		Tokens:      new(big.Int).Set(e.Amount),
		FromSavings: e.FromSavings,
	}, nil
}

// BorrowPlan tells the engine how to disburse a borrow.
type BorrowPlan struct {
	Lender uuid.UUID
	Amount *big.Int
	Fee    *big.Int
	// LenderShareWithdrawals drains the lender's savings shares that
	// fund the disbursement.
	LenderShareWithdrawals []ShareMovement
}

// ShareMovement is one per-strategy share delta backing an operation.
type ShareMovement struct {
	Strategy strategy.ID
	Shares   *big.Int
	Tokens   *big.Int
}

// Borrow draws down the line. Debt including the new amount must stay
// within the borrow limit and the post-borrow collateral ratio at or
// above the requested ideal ratio.
func (m *Manager) Borrow(e *event.CreditLineBorrow) (*CreditLine, *BorrowPlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Caller != cl.Borrower {
		return nil, nil, fmt.Errorf("%w: only the borrower can borrow", ErrWrongCaller)
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("borrow amount must be > 0")
	}

	debt := cl.CurrentDebt(e.Timestamp)
	newDebt := new(big.Int).Add(debt, e.Amount)
	if newDebt.Cmp(cl.BorrowLimit) > 0 {
		return nil, nil, ErrBorrowLimit
	}

	orc := m.oracle.Snapshot(e.Timestamp)
	reg := m.registry.Snapshot()
	value, err := m.collateralValue(cl, orc, reg)
	if err != nil {
		return nil, nil, err
	}
	if fixedpoint.Ratio(value, newDebt).Cmp(cl.IdealRatio) < 0 {
		return nil, nil, ErrWithdrawRatio
	}

	// The disbursement is funded from the lender's savings, drained
	// proportionally across their strategies.
	movements, err := m.fanOutSavings(cl.Lender, cl.BorrowAsset, e.Amount, reg)
	if err != nil {
		return nil, nil, err
	}
	for _, mv := range movements {
		if err := m.savings.Withdraw(cl.Lender, cl.BorrowAsset, mv.Strategy, mv.Shares); err != nil {
			return nil, nil, err
		}
	}

	cl.accrue(e.Timestamp)
	cl.Principal.Add(cl.Principal, e.Amount)

	p := m.params.Snapshot()
	fee := fixedpoint.Fraction(e.Amount, p.ProtocolFeeFraction)
	return cl, &BorrowPlan{
		Lender:                 cl.Lender,
		Amount:                 new(big.Int).Set(e.Amount),
		Fee:                    fee,
		LenderShareWithdrawals: movements,
	}, nil
}

// RepayPlan describes the settlement split of a repayment.
type RepayPlan struct {
	Lender      uuid.UUID
	Total       *big.Int
	Interest    *big.Int
	Principal   *big.Int
	FromSavings bool
	// BorrowerShareWithdrawals is the savings fan-out funding the
	// repayment when FromSavings is set.
	BorrowerShareWithdrawals []ShareMovement
}

// Repay settles interest before principal. Overpayment is capped at
// the outstanding debt.
func (m *Manager) Repay(e *event.CreditLineRepay) (*CreditLine, *RepayPlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("repay amount must be > 0")
	}

	debt := cl.CurrentDebt(e.Timestamp)
	if debt.Sign() == 0 {
		return nil, nil, fmt.Errorf("nothing to repay")
	}
	amount := new(big.Int).Set(e.Amount)
	if amount.Cmp(debt) > 0 {
		amount.Set(debt)
	}

	interest := cl.InterestAccrued(e.Timestamp)
	interestPart := new(big.Int).Set(amount)
	principalPart := new(big.Int)
	if amount.Cmp(interest) > 0 {
		interestPart.Set(interest)
		principalPart.Sub(amount, interest)
	}

	reg := m.registry.Snapshot()
	var movements []ShareMovement
	if e.FromSavings {
		movements, err = m.fanOutSavings(e.Caller, cl.BorrowAsset, amount, reg)
		if err != nil {
			return nil, nil, err
		}
		for _, mv := range movements {
			if err := m.savings.Withdraw(e.Caller, cl.BorrowAsset, mv.Strategy, mv.Shares); err != nil {
				return nil, nil, err
			}
		}
	}

	cl.accrue(e.Timestamp)
	cl.InterestAccruedTillLastUpdate.Sub(cl.InterestAccruedTillLastUpdate, interestPart)
	cl.Principal.Sub(cl.Principal, principalPart)

	// Repayments land in the lender's savings custody as no-yield shares.
	if err := m.savings.Deposit(cl.Lender, cl.BorrowAsset, strategy.NoYieldID, amount); err != nil {
		return nil, nil, err
	}

	return cl, &RepayPlan{
		Lender:                   cl.Lender,
		Total:                    amount,
		Interest:                 interestPart,
		Principal:                principalPart,
		FromSavings:              e.FromSavings,
		BorrowerShareWithdrawals: movements,
	}, nil
}

// WithdrawPlan releases collateral to the borrower.
type WithdrawPlan struct {
	Tokens    *big.Int
	ToSavings bool
	Movements []ShareMovement
}

// WithdrawCollateral releases collateral while keeping the ratio at or
// above ideal. With zero debt any amount up to the deposit may leave.
func (m *Manager) WithdrawCollateral(e *event.CollateralWithdraw) (*CreditLine, *WithdrawPlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Caller != cl.Borrower {
		return nil, nil, fmt.Errorf("%w: only the borrower can withdraw collateral", ErrWrongCaller)
	}
	if e.Amount == nil || e.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("withdraw amount must be > 0")
	}

	orc := m.oracle.Snapshot(e.Timestamp)
	reg := m.registry.Snapshot()
	tokens, err := cl.CollateralTokens(reg)
	if err != nil {
		return nil, nil, err
	}
	if e.Amount.Cmp(tokens) > 0 {
		return nil, nil, ErrWithdrawRatio
	}

	debt := cl.CurrentDebt(e.Timestamp)
	if debt.Sign() > 0 {
		remaining := new(big.Int).Sub(tokens, e.Amount)
		value, err := orc.EquivalentTokens(cl.CollateralAsset, cl.BorrowAsset, remaining)
		if err != nil {
			return nil, nil, err
		}
		if fixedpoint.Ratio(value, debt).Cmp(cl.IdealRatio) < 0 {
			return nil, nil, ErrWithdrawRatio
		}
	}

	movements, err := m.unlockCollateral(cl, e.Amount, reg)
	if err != nil {
		return nil, nil, err
	}
	if e.ToSavings {
		for _, mv := range movements {
			if err := m.savings.Deposit(cl.Borrower, cl.CollateralAsset, mv.Strategy, mv.Shares); err != nil {
				return nil, nil, err
			}
		}
	}

	return cl, &WithdrawPlan{
		Tokens:    new(big.Int).Set(e.Amount),
		ToSavings: e.ToSavings,
		Movements: movements,
	}, nil
}

// ClosePlan returns leftover collateral to the borrower's savings.
type ClosePlan struct {
	CollateralReturned *big.Int
	Movements          []ShareMovement
}

// Close ends an active line once the debt is fully settled. Remaining
// collateral moves to the borrower's savings custody.
func (m *Manager) Close(e *event.CreditLineClose) (*CreditLine, *ClosePlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Caller != cl.Lender && e.Caller != cl.Borrower {
		return nil, nil, fmt.Errorf("%w: only lender or borrower can close", ErrWrongCaller)
	}
	if cl.CurrentDebt(e.Timestamp).Sign() != 0 {
		return nil, nil, ErrDebtOutstanding
	}

	reg := m.registry.Snapshot()
	tokens, err := cl.CollateralTokens(reg)
	if err != nil {
		return nil, nil, err
	}

	var movements []ShareMovement
	if tokens.Sign() > 0 {
		movements, err = m.unlockCollateral(cl, tokens, reg)
		if err != nil {
			return nil, nil, err
		}
		for _, mv := range movements {
			if err := m.savings.Deposit(cl.Borrower, cl.CollateralAsset, mv.Strategy, mv.Shares); err != nil {
				return nil, nil, err
			}
		}
	}

	cl.accrue(e.Timestamp)
	cl.Status = StatusClosed
	return cl, &ClosePlan{CollateralReturned: tokens, Movements: movements}, nil
}

// LiquidationPlan seizes the line's collateral.
type LiquidationPlan struct {
	Lender     uuid.UUID
	Liquidator uuid.UUID
	Seized     *big.Int // total collateral tokens
	Reward     *big.Int // liquidator's cut
	Debt       *big.Int // written off
	// RewardWithdrawn routes the reward out of custody instead of
	// into the liquidator's savings.
	RewardWithdrawn bool
}

// Liquidate closes a line whose ratio fell below the requested ratio.
// Third parties may only liquidate lines opted into auto liquidation;
// the borrower may always self-liquidate.
func (m *Manager) Liquidate(e *event.CreditLineLiquidate) (*CreditLine, *LiquidationPlan, error) {
	cl, err := m.Get(e.LineID)
	if err != nil {
		return nil, nil, err
	}
	if cl.Status != StatusActive {
		return nil, nil, ErrNotActive
	}
	if e.Caller != cl.Borrower && e.Caller != cl.Lender && !cl.AutoLiquidation {
		return nil, nil, fmt.Errorf("%w: auto liquidation disabled", ErrWrongCaller)
	}

	debt := cl.CurrentDebt(e.Timestamp)
	if debt.Sign() == 0 {
		return nil, nil, ErrNotLiquidatable
	}
	orc := m.oracle.Snapshot(e.Timestamp)
	reg := m.registry.Snapshot()
	value, err := m.collateralValue(cl, orc, reg)
	if err != nil {
		return nil, nil, err
	}
	if fixedpoint.Ratio(value, debt).Cmp(cl.IdealRatio) >= 0 {
		return nil, nil, ErrNotLiquidatable
	}

	tokens, err := cl.CollateralTokens(reg)
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.unlockCollateral(cl, tokens, reg); err != nil {
		return nil, nil, err
	}

	p := m.params.Snapshot()
	reward := new(big.Int)
	if e.Caller != cl.Lender {
		reward = fixedpoint.Fraction(tokens, p.LiquidatorRewardFraction)
	}
	remainder := new(big.Int).Sub(tokens, reward)
	if remainder.Sign() > 0 {
		if err := m.savings.Deposit(cl.Lender, cl.CollateralAsset, strategy.NoYieldID, remainder); err != nil {
			return nil, nil, err
		}
	}
	if reward.Sign() > 0 && !e.WithdrawCollateral {
		if err := m.savings.Deposit(e.Caller, cl.CollateralAsset, strategy.NoYieldID, reward); err != nil {
			return nil, nil, err
		}
	}

	cl.accrue(e.Timestamp)
	cl.Principal.SetInt64(0)
	cl.InterestAccruedTillLastUpdate.SetInt64(0)
	cl.Status = StatusClosed

	return cl, &LiquidationPlan{
		Lender:          cl.Lender,
		Liquidator:      e.Caller,
		Seized:          tokens,
		Reward:          reward,
		Debt:            debt,
		RewardWithdrawn: e.WithdrawCollateral,
	}, nil
}

// === helpers ===

// fanOutSavings allocates a token amount across an account's savings
// strategies proportionally (largest-remainder, ties by strategy ID)
// and converts each slice back to shares. It does not mutate the
// savings ledger.
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
			// conversion rounding can ask for one share too many
			shares = held
		}
		movements = append(movements, ShareMovement{Strategy: a.Strategy, Shares: shares, Tokens: a.Tokens})
	}
	return movements, nil
}

// unlockCollateral burns line collateral shares worth the requested
// token amount, draining strategies proportionally.
func (m *Manager) unlockCollateral(cl *CreditLine, amount *big.Int, reg *strategy.RegistrySnapshot) ([]ShareMovement, error) {
	balances := make([]strategy.StrategyBalance, 0, len(cl.CollateralShares))
	for _, id := range cl.strategyIDs() {
		st, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		balances = append(balances, strategy.StrategyBalance{
			Strategy: id,
			Tokens:   st.TokensForShares(cl.CollateralAsset, cl.CollateralShares[id]),
		})
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
		shares := st.SharesForTokens(cl.CollateralAsset, a.Tokens)
		held := cl.CollateralShares[a.Strategy]
		if shares.Cmp(held) > 0 {
			shares = new(big.Int).Set(held)
		}
		held.Sub(held, shares)
		if held.Sign() == 0 {
			delete(cl.CollateralShares, a.Strategy)
		}
		movements = append(movements, ShareMovement{Strategy: a.Strategy, Shares: shares, Tokens: a.Tokens})
	}
	return movements, nil
}
