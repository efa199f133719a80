package query

import (
	"fmt"
	"math/big"

	"CredLedger/internal/core"

	"github.com/google/uuid"
)

// LiveView serves reads straight from the core's in-memory state:
// credit line and pool variables derived at the caller's clock, and
// savings positions. Unlike Service, responses never lag the event
// log. Callers must serialize with the apply loop; the orchestrator
// runs these between events.
type LiveView struct {
	core *core.DeterministicCore
}

func NewLiveView(c *core.DeterministicCore) *LiveView {
	return &LiveView{core: c}
}

// GetCreditLine returns the full state of one credit line with
// interest, debt and collateral valued at now.
func (v *LiveView) GetCreditLine(lineID uint64, now int64) (*CreditLineResponse, error) {
	lines := v.core.CreditLines()
	cl, err := lines.Get(lineID)
	if err != nil {
		return nil, err
	}

	reg := v.core.Strategies().Snapshot()
	tokens, err := cl.CollateralTokens(reg)
	if err != nil {
		return nil, fmt.Errorf("value collateral: %w", err)
	}

	resp := &CreditLineResponse{
		LineID:           cl.ID,
		Lender:           cl.Lender,
		Borrower:         cl.Borrower,
		Status:           cl.Status.String(),
		BorrowAsset:      cl.BorrowAsset,
		CollateralAsset:  cl.CollateralAsset,
		BorrowLimit:      cl.BorrowLimit,
		BorrowRate:       cl.BorrowRate,
		IdealRatio:       cl.IdealRatio,
		AutoLiquidation:  cl.AutoLiquidation,
		Principal:        cl.Principal,
		InterestAccrued:  cl.InterestAccrued(now),
		Debt:             cl.CurrentDebt(now),
		CollateralTokens: tokens,
		AsOfSequence:     v.core.GetSequence() - 1,
	}

	// Oracle-derived fields stay nil when the feed is missing or
	// stale rather than failing the whole read.
	if ratio, err := lines.CollateralRatio(cl, now); err == nil {
		resp.CollateralRatio = ratio
	}
	if borrowable, err := lines.BorrowableAmount(cl, now); err == nil {
		resp.Borrowable = borrowable
	}

	return resp, nil
}

// GetPoolConstants returns the immutable parameters of a pool.
func (v *LiveView) GetPoolConstants(poolID uuid.UUID) (*PoolConstantsResponse, error) {
	p, err := v.core.Pools().Get(poolID)
	if err != nil {
		return nil, err
	}

	return &PoolConstantsResponse{
		PoolID:                 p.ID,
		Borrower:               p.Borrower,
		BorrowAsset:            p.BorrowAsset,
		CollateralAsset:        p.CollateralAsset,
		Strategy:               string(p.Strategy),
		PoolSize:               p.PoolSize,
		BorrowRate:             p.BorrowRate,
		IdealRatio:             p.IdealRatio,
		MinBorrowFraction:      p.MinBorrowFraction,
		CollectionPeriod:       p.CollectionPeriod,
		LoanWithdrawalDuration: p.LoanWithdrawalDuration,
		RepaymentInterval:      p.RepaymentInterval,
		NoOfRepaymentIntervals: p.NoOfRepaymentIntervals,
		CreatedAt:              p.CreatedAt,
		LoanStartTime:          p.LoanStartTime,
		LoanWithdrawalDeadline: p.LoanWithdrawalDeadline,
	}, nil
}

// GetPoolVariables returns the mutable state of a pool with debt and
// collateral valued at now.
func (v *LiveView) GetPoolVariables(poolID uuid.UUID, now int64) (*PoolVariablesResponse, error) {
	pools := v.core.Pools()
	p, err := pools.Get(poolID)
	if err != nil {
		return nil, err
	}

	reg := v.core.Strategies().Snapshot()
	tokens, err := p.CollateralTokens(reg)
	if err != nil {
		return nil, fmt.Errorf("value collateral: %w", err)
	}

	resp := &PoolVariablesResponse{
		PoolID:                 p.ID,
		Status:                 p.Status.String(),
		Borrowed:               p.Borrowed,
		TotalSupply:            p.TotalSupply,
		PrincipalOutstanding:   p.PrincipalOutstanding,
		InterestOutstanding:    p.InterestOutstanding(now),
		Debt:                   p.Debt(now),
		BorrowAssetPot:         p.BorrowAssetPot,
		CollateralPot:          p.CollateralPot,
		CollateralTokens:       tokens,
		NextInstalmentDeadline: p.Schedule.NextInstalmentDeadline(),
		ScheduleComplete:       p.Schedule.Complete(),
		AsOfSequence:           v.core.GetSequence() - 1,
	}

	if ratio, err := pools.CollateralRatio(p, now); err == nil {
		resp.CollateralRatio = ratio
	}

	for _, call := range p.MarginCalls {
		resp.MarginCalls = append(resp.MarginCalls, MarginCallInfo{
			Lender:      call.Lender,
			RequestedAt: call.RequestedAt,
			Deadline:    call.Deadline,
		})
	}

	if ext := p.Extension; ext != nil {
		resp.Extension = &ExtensionInfo{
			VoteEndTime: ext.VoteEndTime,
			VotingPower: ext.VotingPower,
			Passed:      ext.Passed,
			ActiveUntil: ext.ActiveUntil,
		}
	}

	return resp, nil
}

// GetSavingsBalance returns a user's savings position in one asset,
// broken down per strategy and valued in tokens.
func (v *LiveView) GetSavingsBalance(userID uuid.UUID, asset string) (*SavingsBalanceResponse, error) {
	reg := v.core.Strategies().Snapshot()
	savings := v.core.Savings()

	holds, err := savings.TokenBalances(userID, asset, reg)
	if err != nil {
		return nil, err
	}

	resp := &SavingsBalanceResponse{
		UserID:       userID,
		Asset:        asset,
		TotalTokens:  new(big.Int),
		AsOfSequence: v.core.GetSequence() - 1,
	}
	for _, h := range holds {
		resp.TotalTokens.Add(resp.TotalTokens, h.Tokens)
		resp.Strategies = append(resp.Strategies, StrategyHold{
			Strategy: string(h.Strategy),
			Shares:   savings.Balance(userID, asset, h.Strategy),
			Tokens:   h.Tokens,
		})
	}

	return resp, nil
}

// GetLenderBalance returns a lender's pool token balance.
func (v *LiveView) GetLenderBalance(poolID, lender uuid.UUID) (*LenderBalanceResponse, error) {
	p, err := v.core.Pools().Get(poolID)
	if err != nil {
		return nil, err
	}

	return &LenderBalanceResponse{
		PoolID:       p.ID,
		Lender:       lender,
		Balance:      p.BalanceOf(lender),
		TotalSupply:  p.TotalSupply,
		AsOfSequence: v.core.GetSequence() - 1,
	}, nil
}
