package core_test

import (
	"CredLedger/internal/core"
	"CredLedger/internal/creditline"
	"CredLedger/internal/event"
	"CredLedger/internal/fixedpoint"
	"CredLedger/internal/ledger"
	"CredLedger/internal/params"
	"CredLedger/internal/pool"
	"CredLedger/internal/strategy"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

// --- Test helpers ---

const t0 int64 = 1_700_000_000

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(t *testing.T, owner uuid.UUID) (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(0, owner, params.DefaultParams(), persistChan, projChan, nil, nil)
	if err != nil {
		t.Fatalf("NewDeterministicCore failed: %v", err)
	}
	return c, persistChan, projChan
}

func mustPriceFeed(base, quote string, price int64, decimals uint8, ts, seq int64) *event.PriceFeedUpdate {
	return &event.PriceFeedUpdate{
		BaseAsset:  base,
		QuoteAsset: quote,
		Price:      big.NewInt(price),
		Decimals:   decimals,
		Timestamp:  ts,
		Sequence:   seq,
	}
}

// seedPrices registers the WETH/DAI pair in both directions:
// 1 WETH = 2000 DAI, 1 DAI = 0.0005 WETH.
func seedPrices(t *testing.T, c *core.DeterministicCore, ts int64) {
	t.Helper()
	if err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 2000, 0, ts, 1)); err != nil {
		t.Fatalf("WETH/DAI feed failed: %v", err)
	}
	if err := c.ProcessEvent(mustPriceFeed("DAI", "WETH", 5, 4, ts, 1)); err != nil {
		t.Fatalf("DAI/WETH feed failed: %v", err)
	}
}

func mustSavingsDeposit(account uuid.UUID, asset string, amount int64, strategyID string, ts, seq int64) *event.SavingsDeposit {
	return &event.SavingsDeposit{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       asset,
		Strategy:    strategyID,
		Amount:      big.NewInt(amount),
		Timestamp:   ts,
		Sequence:    seq,
	}
}

func mustSavingsWithdraw(account uuid.UUID, asset string, amount int64, strategyID string, ts, seq int64) *event.SavingsWithdraw {
	return &event.SavingsWithdraw{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       asset,
		Strategy:    strategyID,
		Amount:      big.NewInt(amount),
		Timestamp:   ts,
		Sequence:    seq,
	}
}

func mustLineRequest(lender, borrower uuid.UUID, limit int64, ts, seq int64) *event.CreditLineRequest {
	return &event.CreditLineRequest{
		OperationID:     uuid.New(),
		Requester:       borrower,
		Lender:          lender,
		Borrower:        borrower,
		BorrowLimit:     big.NewInt(limit),
		BorrowRate:      fixedpoint.FromPercent(10),
		CollateralRatio: fixedpoint.FromPercent(150),
		BorrowAsset:     "DAI",
		CollateralAsset: "WETH",
		AutoLiquidation: true,
		RequestAsLender: false,
		Timestamp:       ts,
		Sequence:        seq,
	}
}

func mustCollateralDeposit(lineID uint64, caller uuid.UUID, amount int64, ts, seq int64) *event.CollateralDeposit {
	return &event.CollateralDeposit{
		OperationID: uuid.New(),
		LineID:      lineID,
		Caller:      caller,
		Amount:      big.NewInt(amount),
		Strategy:    "no_yield",
		FromSavings: false,
		Timestamp:   ts,
		Sequence:    seq,
	}
}

func mustPoolCreate(poolID, borrower uuid.UUID, poolSize, collateral int64, ts, seq int64) *event.PoolCreate {
	return &event.PoolCreate{
		OperationID:            uuid.New(),
		PoolID:                 poolID,
		Borrower:               borrower,
		PoolSize:               big.NewInt(poolSize),
		BorrowRate:             fixedpoint.FromPercent(10),
		IdealCollateralRatio:   fixedpoint.FromPercent(150),
		MinBorrowFraction:      fixedpoint.FromPercent(50),
		CollateralAmount:       big.NewInt(collateral),
		BorrowAsset:            "DAI",
		CollateralAsset:        "WETH",
		Strategy:               "no_yield",
		FromSavings:            false,
		CollectionPeriod:       1_000,
		LoanWithdrawalDuration: 1_000,
		RepaymentInterval:      10_000,
		NoOfRepaymentIntervals: 2,
		Timestamp:              ts,
		Sequence:               seq,
	}
}

func mustPoolLend(poolID, caller uuid.UUID, amount int64, ts, seq int64) *event.PoolLend {
	return &event.PoolLend{
		OperationID: uuid.New(),
		PoolID:      poolID,
		Caller:      caller,
		Amount:      big.NewInt(amount),
		Timestamp:   ts,
		Sequence:    seq,
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func assetID(t *testing.T, name string) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID(name)
	if !ok {
		t.Fatalf("unknown asset %q", name)
	}
	return id
}

// activePool drives a pool through create, lend and draw-down. The
// borrower holds 600_000 DAI of debt against 1_000 WETH of collateral.
func activePool(t *testing.T, c *core.DeterministicCore, poolID, borrower, lender uuid.UUID) {
	t.Helper()
	seedPrices(t, c, t0)
	if err := c.ProcessEvent(mustPoolCreate(poolID, borrower, 1_000_000, 1_000, t0, 0)); err != nil {
		t.Fatalf("pool create failed: %v", err)
	}
	if err := c.ProcessEvent(mustPoolLend(poolID, lender, 600_000, t0+100, 1)); err != nil {
		t.Fatalf("pool lend failed: %v", err)
	}
	draw := &event.PoolWithdrawBorrowed{
		OperationID: uuid.New(),
		PoolID:      poolID,
		Caller:      borrower,
		Timestamp:   t0 + 1_500,
		Sequence:    2,
	}
	if err := c.ProcessEvent(draw); err != nil {
		t.Fatalf("draw-down failed: %v", err)
	}
}

// ============================================================================
// Test: Savings Custody
// ============================================================================

func TestSavingsDeposit_CreditsCustody(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	err := c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	batch := outputs[0].Batch
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	if batch.Journals[0].JournalType != ledger.JournalTypeSavingsDeposit {
		t.Errorf("expected JournalTypeSavingsDeposit, got %d", batch.Journals[0].JournalType)
	}

	dai := assetID(t, "DAI")
	if got := c.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("savings balance: got %s, want 1000", got)
	}
	if got := c.Savings().Balance(userID, "DAI", strategy.NoYieldID); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("share balance: got %s, want 1000", got)
	}
}

func TestSavingsWithdraw_ReducesCustody(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	err := c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// No strategy named: the withdrawal fans out proportionally.
	err = c.ProcessEvent(mustSavingsWithdraw(userID, "DAI", 400, "", t0+10, 1))
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Batch.Journals[0].JournalType != ledger.JournalTypeSavingsWithdrawal {
		t.Errorf("expected JournalTypeSavingsWithdrawal, got %d", outputs[0].Batch.Journals[0].JournalType)
	}

	dai := assetID(t, "DAI")
	if got := c.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("savings balance: got %s, want 600", got)
	}
}

func TestSavingsWithdraw_Insufficient_Fails(t *testing.T) {
	c, _, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	err := c.ProcessEvent(mustSavingsWithdraw(userID, "DAI", 100, "", t0, 0))
	if err == nil {
		t.Fatal("expected error for empty savings, got nil")
	}
}

// ============================================================================
// Test: Oracle Feeds
// ============================================================================

func TestPriceFeedUpdate_Accepted(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())

	err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 2000, 0, t0, 1))
	if err != nil {
		t.Fatalf("price feed failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.EventType != event.EventTypePriceFeedUpdated {
		t.Errorf("expected PriceFeedUpdated event type, got %v", outputs[0].Envelope.EventType)
	}
	if len(outputs[0].Batch.Journals) != 0 {
		t.Errorf("feed update should produce no journals, got %d", len(outputs[0].Batch.Journals))
	}
}

func TestPriceFeedUpdate_StaleIgnored(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())

	err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 2000, 0, t0, 5))
	if err != nil {
		t.Fatalf("feed seq 5 failed: %v", err)
	}
	drainOutputs(persistCh)

	// Stale observation - silently dropped, no output
	err = c.ProcessEvent(mustPriceFeed("WETH", "DAI", 1900, 0, t0+10, 3))
	if err != nil {
		t.Fatalf("stale feed should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for stale feed, got %d", len(outputs))
	}
}

func TestExchangeRateUpdate_MovesCompoundingIndex(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	rate := new(big.Int).Mul(fixedpoint.Scale, big.NewInt(2))
	err := c.ProcessEvent(&event.ExchangeRateUpdate{
		Strategy:  "compounding",
		Asset:     "DAI",
		Rate:      rate,
		Timestamp: t0,
		Sequence:  1,
	})
	if err != nil {
		t.Fatalf("rate update failed: %v", err)
	}
	drainOutputs(persistCh)

	// At 2 tokens per share, 1000 tokens buys 500 shares
	err = c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "compounding", t0+10, 0))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if got := c.Savings().Balance(userID, "DAI", strategy.CompoundingID); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("compounding shares: got %s, want 500", got)
	}
	dai := assetID(t, "DAI")
	if got := c.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("token custody: got %s, want 1000", got)
	}
}

func TestExchangeRateUpdate_RegressionRejected(t *testing.T) {
	c, _, _ := newTestCore(t, uuid.New())

	rate := new(big.Int).Mul(fixedpoint.Scale, big.NewInt(2))
	err := c.ProcessEvent(&event.ExchangeRateUpdate{
		Strategy: "compounding", Asset: "DAI", Rate: rate, Timestamp: t0, Sequence: 1,
	})
	if err != nil {
		t.Fatalf("rate update failed: %v", err)
	}

	err = c.ProcessEvent(&event.ExchangeRateUpdate{
		Strategy: "compounding", Asset: "DAI", Rate: new(big.Int).Set(fixedpoint.Scale), Timestamp: t0 + 10, Sequence: 2,
	})
	if err == nil {
		t.Fatal("expected error for rate regression, got nil")
	}
}

// ============================================================================
// Test: Credit Line Lifecycle
// ============================================================================

func TestCreditLineRequest_WithoutFeed_Fails(t *testing.T) {
	c, _, _ := newTestCore(t, uuid.New())

	err := c.ProcessEvent(mustLineRequest(uuid.New(), uuid.New(), 500_000, t0, 0))
	if err == nil {
		t.Fatal("expected error for missing price feed, got nil")
	}
}

func TestCreditLineRequest_UnknownAsset_LeavesNoState(t *testing.T) {
	c, _, _ := newTestCore(t, uuid.New())

	// A feed can exist for an asset the ledger has no account mapping
	// for; the request must still be rejected before any state mutates.
	if err := c.ProcessEvent(mustPriceFeed("FOO", "DAI", 3, 0, t0, 1)); err != nil {
		t.Fatalf("FOO/DAI feed failed: %v", err)
	}
	if err := c.ProcessEvent(mustPriceFeed("DAI", "FOO", 3333, 4, t0, 1)); err != nil {
		t.Fatalf("DAI/FOO feed failed: %v", err)
	}

	req := mustLineRequest(uuid.New(), uuid.New(), 500_000, t0+10, 0)
	req.CollateralAsset = "FOO"
	err := c.ProcessEvent(req)
	if err == nil {
		t.Fatal("expected error for unledgered collateral asset, got nil")
	}
	if _, err := c.CreditLines().Get(1); err == nil {
		t.Error("rejected request must not create a line")
	}
}

func TestPoolCreate_UnknownAsset_LeavesNoState(t *testing.T) {
	c, _, _ := newTestCore(t, uuid.New())
	poolID := uuid.New()

	if err := c.ProcessEvent(mustPriceFeed("FOO", "DAI", 3, 0, t0, 1)); err != nil {
		t.Fatalf("FOO/DAI feed failed: %v", err)
	}
	if err := c.ProcessEvent(mustPriceFeed("DAI", "FOO", 3333, 4, t0, 1)); err != nil {
		t.Fatalf("DAI/FOO feed failed: %v", err)
	}

	create := mustPoolCreate(poolID, uuid.New(), 1_000_000, 1_000, t0+10, 0)
	create.CollateralAsset = "FOO"
	err := c.ProcessEvent(create)
	if err == nil {
		t.Fatal("expected error for unledgered collateral asset, got nil")
	}
	if _, err := c.Pools().Get(poolID); err == nil {
		t.Error("rejected create must not register a pool")
	}
}

func TestCreditLine_RequestAccept_Activates(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	lender := uuid.New()
	borrower := uuid.New()
	seedPrices(t, c, t0)

	err := c.ProcessEvent(mustLineRequest(lender, borrower, 500_000, t0, 0))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	drainOutputs(persistCh)

	cl, err := c.CreditLines().Get(1)
	if err != nil {
		t.Fatalf("line not found: %v", err)
	}
	if cl.Status != creditline.StatusRequested {
		t.Errorf("expected StatusRequested, got %v", cl.Status)
	}

	// The borrower requested, so the lender accepts.
	err = c.ProcessEvent(&event.CreditLineAccept{
		OperationID: uuid.New(), LineID: 1, Caller: lender, Timestamp: t0 + 10, Sequence: 0,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if cl.Status != creditline.StatusActive {
		t.Errorf("expected StatusActive, got %v", cl.Status)
	}
}

func TestCreditLine_FullLifecycle(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	lender := uuid.New()
	borrower := uuid.New()
	dai := assetID(t, "DAI")
	weth := assetID(t, "WETH")

	// Lender funds their savings: borrows disburse out of lender custody
	err := c.ProcessEvent(mustSavingsDeposit(lender, "DAI", 1_000_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("lender deposit failed: %v", err)
	}
	seedPrices(t, c, t0)

	if err := c.ProcessEvent(mustLineRequest(lender, borrower, 500_000, t0, 1)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	err = c.ProcessEvent(&event.CreditLineAccept{
		OperationID: uuid.New(), LineID: 1, Caller: lender, Timestamp: t0, Sequence: 0,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	drainOutputs(persistCh)

	// 1000 WETH at 2000 DAI each covers the full limit at 150%
	if err := c.ProcessEvent(mustCollateralDeposit(1, borrower, 1_000, t0, 1)); err != nil {
		t.Fatalf("collateral deposit failed: %v", err)
	}
	lineEntity := ledger.CreditLineEntityID(1)
	if got := c.Balances().GetInstanceCollateral(lineEntity, weth); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("locked collateral: got %s, want 1000", got)
	}
	drainOutputs(persistCh)

	// Borrow 400_000: disbursed 396_000 + 1% protocol fee 4_000
	err = c.ProcessEvent(&event.CreditLineBorrow{
		OperationID: uuid.New(), LineID: 1, Caller: borrower,
		Amount: big.NewInt(400_000), Timestamp: t0 + 10, Sequence: 2,
	})
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	outputs := drainOutputs(persistCh)
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected 2 borrow journals, got %d", len(outputs[0].Batch.Journals))
	}
	if got := c.Balances().GetUserSavings(lender, dai); got.Cmp(big.NewInt(600_000)) != 0 {
		t.Errorf("lender savings after borrow: got %s, want 600000", got)
	}
	feeAccount := ledger.NewSystemAccountKey("protocol", ledger.SubTypeSystemFees, dai)
	if got := c.Balances().GetBalance(feeAccount); got.Cmp(big.NewInt(4_000)) != 0 {
		t.Errorf("protocol fees: got %s, want 4000", got)
	}

	// Repay in full: overpayment caps at the outstanding debt
	err = c.ProcessEvent(&event.CreditLineRepay{
		OperationID: uuid.New(), LineID: 1, Caller: borrower,
		Amount: big.NewInt(500_000), Timestamp: t0 + 20, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	outputs = drainOutputs(persistCh)
	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeRepayment {
		t.Errorf("expected JournalTypeRepayment, got %d", j.JournalType)
	}
	if j.Amount.Cmp(big.NewInt(400_000)) != 0 {
		t.Errorf("repayment amount: got %s, want 400000", j.Amount)
	}
	if got := c.Balances().GetUserSavings(lender, dai); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("lender savings after repay: got %s, want 1000000", got)
	}

	// Debt settled: the collateral can leave in full
	err = c.ProcessEvent(&event.CollateralWithdraw{
		OperationID: uuid.New(), LineID: 1, Caller: borrower,
		Amount: big.NewInt(1_000), Timestamp: t0 + 30, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("collateral withdraw failed: %v", err)
	}
	if got := c.Balances().GetInstanceCollateral(lineEntity, weth); got.Sign() != 0 {
		t.Errorf("residual collateral: got %s, want 0", got)
	}
	drainOutputs(persistCh)

	err = c.ProcessEvent(&event.CreditLineClose{
		OperationID: uuid.New(), LineID: 1, Caller: borrower, Timestamp: t0 + 40, Sequence: 5,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	cl, _ := c.CreditLines().Get(1)
	if cl.Status != creditline.StatusClosed {
		t.Errorf("expected StatusClosed, got %v", cl.Status)
	}
}

func TestCreditLineBorrow_ExceedsLimit_Fails(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	lender := uuid.New()
	borrower := uuid.New()

	err := c.ProcessEvent(mustSavingsDeposit(lender, "DAI", 1_000_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("lender deposit failed: %v", err)
	}
	seedPrices(t, c, t0)
	if err := c.ProcessEvent(mustLineRequest(lender, borrower, 500_000, t0, 1)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	err = c.ProcessEvent(&event.CreditLineAccept{
		OperationID: uuid.New(), LineID: 1, Caller: lender, Timestamp: t0, Sequence: 0,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if err := c.ProcessEvent(mustCollateralDeposit(1, borrower, 1_000, t0, 1)); err != nil {
		t.Fatalf("collateral deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	err = c.ProcessEvent(&event.CreditLineBorrow{
		OperationID: uuid.New(), LineID: 1, Caller: borrower,
		Amount: big.NewInt(600_000), Timestamp: t0 + 10, Sequence: 2,
	})
	if err == nil {
		t.Fatal("expected borrow limit error, got nil")
	}
}

func TestCreditLineLiquidation_RewardAndRemainder(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	lender := uuid.New()
	borrower := uuid.New()
	liquidator := uuid.New()
	weth := assetID(t, "WETH")

	err := c.ProcessEvent(mustSavingsDeposit(lender, "DAI", 1_000_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("lender deposit failed: %v", err)
	}
	seedPrices(t, c, t0)
	if err := c.ProcessEvent(mustLineRequest(lender, borrower, 500_000, t0, 1)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	err = c.ProcessEvent(&event.CreditLineAccept{
		OperationID: uuid.New(), LineID: 1, Caller: lender, Timestamp: t0, Sequence: 0,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if err := c.ProcessEvent(mustCollateralDeposit(1, borrower, 1_000, t0, 1)); err != nil {
		t.Fatalf("collateral deposit failed: %v", err)
	}
	err = c.ProcessEvent(&event.CreditLineBorrow{
		OperationID: uuid.New(), LineID: 1, Caller: borrower,
		Amount: big.NewInt(400_000), Timestamp: t0 + 10, Sequence: 2,
	})
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	drainOutputs(persistCh)

	// WETH crashes to 500: collateral value 500_000, ratio 1.25 < 1.5
	if err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 500, 0, t0+100, 2)); err != nil {
		t.Fatalf("price drop failed: %v", err)
	}
	drainOutputs(persistCh)

	err = c.ProcessEvent(&event.CreditLineLiquidate{
		OperationID: uuid.New(), LineID: 1, Caller: liquidator,
		WithdrawCollateral: false, Timestamp: t0 + 200, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("liquidation failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected 2 liquidation journals, got %d", len(outputs[0].Batch.Journals))
	}

	// 5% of the 1000 WETH seized goes to the liquidator
	if got := c.Balances().GetUserSavings(liquidator, weth); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("liquidator reward: got %s, want 50", got)
	}
	if got := c.Balances().GetUserSavings(lender, weth); got.Cmp(big.NewInt(950)) != 0 {
		t.Errorf("lender remainder: got %s, want 950", got)
	}

	cl, _ := c.CreditLines().Get(1)
	if cl.Status != creditline.StatusClosed {
		t.Errorf("expected StatusClosed after liquidation, got %v", cl.Status)
	}
}

// ============================================================================
// Test: Pool Lifecycle
// ============================================================================

func TestPoolCreate_LocksCollateral(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	poolID := uuid.New()
	weth := assetID(t, "WETH")
	seedPrices(t, c, t0)

	err := c.ProcessEvent(mustPoolCreate(poolID, borrower, 1_000_000, 1_000, t0, 0))
	if err != nil {
		t.Fatalf("pool create failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	batch := outputs[len(outputs)-1].Batch
	if len(batch.Journals) != 1 {
		t.Fatalf("expected 1 journal, got %d", len(batch.Journals))
	}
	if batch.Journals[0].JournalType != ledger.JournalTypeCollateralDeposit {
		t.Errorf("expected JournalTypeCollateralDeposit, got %d", batch.Journals[0].JournalType)
	}

	poolEntity := ledger.PoolEntityID(poolID)
	if got := c.Balances().GetInstanceCollateral(poolEntity, weth); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("pool collateral: got %s, want 1000", got)
	}

	p, err := c.Pools().Get(poolID)
	if err != nil {
		t.Fatalf("pool not found: %v", err)
	}
	if p.Status != pool.StatusCollection {
		t.Errorf("expected StatusCollection, got %v", p.Status)
	}
}

func TestPoolLend_MintsPoolTokens(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	poolID := uuid.New()
	dai := assetID(t, "DAI")
	seedPrices(t, c, t0)

	if err := c.ProcessEvent(mustPoolCreate(poolID, borrower, 1_000_000, 1_000, t0, 0)); err != nil {
		t.Fatalf("pool create failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := c.ProcessEvent(mustPoolLend(poolID, lender, 600_000, t0+100, 1)); err != nil {
		t.Fatalf("lend failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeLiquiditySupply {
		t.Errorf("expected JournalTypeLiquiditySupply, got %d", j.JournalType)
	}

	poolEntity := ledger.PoolEntityID(poolID)
	if got := c.Balances().GetInstanceLent(poolEntity, dai); got.Cmp(big.NewInt(600_000)) != 0 {
		t.Errorf("pool lent balance: got %s, want 600000", got)
	}
	p, _ := c.Pools().Get(poolID)
	if got := p.BalanceOf(lender); got.Cmp(big.NewInt(600_000)) != 0 {
		t.Errorf("pool tokens: got %s, want 600000", got)
	}
}

func TestPool_FullLifecycle(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	poolID := uuid.New()
	dai := assetID(t, "DAI")
	weth := assetID(t, "WETH")

	activePool(t, c, poolID, borrower, lender)
	outputs := drainOutputs(persistCh)

	// Draw-down: 594_000 disbursed, 6_000 protocol fee
	drawBatch := outputs[len(outputs)-1].Batch
	if len(drawBatch.Journals) != 2 {
		t.Fatalf("expected 2 draw-down journals, got %d", len(drawBatch.Journals))
	}
	feeAccount := ledger.NewSystemAccountKey("protocol", ledger.SubTypeSystemFees, dai)
	if got := c.Balances().GetBalance(feeAccount); got.Cmp(big.NewInt(6_000)) != 0 {
		t.Errorf("protocol fees: got %s, want 6000", got)
	}
	p, _ := c.Pools().Get(poolID)
	if p.Status != pool.StatusActive {
		t.Fatalf("expected StatusActive, got %v", p.Status)
	}

	// Repay at the first instalment deadline. Interest due on 600_000
	// at 10%/yr over the 10_000s interval floors to 19, and the
	// overpayment is capped at interest + principal.
	err := c.ProcessEvent(&event.PoolRepay{
		OperationID: uuid.New(), PoolID: poolID, Caller: borrower,
		Amount: big.NewInt(700_000), Timestamp: t0 + 11_000, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("repay failed: %v", err)
	}
	outputs = drainOutputs(persistCh)
	repayBatch := outputs[0].Batch
	if len(repayBatch.Journals) != 2 {
		t.Fatalf("expected repayment + collateral return, got %d journals", len(repayBatch.Journals))
	}
	if repayBatch.Journals[0].Amount.Cmp(big.NewInt(600_019)) != 0 {
		t.Errorf("settled amount: got %s, want 600019", repayBatch.Journals[0].Amount)
	}
	if repayBatch.Journals[1].Amount.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("collateral return: got %s, want 1000", repayBatch.Journals[1].Amount)
	}
	if p.Status != pool.StatusClosed {
		t.Errorf("expected StatusClosed, got %v", p.Status)
	}
	if got := c.Balances().GetUserSavings(borrower, weth); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("returned collateral: got %s, want 1000", got)
	}

	// The lender redeems their full claim, principal plus interest
	err = c.ProcessEvent(&event.PoolWithdrawLiquidity{
		OperationID: uuid.New(), PoolID: poolID, Caller: lender,
		Timestamp: t0 + 12_000, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("liquidity withdrawal failed: %v", err)
	}
	if got := c.Balances().GetUserSavings(lender, dai); got.Cmp(big.NewInt(600_019)) != 0 {
		t.Errorf("lender claim: got %s, want 600019", got)
	}
}

func TestPoolCancel_ReturnsCollateral(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	poolID := uuid.New()
	weth := assetID(t, "WETH")
	seedPrices(t, c, t0)

	if err := c.ProcessEvent(mustPoolCreate(poolID, borrower, 1_000_000, 1_000, t0, 0)); err != nil {
		t.Fatalf("pool create failed: %v", err)
	}
	drainOutputs(persistCh)

	err := c.ProcessEvent(&event.PoolCancel{
		OperationID: uuid.New(), PoolID: poolID, Caller: borrower,
		Timestamp: t0 + 100, Sequence: 1,
	})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	batch := outputs[0].Batch

	// Penalty plus return always hands the full collateral back out
	total := new(big.Int)
	for _, j := range batch.Journals {
		total.Add(total, j.Amount)
	}
	if total.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("cancel settled %s collateral, want 1000", total)
	}

	p, _ := c.Pools().Get(poolID)
	if p.Status != pool.StatusCancelled {
		t.Errorf("expected StatusCancelled, got %v", p.Status)
	}
	returned := c.Balances().GetUserSavings(borrower, weth)
	if returned.Sign() <= 0 {
		t.Errorf("borrower got no collateral back: %s", returned)
	}
}

func TestMarginCall_AnswerClearsCall(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	poolID := uuid.New()

	activePool(t, c, poolID, borrower, lender)
	drainOutputs(persistCh)

	// WETH crashes to 500: collateral value 500_000 against 600_000 debt
	if err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 500, 0, t0+1_600, 2)); err != nil {
		t.Fatalf("price drop failed: %v", err)
	}
	err := c.ProcessEvent(&event.MarginCallRequest{
		OperationID: uuid.New(), PoolID: poolID, Caller: lender,
		Timestamp: t0 + 1_700, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("margin call failed: %v", err)
	}
	p, _ := c.Pools().Get(poolID)
	if len(p.MarginCalls) != 1 {
		t.Fatalf("expected 1 open margin call, got %d", len(p.MarginCalls))
	}
	drainOutputs(persistCh)

	// Doubling the collateral restores the ratio above 150%
	err = c.ProcessEvent(&event.MarginCallAnswer{
		OperationID: uuid.New(), PoolID: poolID, Caller: borrower, Lender: lender,
		Amount: big.NewInt(1_000), Timestamp: t0 + 1_800, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("margin call answer failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if outputs[0].Batch.Journals[0].JournalType != ledger.JournalTypeCollateralDeposit {
		t.Errorf("expected JournalTypeCollateralDeposit, got %d", outputs[0].Batch.Journals[0].JournalType)
	}
	if len(p.MarginCalls) != 0 {
		t.Errorf("expected margin call cleared, %d still open", len(p.MarginCalls))
	}
}

func TestExtensionVote_ShiftsDeadline(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	poolID := uuid.New()

	activePool(t, c, poolID, borrower, lender)
	drainOutputs(persistCh)

	p, _ := c.Pools().Get(poolID)
	before := p.Schedule.NextInstalmentDeadline()

	err := c.ProcessEvent(&event.ExtensionRequest{
		OperationID: uuid.New(), PoolID: poolID, Caller: borrower,
		Timestamp: t0 + 2_000, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("extension request failed: %v", err)
	}

	// The single lender holds the whole supply, so one vote passes
	err = c.ProcessEvent(&event.ExtensionVote{
		OperationID: uuid.New(), PoolID: poolID, Caller: lender,
		Timestamp: t0 + 2_100, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	drainOutputs(persistCh)

	after := p.Schedule.NextInstalmentDeadline()
	if after != before+10_000 {
		t.Errorf("deadline after vote: got %d, want %d", after, before+10_000)
	}
}

func TestPoolLiquidation_DefaultSeizesCollateral(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	liquidator := uuid.New()
	poolID := uuid.New()
	weth := assetID(t, "WETH")

	activePool(t, c, poolID, borrower, lender)
	drainOutputs(persistCh)

	// First instalment deadline t0+11000, grace 1000s. At t0+12500
	// the pool is in default and anyone may liquidate.
	err := c.ProcessEvent(&event.PoolLiquidation{
		OperationID: uuid.New(), PoolID: poolID, Caller: liquidator,
		Timestamp: t0 + 12_500, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("pool liquidation failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected reward + pot journals, got %d", len(outputs[0].Batch.Journals))
	}
	if got := c.Balances().GetUserSavings(liquidator, weth); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("liquidator reward: got %s, want 50", got)
	}

	p, _ := c.Pools().Get(poolID)
	if p.Status != pool.StatusDefaulted {
		t.Fatalf("expected StatusDefaulted, got %v", p.Status)
	}

	// The lender claims the seized collateral from the pot
	err = c.ProcessEvent(&event.PoolWithdrawLiquidity{
		OperationID: uuid.New(), PoolID: poolID, Caller: lender,
		Timestamp: t0 + 13_000, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("liquidity withdrawal failed: %v", err)
	}
	if got := c.Balances().GetUserSavings(lender, weth); got.Cmp(big.NewInt(950)) != 0 {
		t.Errorf("lender collateral claim: got %s, want 950", got)
	}
}

func TestLenderLiquidation_SeizesProRata(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	borrower := uuid.New()
	lender := uuid.New()
	liquidator := uuid.New()
	poolID := uuid.New()
	weth := assetID(t, "WETH")

	activePool(t, c, poolID, borrower, lender)

	if err := c.ProcessEvent(mustPriceFeed("WETH", "DAI", 500, 0, t0+1_600, 2)); err != nil {
		t.Fatalf("price drop failed: %v", err)
	}
	err := c.ProcessEvent(&event.MarginCallRequest{
		OperationID: uuid.New(), PoolID: poolID, Caller: lender,
		Timestamp: t0 + 1_700, Sequence: 3,
	})
	if err != nil {
		t.Fatalf("margin call failed: %v", err)
	}
	drainOutputs(persistCh)

	// The call lapses unanswered after its 3-day deadline
	callDeadline := t0 + 1_700 + 3*24*60*60
	err = c.ProcessEvent(&event.LenderLiquidation{
		OperationID: uuid.New(), PoolID: poolID, Caller: liquidator, Lender: lender,
		Timestamp: callDeadline + 100, Sequence: 4,
	})
	if err != nil {
		t.Fatalf("lender liquidation failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs[0].Batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(outputs[0].Batch.Journals))
	}

	// Sole lender: the full 1000 WETH is seized, 5% to the liquidator
	if got := c.Balances().GetUserSavings(liquidator, weth); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("liquidator reward: got %s, want 50", got)
	}
	if got := c.Balances().GetUserSavings(lender, weth); got.Cmp(big.NewInt(950)) != 0 {
		t.Errorf("lender settlement: got %s, want 950", got)
	}

	p, _ := c.Pools().Get(poolID)
	if p.BalanceOf(lender).Sign() != 0 {
		t.Errorf("lender pool tokens not burned: %s", p.BalanceOf(lender))
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateIgnored(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	deposit := mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0, 0)

	err := c.ProcessEvent(deposit)
	if err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 1 {
		t.Fatalf("expected 1 output on first process, got %d", len(outputs))
	}

	// Same event again - silently ignored
	err = c.ProcessEvent(deposit)
	if err != nil {
		t.Fatalf("duplicate should not error: %v", err)
	}
	if outputs := drainOutputs(persistCh); len(outputs) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs))
	}

	dai := assetID(t, "DAI")
	if got := c.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("balance after duplicate: got %s, want 1000", got)
	}
}

// ============================================================================
// Test: Sequence Validation
// ============================================================================

func TestSequenceGap_Rejected(t *testing.T) {
	c, persistCh, _ := newTestCore(t, uuid.New())
	userID := uuid.New()

	err := c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("seq 0 failed: %v", err)
	}
	drainOutputs(persistCh)

	// Skip seq 1, send seq 2 - gap detected
	err = c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0+10, 2))
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	userID := uuid.New()
	opID := uuid.New()

	processEvents := func() [][32]byte {
		c, persistCh, _ := newTestCore(t, uuid.New())

		deposit := &event.SavingsDeposit{
			OperationID: opID,
			Account:     userID,
			Asset:       "DAI",
			Strategy:    "no_yield",
			Amount:      big.NewInt(1_000),
			Timestamp:   t0,
			Sequence:    0,
		}
		if err := c.ProcessEvent(deposit); err != nil {
			t.Fatalf("ProcessEvent failed: %v", err)
		}

		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			copy(hashes[i][:], o.Envelope.StateHash[:])
		}
		return hashes
	}

	hashes1 := processEvents()
	hashes2 := processEvents()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

// ============================================================================
// Test: Snapshot & Restore
// ============================================================================

func TestSnapshotRestore_ResumesProcessing(t *testing.T) {
	owner := uuid.New()
	c1, persistCh1, _ := newTestCore(t, owner)
	userID := uuid.New()

	err := c1.ProcessEvent(mustSavingsDeposit(userID, "DAI", 1_000, "no_yield", t0, 0))
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh1)

	snap := c1.CreateSnapshotState()
	if snap.Sequence != 0 {
		t.Fatalf("snapshot sequence: got %d, want 0", snap.Sequence)
	}

	c2, persistCh2, _ := newTestCore(t, owner)
	c2.RestoreFromSnapshot(snap)
	c2.WarmLRU(snap.IdempotencyKeys)

	if c2.GetSequence() != 1 {
		t.Errorf("restored sequence: got %d, want 1", c2.GetSequence())
	}
	if c2.GetStateHash() != snap.StateHash {
		t.Error("restored hash chain tip does not match snapshot")
	}

	dai := assetID(t, "DAI")
	if got := c2.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("restored balance: got %s, want 1000", got)
	}

	// Replayed global-partition events pick up where the snapshot left off
	err = c2.ProcessEvent(mustSavingsWithdraw(userID, "DAI", 400, "", t0+10, 1))
	if err != nil {
		t.Fatalf("post-restore withdraw failed: %v", err)
	}
	outputs := drainOutputs(persistCh2)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.Sequence != 1 {
		t.Errorf("post-restore envelope sequence: got %d, want 1", outputs[0].Envelope.Sequence)
	}
	if got := c2.Balances().GetUserSavings(userID, dai); got.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("balance after withdraw: got %s, want 600", got)
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer - will fill up
	c, err := core.NewDeterministicCore(0, uuid.New(), params.DefaultParams(), persistCh, projCh, nil, nil)
	if err != nil {
		t.Fatalf("NewDeterministicCore failed: %v", err)
	}
	userID := uuid.New()

	for i := int64(0); i < 5; i++ {
		err := c.ProcessEvent(mustSavingsDeposit(userID, "DAI", 100, "no_yield", t0+i, i))
		if err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	// All 5 succeed even with the projection channel full
	if outputs := drainOutputs(persistCh); len(outputs) != 5 {
		t.Errorf("expected 5 persist outputs, got %d", len(outputs))
	}
}
