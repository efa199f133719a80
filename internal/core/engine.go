package core

import (
	"CredLedger/internal/creditline"
	"CredLedger/internal/event"
	"CredLedger/internal/ledger"
	"CredLedger/internal/observability"
	"CredLedger/internal/oracle"
	"CredLedger/internal/params"
	"CredLedger/internal/pool"
	"CredLedger/internal/strategy"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	registry          *strategy.Registry
	savings           *strategy.SavingsLedger
	compounding       *strategy.Compounding
	oracle            *oracle.Oracle
	params            *params.Manager
	lineManager       *creditline.Manager
	poolManager       *pool.Manager
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

func NewDeterministicCore(
	startSequence int64,
	owner uuid.UUID,
	protocolParams *params.ProtocolParams,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*DeterministicCore, error) {
	pm, err := params.NewManager(protocolParams)
	if err != nil {
		return nil, err
	}

	registry := strategy.NewRegistry()
	compounding := strategy.NewCompounding()
	if err := registry.Add(strategy.NoYield{}); err != nil {
		return nil, err
	}
	if err := registry.Add(compounding); err != nil {
		return nil, err
	}

	savings := strategy.NewSavingsLedger()
	orc := oracle.New(protocolParams.PriceMaxAge)

	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(startSequence, balanceTracker)

	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)
	sequenceValidator := NewSequenceValidator()

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		registry:          registry,
		savings:           savings,
		compounding:       compounding,
		oracle:            orc,
		params:            pm,
		lineManager:       creditline.NewManager(registry, savings, orc, pm),
		poolManager:       pool.NewManager(owner, registry, savings, orc, pm),
		idempotency:       idempotencyChecker,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// Oracle exposes the feed table for startup seeding.
func (c *DeterministicCore) Oracle() *oracle.Oracle { return c.oracle }

// CreditLines exposes the line manager (query path).
func (c *DeterministicCore) CreditLines() *creditline.Manager { return c.lineManager }

// Pools exposes the pool manager (query path).
func (c *DeterministicCore) Pools() *pool.Manager { return c.poolManager }

// Savings exposes the share custody ledger (query path).
func (c *DeterministicCore) Savings() *strategy.SavingsLedger { return c.savings }

// Balances exposes the token-level balance tracker (query path).
func (c *DeterministicCore) Balances() *ledger.BalanceTracker { return c.balanceTracker }

// Strategies exposes the strategy registry (query path).
func (c *DeterministicCore) Strategies() *strategy.Registry { return c.registry }

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(evt)
	sourceSequence := evt.SourceSequence()

	// Special handling for feed updates (gaps tolerated)
	if feedID, feedSeq, isFeed := feedIdentity(evt); isFeed {
		expected := c.sequenceValidator.GetExpectedSequence("feed:" + feedID)
		if expected > 0 && feedSeq < expected {
			// Stale observation - drop silently
			if c.metrics != nil {
				c.metrics.CoreEventsRejected.WithLabelValues(eventType, "stale").Inc()
			}
			return nil
		}
		if err := c.sequenceValidator.ValidateFeedSequence(feedID, feedSeq); err != nil {
			return err
		}
	} else {
		// Regular sequence validation
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Serialize the event in wire form before touching state so the
	// event log always holds a replayable payload.
	payload, err := event.MarshalWire(evt)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	// Step 3: Event dispatch - get the batch
	batch, err := c.dispatchEvent(evt)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Skip validation and application for empty batches (state-only
	// events like CreditLineRequested or PriceFeedUpdated produce no
	// journals but still need an envelope in the event log).
	if len(batch.Journals) > 0 {
		// Validate batch balance
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		// Apply batch to balances
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Compute state digest and hash
	stateDigest := c.computeStateDigest(batch)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Create envelope
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		InstanceID:     evt.InstanceID(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       c.hasher.GetPrevHash(),
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Post-checks
	if err := c.postCheckInvariants(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Emit output: persist channel uses BLOCKING send (backpressure),
	// projection channel uses NON-BLOCKING send with silent drop.
	c.persistChan <- output

	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped - projection will catch up via rebuild
	}

	// Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if id := evt.InstanceID(); id != nil {
		return *id
	}
	return "global"
}

// feedIdentity classifies events whose ordering tolerates gaps.
func feedIdentity(evt event.Event) (string, int64, bool) {
	switch e := evt.(type) {
	case *event.PriceFeedUpdate:
		return fmt.Sprintf("price:%s/%s", e.BaseAsset, e.QuoteAsset), e.Sequence, true
	case *event.ExchangeRateUpdate:
		return fmt.Sprintf("rate:%s/%s", e.Strategy, e.Asset), e.Sequence, true
	}
	return "", 0, false
}

// getEventTimestamp extracts the versioned timestamp from an event.
// The core MUST NOT call time.Now(); all timestamps are versioned inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.CreditLineRequest:
		return time.Unix(e.Timestamp, 0)
	case *event.CreditLineAccept:
		return time.Unix(e.Timestamp, 0)
	case *event.CollateralDeposit:
		return time.Unix(e.Timestamp, 0)
	case *event.CreditLineBorrow:
		return time.Unix(e.Timestamp, 0)
	case *event.CreditLineRepay:
		return time.Unix(e.Timestamp, 0)
	case *event.CollateralWithdraw:
		return time.Unix(e.Timestamp, 0)
	case *event.CreditLineClose:
		return time.Unix(e.Timestamp, 0)
	case *event.CreditLineLiquidate:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolCreate:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolLend:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolWithdrawBorrowed:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolWithdrawLiquidity:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolCancel:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolTerminate:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolRepay:
		return time.Unix(e.Timestamp, 0)
	case *event.MarginCallRequest:
		return time.Unix(e.Timestamp, 0)
	case *event.MarginCallAnswer:
		return time.Unix(e.Timestamp, 0)
	case *event.ExtensionRequest:
		return time.Unix(e.Timestamp, 0)
	case *event.ExtensionVote:
		return time.Unix(e.Timestamp, 0)
	case *event.LenderLiquidation:
		return time.Unix(e.Timestamp, 0)
	case *event.PoolLiquidation:
		return time.Unix(e.Timestamp, 0)
	case *event.SavingsDeposit:
		return time.Unix(e.Timestamp, 0)
	case *event.SavingsWithdraw:
		return time.Unix(e.Timestamp, 0)
	case *event.PriceFeedUpdate:
		return time.Unix(e.Timestamp, 0)
	case *event.ExchangeRateUpdate:
		return time.Unix(e.Timestamp, 0)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T - deterministic core cannot use wall-clock time", evt))
	}
}

// eventUnixTimestamp is the epoch-seconds form used for batches.
func (c *DeterministicCore) eventUnixTimestamp(evt event.Event) int64 {
	return c.getEventTimestamp(evt).Unix()
}

// computeStateDigest creates canonical bytes for the state hash
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	// Collect all affected accounts
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	// Sort accounts deterministically
	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Build digest
	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		// Append account path
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		// Append balance (sign byte + length-prefixed magnitude)
		digest = appendBigInt(digest, balance)
	}

	return digest
}

// appendBigInt encodes sign, length, and big-endian magnitude so the
// digest stays unambiguous for arbitrary-precision balances.
func appendBigInt(buf []byte, v *big.Int) []byte {
	sign := byte(0)
	if v.Sign() < 0 {
		sign = 1
	}
	mag := v.Bytes()
	buf = append(buf, sign, byte(len(mag)))
	return append(buf, mag...)
}

// postCheckInvariants validates invariants after batch application
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	// Every internal account a batch touched must stay non-negative
	if batch != nil && len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchAccountsNonNegative(batch); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

// emptyBatch carries state-only events through the pipeline.
func (c *DeterministicCore) emptyBatch(eventRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		Timestamp: timestamp,
		Journals:  []ledger.Journal{},
	}
}

// requireAssets rejects assets the ledger has no account mapping for.
// Instance entry points call this before handing the event to a manager
// so a failed dispatch never leaves partial state behind.
func requireAssets(assets ...string) error {
	for _, a := range assets {
		if _, ok := ledger.GetAssetID(a); !ok {
			return fmt.Errorf("unknown asset: %s", a)
		}
	}
	return nil
}

// --- Credit line handlers ---

func (c *DeterministicCore) handleCreditLineRequest(evt *event.CreditLineRequest) (*ledger.Batch, error) {
	if err := requireAssets(evt.BorrowAsset, evt.CollateralAsset); err != nil {
		return nil, err
	}
	if _, err := c.lineManager.Request(evt); err != nil {
		return nil, err
	}
	// No funds move until collateral is deposited
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleCreditLineAccept(evt *event.CreditLineAccept) (*ledger.Batch, error) {
	if _, err := c.lineManager.Accept(evt); err != nil {
		return nil, err
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleCollateralDeposit(evt *event.CollateralDeposit) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.DepositCollateral(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(cl.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.CollateralAsset)
	}
	return c.journalGen.GenerateCollateralDeposit(
		ledger.CreditLineEntityID(evt.LineID), evt.Caller, assetID,
		plan.Tokens, plan.FromSavings, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleCreditLineBorrow(evt *event.CreditLineBorrow) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.Borrow(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(cl.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.BorrowAsset)
	}
	if c.metrics != nil {
		c.metrics.BorrowsDisbursed.WithLabelValues("creditline").Inc()
	}
	return c.journalGen.GenerateCreditLineBorrow(
		plan.Lender, assetID, plan.Amount, plan.Fee,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleCreditLineRepay(evt *event.CreditLineRepay) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.Repay(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(cl.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.BorrowAsset)
	}
	if c.metrics != nil {
		c.metrics.RepaymentsApplied.WithLabelValues("creditline").Inc()
	}
	return c.journalGen.GenerateCreditLineRepayment(
		plan.Lender, evt.Caller, assetID, plan.Total, plan.FromSavings,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleCollateralWithdraw(evt *event.CollateralWithdraw) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.WithdrawCollateral(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(cl.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.CollateralAsset)
	}
	return c.journalGen.GenerateCollateralWithdrawal(
		ledger.CreditLineEntityID(evt.LineID), evt.Caller, assetID,
		plan.Tokens, plan.ToSavings, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleCreditLineClose(evt *event.CreditLineClose) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.Close(evt)
	if err != nil {
		return nil, err
	}
	if plan.CollateralReturned.Sign() == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	assetID, ok := ledger.GetAssetID(cl.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.CollateralAsset)
	}
	// Leftover collateral lands in the borrower's savings custody
	return c.journalGen.GenerateCollateralWithdrawal(
		ledger.CreditLineEntityID(evt.LineID), cl.Borrower, assetID,
		plan.CollateralReturned, true, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleCreditLineLiquidate(evt *event.CreditLineLiquidate) (*ledger.Batch, error) {
	cl, plan, err := c.lineManager.Liquidate(evt)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.LiquidationTriggered.WithLabelValues("creditline").Inc()
	}
	if plan.Seized.Sign() == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	assetID, ok := ledger.GetAssetID(cl.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", cl.CollateralAsset)
	}
	return c.journalGen.GenerateCreditLineLiquidation(
		ledger.CreditLineEntityID(evt.LineID), plan.Lender, plan.Liquidator,
		assetID, plan.Seized, plan.Reward, plan.RewardWithdrawn,
		evt.IdempotencyKey(), evt.Timestamp)
}

// --- Pool handlers ---

func (c *DeterministicCore) handlePoolCreate(evt *event.PoolCreate) (*ledger.Batch, error) {
	if err := requireAssets(evt.BorrowAsset, evt.CollateralAsset); err != nil {
		return nil, err
	}
	p, plan, err := c.poolManager.Create(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	return c.journalGen.GenerateCollateralDeposit(
		ledger.PoolEntityID(evt.PoolID), evt.Borrower, assetID,
		plan.CollateralTokens, plan.FromSavings, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolLend(evt *event.PoolLend) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.Lend(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(p.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.BorrowAsset)
	}
	return c.journalGen.GeneratePoolLiquiditySupply(
		evt.PoolID, evt.Caller, assetID, plan.Amount, plan.FromSavings,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolWithdrawBorrowed(evt *event.PoolWithdrawBorrowed) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.WithdrawBorrowed(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(p.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.BorrowAsset)
	}
	if c.metrics != nil {
		c.metrics.BorrowsDisbursed.WithLabelValues("pool").Inc()
	}
	return c.journalGen.GeneratePoolBorrowedWithdrawal(
		evt.PoolID, assetID, plan.Amount, plan.Fee,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolWithdrawLiquidity(evt *event.PoolWithdrawLiquidity) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.WithdrawLiquidity(evt)
	if err != nil {
		return nil, err
	}
	borrowAssetID, ok := ledger.GetAssetID(p.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.BorrowAsset)
	}
	collateralAssetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	return c.journalGen.GeneratePoolLiquidityWithdrawal(
		evt.PoolID, evt.Caller,
		borrowAssetID, plan.BorrowAssetOut,
		collateralAssetID, plan.CollateralOut,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolCancel(evt *event.PoolCancel) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.Cancel(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	return c.journalGen.GeneratePoolCancel(
		evt.PoolID, p.Borrower, assetID, plan.Penalty, plan.ReturnedToBorrower,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolTerminate(evt *event.PoolTerminate) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.Terminate(evt)
	if err != nil {
		return nil, err
	}
	if plan.CollateralSwept.Sign() == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	// Terminate is owner-only; Caller is the factory owner
	return c.journalGen.GenerateCollateralWithdrawal(
		ledger.PoolEntityID(evt.PoolID), evt.Caller, assetID,
		plan.CollateralSwept, true, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolRepay(evt *event.PoolRepay) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.Repay(evt)
	if err != nil {
		return nil, err
	}
	borrowAssetID, ok := ledger.GetAssetID(p.BorrowAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.BorrowAsset)
	}
	collateralAssetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	if c.metrics != nil {
		c.metrics.RepaymentsApplied.WithLabelValues("pool").Inc()
		if plan.Penalty.Sign() > 0 {
			c.metrics.GracePenaltiesPaid.Inc()
		}
	}
	return c.journalGen.GeneratePoolRepayment(
		evt.PoolID, p.Borrower, borrowAssetID, plan.Total, plan.FromSavings,
		collateralAssetID, plan.CollateralReturned,
		evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleMarginCallRequest(evt *event.MarginCallRequest) (*ledger.Batch, error) {
	if _, err := c.poolManager.RequestMarginCall(evt); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.MarginCallsOpened.Inc()
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleMarginCallAnswer(evt *event.MarginCallAnswer) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.AnswerMarginCall(evt)
	if err != nil {
		return nil, err
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	if c.metrics != nil && plan.Cleared {
		c.metrics.MarginCallsCleared.Inc()
	}
	return c.journalGen.GenerateCollateralDeposit(
		ledger.PoolEntityID(evt.PoolID), evt.Caller, assetID,
		plan.Tokens, plan.FromSavings, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleExtensionRequest(evt *event.ExtensionRequest) (*ledger.Batch, error) {
	if _, err := c.poolManager.RequestExtension(evt); err != nil {
		return nil, err
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleExtensionVote(evt *event.ExtensionVote) (*ledger.Batch, error) {
	_, passed, err := c.poolManager.VoteOnExtension(evt)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.ExtensionVotesCast.Inc()
		if passed {
			c.metrics.ExtensionsPassed.Inc()
		}
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) handleLenderLiquidation(evt *event.LenderLiquidation) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.LiquidateLender(evt)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.LiquidationTriggered.WithLabelValues("pool_lender").Inc()
	}
	if plan.Seized.Sign() == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	return c.journalGen.GenerateLenderLiquidation(
		evt.PoolID, plan.Lender, plan.Liquidator, assetID,
		plan.Seized, plan.Reward, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handlePoolLiquidation(evt *event.PoolLiquidation) (*ledger.Batch, error) {
	p, plan, err := c.poolManager.LiquidatePool(evt)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.LiquidationTriggered.WithLabelValues("pool").Inc()
		c.metrics.PoolsDefaulted.Inc()
	}
	if plan.Seized.Sign() == 0 {
		return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
	}
	assetID, ok := ledger.GetAssetID(p.CollateralAsset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", p.CollateralAsset)
	}
	return c.journalGen.GeneratePoolLiquidation(
		evt.PoolID, plan.Liquidator, assetID, plan.Seized, plan.Reward,
		evt.IdempotencyKey(), evt.Timestamp)
}

// --- Savings handlers ---

func (c *DeterministicCore) handleSavingsDeposit(evt *event.SavingsDeposit) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be > 0")
	}
	reg := c.registry.Snapshot()
	st, err := reg.Get(strategy.ID(evt.Strategy))
	if err != nil {
		return nil, err
	}

	shares := st.SharesForTokens(evt.Asset, evt.Amount)
	if err := c.savings.Deposit(evt.Account, evt.Asset, st.ID(), shares); err != nil {
		return nil, err
	}

	return c.journalGen.GenerateSavingsDeposit(
		evt.Account, assetID, evt.Amount, evt.IdempotencyKey(), evt.Timestamp)
}

func (c *DeterministicCore) handleSavingsWithdraw(evt *event.SavingsWithdraw) (*ledger.Batch, error) {
	assetID, ok := ledger.GetAssetID(evt.Asset)
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", evt.Asset)
	}
	if evt.Amount == nil || evt.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("withdraw amount must be > 0")
	}
	reg := c.registry.Snapshot()

	if evt.Strategy != "" {
		st, err := reg.Get(strategy.ID(evt.Strategy))
		if err != nil {
			return nil, err
		}
		shares := st.SharesForTokens(evt.Asset, evt.Amount)
		if err := c.savings.Withdraw(evt.Account, evt.Asset, st.ID(), shares); err != nil {
			return nil, err
		}
	} else {
		// No strategy named: fan out proportionally across holdings
		balances, err := c.savings.TokenBalances(evt.Account, evt.Asset, reg)
		if err != nil {
			return nil, err
		}
		allocs, err := strategy.AllocateWithdrawal(evt.Amount, balances)
		if err != nil {
			return nil, err
		}
		for _, a := range allocs {
			st, err := reg.Get(a.Strategy)
			if err != nil {
				return nil, err
			}
			shares := st.SharesForTokens(evt.Asset, a.Tokens)
			if held := c.savings.Balance(evt.Account, evt.Asset, a.Strategy); shares.Cmp(held) > 0 {
				shares = held
			}
			if shares.Sign() == 0 {
				continue
			}
			if err := c.savings.Withdraw(evt.Account, evt.Asset, a.Strategy, shares); err != nil {
				return nil, err
			}
		}
	}

	return c.journalGen.GenerateSavingsWithdrawal(
		evt.Account, assetID, evt.Amount, evt.IdempotencyKey(), evt.Timestamp)
}

// --- Feed handlers ---

// handlePriceFeedUpdate mutates the oracle table only; feed updates
// generate no journals.
func (c *DeterministicCore) handlePriceFeedUpdate(evt *event.PriceFeedUpdate) (*ledger.Batch, error) {
	pair := fmt.Sprintf("%s/%s", evt.BaseAsset, evt.QuoteAsset)
	if err := c.oracle.SetFeed(evt.BaseAsset, evt.QuoteAsset, evt.Price, evt.Decimals, evt.Timestamp); err != nil {
		if c.metrics != nil {
			c.metrics.OracleStaleRejects.WithLabelValues(pair).Inc()
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.OracleFeedUpdates.WithLabelValues(pair).Inc()
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

// handleExchangeRateUpdate moves the compounding index. Rates only
// ratchet upward; regressions are rejected.
func (c *DeterministicCore) handleExchangeRateUpdate(evt *event.ExchangeRateUpdate) (*ledger.Batch, error) {
	if strategy.ID(evt.Strategy) != strategy.CompoundingID {
		return nil, fmt.Errorf("exchange rates only apply to %q, got %q", strategy.CompoundingID, evt.Strategy)
	}
	if err := c.compounding.SetExchangeRate(evt.Asset, evt.Rate); err != nil {
		return nil, err
	}
	return c.emptyBatch(evt.IdempotencyKey(), evt.Timestamp), nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.CreditLineRequest:
		return c.handleCreditLineRequest(e)
	case *event.CreditLineAccept:
		return c.handleCreditLineAccept(e)
	case *event.CollateralDeposit:
		return c.handleCollateralDeposit(e)
	case *event.CreditLineBorrow:
		return c.handleCreditLineBorrow(e)
	case *event.CreditLineRepay:
		return c.handleCreditLineRepay(e)
	case *event.CollateralWithdraw:
		return c.handleCollateralWithdraw(e)
	case *event.CreditLineClose:
		return c.handleCreditLineClose(e)
	case *event.CreditLineLiquidate:
		return c.handleCreditLineLiquidate(e)
	case *event.PoolCreate:
		return c.handlePoolCreate(e)
	case *event.PoolLend:
		return c.handlePoolLend(e)
	case *event.PoolWithdrawBorrowed:
		return c.handlePoolWithdrawBorrowed(e)
	case *event.PoolWithdrawLiquidity:
		return c.handlePoolWithdrawLiquidity(e)
	case *event.PoolCancel:
		return c.handlePoolCancel(e)
	case *event.PoolTerminate:
		return c.handlePoolTerminate(e)
	case *event.PoolRepay:
		return c.handlePoolRepay(e)
	case *event.MarginCallRequest:
		return c.handleMarginCallRequest(e)
	case *event.MarginCallAnswer:
		return c.handleMarginCallAnswer(e)
	case *event.ExtensionRequest:
		return c.handleExtensionRequest(e)
	case *event.ExtensionVote:
		return c.handleExtensionVote(e)
	case *event.LenderLiquidation:
		return c.handleLenderLiquidation(e)
	case *event.PoolLiquidation:
		return c.handlePoolLiquidation(e)
	case *event.SavingsDeposit:
		return c.handleSavingsDeposit(e)
	case *event.SavingsWithdraw:
		return c.handleSavingsWithdraw(e)
	case *event.PriceFeedUpdate:
		return c.handlePriceFeedUpdate(e)
	case *event.ExchangeRateUpdate:
		return c.handleExchangeRateUpdate(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]*big.Int
	CreditLines     []*creditline.CreditLine
	Pools           []*pool.Pool
	SavingsEntries  []strategy.ShareEntry
	Feeds           []oracle.FeedEntry
	ExchangeRates   map[string]*big.Int
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart, load the latest snapshot then replay
// events past it.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	// Next sequence to assign
	c.sequence = snap.Sequence + 1

	// Restore state hash chain
	c.hasher.SetPrevHash(snap.StateHash)

	// Restore balances
	c.balanceTracker.Restore(snap.Balances)

	// Restore domain state
	for _, cl := range snap.CreditLines {
		c.lineManager.RestoreLine(cl)
	}
	for _, p := range snap.Pools {
		c.poolManager.RestorePool(p)
	}
	c.savings.RestoreEntries(snap.SavingsEntries)
	c.oracle.RestoreFeeds(snap.Feeds)
	c.compounding.RestoreExchangeRates(snap.ExchangeRates)

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, nextSeq)
	}

	// Restore journal generator sequence
	c.journalGen.SetSequence(snap.Sequence)
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	lines := make([]*creditline.CreditLine, 0, len(c.lineManager.Lines()))
	for _, cl := range c.lineManager.Lines() {
		lines = append(lines, cl)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	pools := make([]*pool.Pool, 0, len(c.poolManager.Pools()))
	for _, p := range c.poolManager.Pools() {
		pools = append(pools, p)
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID.String() < pools[j].ID.String() })

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		CreditLines:     lines,
		Pools:           pools,
		SavingsEntries:  c.savings.Entries(),
		Feeds:           c.oracle.Feeds(),
		ExchangeRates:   c.compounding.ExchangeRates(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
