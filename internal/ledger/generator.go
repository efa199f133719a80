package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for every economic
// operation. Pre-checks run against the live tracker so a batch that
// would overdraw an internal account is never produced.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) Sequence() int64 { return jg.sequence }

func (jg *JournalGenerator) SetSequence(seq int64) { jg.sequence = seq }

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) addJournal(b *Batch, debit, credit AccountKey, assetID AssetID, amount *big.Int, jt JournalType) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// === Savings custody ===

// GenerateSavingsDeposit moves tokens from outside into a user's
// savings custody: external:deposits -> user:savings
func (jg *JournalGenerator) GenerateSavingsDeposit(
	userID uuid.UUID, assetID AssetID, amount *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch,
		NewUserAccountKey(userID, SubTypeSavings, assetID),
		NewExternalAccountKey(SubTypeExternalDeposits, assetID),
		assetID, amount, JournalTypeSavingsDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateSavingsWithdrawal moves tokens out of a user's savings
// custody: user:savings -> external:withdrawals
func (jg *JournalGenerator) GenerateSavingsWithdrawal(
	userID uuid.UUID, assetID AssetID, amount *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	key := NewUserAccountKey(userID, SubTypeSavings, assetID)
	if err := jg.balanceTracker.ValidateSufficient(key, amount); err != nil {
		return nil, fmt.Errorf("savings withdrawal pre-check failed: %w", err)
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		key,
		assetID, amount, JournalTypeSavingsWithdrawal)
	jg.sequence++
	return batch, nil
}

// === Collateral ===

// GenerateCollateralDeposit locks collateral against an instance.
// Direct: external:deposits -> instance:collateral
// From savings: user:savings -> instance:collateral
func (jg *JournalGenerator) GenerateCollateralDeposit(
	entityID [16]byte, depositor uuid.UUID, assetID AssetID, amount *big.Int,
	fromSavings bool, eventRef string, timestamp int64,
) (*Batch, error) {
	credit := NewExternalAccountKey(SubTypeExternalDeposits, assetID)
	if fromSavings {
		credit = NewUserAccountKey(depositor, SubTypeSavings, assetID)
		if err := jg.balanceTracker.ValidateSufficient(credit, amount); err != nil {
			return nil, fmt.Errorf("collateral deposit pre-check failed: %w", err)
		}
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch,
		NewInstanceAccountKey(entityID, SubTypeCollateral, assetID),
		credit,
		assetID, amount, JournalTypeCollateralDeposit)
	jg.sequence++
	return batch, nil
}

// GenerateCollateralWithdrawal releases collateral back to the
// borrower: instance:collateral -> external:withdrawals (or savings)
func (jg *JournalGenerator) GenerateCollateralWithdrawal(
	entityID [16]byte, borrower uuid.UUID, assetID AssetID, amount *big.Int,
	toSavings bool, eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(entityID, SubTypeCollateral, assetID)
	if err := jg.balanceTracker.ValidateSufficient(src, amount); err != nil {
		return nil, fmt.Errorf("collateral withdrawal pre-check failed: %w", err)
	}
	debit := NewExternalAccountKey(SubTypeExternalWithdrawals, assetID)
	if toSavings {
		debit = NewUserAccountKey(borrower, SubTypeSavings, assetID)
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch, debit, src, assetID, amount, JournalTypeCollateralWithdrawal)
	jg.sequence++
	return batch, nil
}

// === Credit line borrow / repay ===

// GenerateCreditLineBorrow disburses a borrow out of the lender's
// savings. Two legs: disbursement (amount - fee) to the borrower and
// the protocol fee to system:fees.
func (jg *JournalGenerator) GenerateCreditLineBorrow(
	lender uuid.UUID, assetID AssetID, amount, fee *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewUserAccountKey(lender, SubTypeSavings, assetID)
	if err := jg.balanceTracker.ValidateSufficient(src, amount); err != nil {
		return nil, fmt.Errorf("borrow pre-check failed: %w", err)
	}

	disbursed := new(big.Int).Sub(amount, fee)
	batch := jg.newBatch(eventRef, timestamp, 2)
	jg.addJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		src,
		assetID, disbursed, JournalTypeBorrowDisbursement)
	if fee.Sign() > 0 {
		jg.addJournal(batch,
			NewSystemAccountKey("protocol", SubTypeSystemFees, assetID),
			src,
			assetID, fee, JournalTypeProtocolFee)
	}
	jg.sequence++
	return batch, nil
}

// GenerateCreditLineRepayment returns funds to the lender's savings.
// Direct: external:deposits -> user(lender):savings
// From savings: user(borrower):savings -> user(lender):savings
func (jg *JournalGenerator) GenerateCreditLineRepayment(
	lender, borrower uuid.UUID, assetID AssetID, amount *big.Int,
	fromSavings bool, eventRef string, timestamp int64,
) (*Batch, error) {
	credit := NewExternalAccountKey(SubTypeExternalDeposits, assetID)
	if fromSavings {
		credit = NewUserAccountKey(borrower, SubTypeSavings, assetID)
		if err := jg.balanceTracker.ValidateSufficient(credit, amount); err != nil {
			return nil, fmt.Errorf("repayment pre-check failed: %w", err)
		}
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch,
		NewUserAccountKey(lender, SubTypeSavings, assetID),
		credit,
		assetID, amount, JournalTypeRepayment)
	jg.sequence++
	return batch, nil
}

// GenerateCreditLineLiquidation seizes line collateral: the liquidator
// reward lands in the liquidator's savings (or exits to
// external:withdrawals when withdrawn), the remainder goes to the
// lender's savings.
func (jg *JournalGenerator) GenerateCreditLineLiquidation(
	entityID [16]byte, lender, liquidator uuid.UUID, assetID AssetID,
	seized, reward *big.Int, rewardWithdrawn bool,
	eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(entityID, SubTypeCollateral, assetID)
	if err := jg.balanceTracker.ValidateSufficient(src, seized); err != nil {
		return nil, fmt.Errorf("liquidation pre-check failed: %w", err)
	}

	rewardDst := NewUserAccountKey(liquidator, SubTypeSavings, assetID)
	if rewardWithdrawn {
		rewardDst = NewExternalAccountKey(SubTypeExternalWithdrawals, assetID)
	}

	remainder := new(big.Int).Sub(seized, reward)
	batch := jg.newBatch(eventRef, timestamp, 2)
	if reward.Sign() > 0 {
		jg.addJournal(batch, rewardDst, src,
			assetID, reward, JournalTypeLiquidatorReward)
	}
	if remainder.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(lender, SubTypeSavings, assetID),
			src,
			assetID, remainder, JournalTypeLiquidationTransfer)
	}
	jg.sequence++
	return batch, nil
}

// === Pool flows ===

// GeneratePoolLiquiditySupply records a lender deposit into the pool:
// external:deposits (or lender savings) -> pool:lent
func (jg *JournalGenerator) GeneratePoolLiquiditySupply(
	poolID uuid.UUID, lender uuid.UUID, assetID AssetID, amount *big.Int,
	fromSavings bool, eventRef string, timestamp int64,
) (*Batch, error) {
	credit := NewExternalAccountKey(SubTypeExternalDeposits, assetID)
	if fromSavings {
		credit = NewUserAccountKey(lender, SubTypeSavings, assetID)
		if err := jg.balanceTracker.ValidateSufficient(credit, amount); err != nil {
			return nil, fmt.Errorf("liquidity supply pre-check failed: %w", err)
		}
	}
	batch := jg.newBatch(eventRef, timestamp, 1)
	jg.addJournal(batch,
		NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, assetID),
		credit,
		assetID, amount, JournalTypeLiquiditySupply)
	jg.sequence++
	return batch, nil
}

// GeneratePoolBorrowedWithdrawal disburses the pooled funds to the
// borrower with the protocol fee split off.
func (jg *JournalGenerator) GeneratePoolBorrowedWithdrawal(
	poolID uuid.UUID, assetID AssetID, amount, fee *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, assetID)
	if err := jg.balanceTracker.ValidateSufficient(src, amount); err != nil {
		return nil, fmt.Errorf("borrowed withdrawal pre-check failed: %w", err)
	}

	disbursed := new(big.Int).Sub(amount, fee)
	batch := jg.newBatch(eventRef, timestamp, 2)
	jg.addJournal(batch,
		NewExternalAccountKey(SubTypeExternalWithdrawals, assetID),
		src,
		assetID, disbursed, JournalTypeBorrowDisbursement)
	if fee.Sign() > 0 {
		jg.addJournal(batch,
			NewSystemAccountKey("protocol", SubTypeSystemFees, assetID),
			src,
			assetID, fee, JournalTypeProtocolFee)
	}
	jg.sequence++
	return batch, nil
}

// GeneratePoolRepayment returns borrower funds to the pool's claimable
// pot: external:deposits (or borrower savings) -> pool:lent. When the
// repayment retires the loan the freed collateral moves to the
// borrower's savings in the same batch.
func (jg *JournalGenerator) GeneratePoolRepayment(
	poolID, borrower uuid.UUID, assetID AssetID, amount *big.Int,
	fromSavings bool, collateralAssetID AssetID, collateralReturned *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	credit := NewExternalAccountKey(SubTypeExternalDeposits, assetID)
	if fromSavings {
		credit = NewUserAccountKey(borrower, SubTypeSavings, assetID)
		if err := jg.balanceTracker.ValidateSufficient(credit, amount); err != nil {
			return nil, fmt.Errorf("pool repayment pre-check failed: %w", err)
		}
	}
	batch := jg.newBatch(eventRef, timestamp, 2)
	jg.addJournal(batch,
		NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, assetID),
		credit,
		assetID, amount, JournalTypeRepayment)
	if collateralReturned != nil && collateralReturned.Sign() > 0 {
		src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeCollateral, collateralAssetID)
		if err := jg.balanceTracker.ValidateSufficient(src, collateralReturned); err != nil {
			return nil, fmt.Errorf("pool repayment pre-check failed: %w", err)
		}
		jg.addJournal(batch,
			NewUserAccountKey(borrower, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, collateralReturned, JournalTypeCollateralWithdrawal)
	}
	jg.sequence++
	return batch, nil
}

// GeneratePoolLiquidityWithdrawal pays a lender their pro rata claim
// out of the pool pots into their savings custody. Either leg may be
// zero; the manager guarantees at least one is positive.
func (jg *JournalGenerator) GeneratePoolLiquidityWithdrawal(
	poolID, lender uuid.UUID,
	borrowAssetID AssetID, borrowOut *big.Int,
	collateralAssetID AssetID, collateralOut *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(eventRef, timestamp, 2)
	if borrowOut != nil && borrowOut.Sign() > 0 {
		src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, borrowAssetID)
		if err := jg.balanceTracker.ValidateSufficient(src, borrowOut); err != nil {
			return nil, fmt.Errorf("liquidity withdrawal pre-check failed: %w", err)
		}
		jg.addJournal(batch,
			NewUserAccountKey(lender, SubTypeSavings, borrowAssetID),
			src,
			borrowAssetID, borrowOut, JournalTypeLiquidityWithdrawal)
	}
	if collateralOut != nil && collateralOut.Sign() > 0 {
		src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, collateralAssetID)
		if err := jg.balanceTracker.ValidateSufficient(src, collateralOut); err != nil {
			return nil, fmt.Errorf("liquidity withdrawal pre-check failed: %w", err)
		}
		jg.addJournal(batch,
			NewUserAccountKey(lender, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, collateralOut, JournalTypeLiquidityWithdrawal)
	}
	jg.sequence++
	return batch, nil
}

// GeneratePoolCancel moves the cancellation penalty from the
// borrower's collateral to the lender-claimable pot and returns the
// rest to the borrower's savings. The collateral asset keeps its own
// pool:lent account, separate from the borrow asset's pot.
func (jg *JournalGenerator) GeneratePoolCancel(
	poolID, borrower uuid.UUID, collateralAssetID AssetID,
	penalty, returned *big.Int, eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeCollateral, collateralAssetID)
	total := new(big.Int).Add(penalty, returned)
	if err := jg.balanceTracker.ValidateSufficient(src, total); err != nil {
		return nil, fmt.Errorf("cancel pre-check failed: %w", err)
	}
	batch := jg.newBatch(eventRef, timestamp, 2)
	if penalty.Sign() > 0 {
		jg.addJournal(batch,
			NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, collateralAssetID),
			src,
			collateralAssetID, penalty, JournalTypeCancelPenalty)
	}
	if returned.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(borrower, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, returned, JournalTypeCollateralWithdrawal)
	}
	jg.sequence++
	return batch, nil
}

// GeneratePoolLiquidation seizes pool collateral on default: reward to
// the liquidator's savings, remainder into the lender-claimable pot.
func (jg *JournalGenerator) GeneratePoolLiquidation(
	poolID, liquidator uuid.UUID, collateralAssetID AssetID, seized, reward *big.Int,
	eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeCollateral, collateralAssetID)
	if err := jg.balanceTracker.ValidateSufficient(src, seized); err != nil {
		return nil, fmt.Errorf("pool liquidation pre-check failed: %w", err)
	}

	remainder := new(big.Int).Sub(seized, reward)
	batch := jg.newBatch(eventRef, timestamp, 2)
	if reward.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(liquidator, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, reward, JournalTypeLiquidatorReward)
	}
	if remainder.Sign() > 0 {
		jg.addJournal(batch,
			NewInstanceAccountKey(PoolEntityID(poolID), SubTypeLent, collateralAssetID),
			src,
			collateralAssetID, remainder, JournalTypeLiquidationTransfer)
	}
	jg.sequence++
	return batch, nil
}

// GenerateLenderLiquidation pays out one lender's collateral share
// after an unanswered margin call: reward to the liquidator's savings,
// the rest to the lender's savings.
func (jg *JournalGenerator) GenerateLenderLiquidation(
	poolID, lender, liquidator uuid.UUID, collateralAssetID AssetID,
	seized, reward *big.Int, eventRef string, timestamp int64,
) (*Batch, error) {
	src := NewInstanceAccountKey(PoolEntityID(poolID), SubTypeCollateral, collateralAssetID)
	if err := jg.balanceTracker.ValidateSufficient(src, seized); err != nil {
		return nil, fmt.Errorf("lender liquidation pre-check failed: %w", err)
	}

	remainder := new(big.Int).Sub(seized, reward)
	batch := jg.newBatch(eventRef, timestamp, 2)
	if reward.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(liquidator, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, reward, JournalTypeLiquidatorReward)
	}
	if remainder.Sign() > 0 {
		jg.addJournal(batch,
			NewUserAccountKey(lender, SubTypeSavings, collateralAssetID),
			src,
			collateralAssetID, remainder, JournalTypeLiquidationTransfer)
	}
	jg.sequence++
	return batch, nil
}
