package event

import (
	"math/big"

	"github.com/google/uuid"
)

// PoolCreate carries the full pool parameter set. PoolID is chosen by
// the submitter (factory) so retries stay idempotent.
type PoolCreate struct {
	OperationID            uuid.UUID
	PoolID                 uuid.UUID
	Borrower               uuid.UUID
	PoolSize               *big.Int
	BorrowRate             *big.Int
	IdealCollateralRatio   *big.Int
	MinBorrowFraction      *big.Int
	CollateralAmount       *big.Int // initial collateral locked by the borrower
	BorrowAsset            string
	CollateralAsset        string
	Strategy               string
	FromSavings            bool
	CollectionPeriod       int64
	LoanWithdrawalDuration int64
	RepaymentInterval      int64
	NoOfRepaymentIntervals int64
	Timestamp              int64
	Sequence               int64
}

func (e *PoolCreate) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolCreate) EventType() EventType   { return EventTypePoolCreated }
func (e *PoolCreate) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolCreate) SourceSequence() int64  { return e.Sequence }

type PoolLend struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Receiver    uuid.UUID // pool tokens minted to this account
	Amount      *big.Int
	FromSavings bool
	Timestamp   int64
	Sequence    int64
}

func (e *PoolLend) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolLend) EventType() EventType   { return EventTypeLiquiditySupplied }
func (e *PoolLend) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolLend) SourceSequence() int64  { return e.Sequence }

type PoolWithdrawBorrowed struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *PoolWithdrawBorrowed) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolWithdrawBorrowed) EventType() EventType   { return EventTypeBorrowedAmountWithdrawn }
func (e *PoolWithdrawBorrowed) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolWithdrawBorrowed) SourceSequence() int64  { return e.Sequence }

type PoolWithdrawLiquidity struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *PoolWithdrawLiquidity) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolWithdrawLiquidity) EventType() EventType   { return EventTypeLiquidityWithdrawn }
func (e *PoolWithdrawLiquidity) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolWithdrawLiquidity) SourceSequence() int64  { return e.Sequence }

type PoolCancel struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *PoolCancel) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolCancel) EventType() EventType   { return EventTypePoolCancelled }
func (e *PoolCancel) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolCancel) SourceSequence() int64  { return e.Sequence }

type PoolTerminate struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *PoolTerminate) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolTerminate) EventType() EventType   { return EventTypePoolTerminated }
func (e *PoolTerminate) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolTerminate) SourceSequence() int64  { return e.Sequence }

type PoolRepay struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Amount      *big.Int
	FromSavings bool
	Timestamp   int64
	Sequence    int64
}

func (e *PoolRepay) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolRepay) EventType() EventType   { return EventTypePoolRepaid }
func (e *PoolRepay) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolRepay) SourceSequence() int64  { return e.Sequence }

type MarginCallRequest struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID // the lender raising the call
	Timestamp   int64
	Sequence    int64
}

func (e *MarginCallRequest) IdempotencyKey() string { return e.OperationID.String() }
func (e *MarginCallRequest) EventType() EventType   { return EventTypeMarginCallRequested }
func (e *MarginCallRequest) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *MarginCallRequest) SourceSequence() int64  { return e.Sequence }

// MarginCallAnswer tops up collateral earmarked against one lender's
// open margin call.
type MarginCallAnswer struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Lender      uuid.UUID
	Amount      *big.Int
	FromSavings bool
	Timestamp   int64
	Sequence    int64
}

func (e *MarginCallAnswer) IdempotencyKey() string { return e.OperationID.String() }
func (e *MarginCallAnswer) EventType() EventType   { return EventTypeMarginCallAnswered }
func (e *MarginCallAnswer) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *MarginCallAnswer) SourceSequence() int64  { return e.Sequence }

type ExtensionRequest struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *ExtensionRequest) IdempotencyKey() string { return e.OperationID.String() }
func (e *ExtensionRequest) EventType() EventType   { return EventTypeExtensionRequested }
func (e *ExtensionRequest) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *ExtensionRequest) SourceSequence() int64  { return e.Sequence }

type ExtensionVote struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *ExtensionVote) IdempotencyKey() string { return e.OperationID.String() }
func (e *ExtensionVote) EventType() EventType   { return EventTypeExtensionVoted }
func (e *ExtensionVote) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *ExtensionVote) SourceSequence() int64  { return e.Sequence }

type LenderLiquidation struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Lender      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *LenderLiquidation) IdempotencyKey() string { return e.OperationID.String() }
func (e *LenderLiquidation) EventType() EventType   { return EventTypeLenderLiquidated }
func (e *LenderLiquidation) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *LenderLiquidation) SourceSequence() int64  { return e.Sequence }

type PoolLiquidation struct {
	OperationID uuid.UUID
	PoolID      uuid.UUID
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *PoolLiquidation) IdempotencyKey() string { return e.OperationID.String() }
func (e *PoolLiquidation) EventType() EventType   { return EventTypePoolLiquidated }
func (e *PoolLiquidation) InstanceID() *string    { return PoolInstance(e.PoolID.String()) }
func (e *PoolLiquidation) SourceSequence() int64  { return e.Sequence }
