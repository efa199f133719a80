package event

import (
	"math/big"

	"github.com/google/uuid"
)

// CreditLineRequest asks for a new line between lender and borrower.
// The requester can be either side; the counter-party accepts.
type CreditLineRequest struct {
	OperationID     uuid.UUID
	Requester       uuid.UUID
	Lender          uuid.UUID
	Borrower        uuid.UUID
	BorrowLimit     *big.Int
	BorrowRate      *big.Int // Scale-scaled, yearly
	CollateralRatio *big.Int // Scale-scaled ideal ratio
	BorrowAsset     string
	CollateralAsset string
	AutoLiquidation bool
	RequestAsLender bool
	Timestamp       int64
	Sequence        int64
}

func (e *CreditLineRequest) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineRequest) EventType() EventType   { return EventTypeCreditLineRequested }
func (e *CreditLineRequest) InstanceID() *string    { return nil } // no line id until applied
func (e *CreditLineRequest) SourceSequence() int64  { return e.Sequence }

type CreditLineAccept struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *CreditLineAccept) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineAccept) EventType() EventType   { return EventTypeCreditLineAccepted }
func (e *CreditLineAccept) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CreditLineAccept) SourceSequence() int64  { return e.Sequence }

type CollateralDeposit struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Amount      *big.Int
	Strategy    string
	FromSavings bool
	Timestamp   int64
	Sequence    int64
}

func (e *CollateralDeposit) IdempotencyKey() string { return e.OperationID.String() }
func (e *CollateralDeposit) EventType() EventType   { return EventTypeCollateralDeposited }
func (e *CollateralDeposit) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CollateralDeposit) SourceSequence() int64  { return e.Sequence }

type CreditLineBorrow struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Amount      *big.Int
	Timestamp   int64
	Sequence    int64
}

func (e *CreditLineBorrow) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineBorrow) EventType() EventType   { return EventTypeCreditLineBorrowed }
func (e *CreditLineBorrow) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CreditLineBorrow) SourceSequence() int64  { return e.Sequence }

type CreditLineRepay struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Amount      *big.Int
	FromSavings bool
	Timestamp   int64
	Sequence    int64
}

func (e *CreditLineRepay) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineRepay) EventType() EventType   { return EventTypeCreditLineRepaid }
func (e *CreditLineRepay) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CreditLineRepay) SourceSequence() int64  { return e.Sequence }

type CollateralWithdraw struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Amount      *big.Int
	ToSavings   bool
	Timestamp   int64
	Sequence    int64
}

func (e *CollateralWithdraw) IdempotencyKey() string { return e.OperationID.String() }
func (e *CollateralWithdraw) EventType() EventType   { return EventTypeCollateralWithdrawn }
func (e *CollateralWithdraw) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CollateralWithdraw) SourceSequence() int64  { return e.Sequence }

type CreditLineClose struct {
	OperationID uuid.UUID
	LineID      uint64
	Caller      uuid.UUID
	Timestamp   int64
	Sequence    int64
}

func (e *CreditLineClose) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineClose) EventType() EventType   { return EventTypeCreditLineClosed }
func (e *CreditLineClose) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CreditLineClose) SourceSequence() int64  { return e.Sequence }

type CreditLineLiquidate struct {
	OperationID        uuid.UUID
	LineID             uint64
	Caller             uuid.UUID
	WithdrawCollateral bool
	Timestamp          int64
	Sequence           int64
}

func (e *CreditLineLiquidate) IdempotencyKey() string { return e.OperationID.String() }
func (e *CreditLineLiquidate) EventType() EventType   { return EventTypeCreditLineLiquidated }
func (e *CreditLineLiquidate) InstanceID() *string    { return CreditLineInstance(e.LineID) }
func (e *CreditLineLiquidate) SourceSequence() int64  { return e.Sequence }
