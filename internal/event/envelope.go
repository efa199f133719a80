package event

import (
	"strconv"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Credit line transitions
	EventTypeCreditLineRequested
	EventTypeCreditLineAccepted
	EventTypeCollateralDeposited
	EventTypeCreditLineBorrowed
	EventTypeCreditLineRepaid
	EventTypeCollateralWithdrawn
	EventTypeCreditLineClosed
	EventTypeCreditLineLiquidated

	// Pool transitions
	EventTypePoolCreated
	EventTypeLiquiditySupplied
	EventTypeBorrowedAmountWithdrawn
	EventTypeLiquidityWithdrawn
	EventTypePoolCancelled
	EventTypePoolTerminated
	EventTypePoolRepaid
	EventTypeMarginCallRequested
	EventTypeMarginCallAnswered
	EventTypeExtensionRequested
	EventTypeExtensionVoted
	EventTypeLenderLiquidated
	EventTypePoolLiquidated

	// Savings custody
	EventTypeSavingsDeposited
	EventTypeSavingsWithdrawn

	// External feeds
	EventTypePriceFeedUpdated
	EventTypeExchangeRateUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Instance context: "creditline:<id>" or "pool:<uuid>"
	// (nil for global events such as feed updates)
	InstanceID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// InstanceID returns the instance context (nil for global events)
	InstanceID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeCreditLineRequested:
		return "CreditLineRequested"
	case EventTypeCreditLineAccepted:
		return "CreditLineAccepted"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCreditLineBorrowed:
		return "CreditLineBorrowed"
	case EventTypeCreditLineRepaid:
		return "CreditLineRepaid"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeCreditLineClosed:
		return "CreditLineClosed"
	case EventTypeCreditLineLiquidated:
		return "CreditLineLiquidated"
	case EventTypePoolCreated:
		return "PoolCreated"
	case EventTypeLiquiditySupplied:
		return "LiquiditySupplied"
	case EventTypeBorrowedAmountWithdrawn:
		return "BorrowedAmountWithdrawn"
	case EventTypeLiquidityWithdrawn:
		return "LiquidityWithdrawn"
	case EventTypePoolCancelled:
		return "PoolCancelled"
	case EventTypePoolTerminated:
		return "PoolTerminated"
	case EventTypePoolRepaid:
		return "PoolRepaid"
	case EventTypeMarginCallRequested:
		return "MarginCallRequested"
	case EventTypeMarginCallAnswered:
		return "MarginCallAnswered"
	case EventTypeExtensionRequested:
		return "ExtensionRequested"
	case EventTypeExtensionVoted:
		return "ExtensionVoted"
	case EventTypeLenderLiquidated:
		return "LenderLiquidated"
	case EventTypePoolLiquidated:
		return "PoolLiquidated"
	case EventTypeSavingsDeposited:
		return "SavingsDeposited"
	case EventTypeSavingsWithdrawn:
		return "SavingsWithdrawn"
	case EventTypePriceFeedUpdated:
		return "PriceFeedUpdated"
	case EventTypeExchangeRateUpdated:
		return "ExchangeRateUpdated"
	default:
		return "Unknown"
	}
}

// CreditLineInstance formats the partition key for a credit line.
func CreditLineInstance(lineID uint64) *string {
	s := "creditline:" + strconv.FormatUint(lineID, 10)
	return &s
}

// PoolInstance formats the partition key for a pool.
func PoolInstance(poolID string) *string {
	s := "pool:" + poolID
	return &s
}
