package event

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// PriceFeedUpdate carries one oracle price observation for an ordered
// asset pair. Feed gaps are tolerated; only regressions are rejected.
type PriceFeedUpdate struct {
	BaseAsset  string
	QuoteAsset string
	Price      *big.Int
	Decimals   uint8
	Timestamp  int64
	Sequence   int64
}

func (e *PriceFeedUpdate) IdempotencyKey() string {
	return fmt.Sprintf("price:%s:%s:%d", e.BaseAsset, e.QuoteAsset, e.Sequence)
}

func (e *PriceFeedUpdate) EventType() EventType  { return EventTypePriceFeedUpdated }
func (e *PriceFeedUpdate) InstanceID() *string   { return nil } // global
func (e *PriceFeedUpdate) SourceSequence() int64 { return e.Sequence }

// ExchangeRateUpdate moves a compounding strategy's tokens-per-share
// index for one asset.
type ExchangeRateUpdate struct {
	Strategy  string
	Asset     string
	Rate      *big.Int // Scale-scaled tokens per share
	Timestamp int64
	Sequence  int64
}

func (e *ExchangeRateUpdate) IdempotencyKey() string {
	return fmt.Sprintf("rate:%s:%s:%d", e.Strategy, e.Asset, e.Sequence)
}

func (e *ExchangeRateUpdate) EventType() EventType  { return EventTypeExchangeRateUpdated }
func (e *ExchangeRateUpdate) InstanceID() *string   { return nil } // global
func (e *ExchangeRateUpdate) SourceSequence() int64 { return e.Sequence }

// SavingsDeposit funds a user's shared savings custody.
type SavingsDeposit struct {
	OperationID uuid.UUID
	Account     uuid.UUID
	Asset       string
	Strategy    string
	Amount      *big.Int
	Timestamp   int64
	Sequence    int64
}

func (e *SavingsDeposit) IdempotencyKey() string { return e.OperationID.String() }
func (e *SavingsDeposit) EventType() EventType   { return EventTypeSavingsDeposited }
func (e *SavingsDeposit) InstanceID() *string    { return nil }
func (e *SavingsDeposit) SourceSequence() int64  { return e.Sequence }

// SavingsWithdraw pulls tokens back out of savings custody, fanning
// out across strategies when no single strategy is named.
type SavingsWithdraw struct {
	OperationID uuid.UUID
	Account     uuid.UUID
	Asset       string
	Strategy    string // empty: allocate proportionally across strategies
	Amount      *big.Int
	Timestamp   int64
	Sequence    int64
}

func (e *SavingsWithdraw) IdempotencyKey() string { return e.OperationID.String() }
func (e *SavingsWithdraw) EventType() EventType   { return EventTypeSavingsWithdrawn }
func (e *SavingsWithdraw) InstanceID() *string    { return nil }
func (e *SavingsWithdraw) SourceSequence() int64  { return e.Sequence }
