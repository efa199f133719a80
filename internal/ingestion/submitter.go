package ingestion

import (
	"CredLedger/internal/event"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Submitter provides admin/manual event injection for the HTTP API.
// This path is for operator actions and low-volume client submits,
// not for high-throughput ingestion (use NATS for that).
type Submitter struct {
	eventChan chan<- event.Event
}

func NewSubmitter(eventChan chan<- event.Event) *Submitter {
	return &Submitter{eventChan: eventChan}
}

// Submit queues a typed event for the core, honoring ctx cancellation.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPriceFeed manually injects a price observation.
// Admin-injected feeds use the wall-clock microsecond as the feed
// sequence when the caller passes sequence <= 0.
func (s *Submitter) InjectPriceFeed(
	ctx context.Context,
	baseAsset, quoteAsset string,
	price *big.Int,
	decimals uint8,
	sequence int64,
) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if sequence <= 0 {
		sequence = time.Now().UnixMicro()
	}

	evt := &event.PriceFeedUpdate{
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
		Price:      price,
		Decimals:   decimals,
		Timestamp:  time.Now().Unix(),
		Sequence:   sequence,
	}
	return s.Submit(ctx, evt)
}

// InjectExchangeRate manually injects a strategy exchange rate.
func (s *Submitter) InjectExchangeRate(
	ctx context.Context,
	strategyID, asset string,
	rate *big.Int,
	sequence int64,
) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	if sequence <= 0 {
		sequence = time.Now().UnixMicro()
	}

	evt := &event.ExchangeRateUpdate{
		Strategy:  strategyID,
		Asset:     asset,
		Rate:      rate,
		Timestamp: time.Now().Unix(),
		Sequence:  sequence,
	}
	return s.Submit(ctx, evt)
}

// InjectSavingsDeposit credits a user's savings custody out of band,
// e.g. to reconcile an on-chain transfer the feed missed.
func (s *Submitter) InjectSavingsDeposit(
	ctx context.Context,
	account uuid.UUID,
	asset, strategyID string,
	amount *big.Int,
) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.SavingsDeposit{
		OperationID: uuid.New(),
		Account:     account,
		Asset:       asset,
		Strategy:    strategyID,
		Amount:      amount,
		Timestamp:   time.Now().Unix(),
		Sequence:    time.Now().UnixMicro(),
	}
	return s.Submit(ctx, evt)
}
