package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"CredLedger/internal/fixedpoint"
)

// ID names a yield strategy.
type ID string

const (
	// NoYieldID holds tokens 1:1 with no yield.
	NoYieldID ID = "no_yield"
	// CompoundingID accrues yield through a growing exchange-rate index.
	CompoundingID ID = "compounding"
)

var (
	ErrUnknownStrategy = errors.New("strategy: not whitelisted")
	ErrRateRegression  = errors.New("strategy: exchange rate cannot decrease")
)

// Strategy converts between underlying tokens and yield-bearing shares.
// Conversions are pure at a given exchange rate and always floor, so a
// deposit/withdraw cycle can only lose rounding dust.
type Strategy interface {
	ID() ID
	SharesForTokens(asset string, tokens *big.Int) *big.Int
	TokensForShares(asset string, shares *big.Int) *big.Int
}

// NoYield is the identity strategy: one share per token.
type NoYield struct{}

func (NoYield) ID() ID { return NoYieldID }

func (NoYield) SharesForTokens(_ string, tokens *big.Int) *big.Int {
	return new(big.Int).Set(tokens)
}

func (NoYield) TokensForShares(_ string, shares *big.Int) *big.Int {
	return new(big.Int).Set(shares)
}

// Compounding tracks a per-asset exchange-rate index (Scale-scaled
// tokens per share). The index starts at 1.0 and only moves up, fed by
// exchange-rate events from the yield market.
type Compounding struct {
	mu    sync.RWMutex
	index map[string]*big.Int
}

func NewCompounding() *Compounding {
	return &Compounding{index: make(map[string]*big.Int)}
}

func (*Compounding) ID() ID { return CompoundingID }

func (c *Compounding) rate(asset string) *big.Int {
	if r, ok := c.index[asset]; ok {
		return r
	}
	return fixedpoint.Scale
}

// SetExchangeRate updates the tokens-per-share index for asset.
func (c *Compounding) SetExchangeRate(asset string, rate *big.Int) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("strategy: exchange rate must be > 0 for %s", asset)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.index[asset]; ok && rate.Cmp(cur) < 0 {
		return fmt.Errorf("%w: %s %s -> %s", ErrRateRegression, asset, cur, rate)
	}
	c.index[asset] = new(big.Int).Set(rate)
	return nil
}

func (c *Compounding) ExchangeRate(asset string) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.rate(asset))
}

// ExchangeRates dumps the full per-asset index, used by snapshots.
func (c *Compounding) ExchangeRates() map[string]*big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*big.Int, len(c.index))
	for asset, r := range c.index {
		out[asset] = new(big.Int).Set(r)
	}
	return out
}

// RestoreExchangeRates replaces the index from a snapshot dump.
func (c *Compounding) RestoreExchangeRates(rates map[string]*big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*big.Int, len(rates))
	for asset, r := range rates {
		c.index[asset] = new(big.Int).Set(r)
	}
}

func (c *Compounding) SharesForTokens(asset string, tokens *big.Int) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fixedpoint.MulDiv(tokens, fixedpoint.Scale, c.rate(asset), fixedpoint.RoundDown)
}

func (c *Compounding) TokensForShares(asset string, shares *big.Int) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fixedpoint.MulDiv(shares, c.rate(asset), fixedpoint.Scale, fixedpoint.RoundDown)
}
