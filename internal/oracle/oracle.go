package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"CredLedger/internal/fixedpoint"
)

var (
	ErrFeedNotRegistered = errors.New("oracle: no price feed registered for pair")
	ErrZeroPrice         = errors.New("oracle: feed returned zero price")
	ErrStalePrice        = errors.New("oracle: feed price is stale")
)

// Feed is one price entry: the price of one unit of the base asset in
// quote-asset terms, scaled by 10^Decimals.
type Feed struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt int64 // unix seconds of last update
}

type pairKey struct {
	base  string
	quote string
}

// Oracle is the process-wide feed table. Admin updates replace whole
// entries; Snapshot hands readers an immutable copy so a transaction
// never sees a half-written feed.
type Oracle struct {
	mu      sync.RWMutex
	feeds   map[pairKey]Feed
	version uint64
	maxAge  int64 // 0 disables staleness checks
}

func New(maxAge int64) *Oracle {
	return &Oracle{
		feeds:  make(map[pairKey]Feed),
		maxAge: maxAge,
	}
}

// SetFeed registers or updates the price for base/quote. Zero and
// negative prices are rejected outright rather than stored.
func (o *Oracle) SetFeed(base, quote string, price *big.Int, decimals uint8, now int64) error {
	if base == quote {
		return fmt.Errorf("oracle: base and quote are the same asset %q", base)
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}
	o.mu.Lock()
	o.feeds[pairKey{base, quote}] = Feed{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		UpdatedAt: now,
	}
	o.version++
	o.mu.Unlock()
	return nil
}

// HasFeed reports whether a feed exists in both directions, which is
// what credit line and pool creation require.
func (o *Oracle) HasFeed(a, b string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, fwd := o.feeds[pairKey{a, b}]
	_, rev := o.feeds[pairKey{b, a}]
	return fwd && rev
}

func (o *Oracle) Version() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.version
}

// FeedEntry is one flattened feed row, used by snapshots.
type FeedEntry struct {
	Base      string
	Quote     string
	Price     *big.Int
	Decimals  uint8
	UpdatedAt int64
}

// Feeds dumps every feed, sorted for deterministic snapshots.
func (o *Oracle) Feeds() []FeedEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]FeedEntry, 0, len(o.feeds))
	for k, f := range o.feeds {
		out = append(out, FeedEntry{
			Base:      k.base,
			Quote:     k.quote,
			Price:     new(big.Int).Set(f.Price),
			Decimals:  f.Decimals,
			UpdatedAt: f.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base != out[j].Base {
			return out[i].Base < out[j].Base
		}
		return out[i].Quote < out[j].Quote
	})
	return out
}

// RestoreFeeds replaces the feed table from a snapshot dump.
func (o *Oracle) RestoreFeeds(entries []FeedEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feeds = make(map[pairKey]Feed, len(entries))
	for _, e := range entries {
		o.feeds[pairKey{e.Base, e.Quote}] = Feed{
			Price:     new(big.Int).Set(e.Price),
			Decimals:  e.Decimals,
			UpdatedAt: e.UpdatedAt,
		}
	}
	o.version++
}

// Snapshot is a point-in-time copy of the feed table. All reads during
// one engine operation go through a single snapshot.
type Snapshot struct {
	feeds   map[pairKey]Feed
	version uint64
	maxAge  int64
	now     int64
}

func (o *Oracle) Snapshot(now int64) *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	feeds := make(map[pairKey]Feed, len(o.feeds))
	for k, v := range o.feeds {
		feeds[k] = v
	}
	return &Snapshot{feeds: feeds, version: o.version, maxAge: o.maxAge, now: now}
}

func (s *Snapshot) Version() uint64 { return s.version }

// LatestPrice fails closed: a missing, zero or stale feed is an error,
// never a silently-wrong price.
func (s *Snapshot) LatestPrice(base, quote string) (Feed, error) {
	f, ok := s.feeds[pairKey{base, quote}]
	if !ok {
		return Feed{}, fmt.Errorf("%w: %s/%s", ErrFeedNotRegistered, base, quote)
	}
	if f.Price.Sign() <= 0 {
		return Feed{}, fmt.Errorf("%w: %s/%s", ErrZeroPrice, base, quote)
	}
	if s.maxAge > 0 && s.now-f.UpdatedAt > s.maxAge {
		return Feed{}, fmt.Errorf("%w: %s/%s updated at %d", ErrStalePrice, base, quote, f.UpdatedAt)
	}
	return f, nil
}

// EquivalentTokens converts amountIn of assetIn into assetOut units at
// the registered price, rounding down. Floor rounding on every
// conversion means round-tripping can only lose dust, never mint it.
func (s *Snapshot) EquivalentTokens(assetIn, assetOut string, amountIn *big.Int) (*big.Int, error) {
	if amountIn.Sign() == 0 {
		return new(big.Int), nil
	}
	f, err := s.LatestPrice(assetIn, assetOut)
	if err != nil {
		return nil, err
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(f.Decimals)), nil)
	return fixedpoint.MulDiv(amountIn, f.Price, denom, fixedpoint.RoundDown), nil
}
