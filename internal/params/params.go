package params

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"CredLedger/internal/fixedpoint"
)

// ProtocolParams holds the protocol-wide economic parameters. Fractions
// and ratios are Scale-scaled, durations are seconds.
type ProtocolParams struct {
	ProtocolFeeFraction       *big.Int  // deducted from every borrow disbursement
	ProtocolFeeCollector      uuid.UUID // account credited with protocol fees
	LiquidatorRewardFraction  *big.Int  // carved from seized collateral
	PoolCancelPenaltyFraction *big.Int  // feeds the cancellation penalty formula
	VotingPassRatio           *big.Int  // extension passes above this fraction of supply
	LiquidationThreshold      *big.Int  // minimum collateral ratio accepted at request time
	MarginCallDuration        int64     // window the borrower has to answer a margin call
	ExtensionVoteDuration     int64     // voting window for a loan extension
	GracePeriodFraction       *big.Int  // fraction of a repayment interval past the deadline
	GracePenaltyRate          *big.Int  // yearly penalty rate applied during grace
	PriceMaxAge               int64     // oracle feeds older than this are rejected
}

// DefaultParams mirror the protocol's launch configuration.
func DefaultParams() *ProtocolParams {
	return &ProtocolParams{
		ProtocolFeeFraction:       fixedpoint.FromPercent(1),   // 1%
		ProtocolFeeCollector:      uuid.Nil,                    // set via config
		LiquidatorRewardFraction:  fixedpoint.FromPercent(5),   // 5%
		PoolCancelPenaltyFraction: fixedpoint.FromPercent(10),  // 10%
		VotingPassRatio:           fixedpoint.FromPercent(50),  // majority
		LiquidationThreshold:      fixedpoint.FromPercent(100), // 100%
		MarginCallDuration:        3 * 24 * 60 * 60,
		ExtensionVoteDuration:     2 * 24 * 60 * 60,
		GracePeriodFraction:       fixedpoint.FromPercent(10),
		GracePenaltyRate:          fixedpoint.FromPercent(10),
		PriceMaxAge:               60 * 60,
	}
}

// Validate checks the parameters are in range: every fraction in
// (0, Scale], ratios > 0, durations > 0.
func Validate(p *ProtocolParams) error {
	if err := validateFraction("protocol_fee_fraction", p.ProtocolFeeFraction); err != nil {
		return err
	}
	if err := validateFraction("liquidator_reward_fraction", p.LiquidatorRewardFraction); err != nil {
		return err
	}
	if err := validateFraction("pool_cancel_penalty_fraction", p.PoolCancelPenaltyFraction); err != nil {
		return err
	}
	if err := validateFraction("voting_pass_ratio", p.VotingPassRatio); err != nil {
		return err
	}
	if err := validateFraction("grace_period_fraction", p.GracePeriodFraction); err != nil {
		return err
	}
	if p.GracePenaltyRate == nil || p.GracePenaltyRate.Sign() < 0 {
		return fmt.Errorf("grace_penalty_rate must be >= 0")
	}
	if p.LiquidationThreshold == nil || p.LiquidationThreshold.Sign() <= 0 {
		return fmt.Errorf("liquidation_threshold must be > 0")
	}
	if p.MarginCallDuration <= 0 {
		return fmt.Errorf("margin_call_duration must be > 0, got %d", p.MarginCallDuration)
	}
	if p.ExtensionVoteDuration <= 0 {
		return fmt.Errorf("extension_vote_duration must be > 0, got %d", p.ExtensionVoteDuration)
	}
	if p.PriceMaxAge <= 0 {
		return fmt.Errorf("price_max_age must be > 0, got %d", p.PriceMaxAge)
	}
	return nil
}

func validateFraction(name string, f *big.Int) error {
	if f == nil || f.Sign() < 0 {
		return fmt.Errorf("%s must be >= 0", name)
	}
	if f.Cmp(fixedpoint.Scale) > 0 {
		return fmt.Errorf("%s must be <= 100%%, got %s", name, f)
	}
	return nil
}

// Manager holds the live parameter set. Admin updates swap the whole
// struct; readers take a snapshot at the start of each operation and
// never observe a partial update.
type Manager struct {
	mu      sync.RWMutex
	current *ProtocolParams
	version uint64
}

func NewManager(p *ProtocolParams) (*Manager, error) {
	if err := Validate(p); err != nil {
		return nil, fmt.Errorf("invalid protocol params: %w", err)
	}
	return &Manager{current: p, version: 1}, nil
}

// Snapshot returns the current parameter set. The returned struct is
// never mutated after publication.
func (m *Manager) Snapshot() *ProtocolParams {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Update replaces the parameter set after validation.
func (m *Manager) Update(p *ProtocolParams) error {
	if err := Validate(p); err != nil {
		return fmt.Errorf("invalid protocol params: %w", err)
	}
	m.mu.Lock()
	m.current = p
	m.version++
	m.mu.Unlock()
	return nil
}
