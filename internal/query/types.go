package query

import (
	"math/big"

	"github.com/google/uuid"
)

// CreditLineResponse is the full live view of one credit line,
// including derived values computed at query time.
type CreditLineResponse struct {
	LineID          uint64    `json:"line_id"`
	Lender          uuid.UUID `json:"lender"`
	Borrower        uuid.UUID `json:"borrower"`
	Status          string    `json:"status"`
	BorrowAsset     string    `json:"borrow_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	BorrowLimit     *big.Int  `json:"borrow_limit"`
	BorrowRate      *big.Int  `json:"borrow_rate"`
	IdealRatio      *big.Int  `json:"ideal_ratio"`
	AutoLiquidation bool      `json:"auto_liquidation"`

	Principal        *big.Int `json:"principal"`
	InterestAccrued  *big.Int `json:"interest_accrued"`
	Debt             *big.Int `json:"debt"`
	CollateralTokens *big.Int `json:"collateral_tokens"`

	// Derived against the oracle; nil when no usable price feed.
	CollateralRatio *big.Int `json:"collateral_ratio,omitempty"`
	Borrowable      *big.Int `json:"borrowable,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PoolConstantsResponse holds the immutable parameters of a pool.
type PoolConstantsResponse struct {
	PoolID                 uuid.UUID `json:"pool_id"`
	Borrower               uuid.UUID `json:"borrower"`
	BorrowAsset            string    `json:"borrow_asset"`
	CollateralAsset        string    `json:"collateral_asset"`
	Strategy               string    `json:"strategy"`
	PoolSize               *big.Int  `json:"pool_size"`
	BorrowRate             *big.Int  `json:"borrow_rate"`
	IdealRatio             *big.Int  `json:"ideal_ratio"`
	MinBorrowFraction      *big.Int  `json:"min_borrow_fraction"`
	CollectionPeriod       int64     `json:"collection_period"`
	LoanWithdrawalDuration int64     `json:"loan_withdrawal_duration"`
	RepaymentInterval      int64     `json:"repayment_interval"`
	NoOfRepaymentIntervals int64     `json:"no_of_repayment_intervals"`
	CreatedAt              int64     `json:"created_at"`
	LoanStartTime          int64     `json:"loan_start_time"`
	LoanWithdrawalDeadline int64     `json:"loan_withdrawal_deadline"`
}

// PoolVariablesResponse holds the mutable state of a pool plus
// derived values computed at query time.
type PoolVariablesResponse struct {
	PoolID               uuid.UUID `json:"pool_id"`
	Status               string    `json:"status"`
	Borrowed             bool      `json:"borrowed"`
	TotalSupply          *big.Int  `json:"total_supply"`
	PrincipalOutstanding *big.Int  `json:"principal_outstanding"`
	InterestOutstanding  *big.Int  `json:"interest_outstanding"`
	Debt                 *big.Int  `json:"debt"`
	BorrowAssetPot       *big.Int  `json:"borrow_asset_pot"`
	CollateralPot        *big.Int  `json:"collateral_pot"`
	CollateralTokens     *big.Int  `json:"collateral_tokens"`

	// Derived against the oracle; nil when no usable price feed.
	CollateralRatio *big.Int `json:"collateral_ratio,omitempty"`

	NextInstalmentDeadline int64            `json:"next_instalment_deadline"`
	ScheduleComplete       bool             `json:"schedule_complete"`
	MarginCalls            []MarginCallInfo `json:"margin_calls,omitempty"`
	Extension              *ExtensionInfo   `json:"extension,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// MarginCallInfo is one open margin call.
type MarginCallInfo struct {
	Lender      uuid.UUID `json:"lender"`
	RequestedAt int64     `json:"requested_at"`
	Deadline    int64     `json:"deadline"`
}

// ExtensionInfo is the state of an extension vote.
type ExtensionInfo struct {
	VoteEndTime int64    `json:"vote_end_time"`
	VotingPower *big.Int `json:"voting_power"`
	Passed      bool     `json:"passed"`
	ActiveUntil int64    `json:"active_until,omitempty"`
}

// SavingsBalanceResponse is a user's savings position in one asset.
type SavingsBalanceResponse struct {
	UserID       uuid.UUID      `json:"user_id"`
	Asset        string         `json:"asset"`
	TotalTokens  *big.Int       `json:"total_tokens"`
	Strategies   []StrategyHold `json:"strategies,omitempty"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// StrategyHold is the share balance in one strategy.
type StrategyHold struct {
	Strategy string   `json:"strategy"`
	Shares   *big.Int `json:"shares"`
	Tokens   *big.Int `json:"tokens"`
}

// LenderBalanceResponse is a lender's pool token balance.
type LenderBalanceResponse struct {
	PoolID       uuid.UUID `json:"pool_id"`
	Lender       uuid.UUID `json:"lender"`
	Balance      *big.Int  `json:"balance"`
	TotalSupply  *big.Int  `json:"total_supply"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CreditLineSummary is a projected credit line row for listings.
type CreditLineSummary struct {
	LineID          uint64    `json:"line_id"`
	Lender          uuid.UUID `json:"lender"`
	Borrower        uuid.UUID `json:"borrower"`
	Status          string    `json:"status"`
	BorrowAsset     string    `json:"borrow_asset"`
	CollateralAsset string    `json:"collateral_asset"`
	BorrowLimit     string    `json:"borrow_limit"`
	Principal       string    `json:"principal"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// PoolSummary is a projected pool row for listings.
type PoolSummary struct {
	PoolID               uuid.UUID `json:"pool_id"`
	Borrower             uuid.UUID `json:"borrower"`
	Status               string    `json:"status"`
	BorrowAsset          string    `json:"borrow_asset"`
	CollateralAsset      string    `json:"collateral_asset"`
	PoolSize             string    `json:"pool_size"`
	TotalSupply          string    `json:"total_supply"`
	PrincipalOutstanding string    `json:"principal_outstanding"`
	AsOfSequence         int64     `json:"as_of_sequence"`
}

// RepaymentHistoryEntry is one settled repayment or penalty.
type RepaymentHistoryEntry struct {
	InstanceID string `json:"instance_id"`
	EventType  string `json:"event_type"`
	Amount     string `json:"amount"`
	AssetID    uint16 `json:"asset_id"`
	Sequence   int64  `json:"sequence"`
	Timestamp  int64  `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
