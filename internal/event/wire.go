package event

import (
	"encoding/json"
	"fmt"
)

// MarshalWire serializes an event into its wire JSON form: snake_case
// keys, amounts as base-10 decimal strings, uuids in canonical form.
// The output round-trips through the ingestion parser, which is what
// makes the event log replayable.
func MarshalWire(evt Event) ([]byte, error) {
	switch e := evt.(type) {
	case *PriceFeedUpdate:
		return json.Marshal(priceFeedWire{
			BaseAsset:  e.BaseAsset,
			QuoteAsset: e.QuoteAsset,
			Price:      e.Price.String(),
			Decimals:   e.Decimals,
			Timestamp:  e.Timestamp,
			Sequence:   e.Sequence,
		})
	case *ExchangeRateUpdate:
		return json.Marshal(exchangeRateWire{
			Strategy:  e.Strategy,
			Asset:     e.Asset,
			Rate:      e.Rate.String(),
			Timestamp: e.Timestamp,
			Sequence:  e.Sequence,
		})
	case *SavingsDeposit:
		return json.Marshal(savingsWire{
			OperationID: e.OperationID.String(),
			Account:     e.Account.String(),
			Asset:       e.Asset,
			Strategy:    e.Strategy,
			Amount:      e.Amount.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *SavingsWithdraw:
		return json.Marshal(savingsWire{
			OperationID: e.OperationID.String(),
			Account:     e.Account.String(),
			Asset:       e.Asset,
			Strategy:    e.Strategy,
			Amount:      e.Amount.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CreditLineRequest:
		return json.Marshal(creditLineRequestWire{
			OperationID:     e.OperationID.String(),
			Requester:       e.Requester.String(),
			Lender:          e.Lender.String(),
			Borrower:        e.Borrower.String(),
			BorrowLimit:     e.BorrowLimit.String(),
			BorrowRate:      e.BorrowRate.String(),
			CollateralRatio: e.CollateralRatio.String(),
			BorrowAsset:     e.BorrowAsset,
			CollateralAsset: e.CollateralAsset,
			AutoLiquidation: e.AutoLiquidation,
			RequestAsLender: e.RequestAsLender,
			Timestamp:       e.Timestamp,
			Sequence:        e.Sequence,
		})
	case *CreditLineAccept:
		return json.Marshal(lineOpWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CreditLineClose:
		return json.Marshal(lineOpWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CreditLineLiquidate:
		return json.Marshal(lineOpWire{
			OperationID:        e.OperationID.String(),
			LineID:             e.LineID,
			Caller:             e.Caller.String(),
			WithdrawCollateral: e.WithdrawCollateral,
			Timestamp:          e.Timestamp,
			Sequence:           e.Sequence,
		})
	case *CollateralDeposit:
		return json.Marshal(lineAmountWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Amount:      e.Amount.String(),
			Strategy:    e.Strategy,
			FromSavings: e.FromSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CreditLineBorrow:
		return json.Marshal(lineAmountWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Amount:      e.Amount.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CreditLineRepay:
		return json.Marshal(lineAmountWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Amount:      e.Amount.String(),
			FromSavings: e.FromSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *CollateralWithdraw:
		return json.Marshal(lineAmountWire{
			OperationID: e.OperationID.String(),
			LineID:      e.LineID,
			Caller:      e.Caller.String(),
			Amount:      e.Amount.String(),
			ToSavings:   e.ToSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolCreate:
		return json.Marshal(poolCreateWire{
			OperationID:            e.OperationID.String(),
			PoolID:                 e.PoolID.String(),
			Borrower:               e.Borrower.String(),
			PoolSize:               e.PoolSize.String(),
			BorrowRate:             e.BorrowRate.String(),
			IdealCollateralRatio:   e.IdealCollateralRatio.String(),
			MinBorrowFraction:      e.MinBorrowFraction.String(),
			CollateralAmount:       e.CollateralAmount.String(),
			BorrowAsset:            e.BorrowAsset,
			CollateralAsset:        e.CollateralAsset,
			Strategy:               e.Strategy,
			FromSavings:            e.FromSavings,
			CollectionPeriod:       e.CollectionPeriod,
			LoanWithdrawalDuration: e.LoanWithdrawalDuration,
			RepaymentInterval:      e.RepaymentInterval,
			NoOfRepaymentIntervals: e.NoOfRepaymentIntervals,
			Timestamp:              e.Timestamp,
			Sequence:               e.Sequence,
		})
	case *PoolLend:
		return json.Marshal(poolLendWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Receiver:    e.Receiver.String(),
			Amount:      e.Amount.String(),
			FromSavings: e.FromSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolWithdrawBorrowed:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolWithdrawLiquidity:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolCancel:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolTerminate:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolRepay:
		return json.Marshal(poolRepayWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Amount:      e.Amount.String(),
			FromSavings: e.FromSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *MarginCallRequest:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *MarginCallAnswer:
		return json.Marshal(marginCallAnswerWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Lender:      e.Lender.String(),
			Amount:      e.Amount.String(),
			FromSavings: e.FromSavings,
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *ExtensionRequest:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *ExtensionVote:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *LenderLiquidation:
		return json.Marshal(lenderLiquidationWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Lender:      e.Lender.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	case *PoolLiquidation:
		return json.Marshal(poolOpWire{
			OperationID: e.OperationID.String(),
			PoolID:      e.PoolID.String(),
			Caller:      e.Caller.String(),
			Timestamp:   e.Timestamp,
			Sequence:    e.Sequence,
		})
	default:
		return nil, fmt.Errorf("marshal wire: unknown event type %T", evt)
	}
}

// Wire shapes mirror what the ingestion parser reads. Amounts are
// strings; booleans with omitempty only appear when set.

type priceFeedWire struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Price      string `json:"price"`
	Decimals   uint8  `json:"decimals"`
	Timestamp  int64  `json:"timestamp"`
	Sequence   int64  `json:"sequence"`
}

type exchangeRateWire struct {
	Strategy  string `json:"strategy"`
	Asset     string `json:"asset"`
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

type savingsWire struct {
	OperationID string `json:"operation_id"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	Strategy    string `json:"strategy,omitempty"`
	Amount      string `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type creditLineRequestWire struct {
	OperationID     string `json:"operation_id"`
	Requester       string `json:"requester"`
	Lender          string `json:"lender"`
	Borrower        string `json:"borrower"`
	BorrowLimit     string `json:"borrow_limit"`
	BorrowRate      string `json:"borrow_rate"`
	CollateralRatio string `json:"collateral_ratio"`
	BorrowAsset     string `json:"borrow_asset"`
	CollateralAsset string `json:"collateral_asset"`
	AutoLiquidation bool   `json:"auto_liquidation"`
	RequestAsLender bool   `json:"request_as_lender"`
	Timestamp       int64  `json:"timestamp"`
	Sequence        int64  `json:"sequence"`
}

type lineOpWire struct {
	OperationID        string `json:"operation_id"`
	LineID             uint64 `json:"line_id"`
	Caller             string `json:"caller"`
	WithdrawCollateral bool   `json:"withdraw_collateral,omitempty"`
	Timestamp          int64  `json:"timestamp"`
	Sequence           int64  `json:"sequence"`
}

type lineAmountWire struct {
	OperationID string `json:"operation_id"`
	LineID      uint64 `json:"line_id"`
	Caller      string `json:"caller"`
	Amount      string `json:"amount"`
	Strategy    string `json:"strategy,omitempty"`
	FromSavings bool   `json:"from_savings,omitempty"`
	ToSavings   bool   `json:"to_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type poolCreateWire struct {
	OperationID            string `json:"operation_id"`
	PoolID                 string `json:"pool_id"`
	Borrower               string `json:"borrower"`
	PoolSize               string `json:"pool_size"`
	BorrowRate             string `json:"borrow_rate"`
	IdealCollateralRatio   string `json:"ideal_collateral_ratio"`
	MinBorrowFraction      string `json:"min_borrow_fraction"`
	CollateralAmount       string `json:"collateral_amount"`
	BorrowAsset            string `json:"borrow_asset"`
	CollateralAsset        string `json:"collateral_asset"`
	Strategy               string `json:"strategy,omitempty"`
	FromSavings            bool   `json:"from_savings,omitempty"`
	CollectionPeriod       int64  `json:"collection_period"`
	LoanWithdrawalDuration int64  `json:"loan_withdrawal_duration"`
	RepaymentInterval      int64  `json:"repayment_interval"`
	NoOfRepaymentIntervals int64  `json:"no_of_repayment_intervals"`
	Timestamp              int64  `json:"timestamp"`
	Sequence               int64  `json:"sequence"`
}

type poolLendWire struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Receiver    string `json:"receiver,omitempty"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type poolOpWire struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type poolRepayWire struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type marginCallAnswerWire struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Lender      string `json:"lender"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

type lenderLiquidationWire struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Lender      string `json:"lender"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}
