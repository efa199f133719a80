package ingestion

import (
	"CredLedger/internal/event"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string)
// into a typed event.Event. The ingestion shell validates and parses
// raw events before sending anything to the deterministic core; the
// event type string matches event.EventType.String().
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "PriceFeedUpdated":
		return parsePriceFeedUpdate(raw.Data)
	case "ExchangeRateUpdated":
		return parseExchangeRateUpdate(raw.Data)
	case "SavingsDeposited":
		return parseSavingsDeposit(raw.Data)
	case "SavingsWithdrawn":
		return parseSavingsWithdraw(raw.Data)
	case "CreditLineRequested":
		return parseCreditLineRequest(raw.Data)
	case "CreditLineAccepted":
		return parseCreditLineAccept(raw.Data)
	case "CollateralDeposited":
		return parseCollateralDeposit(raw.Data)
	case "CreditLineBorrowed":
		return parseCreditLineBorrow(raw.Data)
	case "CreditLineRepaid":
		return parseCreditLineRepay(raw.Data)
	case "CollateralWithdrawn":
		return parseCollateralWithdraw(raw.Data)
	case "CreditLineClosed":
		return parseCreditLineClose(raw.Data)
	case "CreditLineLiquidated":
		return parseCreditLineLiquidate(raw.Data)
	case "PoolCreated":
		return parsePoolCreate(raw.Data)
	case "LiquiditySupplied":
		return parsePoolLend(raw.Data)
	case "BorrowedAmountWithdrawn":
		return parsePoolWithdrawBorrowed(raw.Data)
	case "LiquidityWithdrawn":
		return parsePoolWithdrawLiquidity(raw.Data)
	case "PoolCancelled":
		return parsePoolCancel(raw.Data)
	case "PoolTerminated":
		return parsePoolTerminate(raw.Data)
	case "PoolRepaid":
		return parsePoolRepay(raw.Data)
	case "MarginCallRequested":
		return parseMarginCallRequest(raw.Data)
	case "MarginCallAnswered":
		return parseMarginCallAnswer(raw.Data)
	case "ExtensionRequested":
		return parseExtensionRequest(raw.Data)
	case "ExtensionVoted":
		return parseExtensionVote(raw.Data)
	case "LenderLiquidated":
		return parseLenderLiquidation(raw.Data)
	case "PoolLiquidated":
		return parsePoolLiquidation(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- wire helpers ---
// Amounts travel as base-10 decimal strings so arbitrary precision
// survives JSON. uuid fields travel in canonical string form.

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: not a base-10 integer: %q", field, s)
	}
	return v, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type priceFeedJSON struct {
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Price      string `json:"price"`
	Decimals   uint8  `json:"decimals"`
	Timestamp  int64  `json:"timestamp"`
	Sequence   int64  `json:"sequence"`
}

func parsePriceFeedUpdate(data []byte) (*event.PriceFeedUpdate, error) {
	var j priceFeedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceFeedUpdate: %w", err)
	}
	price, err := parseAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.PriceFeedUpdate{
		BaseAsset:  j.BaseAsset,
		QuoteAsset: j.QuoteAsset,
		Price:      price,
		Decimals:   j.Decimals,
		Timestamp:  j.Timestamp,
		Sequence:   j.Sequence,
	}, nil
}

type exchangeRateJSON struct {
	Strategy  string `json:"strategy"`
	Asset     string `json:"asset"`
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseExchangeRateUpdate(data []byte) (*event.ExchangeRateUpdate, error) {
	var j exchangeRateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExchangeRateUpdate: %w", err)
	}
	rate, err := parseAmount("rate", j.Rate)
	if err != nil {
		return nil, err
	}
	return &event.ExchangeRateUpdate{
		Strategy:  j.Strategy,
		Asset:     j.Asset,
		Rate:      rate,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

type savingsJSON struct {
	OperationID string `json:"operation_id"`
	Account     string `json:"account"`
	Asset       string `json:"asset"`
	Strategy    string `json:"strategy,omitempty"`
	Amount      string `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parseSavingsDeposit(data []byte) (*event.SavingsDeposit, error) {
	var j savingsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SavingsDeposit: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	account, err := parseID("account", j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.SavingsDeposit{
		OperationID: opID,
		Account:     account,
		Asset:       j.Asset,
		Strategy:    j.Strategy,
		Amount:      amount,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseSavingsWithdraw(data []byte) (*event.SavingsWithdraw, error) {
	var j savingsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SavingsWithdraw: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	account, err := parseID("account", j.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.SavingsWithdraw{
		OperationID: opID,
		Account:     account,
		Asset:       j.Asset,
		Strategy:    j.Strategy,
		Amount:      amount,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

type creditLineRequestJSON struct {
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

func parseCreditLineRequest(data []byte) (*event.CreditLineRequest, error) {
	var j creditLineRequestJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineRequest: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	requester, err := parseID("requester", j.Requester)
	if err != nil {
		return nil, err
	}
	lender, err := parseID("lender", j.Lender)
	if err != nil {
		return nil, err
	}
	borrower, err := parseID("borrower", j.Borrower)
	if err != nil {
		return nil, err
	}
	limit, err := parseAmount("borrow_limit", j.BorrowLimit)
	if err != nil {
		return nil, err
	}
	rate, err := parseAmount("borrow_rate", j.BorrowRate)
	if err != nil {
		return nil, err
	}
	ratio, err := parseAmount("collateral_ratio", j.CollateralRatio)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineRequest{
		OperationID:     opID,
		Requester:       requester,
		Lender:          lender,
		Borrower:        borrower,
		BorrowLimit:     limit,
		BorrowRate:      rate,
		CollateralRatio: ratio,
		BorrowAsset:     j.BorrowAsset,
		CollateralAsset: j.CollateralAsset,
		AutoLiquidation: j.AutoLiquidation,
		RequestAsLender: j.RequestAsLender,
		Timestamp:       j.Timestamp,
		Sequence:        j.Sequence,
	}, nil
}

// lineOpJSON covers the credit line operations that carry no amount.
type lineOpJSON struct {
	OperationID        string `json:"operation_id"`
	LineID             uint64 `json:"line_id"`
	Caller             string `json:"caller"`
	WithdrawCollateral bool   `json:"withdraw_collateral,omitempty"`
	Timestamp          int64  `json:"timestamp"`
	Sequence           int64  `json:"sequence"`
}

func parseCreditLineAccept(data []byte) (*event.CreditLineAccept, error) {
	var j lineOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineAccept: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineAccept{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseCreditLineClose(data []byte) (*event.CreditLineClose, error) {
	var j lineOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineClose: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineClose{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseCreditLineLiquidate(data []byte) (*event.CreditLineLiquidate, error) {
	var j lineOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineLiquidate: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineLiquidate{
		OperationID:        opID,
		LineID:             j.LineID,
		Caller:             caller,
		WithdrawCollateral: j.WithdrawCollateral,
		Timestamp:          j.Timestamp,
		Sequence:           j.Sequence,
	}, nil
}

// lineAmountJSON covers the credit line operations that move an amount.
type lineAmountJSON struct {
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

func parseCollateralDeposit(data []byte) (*event.CollateralDeposit, error) {
	var j lineAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralDeposit: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CollateralDeposit{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Amount:      amount,
		Strategy:    j.Strategy,
		FromSavings: j.FromSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseCreditLineBorrow(data []byte) (*event.CreditLineBorrow, error) {
	var j lineAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineBorrow: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineBorrow{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Amount:      amount,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseCreditLineRepay(data []byte) (*event.CreditLineRepay, error) {
	var j lineAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreditLineRepay: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CreditLineRepay{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Amount:      amount,
		FromSavings: j.FromSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseCollateralWithdraw(data []byte) (*event.CollateralWithdraw, error) {
	var j lineAmountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralWithdraw: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CollateralWithdraw{
		OperationID: opID,
		LineID:      j.LineID,
		Caller:      caller,
		Amount:      amount,
		ToSavings:   j.ToSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

type poolCreateJSON struct {
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

func parsePoolCreate(data []byte) (*event.PoolCreate, error) {
	var j poolCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolCreate: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	borrower, err := parseID("borrower", j.Borrower)
	if err != nil {
		return nil, err
	}
	size, err := parseAmount("pool_size", j.PoolSize)
	if err != nil {
		return nil, err
	}
	rate, err := parseAmount("borrow_rate", j.BorrowRate)
	if err != nil {
		return nil, err
	}
	ratio, err := parseAmount("ideal_collateral_ratio", j.IdealCollateralRatio)
	if err != nil {
		return nil, err
	}
	minFraction, err := parseAmount("min_borrow_fraction", j.MinBorrowFraction)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateral_amount", j.CollateralAmount)
	if err != nil {
		return nil, err
	}
	return &event.PoolCreate{
		OperationID:            opID,
		PoolID:                 poolID,
		Borrower:               borrower,
		PoolSize:               size,
		BorrowRate:             rate,
		IdealCollateralRatio:   ratio,
		MinBorrowFraction:      minFraction,
		CollateralAmount:       collateral,
		BorrowAsset:            j.BorrowAsset,
		CollateralAsset:        j.CollateralAsset,
		Strategy:               j.Strategy,
		FromSavings:            j.FromSavings,
		CollectionPeriod:       j.CollectionPeriod,
		LoanWithdrawalDuration: j.LoanWithdrawalDuration,
		RepaymentInterval:      j.RepaymentInterval,
		NoOfRepaymentIntervals: j.NoOfRepaymentIntervals,
		Timestamp:              j.Timestamp,
		Sequence:               j.Sequence,
	}, nil
}

type poolLendJSON struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Receiver    string `json:"receiver,omitempty"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parsePoolLend(data []byte) (*event.PoolLend, error) {
	var j poolLendJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolLend: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	// Pool tokens go to the caller when no receiver is named.
	receiver := caller
	if j.Receiver != "" {
		receiver, err = parseID("receiver", j.Receiver)
		if err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.PoolLend{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Receiver:    receiver,
		Amount:      amount,
		FromSavings: j.FromSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

// poolOpJSON covers the pool operations identified by caller alone.
type poolOpJSON struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parsePoolOp(data []byte, eventType string) (poolOpJSON, uuid.UUID, uuid.UUID, uuid.UUID, error) {
	var j poolOpJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return j, uuid.Nil, uuid.Nil, uuid.Nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, uuid.Nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, uuid.Nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return j, uuid.Nil, uuid.Nil, uuid.Nil, err
	}
	return j, opID, poolID, caller, nil
}

func parsePoolWithdrawBorrowed(data []byte) (*event.PoolWithdrawBorrowed, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "PoolWithdrawBorrowed")
	if err != nil {
		return nil, err
	}
	return &event.PoolWithdrawBorrowed{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parsePoolWithdrawLiquidity(data []byte) (*event.PoolWithdrawLiquidity, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "PoolWithdrawLiquidity")
	if err != nil {
		return nil, err
	}
	return &event.PoolWithdrawLiquidity{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parsePoolCancel(data []byte) (*event.PoolCancel, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "PoolCancel")
	if err != nil {
		return nil, err
	}
	return &event.PoolCancel{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parsePoolTerminate(data []byte) (*event.PoolTerminate, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "PoolTerminate")
	if err != nil {
		return nil, err
	}
	return &event.PoolTerminate{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseMarginCallRequest(data []byte) (*event.MarginCallRequest, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "MarginCallRequest")
	if err != nil {
		return nil, err
	}
	return &event.MarginCallRequest{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseExtensionRequest(data []byte) (*event.ExtensionRequest, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "ExtensionRequest")
	if err != nil {
		return nil, err
	}
	return &event.ExtensionRequest{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parseExtensionVote(data []byte) (*event.ExtensionVote, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "ExtensionVote")
	if err != nil {
		return nil, err
	}
	return &event.ExtensionVote{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

func parsePoolLiquidation(data []byte) (*event.PoolLiquidation, error) {
	j, opID, poolID, caller, err := parsePoolOp(data, "PoolLiquidation")
	if err != nil {
		return nil, err
	}
	return &event.PoolLiquidation{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

type poolRepayJSON struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parsePoolRepay(data []byte) (*event.PoolRepay, error) {
	var j poolRepayJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolRepay: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.PoolRepay{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Amount:      amount,
		FromSavings: j.FromSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

type marginCallAnswerJSON struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Lender      string `json:"lender"`
	Amount      string `json:"amount"`
	FromSavings bool   `json:"from_savings,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parseMarginCallAnswer(data []byte) (*event.MarginCallAnswer, error) {
	var j marginCallAnswerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarginCallAnswer: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	lender, err := parseID("lender", j.Lender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.MarginCallAnswer{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Lender:      lender,
		Amount:      amount,
		FromSavings: j.FromSavings,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}

type lenderLiquidationJSON struct {
	OperationID string `json:"operation_id"`
	PoolID      string `json:"pool_id"`
	Caller      string `json:"caller"`
	Lender      string `json:"lender"`
	Timestamp   int64  `json:"timestamp"`
	Sequence    int64  `json:"sequence"`
}

func parseLenderLiquidation(data []byte) (*event.LenderLiquidation, error) {
	var j lenderLiquidationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse LenderLiquidation: %w", err)
	}
	opID, err := parseID("operation_id", j.OperationID)
	if err != nil {
		return nil, err
	}
	poolID, err := parseID("pool_id", j.PoolID)
	if err != nil {
		return nil, err
	}
	caller, err := parseID("caller", j.Caller)
	if err != nil {
		return nil, err
	}
	lender, err := parseID("lender", j.Lender)
	if err != nil {
		return nil, err
	}
	return &event.LenderLiquidation{
		OperationID: opID,
		PoolID:      poolID,
		Caller:      caller,
		Lender:      lender,
		Timestamp:   j.Timestamp,
		Sequence:    j.Sequence,
	}, nil
}
