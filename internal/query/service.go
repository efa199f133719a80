package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Service provides read-only access to projection tables. All
// responses include as_of_sequence for freshness semantics; a reader
// can compare it against the core sequence to detect projection lag.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListCreditLines returns projected credit lines where the given user
// is lender or borrower.
func (s *Service) ListCreditLines(ctx context.Context, party uuid.UUID) ([]CreditLineSummary, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT line_id, lender, borrower, status, borrow_asset, collateral_asset,
		       borrow_limit, principal
		FROM projections.credit_lines
		WHERE lender = $1 OR borrower = $1
		ORDER BY line_id
	`, party)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []CreditLineSummary
	for rows.Next() {
		var l CreditLineSummary
		l.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&l.LineID, &l.Lender, &l.Borrower, &l.Status,
			&l.BorrowAsset, &l.CollateralAsset, &l.BorrowLimit, &l.Principal,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// ListPools returns projected pools, optionally filtered by status.
func (s *Service) ListPools(ctx context.Context, status *string) ([]PoolSummary, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT pool_id, borrower, status, borrow_asset, collateral_asset,
		       pool_size, total_supply, principal_outstanding
		FROM projections.pools
	`
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = $1"
		args = append(args, *status)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolSummary
	for rows.Next() {
		var p PoolSummary
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PoolID, &p.Borrower, &p.Status, &p.BorrowAsset, &p.CollateralAsset,
			&p.PoolSize, &p.TotalSupply, &p.PrincipalOutstanding,
		); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}

	return pools, rows.Err()
}

// GetRepaymentHistory returns settled repayments and penalties for an
// instance with cursor-based pagination.
func (s *Service) GetRepaymentHistory(
	ctx context.Context,
	instanceID string,
	limit int,
	afterSequence *int64,
) ([]RepaymentHistoryEntry, error) {
	query := `
		SELECT instance_id, event_type, amount, asset_id, sequence, timestamp
		FROM projections.repayment_history
		WHERE instance_id = $1
	`
	args := []interface{}{instanceID}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RepaymentHistoryEntry
	for rows.Next() {
		var h RepaymentHistoryEntry
		if err := rows.Scan(
			&h.InstanceID, &h.EventType, &h.Amount, &h.AssetID, &h.Sequence, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's
// accounts with cursor-based pagination.
func (s *Service) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global
// zero-sum invariant over projected balances.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Hash chain: each event's prev_hash must equal the previous
	// event's state_hash.
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Global balance: debits equal credits, so balances sum to zero
	// per asset.
	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total string
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
