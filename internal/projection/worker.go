package projection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CredLedger/internal/ledger"
	"CredLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Output mirrors the data projection workers need. The orchestrator
// (cmd/credledger) bridges between core.CoreOutput and this.
type Output struct {
	Sequence   int64
	EventType  string
	InstanceID *string
	Journals   []JournalEntry
	Timestamp  int64

	// Snapshots of the touched instance, set by the orchestrator when
	// the event changed a credit line or pool.
	CreditLine *CreditLineState
	Pool       *PoolState
}

// JournalEntry is a simplified journal for projection consumption.
// Amounts are decimal strings for NUMERIC columns.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
}

// CreditLineState is the projected row for one credit line.
type CreditLineState struct {
	LineID          uint64
	Lender          uuid.UUID
	Borrower        uuid.UUID
	Status          string
	BorrowAsset     string
	CollateralAsset string
	BorrowLimit     string
	Principal       string
}

// PoolState is the projected row for one pool.
type PoolState struct {
	PoolID               uuid.UUID
	Borrower             uuid.UUID
	Status               string
	BorrowAsset          string
	CollateralAsset      string
	PoolSize             string
	TotalSupply          string
	PrincipalOutstanding string
}

// Worker updates projection tables from processed events. The
// projection channel is non-blocking with drop: if projections fall
// behind they can be rebuilt from the event log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		log:       log,
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := w.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be
				// rebuilt from the event log, so log and continue.
				w.log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}
			if w.metrics != nil {
				w.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}

			w.lastSeq = output.Sequence
		}
	}
}

func (w *Worker) processOutput(ctx context.Context, output Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := w.updateBalances(ctx, tx, output.Sequence, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
		if err := w.recordRepayment(ctx, tx, output, j); err != nil {
			return fmt.Errorf("repayment history: %w", err)
		}
	}

	if output.CreditLine != nil {
		if err := w.upsertCreditLine(ctx, tx, output.Sequence, output.CreditLine); err != nil {
			return fmt.Errorf("credit line projection: %w", err)
		}
	}
	if output.Pool != nil {
		if err := w.upsertPool(ctx, tx, output.Sequence, output.Pool); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) updateBalances(ctx context.Context, tx *sql.Tx, seq int64, j JournalEntry) error {
	// Debit account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -($3::numeric), $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	// Credit account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// Only settlement entries land in repayment history.
func (w *Worker) recordRepayment(ctx context.Context, tx *sql.Tx, output Output, j JournalEntry) error {
	if j.JournalType != int32(ledger.JournalTypeRepayment) && j.JournalType != int32(ledger.JournalTypeCancelPenalty) {
		return nil
	}
	instanceID := ""
	if output.InstanceID != nil {
		instanceID = *output.InstanceID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.repayment_history (instance_id, event_type, amount, asset_id, sequence, timestamp)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
	`, instanceID, output.EventType, j.Amount, j.AssetID, output.Sequence, output.Timestamp)
	return err
}

func (w *Worker) upsertCreditLine(ctx context.Context, tx *sql.Tx, seq int64, cl *CreditLineState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.credit_lines
			(line_id, lender, borrower, status, borrow_asset, collateral_asset, borrow_limit, principal, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, NOW())
		ON CONFLICT (line_id) DO UPDATE SET
			status = $4, principal = $8::numeric, last_sequence = $9, updated_at = NOW()
	`, cl.LineID, cl.Lender, cl.Borrower, cl.Status, cl.BorrowAsset, cl.CollateralAsset,
		cl.BorrowLimit, cl.Principal, seq)
	return err
}

func (w *Worker) upsertPool(ctx context.Context, tx *sql.Tx, seq int64, p *PoolState) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pools
			(pool_id, borrower, status, borrow_asset, collateral_asset, pool_size, total_supply, principal_outstanding, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, NOW())
		ON CONFLICT (pool_id) DO UPDATE SET
			status = $3, total_supply = $7::numeric, principal_outstanding = $8::numeric,
			last_sequence = $9, updated_at = NOW()
	`, p.PoolID, p.Borrower, p.Status, p.BorrowAsset, p.CollateralAsset,
		p.PoolSize, p.TotalSupply, p.PrincipalOutstanding, seq)
	return err
}

// Rebuild rebuilds the balance projection from the event log. Credit
// line and pool rows refresh on their next event; history rows are
// append-only and survive.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Credits first
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	// Subtract debits
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	return nil
}
