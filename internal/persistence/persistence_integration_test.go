package persistence

import (
	"context"
	"math/big"
	"testing"
	"time"

	"CredLedger/internal/ledger"
	"CredLedger/internal/observability"
	"CredLedger/internal/testutil"

	"github.com/google/uuid"
)

// ============================================================
// Event log round trip
// ============================================================

func TestEventLogWriteAndLoad(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations", observability.NewLogger("test"))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := NewEventLogWriter(db)
	instance := "creditline:1"
	events := []EventRow{
		{
			Sequence:       0,
			EventType:      "CreditLineRequested",
			IdempotencyKey: uuid.NewString(),
			Payload:        []byte(`{"operation_id":"x"}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.Now().UTC(),
			SourceSequence: 1,
		},
		{
			Sequence:       1,
			EventType:      "CreditLineAccepted",
			IdempotencyKey: uuid.NewString(),
			InstanceID:     &instance,
			Payload:        []byte(`{"line_id":1}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      time.Now().UTC(),
			SourceSequence: 2,
		},
	}
	if err := writer.WriteEventBatch(ctx, db, events); err != nil {
		t.Fatalf("write events: %v", err)
	}

	// Rewrites of the same sequence must be silently ignored.
	if err := writer.WriteEventBatch(ctx, db, events[:1]); err != nil {
		t.Fatalf("rewrite events: %v", err)
	}

	snapMgr := NewSnapshotManager(db)
	loaded, err := snapMgr.LoadEventsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(loaded))
	}
	if loaded[0].EventType != "CreditLineRequested" {
		t.Errorf("unexpected event type %s", loaded[0].EventType)
	}
	if loaded[1].InstanceID == nil || *loaded[1].InstanceID != instance {
		t.Errorf("instance id not preserved")
	}

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 1 {
		t.Errorf("expected latest sequence 1, got %d", latest)
	}
}

func TestJournalWriteIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations", observability.NewLogger("test"))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := NewEventLogWriter(db)
	row := JournalRow{
		JournalID:     uuid.NewString(),
		BatchID:       uuid.NewString(),
		EventRef:      uuid.NewString(),
		Sequence:      0,
		DebitAccount:  "user:a:USDC:available",
		CreditAccount: "custody:line:1:USDC",
		AssetID:       1,
		Amount:        "1000000000000000000000000000000000000000",
		JournalType:   0,
		Timestamp:     time.Now().Unix(),
	}
	if err := writer.WriteJournalBatch(ctx, db, []JournalRow{row}); err != nil {
		t.Fatalf("write journal: %v", err)
	}
	if err := writer.WriteJournalBatch(ctx, db, []JournalRow{row}); err != nil {
		t.Fatalf("rewrite journal: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log.journal WHERE journal_id = $1`, row.JournalID,
	).Scan(&count); err != nil {
		t.Fatalf("count journals: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 journal row, got %d", count)
	}
}

// ============================================================
// Snapshots
// ============================================================

func TestSnapshotSaveLoadVerify(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations", observability.NewLogger("test"))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	snapMgr := NewSnapshotManager(db)

	key := ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeSavings, 1)
	snap := &SnapshotData{
		Sequence:  41,
		StateHash: make([]byte, 32),
		Balances: []BalanceEntry{
			{Key: key, Balance: big.NewInt(123456789)},
		},
		ExchangeRates:   map[string]*big.Int{"compound:USDC": big.NewInt(42)},
		SequenceState:   map[string]int64{"global": 42},
		IdempotencyKeys: []string{"a", "b"},
		CreatedAt:       time.Now().UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots must not be restored from.
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatal("loaded an unverified snapshot")
	}

	if err := snapMgr.MarkVerified(ctx, 41); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a verified snapshot")
	}
	if loaded.Sequence != 41 {
		t.Errorf("expected sequence 41, got %d", loaded.Sequence)
	}
	if len(loaded.Balances) != 1 || loaded.Balances[0].Balance.Cmp(big.NewInt(123456789)) != 0 {
		t.Errorf("balances not preserved: %+v", loaded.Balances)
	}
	if loaded.SequenceState["global"] != 42 {
		t.Errorf("sequence state not preserved")
	}
}

// ============================================================
// DB idempotency tier
// ============================================================

func TestPostgresIdempotencyChecker(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := NewMigrator(db, "../../migrations", observability.NewLogger("test"))
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	key := uuid.NewString()
	writer := NewEventLogWriter(db)
	err := writer.WriteEventBatch(ctx, db, []EventRow{{
		Sequence:       0,
		EventType:      "PoolCreated",
		IdempotencyKey: key,
		Payload:        []byte(`{}`),
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      time.Now().UTC(),
		SourceSequence: 1,
	}})
	if err != nil {
		t.Fatalf("write event: %v", err)
	}

	checker := NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("PoolCreated", key)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Error("expected duplicate for persisted key")
	}

	dup, err = checker.IsDuplicate("PoolCreated", uuid.NewString())
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Error("unexpected duplicate for fresh key")
	}
}
