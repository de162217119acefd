package backfill

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcloop"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/dispatch"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/queue"
)

func testEntry() catalog.Entry {
	return catalog.Entry{
		SourceKey:          "verint",
		Table:              "CALL_TRANSCRIPTS",
		IDColumn:           "CALL_ID",
		TimeColumn:         "FRAGMENT_TIME",
		ValidChannels:      []string{"A", "C"},
		RequiredChannels:   []string{"A", "C"},
		MinSegments:        2,
		TimeFilterBulk:     "FRAGMENT_TIME > :windowStart",
		TimeFilterDelta:    "FRAGMENT_TIME > :since",
		HotWindow:          24 * time.Hour,
		ModeKey:            "NORMAL_VERINT",
		DestinationTypeTag: "CALL",
		Enabled:            true,
	}
}

func setupSourceDB(t *testing.T, conversations int) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "source.db"))
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE CALL_TRANSCRIPTS (
		CALL_ID TEXT, account_key TEXT, subscriber_key TEXT, channel_tag TEXT, text TEXT, FRAGMENT_TIME DATETIME
	)`); err != nil {
		t.Fatalf("create source table: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < conversations; i++ {
		id := "CALL" + string(rune('A'+i))
		for j, ch := range []string{"A", "C"} {
			_, err := db.Exec(`INSERT INTO CALL_TRANSCRIPTS (CALL_ID, account_key, subscriber_key, channel_tag, text, FRAGMENT_TIME)
				VALUES (?, ?, ?, ?, ?, ?)`, id, "ACC1", "SUB1", ch, "message", now.Add(-time.Duration(j)*time.Minute))
			if err != nil {
				t.Fatalf("insert fragment: %v", err)
			}
		}
	}
	return db
}

// setupSourceDBOutOfAlphaOrder inserts ids whose alphabetical order is the
// reverse of their fragment-time order, so a test can tell an ORDER BY
// CALL_ID query apart from an ORDER BY FRAGMENT_TIME one.
func setupSourceDBOutOfAlphaOrder(t *testing.T) (*sql.DB, []string) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "source.db"))
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE CALL_TRANSCRIPTS (
		CALL_ID TEXT, account_key TEXT, subscriber_key TEXT, channel_tag TEXT, text TEXT, FRAGMENT_TIME DATETIME
	)`); err != nil {
		t.Fatalf("create source table: %v", err)
	}

	ids := []string{"CALLE", "CALLD", "CALLC", "CALLB", "CALLA"}
	wantOrder := append([]string(nil), ids...)
	now := time.Now().UTC()
	for i, id := range ids {
		fragTime := now.Add(time.Duration(i) * time.Hour)
		for _, ch := range []string{"A", "C"} {
			_, err := db.Exec(`INSERT INTO CALL_TRANSCRIPTS (CALL_ID, account_key, subscriber_key, channel_tag, text, FRAGMENT_TIME)
				VALUES (?, ?, ?, ?, ?, ?)`, id, "ACC1", "SUB1", ch, "message", fragTime)
			if err != nil {
				t.Fatalf("insert fragment: %v", err)
			}
		}
	}
	return db, wantOrder
}

func newTestEngine(t *testing.T, cfg Config, conversations int) (*Engine, *cdcstore.Store) {
	t.Helper()
	sourceDB := setupSourceDB(t, conversations)
	reader := cdcloop.NewSQLReader(sourceDB)

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	errs := errlog.New(store)
	q := queue.NewChannelQueue(100)
	d := dispatch.New(q, store, errs)

	cat := catalog.New([]catalog.Entry{testEntry()})
	return New(cfg, cat, reader, store, d, errs), store
}

func TestEngineRunDispatchesAllConversationsAcrossBatches(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine(t, Config{BulkBatchSize: 2, DeltaBatchSize: 2, InterBatchPause: time.Millisecond}, 5)

	summary := engine.Run(ctx)
	if summary.Dispatched != 5 {
		t.Errorf("Dispatched = %d, want 5", summary.Dispatched)
	}
	if summary.Errored != 0 {
		t.Errorf("Errored = %d, want 0", summary.Errored)
	}

	contains, err := store.Contains(ctx, "CALLA")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !contains {
		t.Error("expected CALLA to be marked processed")
	}
}

func TestEngineRunIsIdempotentOnRerun(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, Config{BulkBatchSize: 10, DeltaBatchSize: 10, InterBatchPause: time.Millisecond}, 3)

	first := engine.Run(ctx)
	if first.Dispatched != 3 {
		t.Fatalf("first run Dispatched = %d, want 3", first.Dispatched)
	}

	second := engine.Run(ctx)
	if second.Dispatched != 0 {
		t.Errorf("second run Dispatched = %d, want 0 (already processed)", second.Dispatched)
	}
}

// TestEngineRunOrdersCandidatesByFragmentTimeAscending seeds ids whose
// alphabetical order is the reverse of their FRAGMENT_TIME order, so a
// regression back to collecting/ordering by CALL_ID would dispatch them
// in the wrong order.
func TestEngineRunOrdersCandidatesByFragmentTimeAscending(t *testing.T) {
	ctx := context.Background()
	sourceDB, wantOrder := setupSourceDBOutOfAlphaOrder(t)
	reader := cdcloop.NewSQLReader(sourceDB)

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	errs := errlog.New(store)
	q := queue.NewChannelQueue(100)
	d := dispatch.New(q, store, errs)
	cat := catalog.New([]catalog.Entry{testEntry()})

	engine := New(Config{BulkBatchSize: 10, DeltaBatchSize: 10, InterBatchPause: time.Millisecond}, cat, reader, store, d, errs)
	summary := engine.Run(ctx)
	if summary.Dispatched != len(wantOrder) {
		t.Fatalf("Dispatched = %d, want %d", summary.Dispatched, len(wantOrder))
	}

	msgs, err := q.FetchBatch(ctx, len(wantOrder))
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(msgs) != len(wantOrder) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantOrder))
	}
	for i, msg := range msgs {
		if got := msg.Attributes["source_id"]; got != wantOrder[i] {
			t.Errorf("dispatch order[%d] = %s, want %s", i, got, wantOrder[i])
		}
	}
}
