package cdcloop

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/dispatch"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/ingest"
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
		TimeFilterHot:      "FRAGMENT_TIME > :since",
		HotWindow:          24 * time.Hour,
		ModeKey:            "NORMAL_VERINT",
		DestinationTypeTag: "CALL",
		Enabled:            true,
	}
}

func setupSourceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "source.db"))
	if err != nil {
		t.Fatalf("open source db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE CALL_TRANSCRIPTS (
		CALL_ID TEXT, account_key TEXT, subscriber_key TEXT, channel_tag TEXT, text TEXT, FRAGMENT_TIME DATETIME
	)`)
	if err != nil {
		t.Fatalf("create source table: %v", err)
	}

	now := time.Now().UTC()
	rows := []struct {
		id, channel, text string
		offset            time.Duration
	}{
		{"CALL001", "A", "hello", -3 * time.Minute},
		{"CALL001", "C", "hi there", -2 * time.Minute},
		{"CALL001", "A", "how can I help", -1 * time.Minute},
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO CALL_TRANSCRIPTS (CALL_ID, account_key, subscriber_key, channel_tag, text, FRAGMENT_TIME)
			VALUES (?, ?, ?, ?, ?, ?)`, r.id, "ACC1", "SUB1", r.channel, r.text, now.Add(r.offset))
		if err != nil {
			t.Fatalf("insert fragment: %v", err)
		}
	}
	return db
}

func TestDriverTickDispatchesNewConversation(t *testing.T) {
	ctx := context.Background()
	sourceDB := setupSourceDB(t)
	reader := NewSQLReader(sourceDB)

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink, err := destsink.Open(filepath.Join(t.TempDir(), "dest.db"))
	if err != nil {
		t.Fatalf("destsink.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	errs := errlog.New(store)
	q := queue.NewChannelQueue(10)
	d := dispatch.New(q, store, errs)
	in := ingest.New(q, catalog.Default(), d, nil, sink, errs)

	cat := catalog.New([]catalog.Entry{testEntry()})
	driver := New(Config{BatchCap: 10}, cat, reader, store, d, in, errs)

	dispatched, rejected, errored := driver.runSource(ctx, cat.Enabled()[0])
	if errored != 0 {
		t.Fatalf("errored = %d, want 0", errored)
	}
	if rejected != 0 {
		t.Fatalf("rejected = %d, want 0 (3 fragments >= MinSegments 2)", rejected)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}

	contains, err := store.Contains(ctx, "CALL001")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !contains {
		t.Error("expected CALL001 to be marked processed after dispatch")
	}

	dispatched2, _, _ := driver.runSource(ctx, cat.Enabled()[0])
	if dispatched2 != 0 {
		t.Errorf("second runSource dispatched = %d, want 0 (already processed)", dispatched2)
	}
}

// setupMultiSourceDB seeds ids whose alphabetical order is the reverse of
// their FRAGMENT_TIME order, so a query that orders by CALL_ID instead of
// FRAGMENT_TIME would process them out of the time-ascending order
// runSource's batch cap and downstream watermarking depend on.
func setupMultiSourceDB(t *testing.T) (*sql.DB, []string) {
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

	ids := []string{"CALL003", "CALL002", "CALL001"}
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

func TestDriverTickOrdersCandidatesByFragmentTimeAscending(t *testing.T) {
	ctx := context.Background()
	sourceDB, wantOrder := setupMultiSourceDB(t)
	reader := NewSQLReader(sourceDB)

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink, err := destsink.Open(filepath.Join(t.TempDir(), "dest.db"))
	if err != nil {
		t.Fatalf("destsink.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	errs := errlog.New(store)
	q := queue.NewChannelQueue(10)
	d := dispatch.New(q, store, errs)
	in := ingest.New(q, catalog.Default(), d, nil, sink, errs)

	cat := catalog.New([]catalog.Entry{testEntry()})
	driver := New(Config{BatchCap: 10}, cat, reader, store, d, in, errs)

	dispatched, _, errored := driver.runSource(ctx, cat.Enabled()[0])
	if errored != 0 {
		t.Fatalf("errored = %d, want 0", errored)
	}
	if dispatched != len(wantOrder) {
		t.Fatalf("dispatched = %d, want %d", dispatched, len(wantOrder))
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

func TestDriverTickRejectsShortConversation(t *testing.T) {
	ctx := context.Background()
	sourceDB := setupSourceDB(t)
	reader := NewSQLReader(sourceDB)

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink, err := destsink.Open(filepath.Join(t.TempDir(), "dest.db"))
	if err != nil {
		t.Fatalf("destsink.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	errs := errlog.New(store)
	q := queue.NewChannelQueue(10)
	d := dispatch.New(q, store, errs)
	in := ingest.New(q, catalog.Default(), d, nil, sink, errs)

	entry := testEntry()
	entry.MinSegments = 50
	cat := catalog.New([]catalog.Entry{entry})
	driver := New(Config{BatchCap: 10}, cat, reader, store, d, in, errs)

	dispatched, rejected, errored := driver.runSource(ctx, cat.Enabled()[0])
	if errored != 0 || dispatched != 0 {
		t.Fatalf("errored=%d dispatched=%d, want 0,0", errored, dispatched)
	}
	if rejected != 1 {
		t.Fatalf("rejected = %d, want 1", rejected)
	}
}
