package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/scalytics/cdcbridge/internal/assembler"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/queue"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *queue.ChannelQueue, *cdcstore.Store) {
	t.Helper()
	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.NewChannelQueue(10)
	d := New(q, store, errlog.New(store))
	return d, q, store
}

func sampleConversation() *assembler.Conversation {
	return &assembler.Conversation{
		Type:               "CONVERSATION_TO_ML",
		SourceID:           "CALL001",
		SourceCatalogID:    "verint",
		DestinationTypeTag: "CALL",
		AccountKey:         "ACC1",
		SubscriberKey:      "SUB1",
		StartTime:          time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC),
		Messages: []assembler.Message{
			{ChannelTag: "A", Text: "hello", Timestamp: time.Now()},
			{ChannelTag: "C", Text: "hi", Timestamp: time.Now()},
		},
		MessageCount: 2,
		AssembledAt:  time.Now(),
		Origin:       "on-premises-cdc",
	}
}

func TestDispatchSuccessMarksProcessedAndPublishes(t *testing.T) {
	d, q, store := newTestDispatcher(t)
	ctx := context.Background()
	conv := sampleConversation()

	token, err := d.Dispatch(ctx, conv)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty dispatch token")
	}

	ok, err := store.Contains(ctx, "CALL001")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !ok {
		t.Fatal("processed-ID store should contain CALL001 after successful dispatch")
	}

	batch, err := q.FetchBatch(ctx, 1)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(batch))
	}
	if batch[0].Attributes["messageType"] != "CONVERSATION_ASSEMBLY" {
		t.Errorf("messageType attribute = %q, want CONVERSATION_ASSEMBLY", batch[0].Attributes["messageType"])
	}
	if batch[0].Attributes["source_id"] != "CALL001" {
		t.Errorf("source_id attribute = %q, want CALL001", batch[0].Attributes["source_id"])
	}

	var body map[string]any
	if err := json.Unmarshal(batch[0].Value, &body); err != nil {
		t.Fatalf("unmarshal published body: %v", err)
	}
	if body["message_count"].(float64) != 2 {
		t.Errorf("message_count = %v, want 2", body["message_count"])
	}
}

func TestDispatchRemembersDestinationType(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()
	conv := sampleConversation()

	if _, err := d.Dispatch(ctx, conv); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	tag, ok := d.TakeDestinationType("CALL001")
	if !ok || tag != "CALL" {
		t.Fatalf("TakeDestinationType = (%q, %v), want (CALL, true)", tag, ok)
	}

	if _, ok := d.TakeDestinationType("CALL001"); ok {
		t.Fatal("TakeDestinationType should remove the entry after first use")
	}
}

type failingProducer struct{}

func (failingProducer) Publish(ctx context.Context, msg queue.Message) error {
	return context.DeadlineExceeded
}
func (failingProducer) Close() error { return nil }

func TestDispatchFailureDoesNotMarkProcessed(t *testing.T) {
	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	defer store.Close()

	d := New(failingProducer{}, store, errlog.New(store))
	ctx := context.Background()
	conv := sampleConversation()

	if _, err := d.Dispatch(ctx, conv); err == nil {
		t.Fatal("expected Dispatch to return an error when publish fails")
	}

	ok, err := store.Contains(ctx, "CALL001")
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Fatal("processed-ID store must not contain CALL001 after a failed dispatch")
	}
}
