package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcstore"
	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/errlog"
	"github.com/scalytics/cdcbridge/internal/queue"
)

type noResolver struct{}

func (noResolver) TakeDestinationType(sourceID string) (string, bool) { return "", false }

func newTestIngestor(t *testing.T) (*Ingestor, *queue.ChannelQueue, *destsink.Sink) {
	t.Helper()
	sink, err := destsink.Open(filepath.Join(t.TempDir(), "dest.db"))
	if err != nil {
		t.Fatalf("destsink.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	store, err := cdcstore.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("cdcstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.NewChannelQueue(10)
	in := New(q, catalog.Default(), noResolver{}, nil, sink, errlog.New(store))
	return in, q, sink
}

func TestIngestorSkipsNonMLResultMessages(t *testing.T) {
	in, q, _ := newTestIngestor(t)
	ctx := context.Background()

	if err := q.Publish(ctx, queue.Message{
		Value:      []byte(`{"source_id": "CALL001"}`),
		Attributes: map[string]string{"messageType": "SOMETHING_ELSE"},
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	received, written, err := in.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if received != 1 {
		t.Errorf("received = %d, want 1", received)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0 (non-ML message should be skipped)", written)
	}
}

func TestIngestorProcessesAndCommitsMLResult(t *testing.T) {
	in, q, sink := newTestIngestor(t)
	ctx := context.Background()

	body := `{
		"type": "ML_RESULT",
		"source_id": "CALL001",
		"source_catalog_id": "verint",
		"sentiment": "positive",
		"classification": {"primary": "BILLING", "all": ["BILLING", "OFFER"]},
		"churn_confidence": 0.82,
		"customer_satisfaction": 4,
		"summary": {"text": "customer called about billing"}
	}`
	if err := q.Publish(ctx, queue.Message{
		Value:      []byte(body),
		Attributes: map[string]string{"messageType": "ML_RESULT"},
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	received, written, err := in.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if received != 1 || written != 1 {
		t.Fatalf("received=%d written=%d, want 1,1", received, written)
	}

	var sentiment, churn int
	row := sink.DB().QueryRow(`SELECT sentiment, churn_score FROM dicta_call_summary WHERE source_id = ?`, "CALL001")
	if err := row.Scan(&sentiment, &churn); err != nil {
		t.Fatalf("scan dicta_call_summary: %v", err)
	}
	if sentiment != 4 {
		t.Errorf("sentiment = %d, want 4", sentiment)
	}
	if churn != 82 {
		t.Errorf("churn_score = %d, want 82", churn)
	}

	var categoryCount int
	row = sink.DB().QueryRow(`SELECT COUNT(1) FROM conversation_category WHERE source_id = ?`, "CALL001")
	if err := row.Scan(&categoryCount); err != nil {
		t.Fatalf("scan conversation_category: %v", err)
	}
	if categoryCount != 2 {
		t.Errorf("conversation_category rows = %d, want 2", categoryCount)
	}
}

func TestIngestorIdempotentOnRedelivery(t *testing.T) {
	in, q, sink := newTestIngestor(t)
	ctx := context.Background()

	body := `{
		"type": "ML_RESULT",
		"source_id": "CALL001",
		"source_catalog_id": "verint",
		"sentiment": "positive",
		"classification": {"primary": "BILLING", "all": ["BILLING", "OFFER"]},
		"churn_confidence": 0.82,
		"customer_satisfaction": 4,
		"summary": {"text": "customer called about billing"}
	}`
	msg := queue.Message{Value: []byte(body), Attributes: map[string]string{"messageType": "ML_RESULT"}}

	for i := 0; i < 2; i++ {
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if _, written, err := in.RunOnce(ctx); err != nil || written != 1 {
			t.Fatalf("RunOnce iteration %d: written=%d err=%v", i, written, err)
		}
	}

	var categoryCount int
	row := sink.DB().QueryRow(`SELECT COUNT(1) FROM conversation_category WHERE source_id = ?`, "CALL001")
	if err := row.Scan(&categoryCount); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if categoryCount != 2 {
		t.Errorf("conversation_category rows after double delivery = %d, want 2 (idempotent)", categoryCount)
	}
}
