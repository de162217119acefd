package recommend

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/destsink"
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

	if _, err := db.Exec(`CREATE TABLE SUBSCRIBER (
		SUBSCRIBER_NO TEXT, STATUS TEXT, STATUS_DATE DATETIME
	)`); err != nil {
		t.Fatalf("create subscriber table: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE CALL_TRANSCRIPTS (
		CALL_ID TEXT, account_key TEXT, subscriber_key TEXT, channel_tag TEXT, text TEXT, FRAGMENT_TIME DATETIME
	)`); err != nil {
		t.Fatalf("create call transcripts table: %v", err)
	}
	return db
}

func newTestSink(t *testing.T) *destsink.Sink {
	t.Helper()
	sink, err := destsink.Open(filepath.Join(t.TempDir(), "dest.db"))
	if err != nil {
		t.Fatalf("destsink.Open: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestCollectChurnedJoinsCallHistoryAndScore(t *testing.T) {
	ctx := context.Background()
	db := setupSourceDB(t)
	sink := newTestSink(t)

	now := time.Now().UTC()
	statusDate := now.Add(-10 * 24 * time.Hour)
	if _, err := db.Exec(`INSERT INTO SUBSCRIBER (SUBSCRIBER_NO, STATUS, STATUS_DATE) VALUES (?, ?, ?)`,
		"SUB1", "CHURNED", statusDate); err != nil {
		t.Fatalf("insert subscriber: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO CALL_TRANSCRIPTS (CALL_ID, account_key, subscriber_key, channel_tag, text, FRAGMENT_TIME)
		VALUES (?, ?, ?, ?, ?, ?)`, "CALL1", "ACC1", "SUB1", "A", "I want to cancel my plan, it's too expensive", statusDate.Add(-time.Hour)); err != nil {
		t.Fatalf("insert fragment: %v", err)
	}

	if err := sink.WriteResult(ctx, destsink.NormalizedResult{
		SourceID: "CALL1", DestinationType: "CALL", Sentiment: 2, ClassificationPrimary: "BILLING",
		ChurnScore: 30, ConversationTime: statusDate.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	engine := New(Config{}, db, testEntry(), sink)
	churned, err := engine.CollectChurned(ctx)
	if err != nil {
		t.Fatalf("CollectChurned: %v", err)
	}
	if len(churned) != 1 {
		t.Fatalf("len(churned) = %d, want 1", len(churned))
	}
	c := churned[0]
	if c.SubscriberNo != "SUB1" || c.Status != "CHURNED" {
		t.Errorf("customer = %+v, unexpected", c)
	}
	if len(c.CallIDs) != 1 || c.CallIDs[0] != "CALL1" {
		t.Errorf("CallIDs = %v, want [CALL1]", c.CallIDs)
	}
	if c.MaxChurnScore == nil || *c.MaxChurnScore != 30 {
		t.Errorf("MaxChurnScore = %v, want 30", c.MaxChurnScore)
	}
}

func TestEvaluateChurnPredictionsMatchesKnownRates(t *testing.T) {
	engine := New(Config{}, nil, testEntry(), nil)
	high, medium := 80, 50
	below := 10
	churned := []ChurnedCustomer{
		{SubscriberNo: "A", MaxChurnScore: &high},
		{SubscriberNo: "B", MaxChurnScore: &medium},
		{SubscriberNo: "C", MaxChurnScore: &below},
		{SubscriberNo: "D"},
	}
	metrics := engine.EvaluateChurnPredictions(churned)
	if metrics.TotalChurned != 4 || metrics.WithScore != 3 || metrics.WithoutScore != 1 {
		t.Fatalf("metrics = %+v, unexpected counts", metrics)
	}
	if metrics.HighRiskCaught != 1 || metrics.MediumPlusCaught != 2 {
		t.Errorf("metrics = %+v, unexpected caught counts", metrics)
	}
	wantRecallMedium := 2.0 / 3.0
	if metrics.RecallMedium != wantRecallMedium {
		t.Errorf("RecallMedium = %v, want %v", metrics.RecallMedium, wantRecallMedium)
	}
	wantCoverage := 3.0 / 4.0
	if metrics.Coverage != wantCoverage {
		t.Errorf("Coverage = %v, want %v", metrics.Coverage, wantCoverage)
	}
}

func TestMissedChurnersExcludesFlaggedCustomers(t *testing.T) {
	engine := New(Config{}, nil, testEntry(), nil)
	high := 80
	low := 10
	churned := []ChurnedCustomer{
		{SubscriberNo: "A", MaxChurnScore: &high},
		{SubscriberNo: "B", MaxChurnScore: &low},
		{SubscriberNo: "C"},
	}
	missed, err := engine.MissedChurners(context.Background(), churned)
	if err != nil {
		t.Fatalf("MissedChurners: %v", err)
	}
	if len(missed) != 2 {
		t.Fatalf("len(missed) = %d, want 2", len(missed))
	}
}

func TestAnalyzePatternsFindsSignificantKeyword(t *testing.T) {
	missed := []ChurnedCustomer{
		{SubscriberNo: "A", ConversationText: "The customer wants to cancel due to expensive pricing."},
		{SubscriberNo: "B", ConversationText: "The customer wants to cancel and switch to a competitor."},
		{SubscriberNo: "C", ConversationText: "Routine billing question, nothing notable."},
	}
	patterns := AnalyzePatterns(missed)
	found := false
	for _, kw := range patterns.Keywords {
		if kw == "cancel" {
			found = true
		}
	}
	if !found {
		t.Errorf("Keywords = %v, want to include \"cancel\" (2/3 >= 10%%)", patterns.Keywords)
	}
}

func TestGenerateRecommendationsLowRecallAndCoverage(t *testing.T) {
	engine := New(Config{}, nil, testEntry(), nil)
	metrics := ChurnMetrics{
		TotalChurned: 10, WithScore: 4, WithoutScore: 6,
		Recall: 0.2, Coverage: 0.4, MediumPlusCaught: 1,
	}
	patterns := Patterns{Keywords: []string{"cancel"}, MissedCount: 3}

	recs := engine.GenerateRecommendations(metrics, patterns)
	types := map[string]bool{}
	for _, r := range recs {
		types[r.Type] = true
	}
	if !types["churn_threshold"] || !types["churn_keywords"] || !types["pipeline_coverage"] {
		t.Fatalf("recs = %+v, want all three recommendation types", recs)
	}
}

func TestGenerateRecommendationsHealthyPipelineProducesNone(t *testing.T) {
	engine := New(Config{}, nil, testEntry(), nil)
	metrics := ChurnMetrics{TotalChurned: 10, WithScore: 9, Recall: 0.9, Coverage: 0.9}
	recs := engine.GenerateRecommendations(metrics, Patterns{})
	if len(recs) != 0 {
		t.Errorf("recs = %+v, want none for a healthy pipeline", recs)
	}
}

func TestAnalyzeClassificationFeedbackRequiresMinCount(t *testing.T) {
	ctx := context.Background()
	sink := newTestSink(t)
	engine := New(Config{}, nil, testEntry(), sink)

	for i := 0; i < 2; i++ {
		if err := sink.InsertClassificationFeedback(ctx, "fb"+string(rune('0'+i)), "CALL1", "BILLING", "RETENTION", false); err != nil {
			t.Fatalf("InsertClassificationFeedback: %v", err)
		}
	}
	recs, err := engine.AnalyzeClassificationFeedback(ctx)
	if err != nil {
		t.Fatalf("AnalyzeClassificationFeedback: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("recs = %+v, want none below min count (3)", recs)
	}

	if err := sink.InsertClassificationFeedback(ctx, "fb2", "CALL2", "BILLING", "RETENTION", false); err != nil {
		t.Fatalf("InsertClassificationFeedback: %v", err)
	}
	recs, err = engine.AnalyzeClassificationFeedback(ctx)
	if err != nil {
		t.Fatalf("AnalyzeClassificationFeedback: %v", err)
	}
	if len(recs) != 1 || recs[0].Type != "classification_fix" {
		t.Fatalf("recs = %+v, want one classification_fix recommendation", recs)
	}
}
