package destsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NormalizedResult is the canonical, already-normalized form of an
// analytics result, ready to persist.
type NormalizedResult struct {
	SourceID              string
	DestinationType       string
	Summary               string
	Sentiment             int
	ClassificationPrimary string
	Classifications       []string
	Confidence            float64
	ProcessingTime        int
	ModelVersion          string
	Products              string
	ActionItems           string
	UnresolvedIssues      string
	CustomerSatisfaction  int
	ChurnScore            int
	AccountKey            string
	SubscriberKey         string
	ConversationTime      time.Time
}

// WriteResult performs the three destination writes, each as its own
// local transaction (no cross-table transaction). Every write is
// delete-then-insert on its key, making the whole operation idempotent
// under at-least-once redelivery.
func (s *Sink) WriteResult(ctx context.Context, r NormalizedResult) error {
	if err := s.writeDictaCallSummary(ctx, r); err != nil {
		return err
	}
	if err := s.writeConversationSummary(ctx, r); err != nil {
		return err
	}
	if err := s.writeConversationCategory(ctx, r); err != nil {
		return err
	}
	return nil
}

func (s *Sink) writeDictaCallSummary(ctx context.Context, r NormalizedResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("destsink: begin dicta_call_summary tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dicta_call_summary WHERE source_id = ?`, r.SourceID); err != nil {
		return fmt.Errorf("destsink: delete dicta_call_summary %s: %w", r.SourceID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dicta_call_summary (
			source_id, summary, sentiment, classification_primary, classifications,
			confidence, processing_time, model_version, products, action_items,
			unresolved_issues, customer_satisfaction, churn_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SourceID, r.Summary, r.Sentiment, r.ClassificationPrimary, joinClassifications(r.Classifications),
		r.Confidence, r.ProcessingTime, r.ModelVersion, r.Products, r.ActionItems,
		r.UnresolvedIssues, r.CustomerSatisfaction, r.ChurnScore)
	if err != nil {
		return fmt.Errorf("destsink: insert dicta_call_summary %s: %w", r.SourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("destsink: commit dicta_call_summary %s: %w", r.SourceID, err)
	}
	return nil
}

func (s *Sink) writeConversationSummary(ctx context.Context, r NormalizedResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("destsink: begin conversation_summary tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM conversation_summary WHERE destination_type = ? AND source_id = ?`,
		r.DestinationType, r.SourceID)
	if err != nil {
		return fmt.Errorf("destsink: delete conversation_summary %s/%s: %w", r.DestinationType, r.SourceID, err)
	}

	var convTime sql.NullTime
	if !r.ConversationTime.IsZero() {
		convTime = sql.NullTime{Time: r.ConversationTime.UTC(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_summary (
			destination_type, source_id, summary, sentiment, classification_primary,
			confidence, customer_satisfaction, churn_score, account_key, subscriber_key, conversation_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.DestinationType, r.SourceID, r.Summary, r.Sentiment, r.ClassificationPrimary,
		r.Confidence, r.CustomerSatisfaction, r.ChurnScore, r.AccountKey, r.SubscriberKey, convTime)
	if err != nil {
		return fmt.Errorf("destsink: insert conversation_summary %s/%s: %w", r.DestinationType, r.SourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("destsink: commit conversation_summary %s/%s: %w", r.DestinationType, r.SourceID, err)
	}
	return nil
}

func (s *Sink) writeConversationCategory(ctx context.Context, r NormalizedResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("destsink: begin conversation_category tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM conversation_category WHERE destination_type = ? AND source_id = ?`,
		r.DestinationType, r.SourceID)
	if err != nil {
		return fmt.Errorf("destsink: delete conversation_category %s/%s: %w", r.DestinationType, r.SourceID, err)
	}

	for _, label := range dedupeNonEmpty(r.Classifications) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_category (destination_type, source_id, category_label)
			VALUES (?, ?, ?)
		`, r.DestinationType, r.SourceID, label)
		if err != nil {
			return fmt.Errorf("destsink: insert conversation_category %s/%s/%s: %w", r.DestinationType, r.SourceID, label, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("destsink: commit conversation_category %s/%s: %w", r.DestinationType, r.SourceID, err)
	}
	return nil
}

func joinClassifications(all []string) string {
	out := ""
	for i, c := range all {
		if i > 0 {
			out += "|"
		}
		out += c
	}
	return out
}

func dedupeNonEmpty(all []string) []string {
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, c := range all {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
