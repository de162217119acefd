package destsink

import (
	"context"
	"database/sql"
	"fmt"
)

// ChurnScoreFor looks up the churn_score already written for a source id
// under destinationType. ok is false when no conversation_summary row
// exists yet for that id — the evaluation engine treats that the same as
// a NULL score upstream.
func (s *Sink) ChurnScoreFor(ctx context.Context, destinationType, sourceID string) (score int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT churn_score FROM conversation_summary WHERE destination_type = ? AND source_id = ?
	`, destinationType, sourceID).Scan(&score)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("destsink: churn score for %s/%s: %w", destinationType, sourceID, err)
	}
	return score, true, nil
}

// Misclassification is one (predicted, actual) pair a human reviewer
// corrected at least minCount times in the feedback window.
type Misclassification struct {
	Predicted string
	Actual    string
	Count     int
}

// MisclassificationPairs returns (predicted, actual) pairs from
// classification_feedback with is_correct = 0 in the last `days` days,
// grouped with a having-count >= minCount, ordered by count descending —
// the Go equivalent of the GROUP BY ... HAVING COUNT(*) >= 3 query.
func (s *Sink) MisclassificationPairs(ctx context.Context, days, minCount int) ([]Misclassification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT predicted_category, actual_category, COUNT(*) as error_count
		FROM classification_feedback
		WHERE is_correct = 0
		AND created_at > datetime('now', ?)
		GROUP BY predicted_category, actual_category
		HAVING COUNT(*) >= ?
		ORDER BY error_count DESC
	`, fmt.Sprintf("-%d days", days), minCount)
	if err != nil {
		return nil, fmt.Errorf("destsink: query misclassification pairs: %w", err)
	}
	defer rows.Close()

	var out []Misclassification
	for rows.Next() {
		var m Misclassification
		if err := rows.Scan(&m.Predicted, &m.Actual, &m.Count); err != nil {
			return nil, fmt.Errorf("destsink: scan misclassification pair: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertClassificationFeedback records a human reviewer's correction of a
// predicted category, the raw material MisclassificationPairs mines.
func (s *Sink) InsertClassificationFeedback(ctx context.Context, id, sourceID, predicted, actual string, isCorrect bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_feedback (id, source_id, predicted_category, actual_category, is_correct)
		VALUES (?, ?, ?, ?, ?)
	`, id, sourceID, predicted, actual, isCorrect)
	if err != nil {
		return fmt.Errorf("destsink: insert classification_feedback %s: %w", id, err)
	}
	return nil
}

// InsertRecommendation stores a PENDING recommendation for dashboard
// review. detailsJSON is the recommendation's full payload, already
// marshalled by the caller so this layer stays encoding-agnostic.
func (s *Sink) InsertRecommendation(ctx context.Context, id, recType, detailsJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (id, rec_type, rec_details_json, status)
		VALUES (?, ?, ?, 'PENDING')
	`, id, recType, detailsJSON)
	if err != nil {
		return fmt.Errorf("destsink: insert recommendation %s: %w", id, err)
	}
	return nil
}

// InsertEvaluationHistory stores one weekly evaluation run's summary
// metrics, notesJSON being the full results payload for later inspection.
func (s *Sink) InsertEvaluationHistory(ctx context.Context, id string, churned, withScore int, recall, coverage, avgScore float64, recsGenerated int, notesJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_history (
			id, churned_count, with_score_count, recall_rate, coverage_rate,
			avg_churn_score, recommendations_generated, notes_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, churned, withScore, recall, coverage, avgScore, recsGenerated, notesJSON)
	if err != nil {
		return fmt.Errorf("destsink: insert evaluation_history %s: %w", id, err)
	}
	return nil
}
