package recommend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Recommendation is one suggested config change awaiting human review.
// Details is marshalled to JSON as-is before being stored.
type Recommendation struct {
	Type    string
	Details map[string]any
}

// GenerateRecommendations mirrors generate_recommendations exactly: a
// churn_threshold suggestion when recall < 0.5, a churn_keywords
// suggestion when AnalyzePatterns found anything significant, and a
// pipeline_coverage warning when coverage < 0.8.
func (e *Engine) GenerateRecommendations(metrics ChurnMetrics, patterns Patterns) []Recommendation {
	var recs []Recommendation

	if metrics.Recall < 0.5 {
		recs = append(recs, Recommendation{
			Type: "churn_threshold",
			Details: map[string]any{
				"current_value":     e.cfg.HighRiskThreshold,
				"recommended_value": e.cfg.MediumRiskThreshold,
				"reason": fmt.Sprintf(
					"Churn recall is only %.1f%%. Lowering the alert threshold will catch more churners.",
					metrics.Recall*100),
				"impact": "May increase false positives but will catch more actual churners",
				"metrics": map[string]any{
					"current_recall":  metrics.Recall,
					"missed_churners": metrics.WithScore - metrics.MediumPlusCaught,
				},
			},
		})
	}

	if len(patterns.Keywords) > 0 {
		recs = append(recs, Recommendation{
			Type: "churn_keywords",
			Details: map[string]any{
				"keywords": patterns.Keywords,
				"reason": fmt.Sprintf(
					"Found %d keywords appearing frequently in conversations of churners we missed",
					len(patterns.Keywords)),
				"keyword_counts": patterns.KeywordCounts,
				"sample_phrases": patterns.SamplePhrases,
				"impact": fmt.Sprintf(
					"Adding these keywords may help catch %d similar churners", patterns.MissedCount),
			},
		})
	}

	if metrics.Coverage < 0.8 && metrics.TotalChurned > 0 {
		recs = append(recs, Recommendation{
			Type: "pipeline_coverage",
			Details: map[string]any{
				"current_coverage": metrics.Coverage,
				"reason": fmt.Sprintf(
					"Only %.1f%% of churner calls were processed by ML. %d customers had no churn score.",
					metrics.Coverage*100, metrics.WithoutScore),
				"impact": "Investigate why some calls are not being processed by the ML service",
			},
		})
	}

	return recs
}

// AnalyzeClassificationFeedback mirrors analyze_classification_feedback:
// misclassification pairs corrected at least MisclassificationMinCount
// times in the last MisclassificationDays days produce one
// classification_fix recommendation bundling all of them.
func (e *Engine) AnalyzeClassificationFeedback(ctx context.Context) ([]Recommendation, error) {
	pairs, err := e.sink.MisclassificationPairs(ctx, e.cfg.MisclassificationDays, e.cfg.MisclassificationMinCount)
	if err != nil {
		return nil, fmt.Errorf("recommend: analyze classification feedback: %w", err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	total := 0
	misclassifications := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		total += p.Count
		misclassifications = append(misclassifications, map[string]any{
			"predicted": p.Predicted,
			"actual":    p.Actual,
			"count":     p.Count,
		})
	}

	return []Recommendation{{
		Type: "classification_fix",
		Details: map[string]any{
			"misclassifications": misclassifications,
			"reason":             fmt.Sprintf("Human reviewers corrected these classifications %d times", total),
			"impact":             "Consider adding keywords to differentiate these categories",
		},
	}}, nil
}

// StoreRecommendations writes each recommendation as a PENDING row.
func (e *Engine) StoreRecommendations(ctx context.Context, recs []Recommendation) error {
	for _, r := range recs {
		payload := map[string]any{"type": r.Type}
		for k, v := range r.Details {
			payload[k] = v
		}
		blob, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("recommend: marshal recommendation %s: %w", r.Type, err)
		}
		if err := e.sink.InsertRecommendation(ctx, uuid.NewString(), r.Type, string(blob)); err != nil {
			return err
		}
	}
	return nil
}

// StoreEvaluationHistory records one run's summary metrics for historical
// tracking, notes being the full results payload serialized as JSON.
func (e *Engine) StoreEvaluationHistory(ctx context.Context, metrics ChurnMetrics, recsGenerated int, notes any) error {
	blob, err := json.Marshal(notes)
	if err != nil {
		blob = []byte("{}")
	}
	return e.sink.InsertEvaluationHistory(ctx, uuid.NewString(),
		metrics.TotalChurned, metrics.WithScore, metrics.Recall, metrics.Coverage, metrics.AvgChurnScore,
		recsGenerated, string(blob))
}
