package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/scalytics/cdcbridge/internal/metrics"
)

// Results is the full weekly evaluation output, stored as the evaluation
// history notes payload and returned to the CLI caller for printing.
type Results struct {
	Timestamp       time.Time
	Churn           ChurnMetrics
	Patterns        Patterns
	Recommendations []Recommendation
	Errors          []string
}

// RunWeekly mirrors run_weekly_evaluation step for step: collect churned
// customers, evaluate predictions, mine missed-churner patterns, generate
// and store recommendations, fold in classification-feedback
// recommendations, then store the run's summary history. A result with
// zero churned customers still stores an empty ChurnMetrics, matching the
// original's early return with an explanatory error string.
func (e *Engine) RunWeekly(ctx context.Context) (Results, error) {
	results := Results{Timestamp: time.Now()}
	slog.Info("recommend: starting weekly evaluation", "timestamp", results.Timestamp)

	churned, err := e.CollectChurned(ctx)
	if err != nil {
		return results, fmt.Errorf("recommend: collect churned: %w", err)
	}
	slog.Info("recommend: churned customers found", "count", len(churned))

	if len(churned) == 0 {
		results.Errors = append(results.Errors, "no churned customers found in lookback window")
		if err := e.StoreEvaluationHistory(ctx, ChurnMetrics{}, 0, results); err != nil {
			slog.Error("recommend: store evaluation history failed", "error", err)
		}
		return results, nil
	}

	churnMetrics := e.EvaluateChurnPredictions(churned)
	results.Churn = churnMetrics
	slog.Info("recommend: churn metrics", "recall", churnMetrics.Recall, "coverage", churnMetrics.Coverage)

	missed, err := e.MissedChurners(ctx, churned)
	if err != nil {
		return results, fmt.Errorf("recommend: missed churners: %w", err)
	}
	patterns := AnalyzePatterns(missed)
	results.Patterns = patterns

	recs := e.GenerateRecommendations(churnMetrics, patterns)
	if len(recs) > 0 {
		if err := e.StoreRecommendations(ctx, recs); err != nil {
			return results, fmt.Errorf("recommend: store recommendations: %w", err)
		}
		metrics.RecommendationsGenerated.Add(float64(len(recs)))
		slog.Info("recommend: stored recommendations", "count", len(recs))
	} else {
		slog.Info("recommend: no recommendations generated, system performing well")
	}
	results.Recommendations = recs

	feedbackRecs, err := e.AnalyzeClassificationFeedback(ctx)
	if err != nil {
		slog.Error("recommend: classification feedback analysis failed", "error", err)
	} else if len(feedbackRecs) > 0 {
		if err := e.StoreRecommendations(ctx, feedbackRecs); err != nil {
			slog.Error("recommend: store feedback recommendations failed", "error", err)
		} else {
			results.Recommendations = append(results.Recommendations, feedbackRecs...)
			metrics.RecommendationsGenerated.Add(float64(len(feedbackRecs)))
		}
	}

	if err := e.StoreEvaluationHistory(ctx, churnMetrics, len(results.Recommendations), results); err != nil {
		slog.Error("recommend: store evaluation history failed", "error", err)
	}

	slog.Info("recommend: weekly evaluation complete", "recommendations", len(results.Recommendations))
	return results, nil
}
