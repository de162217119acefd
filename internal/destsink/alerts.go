package destsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AlertConfig is one row of alert_configs: a metric, an operator/threshold
// pair, and the time window the metric is computed over.
type AlertConfig struct {
	ID              string
	Name            string
	MetricSource    string
	MetricName      string
	Operator        string
	Threshold       float64
	WindowHours     int
	ProductFilter   string
	SentimentFilter string
	Severity        string
}

// InsertAlertConfig adds a new alert_configs row. Every row is inserted
// with enabled = 1; AlertConfig has no enabled field and this package has
// no call that disables a config.
func (s *Sink) InsertAlertConfig(ctx context.Context, cfg AlertConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_configs (id, name, metric_source, metric_name, operator, threshold,
			window_hours, product_filter, sentiment_filter, severity, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, cfg.ID, cfg.Name, cfg.MetricSource, cfg.MetricName, cfg.Operator, cfg.Threshold,
		cfg.WindowHours, nullIfEmpty(cfg.ProductFilter), nullIfEmpty(cfg.SentimentFilter), cfg.Severity)
	if err != nil {
		return fmt.Errorf("destsink: insert alert_configs %s: %w", cfg.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// EnabledAlertConfigs returns every alert_configs row with enabled = 1.
func (s *Sink) EnabledAlertConfigs(ctx context.Context) ([]AlertConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, metric_source, metric_name, operator, threshold,
			window_hours, product_filter, sentiment_filter, severity
		FROM alert_configs
		WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("destsink: query alert_configs: %w", err)
	}
	defer rows.Close()

	var out []AlertConfig
	for rows.Next() {
		var c AlertConfig
		var product, sentiment sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.MetricSource, &c.MetricName, &c.Operator, &c.Threshold,
			&c.WindowHours, &product, &sentiment, &c.Severity); err != nil {
			return nil, fmt.Errorf("destsink: scan alert_configs: %w", err)
		}
		c.ProductFilter = product.String
		c.SentimentFilter = sentiment.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// HasActiveAlert reports whether alert_history already has an ACTIVE row
// for configID, the guard evaluate_all_alerts uses to avoid re-triggering
// an alert that is already open.
func (s *Sink) HasActiveAlert(ctx context.Context, configID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_history WHERE config_id = ? AND status = 'ACTIVE'
	`, configID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("destsink: query active alert for %s: %w", configID, err)
	}
	return count > 0, nil
}

// InsertAlertHistory records a newly triggered alert. affectedSubscribers
// is stored pre-marshalled JSON (or "[]").
func (s *Sink) InsertAlertHistory(ctx context.Context, id, configID string, metricValue, threshold float64, severity string, affectedCount int, affectedSubscribersJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, config_id, metric_value, threshold, severity, affected_count, affected_subscribers_blob)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, configID, metricValue, threshold, severity, affectedCount, affectedSubscribersJSON)
	if err != nil {
		return fmt.Errorf("destsink: insert alert_history for %s: %w", configID, err)
	}
	return nil
}

// AffectedSubscriber is one row surfaced alongside a triggered metric, for
// the affected_subscribers_blob JSON payload.
type AffectedSubscriber struct {
	SourceID      string  `json:"source_id"`
	AccountKey    string  `json:"account_key"`
	SubscriberKey string  `json:"subscriber_key"`
	ChurnScore    int     `json:"churn_score,omitempty"`
	Sentiment     int     `json:"sentiment,omitempty"`
	Satisfaction  int     `json:"satisfaction,omitempty"`
	CallTime      string  `json:"call_time"`
}

func productFilterClause(productFilter string) (string, []any) {
	if productFilter == "" {
		return "", nil
	}
	return " AND cs.account_key = ?", []any{productFilter}
}

func windowSince(hours int) time.Time {
	return time.Now().Add(-time.Duration(hours) * time.Hour).UTC()
}

// countSince returns COUNT(*) over conversation_summary rows newer than
// the window start matching extraWhere (a "AND ..." clause or "").
func (s *Sink) countSince(ctx context.Context, extraWhere string, hours int, productFilter string) (int, error) {
	clause, args := productFilterClause(productFilter)
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM conversation_summary cs
		WHERE cs.conversation_time > ? %s %s
	`, extraWhere, clause)
	args = append([]any{windowSince(hours)}, args...)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("destsink: count metric query: %w", err)
	}
	return count, nil
}

// HighRiskCount counts conversation_summary rows with churn_score >= threshold
// within the window, plus the subscribers driving it (churn.high_risk_count
// and churn.critical_risk_count share this shape; threshold differs: 70/90).
func (s *Sink) HighRiskCount(ctx context.Context, threshold float64, hours int, productFilter string) (int, []AffectedSubscriber, error) {
	clause, args := productFilterClause(productFilter)
	count, err := s.countSince(ctx, fmt.Sprintf("AND cs.churn_score >= %d", int(threshold)), hours, productFilter)
	if err != nil {
		return 0, nil, err
	}

	query := fmt.Sprintf(`
		SELECT cs.source_id, cs.account_key, cs.subscriber_key, cs.churn_score, cs.conversation_time
		FROM conversation_summary cs
		WHERE cs.churn_score >= %d AND cs.conversation_time > ? %s
		ORDER BY cs.churn_score DESC
		LIMIT 100
	`, int(threshold), clause)
	args = append([]any{windowSince(hours)}, args...)

	subs, err := s.scanAffectedSubscribers(ctx, query, args, "churn")
	if err != nil {
		return 0, nil, err
	}
	return count, subs, nil
}

// AvgChurnScore returns the average churn_score over non-null rows in the
// window (0 when there are none).
func (s *Sink) AvgChurnScore(ctx context.Context, hours int, productFilter string) (float64, error) {
	clause, args := productFilterClause(productFilter)
	query := fmt.Sprintf(`
		SELECT COALESCE(ROUND(AVG(churn_score), 1), 0) FROM conversation_summary cs
		WHERE cs.conversation_time > ? %s
	`, clause)
	args = append([]any{windowSince(hours)}, args...)

	var avg float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("destsink: avg churn score: %w", err)
	}
	return avg, nil
}

// sentimentNegative/Positive classify destsink's 1-5 integer sentiment
// scale: <=2 is negative, >=4 is positive, matching the normalization
// ingest already performs on the way in.
const (
	sentimentNegativeMax = 2
	sentimentPositiveMin = 4
)

// NegativeSentimentCount and the percent/positive-percent variants below
// replace the original's string OVERALL_SENTIMENT IN ('negative', '...')
// comparison with a threshold on the integer scale this schema stores.
func (s *Sink) NegativeSentimentCount(ctx context.Context, hours int, productFilter string) (int, []AffectedSubscriber, error) {
	clause, args := productFilterClause(productFilter)
	count, err := s.countSince(ctx, fmt.Sprintf("AND cs.sentiment <= %d", sentimentNegativeMax), hours, productFilter)
	if err != nil {
		return 0, nil, err
	}

	query := fmt.Sprintf(`
		SELECT cs.source_id, cs.account_key, cs.subscriber_key, cs.sentiment, cs.conversation_time
		FROM conversation_summary cs
		WHERE cs.sentiment <= %d AND cs.conversation_time > ? %s
		ORDER BY cs.conversation_time DESC
		LIMIT 100
	`, sentimentNegativeMax, clause)
	args = append([]any{windowSince(hours)}, args...)

	subs, err := s.scanAffectedSubscribers(ctx, query, args, "sentiment")
	if err != nil {
		return 0, nil, err
	}
	return count, subs, nil
}

func (s *Sink) sentimentPercent(ctx context.Context, hours int, productFilter string, matchSQL string) (float64, error) {
	clause, args := productFilterClause(productFilter)
	query := fmt.Sprintf(`
		SELECT ROUND(
			COUNT(CASE WHEN %s THEN 1 END) * 100.0 / NULLIF(COUNT(*), 0)
		, 1) FROM conversation_summary cs
		WHERE cs.conversation_time > ? %s
	`, matchSQL, clause)
	args = append([]any{windowSince(hours)}, args...)

	var pct sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&pct); err != nil {
		return 0, fmt.Errorf("destsink: sentiment percent: %w", err)
	}
	return pct.Float64, nil
}

// NegativePercent and PositivePercent are the percentage-of-calls
// counterparts of NegativeSentimentCount.
func (s *Sink) NegativePercent(ctx context.Context, hours int, productFilter string) (float64, error) {
	return s.sentimentPercent(ctx, hours, productFilter, fmt.Sprintf("cs.sentiment <= %d", sentimentNegativeMax))
}

func (s *Sink) PositivePercent(ctx context.Context, hours int, productFilter string) (float64, error) {
	return s.sentimentPercent(ctx, hours, productFilter, fmt.Sprintf("cs.sentiment >= %d", sentimentPositiveMin))
}

// AvgSatisfaction averages customer_satisfaction over the window.
func (s *Sink) AvgSatisfaction(ctx context.Context, hours int, productFilter string) (float64, error) {
	clause, args := productFilterClause(productFilter)
	query := fmt.Sprintf(`
		SELECT COALESCE(ROUND(AVG(customer_satisfaction), 2), 0) FROM conversation_summary cs
		WHERE cs.conversation_time > ? %s
	`, clause)
	args = append([]any{windowSince(hours)}, args...)

	var avg float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("destsink: avg satisfaction: %w", err)
	}
	return avg, nil
}

// LowSatisfactionCount counts customer_satisfaction < 3 rows in the window.
func (s *Sink) LowSatisfactionCount(ctx context.Context, hours int, productFilter string) (int, []AffectedSubscriber, error) {
	clause, args := productFilterClause(productFilter)
	count, err := s.countSince(ctx, "AND cs.customer_satisfaction < 3", hours, productFilter)
	if err != nil {
		return 0, nil, err
	}

	query := fmt.Sprintf(`
		SELECT cs.source_id, cs.account_key, cs.subscriber_key, cs.customer_satisfaction, cs.conversation_time
		FROM conversation_summary cs
		WHERE cs.customer_satisfaction < 3 AND cs.conversation_time > ? %s
		ORDER BY cs.customer_satisfaction ASC
		LIMIT 100
	`, clause)
	args = append([]any{windowSince(hours)}, args...)

	subs, err := s.scanAffectedSubscribers(ctx, query, args, "satisfaction")
	if err != nil {
		return 0, nil, err
	}
	return count, subs, nil
}

// PendingRecommendationCount counts recommendations rows with status = PENDING.
func (s *Sink) PendingRecommendationCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendations WHERE status = 'PENDING'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("destsink: count pending recommendations: %w", err)
	}
	return count, nil
}

// CallVolume counts every conversation_summary row in the window; ErrorCount
// has no analogue in this schema (destsink never records a per-call
// ERROR_MESSAGE column), so it always returns 0 — see the evaluator's
// operational.error_count case.
func (s *Sink) CallVolume(ctx context.Context, hours int, productFilter string) (int, error) {
	return s.countSince(ctx, "", hours, productFilter)
}

func (s *Sink) scanAffectedSubscribers(ctx context.Context, query string, args []any, kind string) ([]AffectedSubscriber, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("destsink: query affected subscribers (%s): %w", kind, err)
	}
	defer rows.Close()

	var out []AffectedSubscriber
	for rows.Next() {
		var sub AffectedSubscriber
		var value int
		var callTime sql.NullTime
		if err := rows.Scan(&sub.SourceID, &sub.AccountKey, &sub.SubscriberKey, &value, &callTime); err != nil {
			return nil, fmt.Errorf("destsink: scan affected subscriber (%s): %w", kind, err)
		}
		switch kind {
		case "churn":
			sub.ChurnScore = value
		case "sentiment":
			sub.Sentiment = value
		case "satisfaction":
			sub.Satisfaction = value
		}
		if callTime.Valid {
			sub.CallTime = callTime.Time.UTC().Format("2006-01-02 15:04")
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
