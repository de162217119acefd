// Package recommend implements the weekly evaluation job: it compares
// actual customer churn outcomes against what the ML pipeline predicted,
// mines the conversations of churners the pipeline missed for recurring
// language, and stores recommendations for a human to review — never
// applying a config change on its own.
package recommend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scalytics/cdcbridge/internal/catalog"
	"github.com/scalytics/cdcbridge/internal/cdcloop"
	"github.com/scalytics/cdcbridge/internal/destsink"
)

// Config controls the lookback windows and thresholds the weekly
// evaluation uses. Defaults match the constants the job this engine
// generalizes from hard-codes.
type Config struct {
	ChurnLookbackDays        int
	HighRiskThreshold        int
	MediumRiskThreshold      int
	SubscriberTable          string
	SubscriberNoColumn       string
	StatusColumn             string
	StatusDateColumn         string
	ChurnedStatuses          []string
	MisclassificationDays    int
	MisclassificationMinCount int
}

// DefaultConfig returns the historical default thresholds.
func DefaultConfig() Config {
	return Config{
		ChurnLookbackDays:         30,
		HighRiskThreshold:         70,
		MediumRiskThreshold:       40,
		SubscriberTable:           "SUBSCRIBER",
		SubscriberNoColumn:        "SUBSCRIBER_NO",
		StatusColumn:              "STATUS",
		StatusDateColumn:          "STATUS_DATE",
		ChurnedStatuses:           []string{"CHURNED", "PORTED", "CANCELLED", "DEACTIVATED"},
		MisclassificationDays:     30,
		MisclassificationMinCount: 3,
	}
}

// ChurnedCustomer is one subscriber whose status went to a churned state
// within the lookback window, plus their call history and the highest
// churn_score the ML pipeline ever assigned across those calls.
type ChurnedCustomer struct {
	SubscriberNo     string
	Status           string
	StatusDate       time.Time
	CallIDs          []string
	MaxChurnScore    *int
	ConversationText string
}

// Engine drives one weekly evaluation run against a relational source
// (for subscriber status and call history) and destsink (for the
// churn_score the ML pipeline already wrote per call).
type Engine struct {
	cfg      Config
	sourceDB *sql.DB
	reader   *cdcloop.SQLReader
	entry    catalog.Entry
	sink     *destsink.Sink
}

// New builds an Engine. entry names the fragment table (subscriber_key,
// the time column) the churned-customer call history is read from.
func New(cfg Config, sourceDB *sql.DB, entry catalog.Entry, sink *destsink.Sink) *Engine {
	def := DefaultConfig()
	if cfg.ChurnLookbackDays <= 0 {
		cfg.ChurnLookbackDays = def.ChurnLookbackDays
	}
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = def.HighRiskThreshold
	}
	if cfg.MediumRiskThreshold <= 0 {
		cfg.MediumRiskThreshold = def.MediumRiskThreshold
	}
	if cfg.SubscriberTable == "" {
		cfg.SubscriberTable = def.SubscriberTable
	}
	if cfg.SubscriberNoColumn == "" {
		cfg.SubscriberNoColumn = def.SubscriberNoColumn
	}
	if cfg.StatusColumn == "" {
		cfg.StatusColumn = def.StatusColumn
	}
	if cfg.StatusDateColumn == "" {
		cfg.StatusDateColumn = def.StatusDateColumn
	}
	if len(cfg.ChurnedStatuses) == 0 {
		cfg.ChurnedStatuses = def.ChurnedStatuses
	}
	if cfg.MisclassificationDays <= 0 {
		cfg.MisclassificationDays = def.MisclassificationDays
	}
	if cfg.MisclassificationMinCount <= 0 {
		cfg.MisclassificationMinCount = def.MisclassificationMinCount
	}
	return &Engine{cfg: cfg, sourceDB: sourceDB, reader: cdcloop.NewSQLReader(sourceDB), entry: entry, sink: sink}
}

// CollectChurned finds subscribers whose status moved to a churned state
// within the lookback window, with their call ids (most recent first) and
// the highest churn_score the pipeline wrote across those calls.
func (e *Engine) CollectChurned(ctx context.Context) ([]ChurnedCustomer, error) {
	placeholders := make([]string, len(e.cfg.ChurnedStatuses))
	args := make([]any, 0, len(e.cfg.ChurnedStatuses)+1)
	for i, s := range e.cfg.ChurnedStatuses {
		placeholders[i] = "?"
		args = append(args, s)
	}
	since := time.Now().Add(-time.Duration(e.cfg.ChurnLookbackDays) * 24 * time.Hour).UTC()
	args = append(args, since)

	query := fmt.Sprintf(`
		SELECT %s, %s, %s FROM %s
		WHERE %s IN (%s) AND %s > ?
	`, e.cfg.SubscriberNoColumn, e.cfg.StatusColumn, e.cfg.StatusDateColumn, e.cfg.SubscriberTable,
		e.cfg.StatusColumn, strings.Join(placeholders, ","), e.cfg.StatusDateColumn)

	rows, err := e.sourceDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recommend: query churned subscribers: %w", err)
	}
	var customers []ChurnedCustomer
	for rows.Next() {
		var c ChurnedCustomer
		if err := rows.Scan(&c.SubscriberNo, &c.Status, &c.StatusDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("recommend: scan churned subscriber: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range customers {
		if err := e.fillCallHistory(ctx, &customers[i]); err != nil {
			return nil, err
		}
	}
	return customers, nil
}

// fillCallHistory populates CallIDs (most-recent-first) and MaxChurnScore
// for one churned customer by joining the fragment table on subscriber
// key and looking each call id's churn_score up in destsink.
func (e *Engine) fillCallHistory(ctx context.Context, c *ChurnedCustomer) error {
	query := fmt.Sprintf(`
		SELECT DISTINCT %s FROM %s WHERE subscriber_key = ? AND %s < ? ORDER BY %s DESC
	`, e.entry.IDColumn, e.entry.Table, e.entry.TimeColumn, e.entry.TimeColumn)

	rows, err := e.sourceDB.QueryContext(ctx, query, c.SubscriberNo, c.StatusDate.UTC())
	if err != nil {
		return fmt.Errorf("recommend: query call history for %s: %w", c.SubscriberNo, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("recommend: scan call id for %s: %w", c.SubscriberNo, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.CallIDs = ids

	var maxScore *int
	for _, id := range ids {
		score, ok, err := e.sink.ChurnScoreFor(ctx, e.entry.DestinationTypeTag, id)
		if err != nil {
			return fmt.Errorf("recommend: churn score lookup for %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if maxScore == nil || score > *maxScore {
			s := score
			maxScore = &s
		}
	}
	c.MaxChurnScore = maxScore
	return nil
}

// ChurnMetrics summarizes how well the ML pipeline predicted the observed
// churn, mirroring evaluate_churn_predictions exactly.
type ChurnMetrics struct {
	TotalChurned     int
	WithScore        int
	WithoutScore     int
	HighRiskCaught   int
	MediumPlusCaught int
	RecallHigh       float64
	RecallMedium     float64
	Recall           float64
	Coverage         float64
	AvgChurnScore    float64
	Samples          int
}

// EvaluateChurnPredictions computes recall/coverage/avg-score over the
// churned set exactly as the original pipeline does: recall is measured
// only against subscribers the pipeline actually scored.
func (e *Engine) EvaluateChurnPredictions(churned []ChurnedCustomer) ChurnMetrics {
	if len(churned) == 0 {
		return ChurnMetrics{}
	}

	var withScore, withoutScore []ChurnedCustomer
	for _, c := range churned {
		if c.MaxChurnScore != nil {
			withScore = append(withScore, c)
		} else {
			withoutScore = append(withoutScore, c)
		}
	}

	var highRisk, mediumPlus int
	var scoreSum float64
	for _, c := range withScore {
		if *c.MaxChurnScore >= e.cfg.HighRiskThreshold {
			highRisk++
		}
		if *c.MaxChurnScore >= e.cfg.MediumRiskThreshold {
			mediumPlus++
		}
		scoreSum += float64(*c.MaxChurnScore)
	}

	var recallHigh, recallMedium, avgScore float64
	if len(withScore) > 0 {
		recallHigh = float64(highRisk) / float64(len(withScore))
		recallMedium = float64(mediumPlus) / float64(len(withScore))
		avgScore = scoreSum / float64(len(withScore))
	}

	return ChurnMetrics{
		TotalChurned:     len(churned),
		WithScore:        len(withScore),
		WithoutScore:      len(withoutScore),
		HighRiskCaught:   highRisk,
		MediumPlusCaught: mediumPlus,
		RecallHigh:       recallHigh,
		RecallMedium:     recallMedium,
		Recall:           recallMedium,
		Coverage:         float64(len(withScore)) / float64(len(churned)),
		AvgChurnScore:    avgScore,
		Samples:          len(churned),
	}
}

// MissedChurners returns the subset of churned customers the pipeline
// never flagged at or above the medium-risk threshold (including those
// with no score at all), with ConversationText populated from their most
// recent call for pattern mining.
func (e *Engine) MissedChurners(ctx context.Context, churned []ChurnedCustomer) ([]ChurnedCustomer, error) {
	var missed []ChurnedCustomer
	for _, c := range churned {
		if c.MaxChurnScore != nil && *c.MaxChurnScore >= e.cfg.MediumRiskThreshold {
			continue
		}
		if len(c.CallIDs) > 0 {
			text, err := e.transcriptFor(ctx, c.CallIDs[0])
			if err != nil {
				slog.Warn("recommend: fetch transcript failed", "subscriber", c.SubscriberNo, "call_id", c.CallIDs[0], "error", err)
			} else {
				c.ConversationText = text
			}
		}
		missed = append(missed, c)
	}
	return missed, nil
}

// transcriptFor concatenates every fragment's text for one call id, in
// ascending time order, the same fragment reader the CDC loop uses.
func (e *Engine) transcriptFor(ctx context.Context, callID string) (string, error) {
	frags, err := e.reader.FetchFragments(ctx, e.entry, callID)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(frags))
	for _, f := range frags {
		if f.Text != "" {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, " "), nil
}
