// Package alerts evaluates the enabled alert_configs rows against the
// current destination tables and opens alert_history rows when a
// threshold is crossed, mirroring the metric-source/metric-name branching
// of the system this bridge generalizes alert evaluation from.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/metrics"
)

// metricFunc computes one metric's current value plus the subscribers
// driving it, for a given config's window and optional product filter.
type metricFunc func(ctx context.Context, sink *destsink.Sink, hours int, productFilter string) (float64, []destsink.AffectedSubscriber, error)

// metricTable is keyed by (metric_source, metric_name), exactly the
// branching evaluate_metric uses; an unmapped pair evaluates to 0 with no
// affected subscribers, matching the original's fallthrough return.
var metricTable = map[string]map[string]metricFunc{
	"churn": {
		"high_risk_count":     func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, subs, err := s.HighRiskCount(ctx, 70, hours, pf)
			return float64(count), subs, err
		},
		"critical_risk_count": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, subs, err := s.HighRiskCount(ctx, 90, hours, pf)
			return float64(count), subs, err
		},
		"avg_churn_score": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			avg, err := s.AvgChurnScore(ctx, hours, pf)
			return avg, nil, err
		},
	},
	"sentiment": {
		"negative_count": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, subs, err := s.NegativeSentimentCount(ctx, hours, pf)
			return float64(count), subs, err
		},
		"negative_percent": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			pct, err := s.NegativePercent(ctx, hours, pf)
			return pct, nil, err
		},
		"positive_percent": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			pct, err := s.PositivePercent(ctx, hours, pf)
			return pct, nil, err
		},
	},
	"satisfaction": {
		"avg_satisfaction": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			avg, err := s.AvgSatisfaction(ctx, hours, pf)
			return avg, nil, err
		},
		"low_satisfaction_count": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, subs, err := s.LowSatisfactionCount(ctx, hours, pf)
			return float64(count), subs, err
		},
	},
	"ml_quality": {
		"pending_count": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, err := s.PendingRecommendationCount(ctx)
			return float64(count), nil, err
		},
		// recall_rate has no computation upstream either; this is a
		// documented no-op, not a missing feature.
		"recall_rate": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			return 0, nil, nil
		},
	},
	"operational": {
		// destsink's conversation_summary carries no per-call error
		// column, so error_count always evaluates to 0 rather than a
		// genuine error tally.
		"error_count": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			return 0, nil, nil
		},
		"call_volume": func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
			count, err := s.CallVolume(ctx, hours, pf)
			return float64(count), nil, err
		},
	},
}

// compare applies operator (gt/gte/lt/lte/eq) to value against threshold.
// Any other operator evaluates to false.
func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	default:
		return false
	}
}

// Result is one config's evaluation outcome.
type Result struct {
	ConfigID      string
	Name          string
	MetricValue   float64
	Threshold     float64
	Triggered     bool
	AlertCreated  bool
	AlreadyActive bool
}

// Notifier posts a one-line summary when a new alert is created. Failure
// to notify never fails or blocks alert creation.
type Notifier interface {
	Notify(ctx context.Context, cfg destsink.AlertConfig, value float64) error
}

// Evaluator evaluates every enabled alert_configs row against sink and
// opens an alert_history row for each newly-triggered one not already
// ACTIVE. notifier is optional; a nil notifier disables Slack output.
type Evaluator struct {
	sink     *destsink.Sink
	notifier Notifier
}

// New builds an Evaluator. Pass a nil notifier to run without Slack.
func New(sink *destsink.Sink, notifier Notifier) *Evaluator {
	return &Evaluator{sink: sink, notifier: notifier}
}

// EvaluateAll loads every enabled config, computes its metric, and opens a
// new alert_history row for each newly-triggered condition that doesn't
// already have an ACTIVE row.
func (e *Evaluator) EvaluateAll(ctx context.Context) ([]Result, error) {
	configs, err := e.sink.EnabledAlertConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("alerts: load configs: %w", err)
	}

	results := make([]Result, 0, len(configs))
	for _, cfg := range configs {
		result, err := e.evaluateOne(ctx, cfg)
		if err != nil {
			slog.Error("alerts: evaluate config failed", "config_id", cfg.ID, "name", cfg.Name, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, cfg destsink.AlertConfig) (Result, error) {
	fn := metricFuncFor(cfg.MetricSource, cfg.MetricName)
	value, subscribers, err := fn(ctx, e.sink, cfg.WindowHours, cfg.ProductFilter)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate metric %s.%s: %w", cfg.MetricSource, cfg.MetricName, err)
	}

	result := Result{
		ConfigID:    cfg.ID,
		Name:        cfg.Name,
		MetricValue: value,
		Threshold:   cfg.Threshold,
		Triggered:   compare(value, cfg.Operator, cfg.Threshold),
	}
	if !result.Triggered {
		return result, nil
	}

	active, err := e.sink.HasActiveAlert(ctx, cfg.ID)
	if err != nil {
		return Result{}, fmt.Errorf("check active alert: %w", err)
	}
	if active {
		result.AlreadyActive = true
		return result, nil
	}

	blob, err := json.Marshal(subscribers)
	if err != nil {
		blob = []byte("[]")
	}
	if err := e.sink.InsertAlertHistory(ctx, uuid.NewString(), cfg.ID, value, cfg.Threshold, cfg.Severity, len(subscribers), string(blob)); err != nil {
		return Result{}, fmt.Errorf("insert alert history: %w", err)
	}
	result.AlertCreated = true
	metrics.AlertsTriggered.WithLabelValues(cfg.Name).Inc()

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, cfg, value); err != nil {
			slog.Warn("alerts: notify failed", "config_id", cfg.ID, "name", cfg.Name, "error", err)
		}
	}
	return result, nil
}

func metricFuncFor(source, name string) metricFunc {
	if byName, ok := metricTable[source]; ok {
		if fn, ok := byName[name]; ok {
			return fn
		}
	}
	return func(ctx context.Context, s *destsink.Sink, hours int, pf string) (float64, []destsink.AffectedSubscriber, error) {
		return 0, nil, nil
	}
}
