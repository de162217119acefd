// Package approval implements the approve/reject/apply channel that
// gates a recommendation's rollout: approving mutates the remote config
// artifact in the object store, applying publishes a single reload
// notification so the remote service knows to re-read it. The two are
// kept deliberately separate so an operator controls rollout timing.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/scalytics/cdcbridge/internal/destsink"
	"github.com/scalytics/cdcbridge/internal/objectstore"
	"github.com/scalytics/cdcbridge/internal/queue"
)

// classificationConfigKey is the object-store key the churn_keywords and
// churn_threshold mutations both read and rewrite.
const classificationConfigKey = "configs/call-classifications.json"

// Channel approves, rejects, and applies recommendations stored in
// destsink, mutating the classification config artifact in store and
// publishing reload notifications on notifier.
type Channel struct {
	sink     *destsink.Sink
	store    objectstore.Store
	notifier queue.Producer
	topic    string
}

// New builds a Channel. topic is the reload-notification queue topic
// ApplyToService publishes to.
func New(sink *destsink.Sink, store objectstore.Store, notifier queue.Producer, topic string) *Channel {
	return &Channel{sink: sink, store: store, notifier: notifier, topic: topic}
}

// Approve fetches a PENDING recommendation, applies its side effect to
// the classification config artifact, and transitions the row to
// APPROVED. It never publishes a notification — that is ApplyToService's
// job alone.
func (c *Channel) Approve(ctx context.Context, recID, approver string) error {
	rec, err := c.sink.PendingRecommendation(ctx, recID)
	if err != nil {
		return fmt.Errorf("approval: approve %s: %w", recID, err)
	}

	var details map[string]any
	if err := json.Unmarshal([]byte(rec.DetailsJSON), &details); err != nil {
		return fmt.Errorf("approval: decode recommendation %s details: %w", recID, err)
	}

	if err := c.applyMutation(ctx, rec.Type, details); err != nil {
		return fmt.Errorf("approval: apply mutation for %s: %w", recID, err)
	}

	if err := c.sink.ApproveRecommendation(ctx, recID, approver); err != nil {
		return fmt.Errorf("approval: mark %s approved: %w", recID, err)
	}
	return nil
}

// Reject transitions a PENDING recommendation to REJECTED with reason,
// mutating nothing.
func (c *Channel) Reject(ctx context.Context, recID, rejectedBy, reason string) error {
	if err := c.sink.RejectRecommendation(ctx, recID, rejectedBy, reason); err != nil {
		return fmt.Errorf("approval: reject %s: %w", recID, err)
	}
	return nil
}

// ApplyToService publishes a single reload_configs notification. It
// carries no payload: the remote service pulls the current artifact
// from the object store itself.
func (c *Channel) ApplyToService(ctx context.Context, triggeredBy string) error {
	body, err := json.Marshal(map[string]any{
		"action":       "reload_configs",
		"triggered_by": triggeredBy,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("approval: marshal reload notification: %w", err)
	}
	if err := c.notifier.Publish(ctx, queue.Message{Topic: c.topic, Value: body}); err != nil {
		return fmt.Errorf("approval: publish reload notification: %w", err)
	}
	return nil
}

// applyMutation mutates the classification config artifact per
// recommendation type, matching the contract exactly:
//   - churn_keywords: union the recommended keywords into
//     churn_keywords.medium
//   - churn_threshold: set churn_detection.threshold to
//     recommended_value / 100
//
// Any other recommendation type is approved without mutating the
// artifact (e.g. pipeline_coverage and classification_fix are informational).
func (c *Channel) applyMutation(ctx context.Context, recType string, details map[string]any) error {
	switch recType {
	case "churn_keywords":
		keywords, _ := details["keywords"].([]any)
		if len(keywords) == 0 {
			return nil
		}
		return c.mutateConfig(ctx, func(cfg map[string]any) {
			ck, _ := cfg["churn_keywords"].(map[string]any)
			if ck == nil {
				ck = map[string]any{}
			}
			medium, _ := ck["medium"].([]any)
			existing := map[string]bool{}
			for _, v := range medium {
				if s, ok := v.(string); ok {
					existing[s] = true
				}
			}
			for _, v := range keywords {
				if s, ok := v.(string); ok && !existing[s] {
					medium = append(medium, s)
					existing[s] = true
				}
			}
			ck["medium"] = medium
			cfg["churn_keywords"] = ck
		})

	case "churn_threshold":
		recommended, err := numericField(details, "recommended_value")
		if err != nil {
			return err
		}
		return c.mutateConfig(ctx, func(cfg map[string]any) {
			cd, _ := cfg["churn_detection"].(map[string]any)
			if cd == nil {
				cd = map[string]any{}
			}
			cd["threshold"] = recommended / 100
			cfg["churn_detection"] = cd
		})

	default:
		return nil
	}
}

// mutateConfig reads the current classification config (an empty object
// if the key does not exist yet), applies mutate, and writes it back.
func (c *Channel) mutateConfig(ctx context.Context, mutate func(cfg map[string]any)) error {
	cfg := map[string]any{}
	if raw, err := c.store.Get(ctx, classificationConfigKey); err == nil {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return fmt.Errorf("decode %s: %w", classificationConfigKey, err)
		}
	}
	mutate(cfg)
	blob, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", classificationConfigKey, err)
	}
	return c.store.Put(ctx, classificationConfigKey, blob)
}

// numericField extracts a float64 from a details map that may have come
// through JSON (float64) or been set directly as an int in tests.
func numericField(details map[string]any, key string) (float64, error) {
	switch v := details[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s not numeric: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s missing or not numeric", key)
	}
}
