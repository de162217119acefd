// Package ingest implements the inbound ingestor: it receives
// analytics-result messages, normalizes their polymorphic fields, and
// persists them through internal/destsink.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rawResult is the loosely-typed shape an inbound analytics-result
// message arrives in. Every polymorphic field is decoded as
// json.RawMessage so normalize.go can inspect its concrete JSON kind
// before picking a decode path — a tagged-variant pattern instead of
// surfacing a raw union.
type rawResult struct {
	Type                 string          `json:"type"`
	SourceID             string          `json:"source_id"`
	SourceCatalogID      string          `json:"source_catalog_id"`
	Summary              json.RawMessage `json:"summary"`
	Sentiment            json.RawMessage `json:"sentiment"`
	Classification       json.RawMessage `json:"classification"`
	Classifications      json.RawMessage `json:"classifications"`
	Confidence           float64         `json:"confidence"`
	ProcessingTime       int             `json:"processingTime"`
	ModelVersion         string          `json:"modelVersion"`
	Products             json.RawMessage `json:"products"`
	ActionItems          json.RawMessage `json:"action_items"`
	UnresolvedIssues     json.RawMessage `json:"unresolved_issues"`
	CustomerSatisfaction json.RawMessage `json:"customer_satisfaction"`
	ChurnConfidence      float64         `json:"churn_confidence"`
}

// ParseResult decodes an inbound message body. A malformed body yields a
// parse error: the caller logs it and leaves the message visible for
// retry.
func ParseResult(body []byte) (*rawResult, error) {
	var r rawResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("ingest: parse result body: %w", err)
	}
	if r.SourceID == "" {
		return nil, fmt.Errorf("ingest: result body missing source_id")
	}
	return &r, nil
}

// sentimentWords maps the fixed sentiment-label vocabulary to its
// numeric scale.
var sentimentWords = map[string]int{
	"positive": 4,
	"negative": 2,
	"neutral":  3,
	"mixed":    3,
	"unknown":  3,
}

// normalizeSentiment applies the sentiment rule: numeric pass-through
// with range clamp; string via the fixed map; dict uses its "overall";
// missing defaults to 3.
func normalizeSentiment(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 3
	}

	var asNum float64
	if err := json.Unmarshal(raw, &asNum); err == nil {
		return clampSentiment(int(asNum))
	}

	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		if v, ok := sentimentWords[strings.ToLower(strings.TrimSpace(asStr))]; ok {
			return v
		}
		if n, err := strconv.Atoi(strings.TrimSpace(asStr)); err == nil {
			return clampSentiment(n)
		}
		return 3
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		if overall, ok := asMap["overall"]; ok {
			return normalizeSentiment(overall)
		}
	}
	return 3
}

func clampSentiment(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

// classificationResult is the normalized primary/all pair.
type classificationResult struct {
	Primary string
	All     []string
}

// normalizeClassification applies the classification rule: primary from
// classification.primary, else first of classifications, else
// stringified classification, else "unknown"; all is the union of
// classification.all and classifications, deduplicated, with empty
// strings removed.
func normalizeClassification(classification, classifications json.RawMessage) classificationResult {
	var flatList []string
	_ = json.Unmarshal(classifications, &flatList)

	var dict struct {
		Primary string   `json:"primary"`
		All     []string `json:"all"`
	}
	if err := json.Unmarshal(classification, &dict); err == nil && dict.Primary != "" {
		return classificationResult{
			Primary: dict.Primary,
			All:     dedupeNonEmpty(append(append([]string{}, dict.All...), flatList...)),
		}
	}

	if len(flatList) > 0 && flatList[0] != "" {
		return classificationResult{
			Primary: flatList[0],
			All:     dedupeNonEmpty(flatList),
		}
	}

	var str string
	if err := json.Unmarshal(classification, &str); err == nil && str != "" {
		return classificationResult{Primary: str, All: dedupeNonEmpty(append([]string{str}, flatList...))}
	}

	return classificationResult{Primary: "unknown", All: dedupeNonEmpty(flatList)}
}

func dedupeNonEmpty(all []string) []string {
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, s := range all {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// normalizeSummary applies the summary rule: dict uses its "text" field,
// else stringified; truncated to 4000 bytes.
func normalizeSummary(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var dict struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &dict); err == nil && dict.Text != "" {
		return truncateBytes(dict.Text, 4000)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return truncateBytes(str, 4000)
	}

	return truncateBytes(string(raw), 4000)
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// normalizeSatisfaction keeps a numeric value in 1..5 (truncated to an
// int); missing, non-numeric or out-of-range values become 3.
func normalizeSatisfaction(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 3
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 1 || n > 5 {
			return 3
		}
		return int(n)
	}
	return 3
}

// normalizeChurnScore converts churn_confidence (0..1) to an int score
// on 0..100, clamped.
func normalizeChurnScore(churnConfidence float64) int {
	score := int(churnConfidence * 100)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
