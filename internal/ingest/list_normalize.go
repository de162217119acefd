package ingest

import (
	"encoding/json"
	"strings"
)

// dictItemPriority is the priority order used for extracting a single
// display field from a list-element dict.
var dictItemPriority = []string{"action", "description", "name", "instructions", "task", "item", "text"}

// normalizeList converts a value that may be null, a string, a list, a
// dict, or a JSON-encoded string, into the delimited-text canonical form.
func normalizeList(raw json.RawMessage) string {
	return normalizeListValue(raw, 0)
}

// normalizeListValue recurses at most a few levels to unwrap a
// JSON-encoded string back into its real shape; depth guards against a
// pathological self-referential string.
func normalizeListValue(raw json.RawMessage, depth int) string {
	if len(raw) == 0 || string(raw) == "null" || depth > 4 {
		return ""
	}

	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		parts := make([]string, 0, len(asList))
		for _, elem := range asList {
			if s := normalizeListElement(elem); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		parts := make([]string, 0, len(asMap))
		for k, v := range asMap {
			parts = append(parts, k+": "+cleanScalar(v))
		}
		return strings.Join(parts, ", ")
	}

	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		trimmed := strings.TrimSpace(asStr)
		if trimmed == "" {
			return ""
		}
		// Attempt JSON parse-and-recurse before falling back to stripping.
		if looksLikeJSON(trimmed) && json.Valid([]byte(trimmed)) {
			result := normalizeListValue(json.RawMessage(trimmed), depth+1)
			if result != "" || looksLikeEmptyContainer(trimmed) {
				return result
			}
		}
		return stripListPunctuation(trimmed)
	}

	return stripListPunctuation(string(raw))
}

func normalizeListElement(elem json.RawMessage) string {
	var dict map[string]json.RawMessage
	if err := json.Unmarshal(elem, &dict); err == nil {
		for _, field := range dictItemPriority {
			if v, ok := dict[field]; ok {
				s := cleanScalar(v)
				if s != "" {
					return s
				}
			}
		}
		return ""
	}

	var str string
	if err := json.Unmarshal(elem, &str); err == nil {
		s := strings.TrimSpace(str)
		if s == "" || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	}

	s := strings.TrimSpace(string(elem))
	if s == "" || strings.EqualFold(s, "none") || s == "null" {
		return ""
	}
	return s
}

func cleanScalar(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	return stripListPunctuation(strings.TrimSpace(string(raw)))
}

func looksLikeJSON(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '[' || c == '{' || c == '"'
}

func looksLikeEmptyContainer(s string) bool {
	return s == "[]" || s == "{}" || s == `""`
}

func stripListPunctuation(s string) string {
	replacer := strings.NewReplacer("[", "", "]", "", "{", "", "}", "", `"`, "", "'", "")
	s = replacer.Replace(s)
	parts := strings.Split(s, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, ", ")
}

// normalizeActionItems applies normalizeList then its own truncation:
// cut to 500 chars, preferring the last complete item boundary (", ")
// if that keeps at least 50% of the length, then strip trailing
// separators.
func normalizeActionItems(raw json.RawMessage) string {
	joined := normalizeList(raw)
	if len(joined) <= 500 {
		return joined
	}

	cut := joined[:500]
	if idx := strings.LastIndex(cut, ", "); idx >= 0 && idx >= 250 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, ", ")
}
