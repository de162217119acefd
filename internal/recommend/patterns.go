package recommend

import (
	"sort"
	"strings"
)

// churnKeywords pairs the English equivalents of the original churn
// lexicon with the literal Hebrew terms it was mined from, so a
// conversation in either language surfaces the same significant keywords.
var churnKeywords = []string{
	// English equivalents
	"leave", "cancel", "competitor", "expensive", "bad service",
	"terminate", "switch", "price", "complaint", "cancellation",
	"leaving", "disconnect", "port my number", "replace", "not satisfied",
	"poor service", "golan telecom", "hot mobile", "cellcom", "partner",
	// literal Hebrew terms preserved from the source lexicon
	"לעזוב", "לבטל", "מתחרים", "יקר", "גרוע", "לסיים", "להפסיק",
	"לעבור", "מחיר", "תלונה", "ביטול", "עוזב", "לנתק", "ניוד",
	"גולן", "הוט", "סלקום", "פרטנר", "להחליף", "לצאת", "לנייד",
	"לא מרוצה", "שירות גרוע",
}

// Patterns summarizes the keywords found across a set of missed
// churners' conversations, plus a handful of illustrative sentences.
type Patterns struct {
	Keywords      []string
	KeywordCounts map[string]int
	SamplePhrases []string
	MissedCount   int
}

// AnalyzePatterns scans each missed churner's conversation text for
// churnKeywords occurrences and returns the subset appearing in at least
// 10% of missed cases (minimum 1), matching the original significance
// rule, plus up to 10 sample sentences for context.
func AnalyzePatterns(missed []ChurnedCustomer) Patterns {
	if len(missed) == 0 {
		return Patterns{KeywordCounts: map[string]int{}}
	}

	counts := map[string]int{}
	var samples []string

	for _, c := range missed {
		text := c.ConversationText
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		var matched []string
		for _, kw := range churnKeywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				counts[kw]++
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		for _, sentence := range strings.Split(text, ".") {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || len(sentence) >= 200 {
				continue
			}
			lowerSentence := strings.ToLower(sentence)
			for _, kw := range matched[:min(2, len(matched))] {
				if strings.Contains(lowerSentence, strings.ToLower(kw)) {
					samples = append(samples, sentence)
					break
				}
			}
		}
	}

	minOccurrences := float64(len(missed)) * 0.1
	if minOccurrences < 1 {
		minOccurrences = 1
	}

	var significant []string
	for kw, count := range counts {
		if float64(count) >= minOccurrences {
			significant = append(significant, kw)
		}
	}
	sort.Strings(significant)

	if len(samples) > 10 {
		samples = samples[:10]
	}

	return Patterns{
		Keywords:      significant,
		KeywordCounts: counts,
		SamplePhrases: samples,
		MissedCount:   len(missed),
	}
}
