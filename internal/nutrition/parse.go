package nutrition

import (
	"strings"

	"github.com/vbonduro/nutrilog/internal/domain"
)

// ParseAnalysis extracts the meal name and summary from a per-meal response.
// The name is the text between MealNameLabel and the first MealSummaryLabel
// that follows it; the summary is everything after that label. Both are
// trimmed. ok is false when either label is missing or the name is empty, in
// which case the caller shows the raw text and logs nothing.
func ParseAnalysis(raw string) (analysis domain.Analysis, ok bool) {
	nameAt := strings.Index(raw, MealNameLabel)
	if nameAt < 0 {
		return domain.Analysis{}, false
	}
	rest := raw[nameAt+len(MealNameLabel):]

	summaryAt := strings.Index(rest, MealSummaryLabel)
	if summaryAt < 0 {
		return domain.Analysis{}, false
	}

	name := strings.TrimSpace(rest[:summaryAt])
	if name == "" {
		return domain.Analysis{}, false
	}

	return domain.Analysis{
		MealName:    name,
		MealSummary: strings.TrimSpace(rest[summaryAt+len(MealSummaryLabel):]),
	}, true
}
