package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// rootCauseFromMap builds a root cause from a decoded structured output.
func rootCauseFromMap(m map[string]any) (*domain.RootCause, error) {
	summary, _ := m["summary"].(string)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("structured output missing summary")
	}
	return &domain.RootCause{
		Summary:             summary,
		ContributingFactors: normalizeFactors(coerceFactors(m["contributing_factors"]), summary),
	}, nil
}

// parseRootCauseText parses a plain-text reply expected to hold a JSON object.
// A leading label such as "Summary:" is dropped up to the first brace. If the
// text is not JSON, the whole cleaned text becomes the summary.
func parseRootCauseText(text string) *domain.RootCause {
	cleaned := cleanJSONContent(text)
	if strings.HasPrefix(strings.ToLower(cleaned), "summary:") {
		if i := strings.Index(cleaned, "{"); i != -1 {
			cleaned = cleaned[i:]
		}
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(cleaned), &m); err != nil {
		return &domain.RootCause{Summary: cleaned, ContributingFactors: []string{}}
	}
	summary, _ := m["summary"].(string)
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = cleaned
	}
	return &domain.RootCause{
		Summary:             summary,
		ContributingFactors: normalizeFactors(coerceFactors(m["contributing_factors"]), summary),
	}
}

// cleanJSONContent strips surrounding whitespace and markdown code fences.
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

func coerceFactors(v any) []string {
	switch f := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(f))
		for _, item := range f {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return f
	case string:
		return []string{f}
	default:
		return []string{fmt.Sprint(f)}
	}
}

// normalizeFactors trims, drops empties and repeats of the summary,
// deduplicates, and caps the list.
func normalizeFactors(factors []string, summary string) []string {
	out := make([]string, 0, len(factors))
	seen := make(map[string]struct{}, len(factors))
	for _, f := range factors {
		f = strings.TrimSpace(f)
		if f == "" || strings.EqualFold(f, summary) {
			continue
		}
		key := strings.ToLower(f)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
		if len(out) == domain.MaxContributingFactors {
			break
		}
	}
	return out
}
