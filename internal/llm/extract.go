package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// extractor pulls usable text from a result, reporting whether it found any.
type extractor func(*Result) (string, bool)

// textExtractors are tried in order; the last one always succeeds.
var textExtractors = []extractor{
	knownAttr("output_text", "text", "content"),
	rawStringOutput,
	firstStringField,
	stringify,
}

// ExtractText returns the first usable text from a plain-text result.
func ExtractText(r *Result) string {
	if r == nil {
		return ""
	}
	for _, ex := range textExtractors {
		if s, ok := ex(r); ok {
			return s
		}
	}
	return ""
}

func knownAttr(names ...string) extractor {
	return func(r *Result) (string, bool) {
		for _, n := range names {
			if v := r.Attrs[n]; strings.TrimSpace(v) != "" {
				return v, true
			}
		}
		return "", false
	}
}

func rawStringOutput(r *Result) (string, bool) {
	s, ok := r.Output.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func firstStringField(r *Result) (string, bool) {
	m, ok := r.Output.(map[string]any)
	if !ok {
		return "", false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func stringify(r *Result) (string, bool) {
	switch v := r.Output.(type) {
	case nil:
		if len(r.Attrs) == 0 {
			return "", true
		}
		b, _ := json.Marshal(r.Attrs)
		return string(b), true
	case string:
		return v, true
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b), true
		}
		return fmt.Sprint(v), true
	}
}
