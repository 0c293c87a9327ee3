// Package dedup detects near-duplicate questions and drives bounded regeneration.
package dedup

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DuplicateThreshold is the similarity at or above which a question repeats an earlier one.
const DuplicateThreshold = 0.85

// Result is the verdict for one candidate against the prior questions.
type Result struct {
	Duplicate bool
	Match     string
	HasMatch  bool
	Ratio     float64
}

// Ratio returns the Ratcliff/Obershelp similarity of a and b, case-insensitive.
func Ratio(a, b string) float64 {
	m := difflib.NewMatcher(runes(strings.ToLower(a)), runes(strings.ToLower(b)))
	return m.Ratio()
}

// Detect compares candidate with every prior question and keeps the best match.
// Ties keep the earliest prior question.
func Detect(candidate string, prior []string) Result {
	var res Result
	for _, p := range prior {
		r := Ratio(candidate, p)
		if r > res.Ratio || !res.HasMatch {
			res.Ratio = r
			res.Match = p
			res.HasMatch = true
		}
	}
	res.Duplicate = res.HasMatch && res.Ratio >= DuplicateThreshold
	return res
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
