package llm

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"
)

var scriptedTemplates = []string{
	"What caused %s?",
	"Why did %s happen?",
	"What allowed %s to go unnoticed?",
	"Which underlying mechanism led to %s?",
}

// Scripted is an offline model that derives deterministic questions and a
// root cause from the prompt text alone. It backs demos and the CLI when no
// provider is configured.
type Scripted struct{}

var _ Model = Scripted{}

// Name identifies the offline model.
func (Scripted) Name() string {
	return "scripted"
}

// Run answers question and analysis prompts.
func (Scripted) Run(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.Contains(req.Prompt, "Full 5 Whys History") {
		return scriptedRootCause(req), nil
	}

	subject := lineAfter(req.Prompt, "Last answer: ")
	if subject == "" || subject == "(none)" {
		subject = lineAfter(req.Prompt, "Problem Statement:\n")
	}
	subject = strings.TrimRight(strings.TrimSpace(subject), ".?! ")
	if subject == "" {
		subject = "this problem"
	}
	subject = lowerFirst(subject)

	tmpl := scriptedTemplates[strings.Count(req.Prompt, "Penalty:")%len(scriptedTemplates)]
	q := strings.Replace(tmpl, "%s", subject, 1)
	if req.Schema == nil {
		return &Result{Output: q}, nil
	}
	return &Result{Output: map[string]any{"question": q}}, nil
}

func scriptedRootCause(req Request) *Result {
	var answers []string
	for _, line := range strings.Split(req.Prompt, "\n") {
		if a, ok := strings.CutPrefix(line, "A: "); ok && strings.TrimSpace(a) != "" {
			answers = append(answers, strings.TrimSpace(a))
		}
	}
	summary := "The root cause could not be determined from the answers given."
	factors := []any{}
	if n := len(answers); n > 0 {
		summary = answers[n-1]
		for i := n - 2; i >= 0; i-- {
			factors = append(factors, answers[i])
		}
	}
	out := map[string]any{"summary": summary, "contributing_factors": factors}
	if req.Schema == nil {
		b, _ := json.Marshal(out)
		return &Result{Output: string(b)}
	}
	return &Result{Output: out}
}

func lineAfter(text, marker string) string {
	i := strings.LastIndex(text, marker)
	if i == -1 {
		return ""
	}
	rest := text[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j != -1 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	// Keep acronyms such as "DB" or "API" intact.
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
