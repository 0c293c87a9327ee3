// Package prompt builds the request text sent to the question/analysis model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// Plain-text fallback instructions appended when structured output is rejected.
const (
	PlainTextQuestionSuffix  = "\n\nReturn ONLY the next question as plain text."
	PlainTextRefinedSuffix   = "\nReturn ONLY the refined question as plain text."
	PlainJSONRootCauseSuffix = "\n\nReturn ONLY a JSON object with keys summary (string) and " +
		"contributing_factors (array of strings). No prose, no labels, no code fences."
)

const styleGuidance = `You are an expert facilitator applying the 5 Whys technique.
Guidelines:
- Questions must start with an interrogative ("Why", "What caused", "How did" if appropriate) and be specific.
- Avoid repeating the word-for-word phrasing of prior questions.
- Do NOT provide answers yourself. Only ask the next question.
- Maintain a neutral, analytical tone.
- Each question should focus on uncovering the immediate cause of the last answer, not jumping to solutions.
- Keep questions < 160 characters.
Tool / Function Call Avoidance:
- Do NOT invent or call any tools, functions, or APIs.
- Output MUST be plain text for questions; no JSON, no markup, no code fences.
- Do NOT simulate a function call or embed argument objects; only return the question itself.`

// Hints carry answer-quality signals the follow-up prompt may react to.
type Hints struct {
	LastTier      domain.Tier
	UnknownStreak int
	DepthScore    int
}

// FormatHistory renders question/answer pairs as numbered steps.
func FormatHistory(history []domain.Exchange) string {
	if len(history) == 0 {
		return "(No previous steps)"
	}
	lines := make([]string, 0, len(history))
	for _, ex := range history {
		lines = append(lines, fmt.Sprintf("Step %d: Q: %s\nA: %s", ex.Step, ex.Question, ex.Answer))
	}
	return strings.Join(lines, "\n\n")
}

// InitialQuestion builds the prompt for the first why-question.
func InitialQuestion(problem string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem Statement:\n%s\n\n", problem)
	b.WriteString("Task: Ask the FIRST 'Why' question to begin root cause exploration.\n")
	b.WriteString("Internal reasoning (DO NOT OUTPUT):\n")
	b.WriteString("1. Parse the problem to extract the affected component, failure manifestation, impact, and time cues.\n")
	b.WriteString("2. Identify the most immediate observable effect that needs explanation.\n")
	b.WriteString("3. Formulate a single causal probing question targeting the immediate underlying cause of that effect.\n")
	b.WriteString("4. Ensure the question is narrowly scoped and cannot be answered with simple 'yes/no'.\n")
	b.WriteString("Output requirements:\n")
	b.WriteString("- Respond ONLY with the question text (plain text).\n")
	b.WriteString("- No numbering, no quotes, no JSON, no tool/function syntax, no prefacing.\n")
	b.WriteString(styleGuidance)
	return b.String()
}

// FollowUpQuestion builds the prompt for the next why-question.
func FollowUpQuestion(problem string, history []domain.Exchange, hints Hints) string {
	lastAnswer := "(none)"
	step := 1
	if n := len(history); n > 0 {
		lastAnswer = history[n-1].Answer
		step = history[n-1].Step + 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Problem Statement:\n%s\n\n", problem)
	fmt.Fprintf(&b, "Prior Steps:\n%s\n\n", FormatHistory(history))
	fmt.Fprintf(&b, "Last answer: %s\n\n", lastAnswer)
	fmt.Fprintf(&b, "Task: Ask the NEXT 'Why' question (step %d) delving deeper based ONLY on the last answer and established causal chain.\n", step)
	b.WriteString("Internal reasoning (DO NOT OUTPUT):\n")
	b.WriteString("1. Infer the causal link between the last answer and prior answers.\n")
	b.WriteString("2. Determine the smallest proximate cause inside the last answer that has not yet been directly questioned.\n")
	b.WriteString("3. If the chain is becoming speculative or repeating, pivot to a clarifying causal discriminator question.\n")
	b.WriteString("4. Avoid broad/systemic leaps; stay local to the newly uncovered mechanism.\n")
	b.WriteString(hintLines(hints))
	b.WriteString("Output requirements:\n")
	b.WriteString("- Respond ONLY with the question text (plain text).\n")
	b.WriteString("- No numbering, JSON, tool/function syntax, commentary, or labels.\n")
	b.WriteString(styleGuidance)
	return b.String()
}

func hintLines(h Hints) string {
	var b strings.Builder
	switch {
	case h.UnknownStreak >= 2:
		fmt.Fprintf(&b, "Note: the user could not answer the last %d questions. Ask a simpler, observable question "+
			"(what they saw, when, where) instead of a deeper why.\n", h.UnknownStreak)
	case h.LastTier == domain.TierUnknown:
		b.WriteString("Note: the user did not know the last answer. Rephrase toward something they can observe or check.\n")
	case h.LastTier == domain.TierVague:
		b.WriteString("Note: the last answer was vague. Ask which specific component, metric, or change it refers to.\n")
	case h.LastTier == domain.TierContext:
		b.WriteString("Note: the last answer gave context but no mechanism. Ask what mechanism that situation triggered.\n")
	}
	return b.String()
}

// Penalty appends the duplicate penalty to a question prompt.
func Penalty(base, match string, ratio float64) string {
	return fmt.Sprintf("%s\n\nPenalty: Prior attempt duplicated an earlier question (similarity=%.2f). "+
		"Generate a deeper, non-redundant causal question targeting a more specific underlying mechanism. "+
		"Do NOT rephrase: '%s'.", base, ratio, match)
}

// FinalAnalysis builds the root-cause synthesis prompt.
func FinalAnalysis(problem string, history []domain.Exchange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem Statement:\n%s\n\n", problem)
	fmt.Fprintf(&b, "Full 5 Whys History:\n%s\n\n", FormatHistory(history))
	b.WriteString("Task: Produce the final root cause analysis.\n")
	b.WriteString("Internal reasoning (DO NOT OUTPUT):\n")
	b.WriteString("1. Trace each Q/A pair to form a linear causal chain.\n")
	b.WriteString("2. Collapse redundant layers; identify the deepest actionable underlying cause (not a symptom or a solution).\n")
	b.WriteString("3. Distill contributing factors: only those that materially enable or amplify the underlying cause.\n")
	b.WriteString("IMPORTANT: Return ONLY valid JSON. DO NOT prepend labels like 'Summary:' or add explanations.\n")
	b.WriteString("Output Format (STRICT JSON object):\n")
	b.WriteString(`{"summary": "<single sentence root cause>", "contributing_factors": ["<factor 1>", "<factor 2>"]}` + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- \"summary\" is a single concise sentence describing the underlying cause (no solutions).\n")
	b.WriteString("- \"contributing_factors\" are 2-6 distinct causal factors.\n")
	b.WriteString("- Do NOT repeat the summary inside contributing_factors.\n")
	b.WriteString("- NO additional keys, code fences, markdown, or prose outside the JSON.")
	return b.String()
}
