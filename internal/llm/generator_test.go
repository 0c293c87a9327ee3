package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Michdriod/RCA-AI/internal/dedup"
	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/metrics"
	"github.com/Michdriod/RCA-AI/internal/prompt"
)

// fakeModel replays canned replies and records every request.
type fakeModel struct {
	replies []func(Request) (*Result, error)
	calls   []Request
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) Run(_ context.Context, req Request) (*Result, error) {
	m.calls = append(m.calls, req)
	if len(m.calls) > len(m.replies) {
		return nil, errors.New("unexpected call")
	}
	return m.replies[len(m.calls)-1](req)
}

func reply(res *Result) func(Request) (*Result, error) {
	return func(Request) (*Result, error) { return res, nil }
}

func fail(err error) func(Request) (*Result, error) {
	return func(Request) (*Result, error) { return nil, err }
}

func newTestGenerator(m Model) (*Generator, *metrics.Counters) {
	counters := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGenerator(m, GeneratorConfig{Temperature: 0.2, TopP: 0.9}, counters, logger), counters
}

var sampleHistory = []domain.Exchange{{Step: 1, Question: "Why?", Answer: "Because"}}

func TestQuestionStructured(t *testing.T) {
	t.Parallel()

	m := &fakeModel{replies: []func(Request) (*Result, error){
		reply(&Result{Output: map[string]any{"question": "  Why did the cache miss?  "}}),
	}}
	g, counters := newTestGenerator(m)

	q, err := g.Question(context.Background(), "base prompt")
	if err != nil {
		t.Fatalf("Question: %v", err)
	}
	if q != "Why did the cache miss?" {
		t.Errorf("question = %q", q)
	}
	if m.calls[0].Schema == nil || m.calls[0].Schema.Name != QuestionSchema.Name {
		t.Errorf("first call should request the question schema, got %+v", m.calls[0].Schema)
	}
	if m.calls[0].Temperature != 0.2 || m.calls[0].TopP != 0.9 {
		t.Errorf("sampling settings not forwarded: %+v", m.calls[0])
	}
	snap := counters.Snapshot()
	if snap.GenerationCalls != 1 || snap.GenerationFallbacks != 0 || snap.GenerationFailures != 0 {
		t.Errorf("unexpected counters %+v", snap)
	}
}

func TestQuestionFallsBackToPlainText(t *testing.T) {
	t.Parallel()

	m := &fakeModel{replies: []func(Request) (*Result, error){
		fail(ErrStructuredOutput),
		reply(&Result{Attrs: map[string]string{"output_text": "Why did the pool exhaust?\n"}}),
	}}
	g, counters := newTestGenerator(m)

	q, err := g.Question(context.Background(), "base prompt")
	if err != nil {
		t.Fatalf("Question: %v", err)
	}
	if q != "Why did the pool exhaust?" {
		t.Errorf("question = %q", q)
	}
	if len(m.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(m.calls))
	}
	if m.calls[1].Schema != nil {
		t.Error("fallback call must be plain text")
	}
	if m.calls[1].Prompt != "base prompt"+prompt.PlainTextQuestionSuffix {
		t.Errorf("fallback prompt = %q", m.calls[1].Prompt)
	}
	if got := counters.Snapshot().GenerationFallbacks; got != 1 {
		t.Errorf("fallbacks = %d, want 1", got)
	}
}

func TestQuestionFailuresWrapGenerationError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		replies []func(Request) (*Result, error)
	}{
		{"provider error", []func(Request) (*Result, error){fail(errors.New("503"))}},
		{"fallback error", []func(Request) (*Result, error){fail(ErrStructuredOutput), fail(errors.New("boom"))}},
		{"empty question", []func(Request) (*Result, error){reply(&Result{Output: map[string]any{"question": "  "}})}},
		{"missing field", []func(Request) (*Result, error){reply(&Result{Output: map[string]any{"q": "x"}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g, counters := newTestGenerator(&fakeModel{replies: tt.replies})
			_, err := g.Question(context.Background(), "p")
			if !errors.Is(err, domain.ErrGeneration) {
				t.Fatalf("err = %v, want ErrGeneration", err)
			}
			if domain.KindOf(err) != domain.KindUpstream {
				t.Errorf("kind = %s", domain.KindOf(err))
			}
			if counters.Snapshot().GenerationFailures != 1 {
				t.Error("failure not counted")
			}
		})
	}
}

func TestQuestionNonJSONStructuredReplyFails(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(completion("Sorry, here is a question: Why?")))
	})
	g, counters := newTestGenerator(c)

	q, err := g.Question(context.Background(), "p")
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("Question = %q, %v; want ErrGeneration", q, err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("provider called %d times, want 1 (no plain text retry)", n)
	}
	if snap := counters.Snapshot(); snap.GenerationFallbacks != 0 || snap.GenerationFailures != 1 {
		t.Errorf("unexpected counters %+v", snap)
	}
}

func TestRegenerateUsesPenaltyPrompt(t *testing.T) {
	t.Parallel()

	m := &fakeModel{replies: []func(Request) (*Result, error){
		fail(ErrStructuredOutput),
		reply(&Result{Output: "What exhausted the pool?"}),
	}}
	g, _ := newTestGenerator(m)

	q, err := g.Regenerate(context.Background(),
		dedup.Request{SessionID: "s1", Step: 2, Prompt: "base"},
		dedup.Penalty{Match: "Why did it fail?", Ratio: 0.93, Attempt: 1})
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if q != "What exhausted the pool?" {
		t.Errorf("question = %q", q)
	}
	want := prompt.Penalty("base", "Why did it fail?", 0.93)
	if m.calls[0].Prompt != want {
		t.Errorf("penalized prompt = %q", m.calls[0].Prompt)
	}
	if m.calls[1].Prompt != want+prompt.PlainTextRefinedSuffix {
		t.Errorf("fallback prompt = %q", m.calls[1].Prompt)
	}
}

func TestRootCauseStructuredNormalizesFactors(t *testing.T) {
	t.Parallel()

	m := &fakeModel{replies: []func(Request) (*Result, error){
		reply(&Result{Output: map[string]any{
			"summary": "Missing retention policy",
			"contributing_factors": []any{
				" No alerting ", "", "no alerting", "Missing retention policy",
				"f1", "f2", "f3", "f4", "f5", "f6",
			},
		}}),
	}}
	g, _ := newTestGenerator(m)

	rc, err := g.RootCause(context.Background(), "final", sampleHistory)
	if err != nil {
		t.Fatalf("RootCause: %v", err)
	}
	want := &domain.RootCause{
		Summary:             "Missing retention policy",
		ContributingFactors: []string{"No alerting", "f1", "f2", "f3", "f4", "f5"},
	}
	if diff := cmp.Diff(want, rc); diff != "" {
		t.Errorf("root cause mismatch (-want +got):\n%s", diff)
	}
}

func TestRootCauseFallbackParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want *domain.RootCause
	}{
		{
			name: "labelled json",
			text: `Summary: {"summary": "Disk filled", "contributing_factors": ["no rotation", " "]}`,
			want: &domain.RootCause{Summary: "Disk filled", ContributingFactors: []string{"no rotation"}},
		},
		{
			name: "scalar factor",
			text: "```json\n{\"summary\": \"Disk filled\", \"contributing_factors\": \"no rotation\"}\n```",
			want: &domain.RootCause{Summary: "Disk filled", ContributingFactors: []string{"no rotation"}},
		},
		{
			name: "missing summary uses text",
			text: `{"contributing_factors": []}`,
			want: &domain.RootCause{Summary: `{"contributing_factors": []}`, ContributingFactors: []string{}},
		},
		{
			name: "prose",
			text: "The log volume filled the disk.",
			want: &domain.RootCause{Summary: "The log volume filled the disk.", ContributingFactors: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &fakeModel{replies: []func(Request) (*Result, error){
				fail(ErrStructuredOutput),
				reply(&Result{Output: tt.text}),
			}}
			g, _ := newTestGenerator(m)
			rc, err := g.RootCause(context.Background(), "final", sampleHistory)
			if err != nil {
				t.Fatalf("RootCause: %v", err)
			}
			if diff := cmp.Diff(tt.want, rc); diff != "" {
				t.Errorf("root cause mismatch (-want +got):\n%s", diff)
			}
			if !strings.HasSuffix(m.calls[1].Prompt, prompt.PlainJSONRootCauseSuffix) {
				t.Error("fallback prompt missing JSON instruction")
			}
		})
	}
}

func TestRootCauseErrors(t *testing.T) {
	t.Parallel()

	g, _ := newTestGenerator(&fakeModel{})
	if _, err := g.RootCause(context.Background(), "final", nil); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("empty history err = %v", err)
	}

	g, _ = newTestGenerator(&fakeModel{replies: []func(Request) (*Result, error){
		reply(&Result{Output: map[string]any{"summary": ""}}),
	}})
	if _, err := g.RootCause(context.Background(), "final", sampleHistory); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("blank summary err = %v", err)
	}
}
