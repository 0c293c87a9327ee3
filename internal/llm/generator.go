package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Michdriod/RCA-AI/internal/dedup"
	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/metrics"
	"github.com/Michdriod/RCA-AI/internal/prompt"
)

var (
	errEmptyOutput   = errors.New("model returned empty output")
	errMissingField  = errors.New("structured output missing field")
	errNoExplanation = errors.New("no question/answer history to analyze")
)

// GeneratorConfig holds sampling settings passed to every call.
type GeneratorConfig struct {
	Temperature float64
	TopP        float64
}

// Generator turns prompts into questions and root-cause analyses.
// Every failure it returns wraps domain.ErrGeneration.
type Generator struct {
	model    Model
	cfg      GeneratorConfig
	counters *metrics.Counters
	logger   *slog.Logger
}

var _ dedup.Regenerator = (*Generator)(nil)

// NewGenerator creates a generator over model.
func NewGenerator(model Model, cfg GeneratorConfig, counters *metrics.Counters, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.New()
	}
	return &Generator{model: model, cfg: cfg, counters: counters, logger: logger}
}

// ModelName reports the backend model name.
func (g *Generator) ModelName() string {
	return g.model.Name()
}

// Question generates one question for p. A structured-output rejection is
// retried once as plain text.
func (g *Generator) Question(ctx context.Context, p string) (string, error) {
	return g.question(ctx, "question", p, prompt.PlainTextQuestionSuffix)
}

// Regenerate asks for a replacement question that avoids the penalized match.
func (g *Generator) Regenerate(ctx context.Context, req dedup.Request, p dedup.Penalty) (string, error) {
	penalized := prompt.Penalty(req.Prompt, p.Match, p.Ratio)
	q, err := g.question(ctx, "regenerate", penalized, prompt.PlainTextRefinedSuffix)
	if err != nil {
		return "", err
	}
	g.logger.Debug("Question regenerated",
		"session_id", req.SessionID,
		"step", req.Step,
		"attempt", p.Attempt,
		"similarity", p.Ratio,
	)
	return q, nil
}

func (g *Generator) question(ctx context.Context, op, p, plainSuffix string) (string, error) {
	start := time.Now()
	fallback := false

	text, err := func() (string, error) {
		res, err := g.model.Run(ctx, g.request(p, &QuestionSchema))
		if errors.Is(err, ErrStructuredOutput) {
			fallback = true
			g.logger.Warn("Structured output rejected, retrying as plain text", "op", op, "error", err)
			res, err = g.model.Run(ctx, g.request(p+plainSuffix, nil))
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(ExtractText(res)), nil
		}
		if err != nil {
			return "", err
		}
		q, ok := res.Field("question")
		if !ok {
			return "", fmt.Errorf("%w: question", errMissingField)
		}
		return strings.TrimSpace(q), nil
	}()
	if err == nil && text == "" {
		err = errEmptyOutput
	}

	g.observe(op, start, err, fallback)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrGeneration, op, err)
	}
	return text, nil
}

// RootCause synthesizes the final analysis. A structured-output rejection is
// retried with a JSON instruction and parsed leniently.
func (g *Generator) RootCause(ctx context.Context, p string, history []domain.Exchange) (*domain.RootCause, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: root_cause: %w", domain.ErrGeneration, errNoExplanation)
	}

	start := time.Now()
	fallback := false

	rc, err := func() (*domain.RootCause, error) {
		res, err := g.model.Run(ctx, g.request(p, &RootCauseSchema))
		if errors.Is(err, ErrStructuredOutput) {
			fallback = true
			g.logger.Warn("Structured output rejected, retrying as plain JSON", "op", "root_cause", "error", err)
			res, err = g.model.Run(ctx, g.request(p+prompt.PlainJSONRootCauseSuffix, nil))
			if err != nil {
				return nil, err
			}
			text := strings.TrimSpace(ExtractText(res))
			if text == "" {
				return nil, errEmptyOutput
			}
			return parseRootCauseText(text), nil
		}
		if err != nil {
			return nil, err
		}
		m, ok := res.Output.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: summary", errMissingField)
		}
		return rootCauseFromMap(m)
	}()

	g.observe("root_cause", start, err, fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: root_cause: %w", domain.ErrGeneration, err)
	}
	g.logger.Info("Root cause generated",
		"model", g.model.Name(),
		"factors", len(rc.ContributingFactors),
		"fallback", fallback,
	)
	return rc, nil
}

func (g *Generator) request(p string, schema *Schema) Request {
	return Request{Prompt: p, Schema: schema, Temperature: g.cfg.Temperature, TopP: g.cfg.TopP}
}

func (g *Generator) observe(op string, start time.Time, err error, fallback bool) {
	d := time.Since(start)
	g.counters.ObserveGeneration(d, err, fallback)
	attrs := []any{
		"op", op,
		"model", g.model.Name(),
		"duration_ms", d.Milliseconds(),
		"fallback", fallback,
	}
	if err != nil {
		g.logger.Error("Generation failed", append(attrs, "error", err)...)
		return
	}
	g.logger.Debug("Generation completed", attrs...)
}
