package dedup

import (
	"context"
	"log/slog"

	"github.com/Michdriod/RCA-AI/internal/metrics"
)

// DefaultMaxAttempts bounds regeneration per question.
const DefaultMaxAttempts = 3

// Penalty describes the duplicate a regeneration must avoid.
type Penalty struct {
	Match   string
	Ratio   float64
	Attempt int
}

// Request carries one generated candidate and the session context it was generated in.
type Request struct {
	SessionID string
	Step      int
	Prompt    string
	Candidate string
	Prior     []string
}

// Regenerator produces a replacement question that avoids the penalized match.
type Regenerator interface {
	Regenerate(ctx context.Context, req Request, p Penalty) (string, error)
}

// RegeneratorFunc adapts a function to Regenerator.
type RegeneratorFunc func(ctx context.Context, req Request, p Penalty) (string, error)

// Regenerate calls f.
func (f RegeneratorFunc) Regenerate(ctx context.Context, req Request, p Penalty) (string, error) {
	return f(ctx, req, p)
}

// Controller replaces near-duplicate questions with bounded retries.
type Controller struct {
	regen       Regenerator
	counters    *metrics.Counters
	maxAttempts int
	logger      *slog.Logger
}

// NewController creates a controller recording into counters.
func NewController(regen Regenerator, counters *metrics.Counters, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.New()
	}
	return &Controller{
		regen:       regen,
		counters:    counters,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
}

// Resolve returns a question that is either not a duplicate of req.Prior or the
// last candidate seen once attempts are exhausted. A regeneration error stops
// the loop early and the last candidate is kept. Only a canceled ctx is returned
// as an error.
func (c *Controller) Resolve(ctx context.Context, req Request) (string, error) {
	candidate := req.Candidate
	if len(req.Prior) == 0 {
		return candidate, nil
	}
	res := Detect(candidate, req.Prior)
	if !res.Duplicate {
		return candidate, nil
	}

	attempts := 0
	for attempts < c.maxAttempts {
		attempts++
		next, err := c.regen.Regenerate(ctx, req, Penalty{Match: res.Match, Ratio: res.Ratio, Attempt: attempts})
		if err != nil {
			c.logger.Warn("dedup regeneration failed, keeping last candidate",
				"session_id", req.SessionID,
				"step", req.Step,
				"attempt", attempts,
				"error", err)
			break
		}
		candidate = next
		res = Detect(candidate, req.Prior)
		if !res.Duplicate {
			c.logger.Info("dedup retry succeeded",
				"session_id", req.SessionID,
				"step", req.Step,
				"attempts", attempts,
				"similarity", res.Ratio)
			break
		}
	}

	c.counters.AddDedupRetries(attempts)
	if res.Duplicate && attempts >= c.maxAttempts {
		c.counters.IncDuplicateAccepted()
		c.logger.Warn("duplicate question accepted after retries",
			"session_id", req.SessionID,
			"step", req.Step,
			"similarity", res.Ratio,
			"prev_question", res.Match)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return candidate, nil
}
