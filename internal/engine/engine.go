// Package engine orchestrates a 5 Whys session: asking questions, recording
// answers and synthesizing the root cause.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Michdriod/RCA-AI/internal/classify"
	"github.com/Michdriod/RCA-AI/internal/dedup"
	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/events"
	"github.com/Michdriod/RCA-AI/internal/metrics"
	"github.com/Michdriod/RCA-AI/internal/prompt"
	"github.com/Michdriod/RCA-AI/internal/session"
	"github.com/Michdriod/RCA-AI/internal/transcript"
)

// MinProblemLength is the shortest accepted problem statement, in runes.
const MinProblemLength = 3

// Generator produces questions and root causes. It also regenerates
// penalized duplicates for the dedup controller.
type Generator interface {
	dedup.Regenerator
	Question(ctx context.Context, p string) (string, error)
	RootCause(ctx context.Context, p string, history []domain.Exchange) (*domain.RootCause, error)
	ModelName() string
}

// Resolver replaces duplicate questions.
type Resolver interface {
	Resolve(ctx context.Context, req dedup.Request) (string, error)
}

// Publisher receives session lifecycle events.
type Publisher interface {
	Publish(e events.Event)
}

// Recorder receives transcript entries.
type Recorder interface {
	Record(e transcript.Entry)
}

// Notifier is told once about every session this engine completes.
type Notifier interface {
	Notify(s *domain.Session)
}

// ArtifactKind tags what Next produced.
type ArtifactKind string

const (
	ArtifactQuestion  ArtifactKind = "question"
	ArtifactRootCause ArtifactKind = "root_cause"
)

// Artifact is the result of advancing a session: a new question or the root cause.
type Artifact struct {
	Kind      ArtifactKind      `json:"type"`
	Question  *domain.Question  `json:"question,omitempty"`
	RootCause *domain.RootCause `json:"root_cause,omitempty"`
}

// Engine composes the session repository, generator and dedup controller.
type Engine struct {
	repo      *session.Repository
	gen       Generator
	resolver  Resolver
	counters  *metrics.Counters
	publisher Publisher
	recorder  Recorder
	notifier  Notifier
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver overrides the default dedup controller.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithPublisher sends lifecycle events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder writes transcript entries to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithNotifier sends completed sessions to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. Unless overridden, duplicates are resolved by a
// dedup.Controller regenerating through gen.
func New(repo *session.Repository, gen Generator, counters *metrics.Counters, opts ...Option) *Engine {
	if counters == nil {
		counters = metrics.New()
	}
	e := &Engine{
		repo:     repo,
		gen:      gen,
		counters: counters,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.resolver == nil {
		e.resolver = dedup.NewController(gen, counters, e.logger)
	}
	return e
}

// Start creates a session and asks its first question.
func (e *Engine) Start(ctx context.Context, problem string) (*domain.Session, *domain.Question, error) {
	problem = strings.TrimSpace(problem)
	if utf8.RuneCountInString(problem) < MinProblemLength {
		return nil, nil, fmt.Errorf("%w: problem must be at least %d characters", domain.ErrInvalidInput, MinProblemLength)
	}

	s, err := e.repo.Create(ctx, problem)
	if err != nil {
		return nil, nil, err
	}
	e.publish(s, events.TypeSessionStarted, map[string]string{"problem": s.Problem})
	e.record(transcript.Entry{SessionID: s.ID, Event: "problem", Text: s.Problem})

	text, err := e.timed(s.ID, 1, func() (string, error) {
		return e.gen.Question(ctx, prompt.InitialQuestion(problem))
	})
	if err != nil {
		return nil, nil, err
	}

	s, q, err := e.repo.AppendQuestion(ctx, s.ID, text)
	if err != nil {
		return nil, nil, err
	}
	e.questionAsked(s, q)
	e.logger.Info("Session started", "session_id", s.ID)
	return s, q, nil
}

// SubmitAnswer records an answer to the pending question. No generation happens here.
func (e *Engine) SubmitAnswer(ctx context.Context, id, text string) (*domain.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: answer is empty", domain.ErrInvalidInput)
	}

	tier := classify.Classify(text)
	s, a, err := e.repo.AppendAnswer(ctx, id, text, tier)
	if err != nil {
		return nil, err
	}
	if tier == domain.TierUnknown {
		e.counters.IncUnknown()
	}

	e.publish(s, events.TypeAnswerRecorded, a)
	e.record(transcript.Entry{SessionID: s.ID, Event: "answer", Step: a.Index, Text: a.Text, Tier: string(a.Tier)})
	e.logger.Info("Answer recorded",
		"session_id", s.ID,
		"step", s.Step,
		"tier", tier,
		"unknown_streak", s.UnknownStreak,
	)
	return s, nil
}

// Next advances the session. A completed session returns its root cause; a
// session below the step limit gets a new question; a session at the limit is
// analyzed and completed. Advancing while a question is unanswered is an
// invalid step.
func (e *Engine) Next(ctx context.Context, id string) (*domain.Session, Artifact, error) {
	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, Artifact{}, err
	}
	if s.IsCompleted() {
		return s, Artifact{Kind: ArtifactRootCause, RootCause: s.RootCause}, nil
	}
	if s.HasPendingQuestion() {
		return nil, Artifact{}, fmt.Errorf("%w: question %d is still unanswered", domain.ErrInvalidStep, len(s.Questions))
	}
	if s.Step < domain.MaxSteps {
		s, q, err := e.nextQuestion(ctx, s)
		if err != nil {
			return nil, Artifact{}, err
		}
		return s, Artifact{Kind: ArtifactQuestion, Question: q}, nil
	}
	s, err = e.complete(ctx, s)
	if err != nil {
		return nil, Artifact{}, err
	}
	return s, Artifact{Kind: ArtifactRootCause, RootCause: s.RootCause}, nil
}

// Finalize completes a session that has all five answers. It is idempotent:
// a completed session returns its stored root cause.
func (e *Engine) Finalize(ctx context.Context, id string) (*domain.Session, *domain.RootCause, error) {
	s, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.IsCompleted() {
		return s, s.RootCause, nil
	}
	if s.Step < domain.MaxSteps {
		return nil, nil, fmt.Errorf("%w: cannot finalize at step %d of %d", domain.ErrInvalidStep, s.Step, domain.MaxSteps)
	}
	s, err = e.complete(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	return s, s.RootCause, nil
}

// Get loads a session.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Session, error) {
	return e.repo.Get(ctx, id)
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.counters.Snapshot()
}

// ModelName reports the generator's model.
func (e *Engine) ModelName() string {
	return e.gen.ModelName()
}

func (e *Engine) nextQuestion(ctx context.Context, s *domain.Session) (*domain.Session, *domain.Question, error) {
	step := len(s.Questions) + 1
	hints := prompt.Hints{
		UnknownStreak: s.UnknownStreak,
		DepthScore:    classify.DepthScore(s.AnswerTexts()),
	}
	if a := s.LastAnswer(); a != nil {
		hints.LastTier = a.Tier
	}
	p := prompt.FollowUpQuestion(s.Problem, s.History(), hints)

	candidate, err := e.timed(s.ID, step, func() (string, error) {
		return e.gen.Question(ctx, p)
	})
	if err != nil {
		return nil, nil, err
	}
	text, err := e.resolver.Resolve(ctx, dedup.Request{
		SessionID: s.ID,
		Step:      step,
		Prompt:    p,
		Candidate: candidate,
		Prior:     s.QuestionTexts(),
	})
	if err != nil {
		return nil, nil, err
	}

	s, q, err := e.repo.AppendQuestion(ctx, s.ID, text)
	if err != nil {
		return nil, nil, err
	}
	e.questionAsked(s, q)
	return s, q, nil
}

func (e *Engine) complete(ctx context.Context, s *domain.Session) (*domain.Session, error) {
	history := s.History()
	start := time.Now()
	rc, err := e.gen.RootCause(ctx, prompt.FinalAnalysis(s.Problem, history), history)
	if err != nil {
		return nil, err
	}
	done, err := e.repo.Complete(ctx, s.ID, rc)
	if err != nil {
		return nil, err
	}
	if done.RootCause == nil {
		return nil, errors.New("completed session has no root cause")
	}

	e.logger.Info("Session completed",
		"session_id", done.ID,
		"model", e.gen.ModelName(),
		"factors", len(done.RootCause.ContributingFactors),
		"depth_score", classify.DepthScore(done.AnswerTexts()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	e.publish(done, events.TypeSessionCompleted, done.RootCause)
	e.record(transcript.Entry{
		SessionID: done.ID,
		Event:     "root_cause",
		Step:      done.Step,
		Text:      done.RootCause.Summary,
		Model:     e.gen.ModelName(),
		Factors:   done.RootCause.ContributingFactors,
	})
	if e.notifier != nil {
		e.notifier.Notify(done)
	}
	return done, nil
}

// timed runs one question generation and logs it with session context.
func (e *Engine) timed(sessionID string, step int, fn func() (string, error)) (string, error) {
	start := time.Now()
	text, err := fn()
	snap := e.counters.Snapshot()
	attrs := []any{
		"session_id", sessionID,
		"step", step,
		"duration_ms", time.Since(start).Milliseconds(),
		"model", e.gen.ModelName(),
		"dedup_retries_total", snap.DedupRetriesTotal,
		"dedup_duplicates_accepted", snap.DedupDuplicatesAccepted,
	}
	if err != nil {
		e.logger.Error("Question generation failed", append(attrs, "error", err)...)
		return "", err
	}
	e.logger.Info("Question generated", attrs...)
	return text, nil
}

func (e *Engine) questionAsked(s *domain.Session, q *domain.Question) {
	e.publish(s, events.TypeQuestionAsked, q)
	e.record(transcript.Entry{SessionID: s.ID, Event: "question", Step: q.Index, Text: q.Text, Model: e.gen.ModelName()})
}

func (e *Engine) publish(s *domain.Session, typ events.Type, data any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.Event{
		SessionID: s.ID,
		Type:      typ,
		Step:      s.Step,
		Status:    string(s.Status),
		Data:      data,
	})
}

func (e *Engine) record(entry transcript.Entry) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(entry)
}
