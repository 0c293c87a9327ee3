// Package session implements the 5 Whys session state machine on top of an expiring KV store.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Michdriod/RCA-AI/internal/classify"
	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/store"
	"github.com/google/uuid"
)

// DefaultKeyPrefix namespaces session records in the store.
const DefaultKeyPrefix = "rca:session:"

// Repository owns session lifecycle transitions. Every mutation loads the
// record, validates against the fresh copy, and writes the whole record back
// with a refreshed TTL. There is no per-session lock: concurrent writers to the
// same session race and the last write wins.
type Repository struct {
	kv     store.KV
	ttl    time.Duration
	prefix string
	now    func() time.Time
	newID  func() string
}

// Option customizes a Repository.
type Option func(*Repository)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides session and question id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// WithKeyPrefix overrides the store key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(r *Repository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRepository creates a repository writing records with the given TTL.
func NewRepository(kv store.KV, ttl time.Duration, opts ...Option) *Repository {
	r := &Repository{
		kv:     kv,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
		newID:  newHexID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newHexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (r *Repository) key(id string) string {
	return r.prefix + id
}

// Create stores a new ACTIVE session at step 0.
func (r *Repository) Create(ctx context.Context, problem string) (*domain.Session, error) {
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return nil, fmt.Errorf("%w: problem is empty", domain.ErrInvalidInput)
	}
	s := &domain.Session{
		ID:        r.newID(),
		Problem:   problem,
		Questions: []domain.Question{},
		Answers:   []domain.Answer{},
		Status:    domain.StatusActive,
		CreatedAt: r.now().UTC(),
	}
	if err := r.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get loads a session.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Session, error) {
	return r.load(ctx, id)
}

// TTL returns the remaining lifetime of a session.
func (r *Repository) TTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := r.checkTTL(ctx, id)
	if err != nil {
		return 0, err
	}
	if ttl == store.TTLNoExpiry {
		return r.ttl, nil
	}
	return ttl, nil
}

// AppendQuestion adds the next question. It fails with ErrInvalidStep when the
// session is completed or already holds MaxSteps questions.
func (r *Repository) AppendQuestion(ctx context.Context, id, text string) (*domain.Session, *domain.Question, error) {
	text = strings.TrimSpace(text)
	s, err := r.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.Status != domain.StatusActive {
		return nil, nil, fmt.Errorf("%w: cannot add question to completed session", domain.ErrInvalidStep)
	}
	if len(s.Questions) >= domain.MaxSteps {
		return nil, nil, fmt.Errorf("%w: cannot add more than %d questions", domain.ErrInvalidStep, domain.MaxSteps)
	}
	if text == "" {
		return nil, nil, fmt.Errorf("%w: question text is empty", domain.ErrInvalidStep)
	}

	q := domain.Question{
		ID:        r.newID(),
		Text:      text,
		Index:     len(s.Questions) + 1,
		CreatedAt: r.now().UTC(),
	}
	s.Questions = append(s.Questions, q)
	if err := r.persist(ctx, s); err != nil {
		return nil, nil, err
	}
	return s, &q, nil
}

// AppendAnswer answers the pending question and advances step. The answer's
// tier also updates the session's consecutive UNKNOWN streak.
func (r *Repository) AppendAnswer(ctx context.Context, id, text string, tier domain.Tier) (*domain.Session, *domain.Answer, error) {
	text = strings.TrimSpace(text)
	s, err := r.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.Status != domain.StatusActive {
		return nil, nil, fmt.Errorf("%w: cannot add answer to completed session", domain.ErrInvalidStep)
	}
	if len(s.Answers) >= len(s.Questions) {
		return nil, nil, fmt.Errorf("%w: answer without corresponding question", domain.ErrInvalidStep)
	}
	if len(s.Answers) >= domain.MaxSteps {
		return nil, nil, fmt.Errorf("%w: cannot add more than %d answers", domain.ErrInvalidStep, domain.MaxSteps)
	}
	if text == "" {
		return nil, nil, fmt.Errorf("%w: answer text is empty", domain.ErrInvalidStep)
	}

	idx := len(s.Answers) + 1
	a := domain.Answer{
		QuestionID: s.Questions[idx-1].ID,
		Text:       text,
		Index:      idx,
		CreatedAt:  r.now().UTC(),
		Tier:       tier,
	}
	s.Answers = append(s.Answers, a)
	s.Step = idx
	s.UnknownStreak = classify.NextStreak(s.UnknownStreak, tier)
	if err := r.persist(ctx, s); err != nil {
		return nil, nil, err
	}
	return s, &a, nil
}

// Complete attaches the root cause and moves the session to COMPLETED.
// A session that is already COMPLETED is returned unchanged.
func (r *Repository) Complete(ctx context.Context, id string, rc *domain.RootCause) (*domain.Session, error) {
	s, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.StatusCompleted {
		return s, nil
	}
	if s.Step != domain.MaxSteps {
		return nil, fmt.Errorf("%w: cannot complete at step %d", domain.ErrInvalidStep, s.Step)
	}
	if rc == nil || strings.TrimSpace(rc.Summary) == "" {
		return nil, fmt.Errorf("%w: root cause summary is empty", domain.ErrInvalidStep)
	}

	now := r.now().UTC()
	attached := *rc
	attached.ContributingFactors = append([]string{}, rc.ContributingFactors...)
	s.Status = domain.StatusCompleted
	s.CompletedAt = &now
	s.RootCause = &attached
	if err := r.persist(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// checkTTL maps the store's TTL reply onto session error kinds.
func (r *Repository) checkTTL(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := r.kv.TTL(ctx, r.key(id))
	if err != nil {
		return 0, fmt.Errorf("check session ttl: %w", err)
	}
	switch {
	case ttl == store.TTLMissing:
		return 0, domain.ErrSessionNotFound
	case ttl == store.TTLNoExpiry:
		return ttl, nil
	case ttl <= 0:
		return 0, domain.ErrSessionExpired
	}
	return ttl, nil
}

func (r *Repository) load(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrSessionNotFound
	}
	if _, err := r.checkTTL(ctx, id); err != nil {
		return nil, err
	}
	raw, err := r.kv.Get(ctx, r.key(id))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, domain.ErrSessionNotFound
	case errors.Is(err, store.ErrExpired):
		return nil, domain.ErrSessionExpired
	case err != nil:
		return nil, fmt.Errorf("load session: %w", err)
	}
	s, err := decode(raw, r.now())
	if err != nil {
		return nil, fmt.Errorf("%w: corrupted session data: %v", domain.ErrSessionNotFound, err)
	}
	return s, nil
}

func (r *Repository) persist(ctx context.Context, s *domain.Session) error {
	b, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, r.key(s.ID), b, r.ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
