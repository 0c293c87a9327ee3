// Package domain holds the 5 Whys session aggregate and its error kinds.
package domain

import (
	"fmt"
	"time"
)

// MaxSteps is the number of why-questions asked before a root cause is synthesized.
const MaxSteps = 5

// MaxContributingFactors caps the factor list attached to a root cause.
const MaxContributingFactors = 6

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusActive is the initial state; questions and answers may be appended.
	StatusActive Status = "ACTIVE"
	// StatusCompleted is terminal; a root cause is attached.
	StatusCompleted Status = "COMPLETED"
)

// Tier is the quality classification of a single answer.
type Tier string

const (
	TierUnknown   Tier = "UNKNOWN"
	TierMechanism Tier = "MECHANISM"
	TierVague     Tier = "VAGUE"
	TierContext   Tier = "CONTEXT"
)

// Question is a generated why-question.
type Question struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Index     int       `json:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// Answer is a user reply bound to the question at the same index.
type Answer struct {
	QuestionID string    `json:"question_id"`
	Text       string    `json:"text"`
	Index      int       `json:"index"`
	CreatedAt  time.Time `json:"created_at"`
	Tier       Tier      `json:"tier,omitempty"`
}

// RootCause is the synthesized outcome of a completed session.
type RootCause struct {
	Summary             string   `json:"summary"`
	ContributingFactors []string `json:"contributing_factors"`
}

// Session is the aggregate root of one 5 Whys dialogue.
type Session struct {
	ID            string     `json:"session_id"`
	Problem       string     `json:"problem"`
	Questions     []Question `json:"questions"`
	Answers       []Answer   `json:"answers"`
	Step          int        `json:"step"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	RootCause     *RootCause `json:"root_cause"`
	UnknownStreak int        `json:"unknown_streak"`
}

// Snapshot is the externally observable summary of a session.
type Snapshot struct {
	SessionID     string     `json:"session_id"`
	Problem       string     `json:"problem"`
	Step          int        `json:"step"`
	Status        Status     `json:"status"`
	QuestionCount int        `json:"question_count"`
	AnswerCount   int        `json:"answer_count"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// Snapshot returns the observable fields of the session.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		SessionID:     s.ID,
		Problem:       s.Problem,
		Step:          s.Step,
		Status:        s.Status,
		QuestionCount: len(s.Questions),
		AnswerCount:   len(s.Answers),
		CreatedAt:     s.CreatedAt,
		CompletedAt:   s.CompletedAt,
	}
}

// IsCompleted reports whether the session reached its terminal state.
func (s *Session) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// HasPendingQuestion reports whether the latest question is still unanswered.
func (s *Session) HasPendingQuestion() bool {
	return len(s.Answers) < len(s.Questions)
}

// LastQuestion returns the most recent question, or nil.
func (s *Session) LastQuestion() *Question {
	if len(s.Questions) == 0 {
		return nil
	}
	return &s.Questions[len(s.Questions)-1]
}

// LastAnswer returns the most recent answer, or nil.
func (s *Session) LastAnswer() *Answer {
	if len(s.Answers) == 0 {
		return nil
	}
	return &s.Answers[len(s.Answers)-1]
}

// QuestionTexts returns the question texts in order.
func (s *Session) QuestionTexts() []string {
	out := make([]string, 0, len(s.Questions))
	for _, q := range s.Questions {
		out = append(out, q.Text)
	}
	return out
}

// AnswerTexts returns the answer texts in order.
func (s *Session) AnswerTexts() []string {
	out := make([]string, 0, len(s.Answers))
	for _, a := range s.Answers {
		out = append(out, a.Text)
	}
	return out
}

// Exchange pairs a question with its answer, if any.
type Exchange struct {
	Step     int
	Question string
	Answer   string
	Tier     Tier
}

// History returns the question/answer pairs in step order.
func (s *Session) History() []Exchange {
	out := make([]Exchange, 0, len(s.Questions))
	for i, q := range s.Questions {
		ex := Exchange{Step: i + 1, Question: q.Text}
		if i < len(s.Answers) {
			ex.Answer = s.Answers[i].Text
			ex.Tier = s.Answers[i].Tier
		}
		out = append(out, ex)
	}
	return out
}

// Validate checks the aggregate invariants.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if len(s.Answers) > len(s.Questions) || len(s.Questions) > MaxSteps {
		return fmt.Errorf("invalid counts: %d questions, %d answers", len(s.Questions), len(s.Answers))
	}
	if s.Step != len(s.Answers) {
		return fmt.Errorf("step %d does not match %d answers", s.Step, len(s.Answers))
	}
	completed := s.Status == StatusCompleted
	if completed != (s.RootCause != nil && s.CompletedAt != nil) {
		return fmt.Errorf("status %s inconsistent with completion fields", s.Status)
	}
	if s.Status != StatusActive && s.Status != StatusCompleted {
		return fmt.Errorf("unknown status %q", s.Status)
	}
	for i, q := range s.Questions {
		if q.Index != i+1 {
			return fmt.Errorf("question %d has index %d", i+1, q.Index)
		}
	}
	for i, a := range s.Answers {
		if a.Index != i+1 {
			return fmt.Errorf("answer %d has index %d", i+1, a.Index)
		}
		if a.QuestionID != s.Questions[i].ID {
			return fmt.Errorf("answer %d bound to question %q, want %q", i+1, a.QuestionID, s.Questions[i].ID)
		}
	}
	return nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Questions = append([]Question(nil), s.Questions...)
	c.Answers = append([]Answer(nil), s.Answers...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.RootCause != nil {
		rc := *s.RootCause
		rc.ContributingFactors = append([]string(nil), s.RootCause.ContributingFactors...)
		c.RootCause = &rc
	}
	return &c
}
