// Package mcpserver exposes the 5 Whys workflow as MCP tools so an assistant
// can drive a session on the user's behalf.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/engine"
)

// Service is the session workflow the tools drive.
type Service interface {
	Start(ctx context.Context, problem string) (*domain.Session, *domain.Question, error)
	SubmitAnswer(ctx context.Context, id, text string) (*domain.Session, error)
	Next(ctx context.Context, id string) (*domain.Session, engine.Artifact, error)
	Finalize(ctx context.Context, id string) (*domain.Session, *domain.RootCause, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
}

// Server wraps the MCP SDK server with the session tools registered.
type Server struct {
	MCPServer *sdkmcp.Server

	svc Service
	log *slog.Logger
}

// NewServer creates an MCP server named "fivewhys" with all tools registered.
func NewServer(svc Service, version string) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "fivewhys", Version: version}, nil),
		svc:       svc,
		log:       slog.Default().With("component", "mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "start_session",
		Description: "Start a 5 Whys root cause analysis for a problem statement. Returns the session and its first question.",
	}, s.handleStartSession)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "submit_answer",
		Description: "Answer the pending question of a session. Call next_step afterwards.",
	}, s.handleSubmitAnswer)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "next_step",
		Description: "Get the next why-question, or the root cause once five answers are recorded.",
	}, s.handleNextStep)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "finalize_session",
		Description: "Synthesize and return the root cause of a session with five answers. Idempotent.",
	}, s.handleFinalizeSession)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_session",
		Description: "Get the full state of a session: questions, answers and root cause if completed.",
	}, s.handleGetSession)
}

// --- Tool input/output types ---

type startSessionInput struct {
	Problem string `json:"problem" jsonschema:"problem statement to analyze, at least 3 characters"`
}

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_session"`
}

type submitAnswerInput struct {
	SessionID string `json:"session_id" jsonschema:"session ID from start_session"`
	Answer    string `json:"answer" jsonschema:"answer to the pending question"`
}

// sessionView is the tool-facing session summary with RFC 3339 timestamps.
type sessionView struct {
	SessionID     string        `json:"session_id"`
	Problem       string        `json:"problem"`
	Step          int           `json:"step"`
	Status        domain.Status `json:"status"`
	QuestionCount int           `json:"question_count"`
	AnswerCount   int           `json:"answer_count"`
	CreatedAt     string        `json:"created_at"`
	CompletedAt   string        `json:"completed_at,omitempty"`
}

func newSessionView(s *domain.Session) sessionView {
	v := sessionView{
		SessionID:     s.ID,
		Problem:       s.Problem,
		Step:          s.Step,
		Status:        s.Status,
		QuestionCount: len(s.Questions),
		AnswerCount:   len(s.Answers),
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
	}
	if s.CompletedAt != nil {
		v.CompletedAt = s.CompletedAt.Format(time.RFC3339)
	}
	return v
}

type questionView struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func newQuestionView(q *domain.Question) *questionView {
	if q == nil {
		return nil
	}
	return &questionView{ID: q.ID, Index: q.Index, Text: q.Text}
}

type answerView struct {
	Index int         `json:"index"`
	Text  string      `json:"text"`
	Tier  domain.Tier `json:"tier"`
}

type startSessionOutput struct {
	Session  sessionView   `json:"session"`
	Question *questionView `json:"question"`
}

type submitAnswerOutput struct {
	Session sessionView `json:"session"`
	Tier    domain.Tier `json:"tier"`
}

type nextStepOutput struct {
	Type      engine.ArtifactKind `json:"type"`
	Session   sessionView         `json:"session"`
	Question  *questionView       `json:"question,omitempty"`
	RootCause *domain.RootCause   `json:"root_cause,omitempty"`
}

type finalizeSessionOutput struct {
	Session   sessionView       `json:"session"`
	RootCause *domain.RootCause `json:"root_cause"`
}

type getSessionOutput struct {
	Session   sessionView       `json:"session"`
	Questions []questionView    `json:"questions"`
	Answers   []answerView      `json:"answers"`
	RootCause *domain.RootCause `json:"root_cause,omitempty"`
}

// --- Tool handlers ---

func (s *Server) handleStartSession(ctx context.Context, _ *sdkmcp.CallToolRequest, input startSessionInput) (*sdkmcp.CallToolResult, startSessionOutput, error) {
	sess, q, err := s.svc.Start(ctx, input.Problem)
	if err != nil {
		return nil, startSessionOutput{}, toolError("start_session", err)
	}
	s.log.Info("session started", "session_id", sess.ID)
	return nil, startSessionOutput{Session: newSessionView(sess), Question: newQuestionView(q)}, nil
}

func (s *Server) handleSubmitAnswer(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitAnswerInput) (*sdkmcp.CallToolResult, submitAnswerOutput, error) {
	sess, err := s.svc.SubmitAnswer(ctx, input.SessionID, input.Answer)
	if err != nil {
		return nil, submitAnswerOutput{}, toolError("submit_answer", err)
	}
	out := submitAnswerOutput{Session: newSessionView(sess)}
	if a := sess.LastAnswer(); a != nil {
		out.Tier = a.Tier
	}
	return nil, out, nil
}

func (s *Server) handleNextStep(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, nextStepOutput, error) {
	sess, art, err := s.svc.Next(ctx, input.SessionID)
	if err != nil {
		return nil, nextStepOutput{}, toolError("next_step", err)
	}
	return nil, nextStepOutput{
		Type:      art.Kind,
		Session:   newSessionView(sess),
		Question:  newQuestionView(art.Question),
		RootCause: art.RootCause,
	}, nil
}

func (s *Server) handleFinalizeSession(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, finalizeSessionOutput, error) {
	sess, rc, err := s.svc.Finalize(ctx, input.SessionID)
	if err != nil {
		return nil, finalizeSessionOutput{}, toolError("finalize_session", err)
	}
	return nil, finalizeSessionOutput{Session: newSessionView(sess), RootCause: rc}, nil
}

func (s *Server) handleGetSession(ctx context.Context, _ *sdkmcp.CallToolRequest, input sessionInput) (*sdkmcp.CallToolResult, getSessionOutput, error) {
	sess, err := s.svc.Get(ctx, input.SessionID)
	if err != nil {
		return nil, getSessionOutput{}, toolError("get_session", err)
	}
	out := getSessionOutput{
		Session:   newSessionView(sess),
		Questions: make([]questionView, 0, len(sess.Questions)),
		Answers:   make([]answerView, 0, len(sess.Answers)),
		RootCause: sess.RootCause,
	}
	for i := range sess.Questions {
		out.Questions = append(out.Questions, *newQuestionView(&sess.Questions[i]))
	}
	for _, a := range sess.Answers {
		out.Answers = append(out.Answers, answerView{Index: a.Index, Text: a.Text, Tier: a.Tier})
	}
	return nil, out, nil
}

// toolError prefixes err with its classification so callers can branch on it.
func toolError(tool string, err error) error {
	return fmt.Errorf("%s: %s: %w", tool, domain.KindOf(err), err)
}

