package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/engine"
	"github.com/Michdriod/RCA-AI/internal/report"
)

// SessionHandler handles the 5 Whys session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/session/start", h.Start)
	r.Post("/session/answer", h.Answer)
	r.Get("/session/next", h.Next)
	r.Post("/session/complete", h.Complete)
	r.Get("/session/{id}", h.State)
	r.Get("/session/{id}/report", h.Report)
}

type startRequest struct {
	Problem string `json:"problem"`
}

type answerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

type completeRequest struct {
	SessionID string `json:"session_id"`
}

type questionOut struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Index int    `json:"index"`
}

func newQuestionOut(q *domain.Question) *questionOut {
	if q == nil {
		return nil
	}
	return &questionOut{ID: q.ID, Text: q.Text, Index: q.Index}
}

type startResponse struct {
	Session  domain.Snapshot `json:"session"`
	Question *questionOut    `json:"question"`
}

type stateResponse struct {
	Session domain.Snapshot `json:"session"`
}

type nextResponse struct {
	Type      engine.ArtifactKind `json:"type"`
	Session   domain.Snapshot     `json:"session"`
	Question  *questionOut        `json:"question,omitempty"`
	RootCause *domain.RootCause   `json:"root_cause,omitempty"`
}

type completeResponse struct {
	SessionID string            `json:"session_id"`
	Step      int               `json:"step"`
	Status    domain.Status     `json:"status"`
	RootCause *domain.RootCause `json:"root_cause"`
}

// Start creates a session and returns its first question.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, q, err := h.svc.Start(r.Context(), req.Problem)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Session start request served", "session_id", s.ID, logAttr(r))
	JSON(w, http.StatusOK, startResponse{Session: s.Snapshot(), Question: newQuestionOut(q)})
}

// Answer records the answer to the pending question.
func (h *SessionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, r, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput))
		return
	}
	if strings.TrimSpace(req.Answer) == "" {
		h.writeError(w, r, fmt.Errorf("%w: answer is required", domain.ErrInvalidInput))
		return
	}

	s, err := h.svc.SubmitAnswer(r.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{Session: s.Snapshot()})
}

// Next returns the next question, or the root cause once all answers are in.
func (h *SessionHandler) Next(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		h.writeError(w, r, fmt.Errorf("%w: session_id query parameter is required", domain.ErrInvalidInput))
		return
	}

	s, art, err := h.svc.Next(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nextResponse{
		Type:      art.Kind,
		Session:   s.Snapshot(),
		Question:  newQuestionOut(art.Question),
		RootCause: art.RootCause,
	})
}

// Complete finalizes a session explicitly.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		h.writeError(w, r, fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput))
		return
	}

	s, rc, err := h.svc.Finalize(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, completeResponse{
		SessionID: s.ID,
		Step:      s.Step,
		Status:    s.Status,
		RootCause: rc,
	})
}

// State returns the session snapshot.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stateResponse{Session: s.Snapshot()})
}

// Report renders the session in the requested export format.
func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, s, format); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == report.FormatXLSX {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="rca-%s.xlsx"`, s.ID))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("Failed to write report", "error", err, "session_id", s.ID)
	}
}
