// Package notify posts finalized sessions to an external callback URL.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// DefaultTimeout bounds one callback POST.
const DefaultTimeout = 5 * time.Second

// Payload is the JSON body sent to the callback URL.
type Payload struct {
	SessionID   string            `json:"session_id"`
	Problem     string            `json:"problem"`
	Step        int               `json:"step"`
	Status      domain.Status     `json:"status"`
	CompletedAt *time.Time        `json:"completed_at"`
	RootCause   *domain.RootCause `json:"root_cause"`
	Questions   []Item            `json:"questions"`
	Answers     []Item            `json:"answers"`
}

// Item is an indexed question or answer text.
type Item struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// NewPayload builds the callback body for a completed session.
func NewPayload(s *domain.Session) Payload {
	p := Payload{
		SessionID:   s.ID,
		Problem:     s.Problem,
		Step:        s.Step,
		Status:      s.Status,
		CompletedAt: s.CompletedAt,
		RootCause:   s.RootCause,
		Questions:   make([]Item, 0, len(s.Questions)),
		Answers:     make([]Item, 0, len(s.Answers)),
	}
	for _, q := range s.Questions {
		p.Questions = append(p.Questions, Item{Index: q.Index, Text: q.Text})
	}
	for _, a := range s.Answers {
		p.Answers = append(p.Answers, Item{Index: a.Index, Text: a.Text})
	}
	return p
}

// Webhook delivers completion callbacks in the background. Failures are
// logged and never retried.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWebhook returns nil when url is empty.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Notify posts the session on its own goroutine and returns immediately.
func (w *Webhook) Notify(s *domain.Session) {
	if w == nil || s == nil {
		return
	}
	payload := NewPayload(s.Clone())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		status, err := w.post(ctx, payload)
		if err != nil {
			w.logger.Warn("Completion callback failed", "url", w.url, "session_id", payload.SessionID, "error", err)
			return
		}
		w.logger.Info("Completion callback dispatched",
			"url", w.url,
			"session_id", payload.SessionID,
			"status_code", status,
			"success", status < http.StatusBadRequest,
		)
	}()
}

func (w *Webhook) post(ctx context.Context, payload Payload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// Wait blocks until in-flight callbacks finish.
func (w *Webhook) Wait() {
	if w == nil {
		return
	}
	w.wg.Wait()
}
