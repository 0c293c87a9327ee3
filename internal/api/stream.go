package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Michdriod/RCA-AI/internal/events"
)

const (
	defaultKeepalive  = 15 * time.Second
	defaultRetryDelay = 5 * time.Second
	wsWriteTimeout    = 5 * time.Second
)

// StreamHandler pushes session lifecycle events over WebSocket and SSE.
type StreamHandler struct {
	*Handler
	hub            *events.Hub
	allowedOrigins []string
	keepalive      time.Duration
}

// NewStreamHandler creates a stream handler reading from hub.
func NewStreamHandler(base *Handler, hub *events.Hub, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		Handler:        base,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		keepalive:      defaultKeepalive,
	}
}

// RegisterRoutes registers the stream routes.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/session/{id}", h.WebSocket)
	r.Get("/session/{id}/events", h.SSE)
}

// lastEventID reads the replay cursor from the Last-Event-ID header or the
// lastEventId query parameter.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// terminalEvent is sent when a completed session has no completion event left
// in the backlog.
func terminalEvent(sessionID string, step int, status string, data any) events.Event {
	return events.Event{
		SessionID: sessionID,
		Type:      events.TypeSessionCompleted,
		Step:      step,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func hasCompletion(evs []events.Event) bool {
	for _, e := range evs {
		if e.Type == events.TypeSessionCompleted {
			return true
		}
	}
	return false
}

// WebSocket streams a session's events until it completes or the client leaves.
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", id)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", id)
		}
	}()

	missed, ch, cancel := h.hub.Subscribe(id, lastEventID(r))
	defer cancel()
	if s.IsCompleted() && !hasCompletion(missed) {
		missed = append(missed, terminalEvent(s.ID, s.Step, string(s.Status), s.RootCause))
	}

	// Incoming messages are ignored; CloseRead cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	h.logger.Info("Event stream connected", "transport", "websocket", "session_id", id)

	for _, e := range missed {
		if err := h.writeWS(ctx, ws, e); err != nil {
			return
		}
		if e.Type == events.TypeSessionCompleted {
			return
		}
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("WebSocket closed by client", "session_id", id)
			return
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, wsWriteTimeout)
			err := ws.Ping(pingCtx)
			cancelPing()
			if err != nil {
				h.logger.Debug("WebSocket ping failed", "error", err, "session_id", id)
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := h.writeWS(ctx, ws, e); err != nil {
				return
			}
			if e.Type == events.TypeSessionCompleted {
				return
			}
		}
	}
}

func (h *StreamHandler) writeWS(ctx context.Context, ws *websocket.Conn, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("Failed to marshal event", "error", err, "session_id", e.SessionID)
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err, "session_id", e.SessionID)
		return err
	}
	return nil
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

// SSE streams a session's events as server-sent events, replaying from
// Last-Event-ID on reconnect.
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", defaultRetryDelay.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	missed, ch, cancel := h.hub.Subscribe(id, lastEventID(r))
	defer cancel()
	if s.IsCompleted() && !hasCompletion(missed) {
		missed = append(missed, terminalEvent(s.ID, s.Step, string(s.Status), s.RootCause))
	}
	h.logger.Info("Event stream connected", "transport", "sse", "session_id", id)

	for _, e := range missed {
		if err := writeSSEEvent(w, e); err != nil {
			return
		}
		flusher.Flush()
		if e.Type == events.TypeSessionCompleted {
			return
		}
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, e); err != nil {
				h.logger.Debug("SSE write error", "error", err, "session_id", id)
				return
			}
			flusher.Flush()
			if e.Type == events.TypeSessionCompleted {
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if e.ID > 0 {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
