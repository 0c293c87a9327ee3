//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/engine"
	"github.com/Michdriod/RCA-AI/internal/events"
	"github.com/Michdriod/RCA-AI/internal/llm"
	"github.com/Michdriod/RCA-AI/internal/metrics"
	"github.com/Michdriod/RCA-AI/internal/session"
	"github.com/Michdriod/RCA-AI/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	*httptest.Server
	hub *events.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	kv := store.NewMemory()
	counters := metrics.New()
	gen := llm.NewGenerator(llm.Scripted{}, llm.GeneratorConfig{Temperature: 0.3, TopP: 0.85}, counters, discard)
	hub := events.NewHub(0)
	eng := engine.New(session.NewRepository(kv, 30*time.Minute), gen, counters,
		engine.WithPublisher(hub), engine.WithLogger(discard))

	base := NewHandler(eng, discard)
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Sessions:    NewSessionHandler(base),
		Streams:     NewStreamHandler(base, hub, []string{"*"}),
		Health:      NewHealthHandler(base, kv, false),
		CORSOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestSessionFlow(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var start startResponse
	resp := srv.do(t, http.MethodPost, "/session/start", startRequest{Problem: "Checkout page times out"}, &start)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("request id not echoed")
	}
	id := start.Session.SessionID
	if id == "" || start.Question == nil || start.Question.Index != 1 || start.Session.Status != domain.StatusActive {
		t.Fatalf("unexpected start response %+v", start)
	}

	answers := []string{
		"The payment service responded slowly",
		"Its connection pool was exhausted",
		"A retry loop held connections open",
		"The retry limit was never configured",
		"Defaults were copied from a template",
	}
	var next nextResponse
	for i, a := range answers {
		var st stateResponse
		resp = srv.do(t, http.MethodPost, "/session/answer", answerRequest{SessionID: id, Answer: a}, &st)
		if resp.StatusCode != http.StatusOK || st.Session.Step != i+1 {
			t.Fatalf("answer %d: status %d, session %+v", i+1, resp.StatusCode, st.Session)
		}
		next = nextResponse{}
		resp = srv.do(t, http.MethodGet, "/session/next?session_id="+id, nil, &next)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("next %d: status %d", i+1, resp.StatusCode)
		}
	}
	if next.Type != engine.ArtifactRootCause || next.RootCause == nil || next.Session.Status != domain.StatusCompleted {
		t.Fatalf("final next = %+v", next)
	}

	var done completeResponse
	resp = srv.do(t, http.MethodPost, "/session/complete", completeRequest{SessionID: id}, &done)
	if resp.StatusCode != http.StatusOK || done.Step != 5 || done.RootCause == nil || done.RootCause.Summary != next.RootCause.Summary {
		t.Fatalf("complete: status %d, body %+v", resp.StatusCode, done)
	}

	var state stateResponse
	srv.do(t, http.MethodGet, "/session/"+id, nil, &state)
	if state.Session.QuestionCount != 5 || state.Session.AnswerCount != 5 {
		t.Fatalf("state = %+v", state.Session)
	}

	for _, tc := range []struct {
		format      string
		contentType string
		contains    string
	}{
		{"md", "text/markdown", "## Root cause"},
		{"html", "text/html", "<h2"},
		{"yaml", "application/yaml", id},
		{"json", "application/json", `"depth_score"`},
		{"xlsx", "spreadsheetml", "PK"},
	} {
		resp, err := http.Get(srv.URL + "/session/" + id + "/report?format=" + tc.format)
		if err != nil {
			t.Fatalf("report %s: %v", tc.format, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), tc.contentType) {
			t.Fatalf("report %s: status %d, type %q", tc.format, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		if !strings.Contains(string(body), tc.contains) {
			t.Errorf("report %s does not contain %q", tc.format, tc.contains)
		}
	}
}

func TestSessionErrors(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var start startResponse
	srv.do(t, http.MethodPost, "/session/start", startRequest{Problem: "Builds are flaky"}, &start)
	id := start.Session.SessionID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
		kind   domain.Kind
	}{
		{"short problem", http.MethodPost, "/session/start", startRequest{Problem: "ab"}, http.StatusUnprocessableEntity, "ValidationError", domain.KindInvalidInput},
		{"empty answer", http.MethodPost, "/session/answer", answerRequest{SessionID: id, Answer: "  "}, http.StatusUnprocessableEntity, "ValidationError", domain.KindInvalidInput},
		{"unknown session", http.MethodGet, "/session/missing", nil, http.StatusNotFound, "SessionNotFound", domain.KindNotFound},
		{"next before answer", http.MethodGet, "/session/next?session_id=" + id, nil, http.StatusConflict, "InvalidStep", domain.KindInvalidStep},
		{"early complete", http.MethodPost, "/session/complete", completeRequest{SessionID: id}, http.StatusConflict, "InvalidStep", domain.KindInvalidStep},
		{"missing session_id", http.MethodGet, "/session/next", nil, http.StatusUnprocessableEntity, "ValidationError", domain.KindInvalidInput},
		{"bad format", http.MethodGet, "/session/" + id + "/report?format=pdf", nil, http.StatusUnprocessableEntity, "ValidationError", domain.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env errorEnvelope
			resp := srv.do(t, tt.method, tt.path, tt.body, &env)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%+v)", resp.StatusCode, tt.status, env.Error)
			}
			if env.Error.Code != tt.code || env.Error.Classification != tt.kind {
				t.Fatalf("error = %+v", env.Error)
			}
			if env.Error.RequestID == "" || env.Error.RequestID != resp.Header.Get("X-Request-ID") {
				t.Fatalf("request id %q does not match header %q", env.Error.RequestID, resp.Header.Get("X-Request-ID"))
			}
		})
	}
}

func TestMalformedAndOversizedBodies(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/session/start", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", resp.StatusCode)
	}

	big := fmt.Sprintf(`{"problem":%q}`, strings.Repeat("x", defaultMaxRequestBodySize+1))
	resp, err = http.Post(srv.URL+"/session/start", "application/json", strings.NewReader(big))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body status = %d", resp.StatusCode)
	}
}

type failingService struct {
	err error
}

func (f *failingService) Start(context.Context, string) (*domain.Session, *domain.Question, error) {
	return nil, nil, f.err
}

func (f *failingService) SubmitAnswer(context.Context, string, string) (*domain.Session, error) {
	return nil, f.err
}

func (f *failingService) Next(context.Context, string) (*domain.Session, engine.Artifact, error) {
	return nil, engine.Artifact{}, f.err
}

func (f *failingService) Finalize(context.Context, string) (*domain.Session, *domain.RootCause, error) {
	return nil, nil, f.err
}

func (f *failingService) Get(context.Context, string) (*domain.Session, error) {
	return nil, f.err
}

func (f *failingService) Metrics() metrics.Snapshot { return metrics.Snapshot{} }
func (f *failingService) ModelName() string { return "none" }

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrSessionExpired, http.StatusGone, "SessionExpired"},
		{fmt.Errorf("%w: question: boom", domain.ErrGeneration), http.StatusBadGateway, "AIServiceError"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "InternalServerError"},
	}
	for _, tt := range tests {
		base := NewHandler(&failingService{err: tt.err}, discard)
		h := NewSessionHandler(base)

		req := httptest.NewRequest(http.MethodPost, "/session/start", strings.NewReader(`{"problem":"Queue backs up"}`))
		w := httptest.NewRecorder()
		h.Start(w, req)

		var env errorEnvelope
		if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if w.Code != tt.status || env.Error.Code != tt.code {
			t.Errorf("%v: got %d %s, want %d %s", tt.err, w.Code, env.Error.Code, tt.status, tt.code)
		}
		if tt.status == http.StatusInternalServerError && env.Error.Message != "internal error" {
			t.Errorf("internal detail leaked: %q", env.Error.Message)
		}
	}
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }
func (downStore) Backend() string { return "redis" }

func TestHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var body healthResponse
	resp := srv.do(t, http.MethodGet, "/health", nil, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Fatalf("health = %d %+v", resp.StatusCode, body)
	}
	if body.Store != "memory" || body.Model != "scripted" || body.AIKey != "missing" || body.Checks["store"] != "ok" {
		t.Fatalf("health body = %+v", body)
	}

	h := NewHealthHandler(NewHandler(&failingService{}, discard), downStore{}, true)
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" || body.AIKey != "present" || body.Checks["store"] != "unreachable" {
		t.Fatalf("degraded body = %+v", body)
	}
}

func TestWebSocketStreamsSessionEvents(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var start startResponse
	srv.do(t, http.MethodPost, "/session/start", startRequest{Problem: "Nightly export fails"}, &start)
	id := start.Session.SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/" + id
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() events.Event {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var e events.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return e
	}

	if e := read(); e.Type != events.TypeSessionStarted {
		t.Fatalf("first event = %s", e.Type)
	}
	if e := read(); e.Type != events.TypeQuestionAsked {
		t.Fatalf("second event = %s", e.Type)
	}

	srv.do(t, http.MethodPost, "/session/answer", answerRequest{SessionID: id, Answer: "The disk filled up"}, nil)
	e := read()
	if e.Type != events.TypeAnswerRecorded || e.Step != 1 || e.SessionID != id {
		t.Fatalf("live event = %+v", e)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/session/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSSEReplaysCompletedSession(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	var start startResponse
	srv.do(t, http.MethodPost, "/session/start", startRequest{Problem: "Alerts fire twice"}, &start)
	id := start.Session.SessionID
	for i := 0; i < domain.MaxSteps; i++ {
		srv.do(t, http.MethodPost, "/session/answer", answerRequest{SessionID: id, Answer: fmt.Sprintf("Because of cause %d", i+1)}, nil)
		srv.do(t, http.MethodGet, "/session/next?session_id="+id, nil, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/session/"+id+"/events", nil)
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	if strings.Contains(text, "event: session.started") {
		t.Error("event before Last-Event-ID was replayed")
	}
	if !strings.Contains(text, "event: session.completed") || !strings.HasPrefix(text, "retry: ") {
		t.Fatalf("stream = %q", text)
	}
}
