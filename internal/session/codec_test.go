package session

import (
	"strings"
	"testing"
	"time"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

func TestDecodeLegacyRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	raw := `{
		"session_id": "abc123",
		"problem": "Disk full",
		"questions": [{"id": "q1", "text": "Why?", "index": 1, "created_at": 1714564800.5}],
		"answers": [{"question_id": "q1", "text": "Logs", "index": 1, "created_at": 1714564860}],
		"step": 1,
		"status": "active"
	}`

	s, err := decode([]byte(raw), now)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.Status != domain.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", s.Status)
	}
	if !s.CreatedAt.Equal(now) {
		t.Fatalf("missing created_at should default to now, got %v", s.CreatedAt)
	}
	if s.CompletedAt != nil || s.RootCause != nil {
		t.Fatal("missing completion fields should stay nil")
	}
	want := time.Unix(1714564800, 500000000).UTC()
	if !s.Questions[0].CreatedAt.Equal(want) {
		t.Fatalf("question created_at = %v, want %v", s.Questions[0].CreatedAt, want)
	}
}

func TestDecodeLegacyCompletedRecord(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`{"session_id":"abc","problem":"p","status":"completed","created_at":1714564800,"completed_at":1714565800,`)
	b.WriteString(`"root_cause":{"summary":"Root","contributing_factors":["a"]},"questions":[`)
	for i := 1; i <= 5; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		b.WriteString(`{"id":"q` + string(rune('0'+i)) + `","text":"Why?","index":` + string(rune('0'+i)) + `,"created_at":1714564800}`)
	}
	b.WriteString(`],"answers":[`)
	for i := 1; i <= 5; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		b.WriteString(`{"question_id":"q` + string(rune('0'+i)) + `","text":"Because","index":` + string(rune('0'+i)) + `,"created_at":1714564800}`)
	}
	b.WriteString(`]}`)

	s, err := decode([]byte(b.String()), time.Now())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.Status != domain.StatusCompleted || s.Step != 5 || s.RootCause.Summary != "Root" {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestDecodeLegacyMalformedRootCauseDropped(t *testing.T) {
	t.Parallel()

	raw := `{"session_id":"abc","problem":"p","status":"ACTIVE","root_cause":"oops"}`
	s, err := decode([]byte(raw), time.Now())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.RootCause != nil {
		t.Fatalf("expected malformed root cause to be dropped, got %+v", s.RootCause)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`not json`, `{"problem":"no id"}`, `{"version":99,"session_id":"x"}`} {
		if _, err := decode([]byte(raw), time.Now()); err == nil {
			t.Errorf("decode(%s) succeeded, want error", raw)
		}
	}
}

func TestEncodeDecodeCurrentVersion(t *testing.T) {
	t.Parallel()

	s := &domain.Session{
		ID:        "abc",
		Problem:   "p",
		Status:    domain.StatusActive,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	b, err := encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(b), `"version":1`) {
		t.Fatalf("encoded record lacks version: %s", b)
	}
	got, err := decode(b, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "abc" || !got.CreatedAt.Equal(s.CreatedAt) {
		t.Fatalf("unexpected decoded session: %+v", got)
	}
}
