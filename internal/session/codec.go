package session

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Michdriod/RCA-AI/internal/domain"
)

// currentVersion is written into every record. Records without a version
// predate it and carry epoch-second timestamps and possibly missing fields.
const currentVersion = 1

type record struct {
	Version int `json:"version"`
	*domain.Session
}

func encode(s *domain.Session) ([]byte, error) {
	b, err := json.Marshal(record{Version: currentVersion, Session: s})
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return b, nil
}

// decode turns a stored record of any known version into the current shape.
func decode(raw []byte, now time.Time) (*domain.Session, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	var s *domain.Session
	switch probe.Version {
	case 0:
		legacy, err := decodeLegacy(raw, now)
		if err != nil {
			return nil, err
		}
		s = legacy
	case currentVersion:
		s = &domain.Session{}
		if err := json.Unmarshal(raw, s); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported session record version %d", probe.Version)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session record: %w", err)
	}
	return s, nil
}

type legacyQuestion struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Index     int      `json:"index"`
	CreatedAt flexTime `json:"created_at"`
}

type legacyAnswer struct {
	QuestionID string   `json:"question_id"`
	Text       string   `json:"text"`
	Index      int      `json:"index"`
	CreatedAt  flexTime `json:"created_at"`
}

type legacyRecord struct {
	SessionID   string           `json:"session_id"`
	Problem     string           `json:"problem"`
	Questions   []legacyQuestion `json:"questions"`
	Answers     []legacyAnswer   `json:"answers"`
	Step        *int             `json:"step"`
	Status      string           `json:"status"`
	CreatedAt   *flexTime        `json:"created_at"`
	CompletedAt *flexTime        `json:"completed_at"`
	RootCause   json.RawMessage  `json:"root_cause"`
}

func decodeLegacy(raw []byte, now time.Time) (*domain.Session, error) {
	var lr legacyRecord
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, fmt.Errorf("decode legacy session: %w", err)
	}
	if lr.SessionID == "" {
		return nil, fmt.Errorf("unrecognized session format")
	}

	s := &domain.Session{
		ID:        lr.SessionID,
		Problem:   lr.Problem,
		Status:    domain.StatusActive,
		CreatedAt: now.UTC(),
	}
	if lr.CreatedAt != nil {
		s.CreatedAt = lr.CreatedAt.Time
	}
	if strings.EqualFold(lr.Status, string(domain.StatusCompleted)) {
		s.Status = domain.StatusCompleted
	}
	for _, q := range lr.Questions {
		s.Questions = append(s.Questions, domain.Question{
			ID: q.ID, Text: q.Text, Index: q.Index, CreatedAt: q.CreatedAt.Time,
		})
	}
	for _, a := range lr.Answers {
		s.Answers = append(s.Answers, domain.Answer{
			QuestionID: a.QuestionID, Text: a.Text, Index: a.Index, CreatedAt: a.CreatedAt.Time,
		})
	}
	s.Step = len(s.Answers)
	if lr.Step != nil {
		s.Step = *lr.Step
	}
	if lr.CompletedAt != nil {
		t := lr.CompletedAt.Time
		s.CompletedAt = &t
	}
	if len(lr.RootCause) > 0 && string(lr.RootCause) != "null" {
		var rc domain.RootCause
		if err := json.Unmarshal(lr.RootCause, &rc); err == nil && strings.TrimSpace(rc.Summary) != "" {
			s.RootCause = &rc
		}
	}
	return s, nil
}

// flexTime accepts epoch seconds (int or float) or an RFC 3339 string.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	str := strings.TrimSpace(string(b))
	if str == "null" || str == "" {
		return nil
	}
	if strings.HasPrefix(str, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				f.Time = t.UTC()
				return nil
			}
		}
		return fmt.Errorf("unrecognized timestamp %q", s)
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	whole, frac := math.Modf(secs)
	f.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}
