// Package transcript writes an append-only NDJSON record of each session's dialogue.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// Config controls the transcript writer.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Entry is one line of a session transcript.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Event     string    `json:"event"`
	Step      int       `json:"step,omitempty"`
	Text      string    `json:"text,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Model     string    `json:"model,omitempty"`
	Factors   []string  `json:"contributing_factors,omitempty"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Logger queues entries and writes them from a single goroutine.
// A nil or disabled Logger drops entries silently.
type Logger struct {
	dir     string
	queue   chan Entry
	done    chan struct{}
	logger  *slog.Logger
	once    sync.Once
	mu      sync.Mutex
	closed  bool
	dropped int64
}

// New creates the transcript directory and starts the writer.
// It returns a nil Logger when transcripts are disabled.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// Record queues an entry without blocking. Entries are dropped when the queue is full.
func (l *Logger) Record(e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped++
		l.logger.Warn("Transcript queue full, dropping entry",
			"session_id", e.SessionID,
			"event", e.Event,
			"dropped_total", l.dropped,
		)
	}
}

// Path returns the transcript file for a session.
func (l *Logger) Path(sessionID string) string {
	return filepath.Join(l.dir, unsafeName.ReplaceAllString(sessionID, "_")+".ndjson")
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.write(e); err != nil {
			l.logger.Warn("Failed to write transcript entry", "session_id", e.SessionID, "error", err)
		}
	}
}

func (l *Logger) write(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.Path(e.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close drains queued entries and stops the writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		select {
		case <-l.done:
		case <-time.After(5 * time.Second):
			l.logger.Warn("Transcript writer shutdown timeout", "queue_remaining", len(l.queue))
		}
	})
	return nil
}
