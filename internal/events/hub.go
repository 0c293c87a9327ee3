// Package events fans session lifecycle events out to live subscribers and
// keeps a short per-session backlog for late joiners.
package events

import (
	"container/list"
	"sync"
	"time"
)

// Type names a session lifecycle event.
type Type string

const (
	TypeSessionStarted   Type = "session.started"
	TypeQuestionAsked    Type = "question.asked"
	TypeAnswerRecorded   Type = "answer.recorded"
	TypeSessionCompleted Type = "session.completed"
)

// Event is one lifecycle change of a session.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Type      Type      `json:"type"`
	Step      int       `json:"step"`
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	defaultBacklog   = 50
	subscriberBuffer = 16
)

// Hub buffers events per session and delivers them to subscribers.
// Each session gets its own bounded backlog so one busy session cannot evict
// another's events.
type Hub struct {
	mu       sync.RWMutex
	backlogs map[string]*backlog
	subs     map[string]map[int64]chan Event
	nextID   int64
	nextSub  int64
	maxSize  int
	now      func() time.Time
}

type backlog struct {
	events   *list.List
	lastSeen time.Time
}

// NewHub creates a hub keeping at most size events per session.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = defaultBacklog
	}
	return &Hub{
		backlogs: make(map[string]*backlog),
		subs:     make(map[string]map[int64]chan Event),
		maxSize:  size,
		now:      time.Now,
	}
}

// Publish assigns the event an id, stores it, and delivers it to the
// session's subscribers. Slow subscribers miss events rather than block.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	e.ID = h.nextID
	now := h.now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now.UTC()
	}

	b, ok := h.backlogs[e.SessionID]
	if !ok {
		b = &backlog{events: list.New()}
		h.backlogs[e.SessionID] = b
	}
	b.lastSeen = now
	b.events.PushBack(e)
	for b.events.Len() > h.maxSize {
		b.events.Remove(b.events.Front())
	}

	for _, ch := range h.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Since returns the buffered events of a session with ids above afterID.
func (h *Hub) Since(sessionID string, afterID int64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.since(sessionID, afterID)
}

func (h *Hub) since(sessionID string, afterID int64) []Event {
	b, ok := h.backlogs[sessionID]
	if !ok {
		return nil
	}
	var out []Event
	for el := b.events.Front(); el != nil; el = el.Next() {
		if e := el.Value.(Event); e.ID > afterID {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a live feed for a session. It returns the backlog after
// afterID, a channel of new events, and a cancel func that must be called.
func (h *Hub) Subscribe(sessionID string, afterID int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	missed := h.since(sessionID, afterID)
	h.nextSub++
	id := h.nextSub
	ch := make(chan Event, subscriberBuffer)
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int64]chan Event)
	}
	h.subs[sessionID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
	return missed, ch, cancel
}

// Evict drops the backlogs of sessions with no event since cutoff and no
// live subscribers. It returns how many backlogs were released.
func (h *Hub) Evict(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id, b := range h.backlogs {
		if b.lastSeen.Before(cutoff) && len(h.subs[id]) == 0 {
			delete(h.backlogs, id)
			n++
		}
	}
	return n
}

// Sessions reports how many sessions currently hold a backlog.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.backlogs)
}

// Subscribers reports the number of live subscribers for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
