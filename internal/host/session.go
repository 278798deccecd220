package host

import (
	"strings"
	"sync"
	"time"
)

// Outbox and history sizes for new sessions.
const (
	DefaultOutboxSize  = 256
	DefaultHistorySize = 100
)

// Session is a connected client. It implements platform.Session.
type Session struct {
	id          string
	name        string
	connectedAt time.Time
	perms       map[string]bool
	allPerms    bool

	mu      sync.RWMutex
	backend string
	closed  bool
	outbox  chan string
	dropped int

	history *messageLog
}

func newSession(id, name, backend string, perms []string, outbox, history int) *Session {
	if outbox <= 0 {
		outbox = DefaultOutboxSize
	}
	s := &Session{
		id:          id,
		name:        name,
		connectedAt: time.Now().UTC(),
		perms:       make(map[string]bool, len(perms)),
		backend:     backend,
		outbox:      make(chan string, outbox),
		history:     newMessageLog(history),
	}
	for _, node := range perms {
		node = strings.TrimSpace(node)
		if node == "*" {
			s.allPerms = true
			continue
		}
		if node != "" {
			s.perms[node] = true
		}
	}
	return s
}

func (s *Session) Name() string { return s.name }
func (s *Session) ID() string   { return s.id }

// ConnectedAt is when the session joined.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// HasPermission reports whether node was granted. "*" grants everything.
func (s *Session) HasPermission(node string) bool {
	if s.allPerms {
		return true
	}
	return s.perms[node]
}

// SendMessage queues text for the client. When the outbox is full the
// message is kept in history only.
func (s *Session) SendMessage(text string) {
	s.history.add(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.outbox <- text:
	default:
		s.dropped++
	}
}

// Messages is the stream of queued messages. It is closed on disconnect.
func (s *Session) Messages() <-chan string { return s.outbox }

// History returns the most recent messages, oldest first.
func (s *Session) History() []string { return s.history.last(0) }

// Dropped counts messages that did not fit in the outbox.
func (s *Session) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// CurrentBackend is the backend the session is connected to.
func (s *Session) CurrentBackend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *Session) setBackend(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.backend
	s.backend = name
	return prev
}

// Connected reports whether the session is still registered.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbox)
}
