package host

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSessionName indicates a missing or malformed session name.
	ErrInvalidSessionName = errors.New("session name is required")
	// ErrSessionNotFound indicates no session matched.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates the name is already connected.
	ErrSessionExists = errors.New("session already connected")
)

// Sessions tracks connected sessions by id and by name.
type Sessions struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byName map[string]string

	permissions map[string][]string
	outboxSize  int
	historySize int
}

// NewSessions initializes an empty session table. permissions maps session
// names (case-insensitive) to granted permission nodes.
func NewSessions(permissions map[string][]string) *Sessions {
	perms := make(map[string][]string, len(permissions))
	for name, nodes := range permissions {
		perms[strings.ToLower(name)] = append([]string(nil), nodes...)
	}
	return &Sessions{
		byID:        make(map[string]*Session),
		byName:      make(map[string]string),
		permissions: perms,
		outboxSize:  DefaultOutboxSize,
		historySize: DefaultHistorySize,
	}
}

// Connect registers a new session on backend.
func (m *Sessions) Connect(name, backend string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return nil, ErrInvalidSessionName
	}
	key := strings.ToLower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[key]; ok {
		return nil, ErrSessionExists
	}

	session := newSession(uuid.New().String(), name, backend, m.permissions[key], m.outboxSize, m.historySize)
	m.byID[session.id] = session
	m.byName[key] = session.id
	return session, nil
}

// Disconnect removes the session and closes its message stream.
func (m *Sessions) Disconnect(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(m.byID, id)
	delete(m.byName, strings.ToLower(session.name))
	session.close()
	return session, nil
}

// Get returns the session with the given id.
func (m *Sessions) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.byID[id]
	return session, ok
}

// ByName returns the session with the given name, case-insensitively.
func (m *Sessions) ByName(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return m.byID[id], true
}

// List returns connected sessions sorted by name.
func (m *Sessions) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.byID))
	for _, session := range m.byID {
		out = append(out, session)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len is the number of connected sessions.
func (m *Sessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// DisconnectAll closes every session.
func (m *Sessions) DisconnectAll() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.byID))
	for id, session := range m.byID {
		session.close()
		out = append(out, session)
		delete(m.byID, id)
	}
	m.byName = make(map[string]string)
	return out
}
