// Package platformtest provides an in-memory Platform with a manual clock
// for tests.
package platformtest

import (
	"sort"
	"sync"
	"time"

	"github.com/ourisland/litemacro/internal/platform"
)

// Invoker records every message it receives.
type Invoker struct {
	NameValue   string
	IDValue     string
	Permissions map[string]bool
	AllPerms    bool

	mu       sync.Mutex
	messages []string
}

// NewInvoker returns an invoker with the given display name and id.
func NewInvoker(name, id string) *Invoker {
	return &Invoker{NameValue: name, IDValue: id, Permissions: map[string]bool{}}
}

func (i *Invoker) Name() string { return i.NameValue }
func (i *Invoker) ID() string   { return i.IDValue }

func (i *Invoker) SendMessage(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, text)
}

func (i *Invoker) HasPermission(node string) bool {
	return i.AllPerms || i.Permissions[node]
}

// Messages returns a copy of the received messages.
func (i *Invoker) Messages() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, len(i.messages))
	copy(out, i.messages)
	return out
}

// Session is an Invoker that can be moved.
type Session struct {
	*Invoker
	Backend string
}

// NewSession returns a session on the given backend.
func NewSession(name, id, backend string) *Session {
	return &Session{Invoker: NewInvoker(name, id), Backend: backend}
}

func (s *Session) CurrentBackend() string { return s.Backend }

// Backend is a static backend.
type Backend struct {
	NameValue    string
	AddressValue string
}

func (b Backend) Name() string    { return b.NameValue }
func (b Backend) Address() string { return b.AddressValue }

// Dispatch is one recorded DispatchCommand call.
type Dispatch struct {
	Source  platform.Invoker
	Command string
	At      time.Duration
}

// Move is one recorded RequestMove call.
type Move struct {
	Session platform.Session
	Backend platform.Backend
}

type pending struct {
	at  time.Duration
	seq int
	fn  func()
}

// Platform is a fake host. Scheduled callbacks only run when Advance is
// called, so tests observe delays exactly.
type Platform struct {
	ConsoleInvoker *Invoker
	Backends       map[string]platform.Backend

	// MoveResult is delivered for every RequestMove call.
	MoveResult platform.MoveResult

	mu         sync.Mutex
	now        time.Duration
	seq        int
	queue      []pending
	delays     []time.Duration
	dispatches []Dispatch
	moves      []Move
}

// New returns a fake platform with a console invoker.
func New() *Platform {
	console := NewInvoker("CONSOLE", "")
	console.AllPerms = true
	return &Platform{
		ConsoleInvoker: console,
		Backends:       map[string]platform.Backend{},
		MoveResult:     platform.MoveResult{Status: platform.MoveSuccess},
	}
}

// AddBackend registers a backend.
func (p *Platform) AddBackend(name, address string) {
	p.Backends[name] = Backend{NameValue: name, AddressValue: address}
}

func (p *Platform) ScheduleAfter(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.delays = append(p.delays, d)
	p.queue = append(p.queue, pending{at: p.now + d, seq: p.seq, fn: fn})
}

func (p *Platform) DispatchCommand(source platform.Invoker, command string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatches = append(p.dispatches, Dispatch{Source: source, Command: command, At: p.now})
}

func (p *Platform) ResolveBackend(name string) (platform.Backend, bool) {
	b, ok := p.Backends[name]
	return b, ok
}

func (p *Platform) RequestMove(session platform.Session, backend platform.Backend) <-chan platform.MoveResult {
	p.mu.Lock()
	p.moves = append(p.moves, Move{Session: session, Backend: backend})
	result := p.MoveResult
	p.mu.Unlock()

	ch := make(chan platform.MoveResult, 1)
	ch <- result
	close(ch)
	return ch
}

func (p *Platform) Console() platform.Invoker { return p.ConsoleInvoker }

// Advance moves the clock forward by d and runs every callback that has
// come due, including callbacks scheduled by callbacks within the window.
func (p *Platform) Advance(d time.Duration) {
	p.mu.Lock()
	target := p.now + d
	p.mu.Unlock()

	for {
		p.mu.Lock()
		sort.Slice(p.queue, func(i, j int) bool {
			if p.queue[i].at == p.queue[j].at {
				return p.queue[i].seq < p.queue[j].seq
			}
			return p.queue[i].at < p.queue[j].at
		})
		if len(p.queue) == 0 || p.queue[0].at > target {
			p.now = target
			p.mu.Unlock()
			return
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.now = next.at
		p.mu.Unlock()

		next.fn()
	}
}

// Now is the fake clock's elapsed time.
func (p *Platform) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Pending is the number of callbacks not yet run.
func (p *Platform) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Delays returns every delay passed to ScheduleAfter.
func (p *Platform) Delays() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Duration, len(p.delays))
	copy(out, p.delays)
	return out
}

// Dispatches returns every DispatchCommand call.
func (p *Platform) Dispatches() []Dispatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Dispatch, len(p.dispatches))
	copy(out, p.dispatches)
	return out
}

// Moves returns every RequestMove call.
func (p *Platform) Moves() []Move {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Move, len(p.moves))
	copy(out, p.moves)
	return out
}
