package host

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/platform"
	"github.com/ourisland/litemacro/internal/scheduler"
	"github.com/stretchr/testify/require"
)

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	h := New(cfg)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func drain(s *Session) []string {
	var out []string
	for {
		select {
		case msg, ok := <-s.Messages():
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestScheduleAfterRunsCallback(t *testing.T) {
	h := newTestHost(t, Config{})

	done := make(chan time.Duration, 1)
	started := time.Now()
	h.ScheduleAfter(30*time.Millisecond, func() { done <- time.Since(started) })

	select {
	case elapsed := <-done:
		require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not run")
	}
}

func TestTryScheduleReportsRefusal(t *testing.T) {
	sched := scheduler.New(scheduler.Config{MaxPending: 1})
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop() })
	h := newTestHost(t, Config{Scheduler: sched})

	require.NoError(t, h.TrySchedule(time.Hour, func() {}))
	require.ErrorIs(t, h.TrySchedule(time.Hour, func() {}), scheduler.ErrTooManyPending)

	require.NoError(t, sched.Stop())
	require.ErrorIs(t, h.TrySchedule(time.Millisecond, func() {}), scheduler.ErrSchedulerNotRunning)
}

func TestSessionsConnectAndLookup(t *testing.T) {
	h := newTestHost(t, Config{
		Backends:    map[string]string{"Lobby": "", "survival": ""},
		Permissions: map[string][]string{"steve": {"litemarco.hello"}, "Admin": {"*"}},
	})

	steve, err := h.Connect("Steve")
	require.NoError(t, err)
	require.NotEmpty(t, steve.ID())
	require.Equal(t, "lobby", steve.CurrentBackend())
	require.True(t, steve.HasPermission("litemarco.hello"))
	require.False(t, steve.HasPermission("litemacro.admin"))

	admin, err := h.Connect("admin")
	require.NoError(t, err)
	require.True(t, admin.HasPermission("anything"))

	_, err = h.Connect("STEVE")
	require.ErrorIs(t, err, ErrSessionExists)
	_, err = h.Connect("two words")
	require.ErrorIs(t, err, ErrInvalidSessionName)

	found, ok := h.Sessions().ByName("steve")
	require.True(t, ok)
	require.Same(t, steve, found)

	require.NoError(t, h.Disconnect(steve.ID()))
	_, open := <-steve.Messages()
	require.False(t, open, "outbox should be closed")
	require.ErrorIs(t, h.Disconnect(steve.ID()), ErrSessionNotFound)
}

func TestSessionOutboxOverflowKeepsHistory(t *testing.T) {
	sessions := NewSessions(nil)
	sessions.outboxSize = 2
	sessions.historySize = 3

	s, err := sessions.Connect("alex", "")
	require.NoError(t, err)
	for _, msg := range []string{"a", "b", "c", "d"} {
		s.SendMessage(msg)
	}

	require.Equal(t, []string{"a", "b"}, drain(s))
	require.Equal(t, 2, s.Dropped())
	require.Equal(t, []string{"b", "c", "d"}, s.History())
}

func TestCommandsExecute(t *testing.T) {
	var console bytes.Buffer
	h := newTestHost(t, Config{ConsoleOutput: &console})

	steve, err := h.Connect("Steve")
	require.NoError(t, err)

	require.NoError(t, h.Execute(h.Console(), "/say hello   world"))
	require.Equal(t, []string{"[Server] hello world"}, drain(steve))
	require.Contains(t, console.String(), "[Server] hello world")

	err = h.Execute(steve, "nope arg")
	require.ErrorIs(t, err, ErrUnknownCommand)
	require.Equal(t, []string{"[LiteMacro] Unknown command: nope"}, drain(steve))

	require.NoError(t, h.Execute(steve, "   "))
}

func TestCommandsPermissionAndFallback(t *testing.T) {
	h := newTestHost(t, Config{})
	steve, err := h.Connect("Steve")
	require.NoError(t, err)

	var got []string
	require.NoError(t, h.Commands().Register(Command{
		Name:       "secret",
		Permission: "litemacro.admin",
		Handler:    func(platform.Invoker, []string) error { got = append(got, "secret"); return nil },
	}))
	require.Error(t, h.Commands().Register(Command{Name: "SECRET", Handler: func(platform.Invoker, []string) error { return nil }}))

	require.ErrorIs(t, h.Execute(steve, "secret"), ErrPermissionDenied)
	require.Equal(t, []string{"[LiteMacro] You need permission litemacro.admin to do that."}, drain(steve))
	require.NoError(t, h.Execute(h.Console(), "secret"))

	h.Commands().SetFallback(func(name string) (Handler, bool) {
		if name != "hello" {
			return nil, false
		}
		return func(_ platform.Invoker, args []string) error {
			got = append(got, "hello:"+strings.Join(args, ","))
			return nil
		}, true
	})
	require.NoError(t, h.Execute(steve, "/HELLO a b"))
	require.Equal(t, []string{"secret", "hello:a,b"}, got)

	// Registered commands shadow the fallback.
	require.Contains(t, h.Commands().Names(), "say")
}

func TestCommandPanicIsReported(t *testing.T) {
	h := newTestHost(t, Config{})
	require.NoError(t, h.Commands().Register(Command{
		Name:    "boom",
		Handler: func(platform.Invoker, []string) error { panic("kaboom") },
	}))
	err := h.Execute(h.Console(), "boom")
	require.Error(t, err)
	require.Contains(t, err.Error(), "kaboom")
}

func TestDispatchCommandIsAsync(t *testing.T) {
	h := newTestHost(t, Config{})

	release := make(chan struct{})
	var mu sync.Mutex
	ran := false
	require.NoError(t, h.Commands().Register(Command{
		Name: "wait",
		Handler: func(platform.Invoker, []string) error {
			<-release
			mu.Lock()
			ran = true
			mu.Unlock()
			return nil
		},
	}))

	h.DispatchCommand(h.Console(), "wait")
	close(release)
	h.WaitDispatches()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, ran)
}

func TestRequestMove(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	var moves []string
	var mu sync.Mutex
	h := newTestHost(t, Config{
		Backends:       map[string]string{"lobby": "", "survival": ln.Addr().String(), "dead": "127.0.0.1:1"},
		DefaultBackend: "lobby",
		MoveTimeout:    time.Second,
		Observer: Observer{OnMove: func(s *Session, from, to string) {
			mu.Lock()
			moves = append(moves, from+"->"+to)
			mu.Unlock()
		}},
	})
	steve, err := h.Connect("Steve")
	require.NoError(t, err)

	survival, ok := h.ResolveBackend("Survival")
	require.True(t, ok)

	result := <-h.RequestMove(steve, survival)
	require.True(t, result.Success(), "result = %+v", result)
	require.Equal(t, "survival", steve.CurrentBackend())

	result = <-h.RequestMove(steve, survival)
	require.Equal(t, platform.MoveAlreadyConnected, result.Status)

	dead, _ := h.ResolveBackend("dead")
	result = <-h.RequestMove(steve, dead)
	require.Equal(t, platform.MoveConnectionFailed, result.Status)
	require.Equal(t, "survival", steve.CurrentBackend())

	mu.Lock()
	require.Equal(t, []string{"lobby->survival"}, moves)
	mu.Unlock()
}

func TestRequestMoveTimeoutAndForeignSession(t *testing.T) {
	h := newTestHost(t, Config{
		Backends:       map[string]string{"lobby": "", "slow": "10.255.255.1:25565"},
		DefaultBackend: "lobby",
		MoveTimeout:    20 * time.Millisecond,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	steve, err := h.Connect("Steve")
	require.NoError(t, err)

	slow, _ := h.ResolveBackend("slow")
	result := <-h.RequestMove(steve, slow)
	require.Equal(t, platform.MoveConnectionTimeout, result.Status)

	foreign := &fakeSession{}
	result = <-h.RequestMove(foreign, slow)
	require.True(t, errors.Is(result.Err, ErrSessionNotManaged))
}

func TestServerCommand(t *testing.T) {
	h := newTestHost(t, Config{Backends: map[string]string{"lobby": "", "hub": ""}, DefaultBackend: "lobby"})
	steve, err := h.Connect("Steve")
	require.NoError(t, err)

	require.NoError(t, h.Execute(steve, "server"))
	require.NoError(t, h.Execute(steve, "server hub"))
	require.NoError(t, h.Execute(steve, "server nowhere"))
	require.NoError(t, h.Execute(h.Console(), "server hub"))

	require.Equal(t, []string{
		"[LiteMacro] You are connected to lobby.",
		"[LiteMacro] Transfer result: SUCCESS",
		"[LiteMacro] Server not found: nowhere",
	}, drain(steve))
}

type fakeSession struct{}

func (fakeSession) Name() string              { return "ghost" }
func (fakeSession) ID() string                { return "" }
func (fakeSession) SendMessage(string)        {}
func (fakeSession) HasPermission(string) bool { return false }
func (fakeSession) CurrentBackend() string    { return "" }

func TestMessageLogKeepsNewest(t *testing.T) {
	l := newMessageLog(3)
	require.Empty(t, l.last(0))

	for _, m := range []string{"a", "b"} {
		l.add(m)
	}
	require.Equal(t, []string{"a", "b"}, l.last(0))

	for _, m := range []string{"c", "d", "e"} {
		l.add(m)
	}
	require.Equal(t, []string{"c", "d", "e"}, l.last(0))
	require.Equal(t, []string{"d", "e"}, l.last(2))
	require.Equal(t, []string{"c", "d", "e"}, l.last(10))
}
