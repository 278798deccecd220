package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/host"
	"github.com/ourisland/litemacro/internal/metrics"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/ourisland/litemacro/internal/registry"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakePublisher struct {
	mu          sync.Mutex
	generations []uint64
}

func (p *fakePublisher) Publish(_ context.Context, generation uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generations = append(p.generations, generation)
	return nil
}

func (p *fakePublisher) published() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.generations...)
}

type fixture struct {
	svc       *Service
	host      *host.Host
	db        *db.DB
	console   *syncBuffer
	publisher *fakePublisher
	path      string
}

func newFixture(t *testing.T, macroFile string) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.MacrosFile = filepath.Join(dir, config.DefaultMacrosFile)
	if macroFile != "" {
		require.NoError(t, os.WriteFile(cfg.MacrosFile, []byte(macroFile), 0o644))
	}

	database, err := db.OpenInMemory()
	require.NoError(t, err)
	_, err = database.MigrateUp(context.Background())
	require.NoError(t, err)

	console := &syncBuffer{}
	h := host.New(host.Config{
		Backends:       map[string]string{"lobby": "", "survival": ""},
		DefaultBackend: "lobby",
		Permissions: map[string][]string{
			"steve": {"litemarco.hello"},
			"admin": {AdminPermission},
		},
		ConsoleOutput: console,
	})
	require.NoError(t, h.Start(context.Background()))

	publisher := &fakePublisher{}
	svc, err := New(Options{
		Config:      cfg,
		Host:        h,
		Events:      db.NewEventRepository(database),
		Invocations: db.NewInvocationRepository(database),
		Metrics:     metrics.New(),
		Publisher:   publisher,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = h.Close()
		svc.Close()
		database.Close()
	})

	return &fixture{svc: svc, host: h, db: database, console: console, publisher: publisher, path: cfg.MacrosFile}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasMessage(s *host.Session, text string) bool {
	for _, msg := range s.History() {
		if msg == text {
			return true
		}
	}
	return false
}

func TestLoadWritesDefaultFile(t *testing.T) {
	f := newFixture(t, "")

	result, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, uint64(1), result.Generation)
	require.Equal(t, 3, result.Macros)
	require.Empty(t, result.Excluded)
	require.Empty(t, f.publisher.published(), "startup load is not published")

	macro, err := f.svc.Registry().Resolve("hi")
	require.NoError(t, err)
	require.Equal(t, "hello", macro.Name())

	catalog := f.svc.Catalog()
	require.Len(t, catalog, 3)
	require.Equal(t, "hello", catalog[0].Name)
	require.Equal(t, []string{"hi"}, catalog[0].Aliases)
	require.Len(t, catalog[0].Steps, 4)
	require.Equal(t, uint64(1), f.svc.Generation())

	_, err = os.Stat(f.path)
	require.NoError(t, err)
}

func TestHelloScenario(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	steve, err := f.host.Connect("Steve")
	require.NoError(t, err)

	started := time.Now()
	require.NoError(t, f.host.Execute(steve, "/hi"))

	// The first step runs synchronously with the command.
	require.Equal(t, "Hello, Steve!", steve.History()[0])

	waitFor(t, "welcome broadcast", func() bool { return hasMessage(steve, "[Server] Welcome Steve") })
	waitFor(t, "invocation to finish", func() bool { return f.svc.Completed() == 1 })
	require.GreaterOrEqual(t, time.Since(started), 500*time.Millisecond)

	// "spawn" runs as Steve and is not a command on this host.
	waitFor(t, "spawn dispatch", func() bool { return hasMessage(steve, "[LiteMacro] Unknown command: spawn") })
	require.Zero(t, f.svc.Active())

	f.svc.Flush()
	macro := "hello"
	records, err := db.NewInvocationRepository(f.db).Query(context.Background(), models.InvocationQuery{Macro: &macro})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "hi", records[0].Alias)
	require.Equal(t, "Steve", records[0].Invoker)
	require.Equal(t, steve.ID(), records[0].InvokerID)
	require.Equal(t, 4, records[0].Steps)
	require.NotNil(t, records[0].FinishedAt)

	repo := db.NewEventRepository(f.db)
	invoked, err := repo.Count(context.Background(), models.EventTypeMacroInvoked)
	require.NoError(t, err)
	require.Equal(t, int64(1), invoked)
	completed, err := repo.Count(context.Background(), models.EventTypeMacroCompleted)
	require.NoError(t, err)
	require.Equal(t, int64(1), completed)
}

func TestRefusedContinuationReleasesInvocation(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	steve, err := f.host.Connect("Steve")
	require.NoError(t, err)

	// A stopped scheduler refuses the 500ms continuation.
	require.NoError(t, f.host.Scheduler().Stop())

	seq, err := f.svc.Invoke(steve, "hello", nil)
	require.NoError(t, err)
	require.Error(t, seq.Abandoned())

	state, _ := seq.State()
	require.Equal(t, "done", state.String())
	require.Zero(t, f.svc.Active())
	require.Equal(t, int64(1), f.svc.Completed())
	require.Equal(t, int64(1), f.svc.Abandoned())
	require.Equal(t, []string{"Hello, Steve!"}, steve.History())
}

func TestMacroPermissionDenied(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	alex, err := f.host.Connect("Alex")
	require.NoError(t, err)

	_, err = f.svc.Invoke(alex, "hello", nil)
	require.ErrorIs(t, err, ErrMacroDenied)
	require.Equal(t, []string{"[LiteMacro] You do not have permission to run this macro."}, alex.History())

	// goto has no permission and is open to everyone.
	_, err = f.svc.Invoke(alex, "WARP", []string{"survival"})
	require.NoError(t, err)
	waitFor(t, "transfer", func() bool { return alex.CurrentBackend() == "survival" })
	require.Contains(t, alex.History(), "[LiteMacro] Sending you to survival...")
}

func TestEmptyMacroSendsNoActions(t *testing.T) {
	f := newFixture(t, "macros:\n  noop:\n    description: nothing\n")
	result, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Macros)
	require.Len(t, result.Warnings, 1)

	steve, err := f.host.Connect("Steve")
	require.NoError(t, err)

	_, err = f.svc.Invoke(steve, "noop", nil)
	require.ErrorIs(t, err, ErrNoActions)
	require.Equal(t, []string{"[LiteMacro] This macro has no actions."}, steve.History())
	require.Zero(t, f.svc.Completed())
}

func TestArgumentsAndConsoleInvoker(t *testing.T) {
	f := newFixture(t, `macros:
  echo:
    actions:
      - type: command
        options:
          cmd: "say {player} {uuid} {arg0}-{arg1} {arg2}"
`)
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.host.Execute(f.host.Console(), "echo a b"))
	f.host.WaitDispatches()
	require.Contains(t, f.console.String(), "[Server] CONSOLE - a-b {arg2}")
}

func TestReloadExcludesBadMacros(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path, []byte(`macros:
  good:
    actions:
      - type: message
        options: { text: "ok" }
  bad:
    actions:
      - type: teleport
`), 0o644))

	admin, err := f.host.Connect("admin")
	require.NoError(t, err)
	require.NoError(t, f.host.Execute(admin, "litemacro reload"))

	history := admin.History()
	require.Len(t, history, 1)
	require.True(t, strings.HasPrefix(history[0], "[LiteMacro] Configuration reloaded, 1 macro(s) skipped: "), history[0])

	current := f.svc.Registry().Current()
	require.Equal(t, uint64(2), current.ID())
	require.Equal(t, []string{"good"}, current.Names())
	_, err = f.svc.Registry().Resolve("hello")
	require.ErrorIs(t, err, registry.ErrMacroNotFound)
	require.Equal(t, []uint64{2}, f.publisher.published())
}

func TestReloadFailureKeepsCurrentGeneration(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path, []byte("macros: [\n"), 0o644))
	require.NoError(t, f.host.Execute(f.host.Console(), "litemacro reload"))
	require.Contains(t, f.console.String(), "[LiteMacro] Reload failed: ")

	current := f.svc.Registry().Current()
	require.Equal(t, uint64(1), current.ID())
	_, err = f.svc.Registry().Resolve("hello")
	require.NoError(t, err)

	f.svc.Flush()
	failed, err := db.NewEventRepository(f.db).Count(context.Background(), models.EventTypeRegistryReloadFailed)
	require.NoError(t, err)
	require.Equal(t, int64(1), failed)
}

func TestAdminCommandRequiresPermission(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	steve, err := f.host.Connect("Steve")
	require.NoError(t, err)

	require.NoError(t, f.host.Execute(steve, "litemacro reload"))
	require.NoError(t, f.host.Execute(f.host.Console(), "litemacro"))
	require.Equal(t, []string{"[LiteMacro] You need permission litemacro.admin to do that."}, steve.History())
	require.Contains(t, f.console.String(), "[LiteMacro] Usage: /litemacro reload")
	require.Equal(t, uint64(1), f.svc.Registry().Current().ID())
}

func TestInFlightInvocationSurvivesReload(t *testing.T) {
	f := newFixture(t, `macros:
  slow:
    actions:
      - type: message
        options: { text: "first" }
      - type: delay
        options: { millis: 150 }
      - type: message
        options: { text: "second" }
`)
	_, err := f.svc.Load(context.Background())
	require.NoError(t, err)

	steve, err := f.host.Connect("Steve")
	require.NoError(t, err)
	_, err = f.svc.Invoke(steve, "slow", nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.path, []byte("macros:\n  other:\n    actions:\n      - type: message\n        options: { text: x }\n"), 0o644))
	_, err = f.svc.ReloadFrom(context.Background(), "node-b")
	require.NoError(t, err)
	require.Empty(t, f.publisher.published(), "remote reloads are not re-published")

	_, err = f.svc.Registry().Resolve("slow")
	require.ErrorIs(t, err, registry.ErrMacroNotFound)

	waitFor(t, "second message", func() bool { return hasMessage(steve, "second") })
	require.Equal(t, []string{"first", "second"}, steve.History())
}

func TestLangFromMacroFile(t *testing.T) {
	f := newFixture(t, "lang: zh_CN\nmacros:\n  noop: {}\n")
	result, err := f.svc.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "zh_CN", result.Lang)
	require.Equal(t, "zh_CN", f.svc.Messages().Lang())
}
