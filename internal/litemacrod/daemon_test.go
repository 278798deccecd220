package litemacrod

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/db"
	"github.com/ourisland/litemacro/internal/models"
	"github.com/rs/zerolog"
)

func TestNewDefaultsHostname(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.Host = ""
	cfg.Daemon.Port = 0
	daemon, err := New(cfg, zerolog.Nop(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer daemon.closeStores()

	want := fmt.Sprintf("127.0.0.1:%d", DefaultPort)
	if got := daemon.bindAddr(); got != want {
		t.Fatalf("bindAddr() = %q, want %q", got, want)
	}
}

func TestRunReturnsOnCanceledContext(t *testing.T) {
	cfg := testConfig(t)
	// Use a high ephemeral port to avoid conflicts with other tests
	daemon, err := New(cfg, zerolog.Nop(), Options{Port: 50199, DisableHTTP: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- daemon.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestSessionEventsAreRecorded(t *testing.T) {
	daemon, client := startDaemon(t, testConfig(t))

	conn, err := client.Connect(context.Background(), "Steve")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Close()

	connected := models.EventTypeSessionConnected
	disconnected := models.EventTypeSessionDisconnected
	deadline := time.Now().Add(3 * time.Second)
	for {
		a, _ := daemon.eventRepo.Query(context.Background(), db.EventQuery{Type: &connected})
		b, _ := daemon.eventRepo.Query(context.Background(), db.EventQuery{Type: &disconnected})
		if a != nil && b != nil && len(a.Events) == 1 && len(b.Events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session events were not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPruneDropsOldHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Retention = time.Hour
	daemon, err := New(cfg, zerolog.Nop(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer daemon.closeStores()

	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	if err := daemon.eventRepo.Create(ctx, &models.Event{
		Timestamp:  old,
		Type:       models.EventTypeWarning,
		EntityType: models.EntityTypeSystem,
		EntityID:   "test",
	}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := daemon.invocations.Create(ctx, &models.InvocationRecord{Macro: "hello", Invoker: "Steve", StartedAt: old}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	daemon.Prune(ctx)

	if n, _ := daemon.eventRepo.Count(ctx, models.EventTypeWarning); n != 0 {
		t.Errorf("events after prune = %d, want 0", n)
	}
	records, err := daemon.invocations.Query(ctx, models.InvocationQuery{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("invocations after prune = %d, want 0", len(records))
	}
}
