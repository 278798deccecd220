package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ourisland/litemacro/internal/models"
)

type fakeRepo struct {
	last *models.Event
}

func (r *fakeRepo) Create(ctx context.Context, event *models.Event) error {
	r.last = event
	return nil
}

func TestLogMacroInvoked(t *testing.T) {
	repo := &fakeRepo{}

	payload := models.MacroInvokedPayload{InvocationID: "inv-1", Invoker: "Steve", Steps: 4}
	if err := LogMacroInvoked(context.Background(), repo, "hello", 3, payload); err != nil {
		t.Fatalf("LogMacroInvoked failed: %v", err)
	}

	if repo.last == nil {
		t.Fatal("expected event to be created")
	}
	if repo.last.Type != models.EventTypeMacroInvoked {
		t.Fatalf("unexpected event type: %q", repo.last.Type)
	}
	if repo.last.EntityID != "hello" {
		t.Fatalf("unexpected entity id: %q", repo.last.EntityID)
	}
	if repo.last.Metadata["generation"] != "3" {
		t.Fatalf("unexpected metadata: %v", repo.last.Metadata)
	}
}

func TestLogStepFailed(t *testing.T) {
	repo := &fakeRepo{}

	if err := LogStepFailed(context.Background(), repo, "hello", "inv-1", 2, "command", errors.New("boom")); err != nil {
		t.Fatalf("LogStepFailed failed: %v", err)
	}

	var payload models.StepFailedPayload
	if err := json.Unmarshal(repo.last.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Step != 2 || payload.Kind != "command" || payload.Error != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestLogRegistryReloaded(t *testing.T) {
	repo := &fakeRepo{}

	err := LogRegistryReloaded(context.Background(), repo, models.RegistryReloadedPayload{Generation: 5, Macros: 2})
	if err != nil {
		t.Fatalf("LogRegistryReloaded failed: %v", err)
	}
	if repo.last.EntityType != models.EntityTypeRegistry || repo.last.EntityID != "5" {
		t.Fatalf("unexpected event: %+v", repo.last)
	}
}

func TestLogRequiresRepository(t *testing.T) {
	if err := LogMacroDenied(context.Background(), nil, "hello", "Steve", "x"); err == nil {
		t.Fatal("expected error for nil repository")
	}
	if err := LogSessionConnected(context.Background(), &fakeRepo{}, "", models.SessionPayload{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
