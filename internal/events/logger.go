// Package events provides helper functions for recording LiteMacro events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ourisland/litemacro/internal/models"
)

// Repository is the minimal interface needed to write events.
type Repository interface {
	Create(ctx context.Context, event *models.Event) error
}

func record(ctx context.Context, repo Repository, eventType models.EventType, entityType models.EntityType, entityID string, payload any, metadata map[string]string) error {
	if repo == nil {
		return fmt.Errorf("event repository is required")
	}
	if entityID == "" {
		return fmt.Errorf("%s id is required", entityType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return repo.Create(ctx, &models.Event{
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    data,
		Metadata:   metadata,
	})
}

// LogMacroInvoked records that an invoker started a macro.
func LogMacroInvoked(ctx context.Context, repo Repository, macro string, generation uint64, payload models.MacroInvokedPayload) error {
	return record(ctx, repo, models.EventTypeMacroInvoked, models.EntityTypeMacro, macro, payload,
		map[string]string{"generation": strconv.FormatUint(generation, 10)})
}

// LogMacroDenied records a permission denial.
func LogMacroDenied(ctx context.Context, repo Repository, macro, invoker, permission string) error {
	return record(ctx, repo, models.EventTypeMacroDenied, models.EntityTypeMacro, macro,
		models.MacroDeniedPayload{Invoker: invoker, Permission: permission}, nil)
}

// LogStepFailed records a failed step. step is 1-based.
func LogStepFailed(ctx context.Context, repo Repository, macro, invocationID string, step int, kind string, stepErr error) error {
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	return record(ctx, repo, models.EventTypeMacroStepFailed, models.EntityTypeMacro, macro,
		models.StepFailedPayload{InvocationID: invocationID, Step: step, Kind: kind, Error: msg}, nil)
}

// LogMacroCompleted records the end of an invocation.
func LogMacroCompleted(ctx context.Context, repo Repository, macro, invocationID string, failed int) error {
	return record(ctx, repo, models.EventTypeMacroCompleted, models.EntityTypeMacro, macro,
		map[string]any{"invocation_id": invocationID, "failed_steps": failed}, nil)
}

// LogTransferFailed records a transfer that did not complete.
func LogTransferFailed(ctx context.Context, repo Repository, payload models.TransferFailedPayload) error {
	return record(ctx, repo, models.EventTypeMacroTransferFailed, models.EntityTypeSession, payload.Invoker, payload, nil)
}

// LogRegistryReloaded records a generation swap.
func LogRegistryReloaded(ctx context.Context, repo Repository, payload models.RegistryReloadedPayload) error {
	return record(ctx, repo, models.EventTypeRegistryReloaded, models.EntityTypeRegistry,
		strconv.FormatUint(payload.Generation, 10), payload, nil)
}

// LogRegistryReloadFailed records a reload that left the registry untouched.
func LogRegistryReloadFailed(ctx context.Context, repo Repository, source string, reloadErr error) error {
	return record(ctx, repo, models.EventTypeRegistryReloadFailed, models.EntityTypeRegistry, "registry",
		models.ErrorPayload{Error: reloadErr.Error(), Context: source}, nil)
}

// LogSessionConnected records a session joining.
func LogSessionConnected(ctx context.Context, repo Repository, sessionID string, payload models.SessionPayload) error {
	return record(ctx, repo, models.EventTypeSessionConnected, models.EntityTypeSession, sessionID, payload, nil)
}

// LogSessionDisconnected records a session leaving.
func LogSessionDisconnected(ctx context.Context, repo Repository, sessionID string, payload models.SessionPayload) error {
	return record(ctx, repo, models.EventTypeSessionDisconnected, models.EntityTypeSession, sessionID, payload, nil)
}

// LogSessionMoved records a session switching backends.
func LogSessionMoved(ctx context.Context, repo Repository, sessionID string, payload models.SessionPayload) error {
	return record(ctx, repo, models.EventTypeSessionMoved, models.EntityTypeSession, sessionID, payload, nil)
}
