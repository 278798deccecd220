package cli

import (
	"fmt"
	"strings"

	"github.com/ourisland/litemacro/internal/models"
)

func formatEventType(eventType models.EventType) string {
	label, color := statusLabelForEvent(eventType)
	return colorize(formatStatusLabel(label, string(eventType)), color)
}

func statusLabelForEvent(eventType models.EventType) (string, string) {
	switch eventType {
	case models.EventTypeMacroCompleted, models.EventTypeRegistryReloaded:
		return "OK", colorGreen
	case models.EventTypeMacroInvoked, models.EventTypeSessionMoved:
		return "RUN", colorCyan
	case models.EventTypeSessionConnected, models.EventTypeSessionDisconnected:
		return "INFO", colorDim
	case models.EventTypeMacroDenied, models.EventTypeWarning:
		return "WARN", colorYellow
	case models.EventTypeMacroStepFailed, models.EventTypeMacroTransferFailed:
		return "FAIL", colorMagenta
	case models.EventTypeRegistryReloadFailed, models.EventTypeError:
		return "ERR", colorRed
	default:
		return "INFO", ""
	}
}

// formatReloadStatus summarizes a reload: OK, or WARN when some macros
// were excluded.
func formatReloadStatus(generation uint64, macros, excluded int) string {
	if excluded > 0 {
		return colorize(fmt.Sprintf("WARN generation %d: %d macros, %d excluded", generation, macros, excluded), colorYellow)
	}
	return colorize(fmt.Sprintf("OK generation %d: %d macros", generation, macros), colorGreen)
}

func formatStatusLabel(label, status string) string {
	normalized := strings.TrimSpace(status)
	if normalized != "" {
		normalized = strings.NewReplacer("_", " ", ".", " ").Replace(normalized)
	}
	if normalized == "" {
		return label
	}
	return fmt.Sprintf("%s %s", label, normalized)
}
