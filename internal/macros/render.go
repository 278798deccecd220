package macros

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ourisland/litemacro/internal/models"
)

// DescribeStep renders one step as a short, human readable line, e.g.
// `command[console] "say Welcome {player}"` or `delay 500ms`.
func DescribeStep(step models.ActionSpec) string {
	kind := strings.ToLower(strings.TrimSpace(step.Type))
	opt := func(key string) string {
		if v, ok := step.Options[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	switch kind {
	case "command":
		runAs := strings.ToLower(opt("run_as"))
		if runAs != "player" {
			runAs = "console"
		}
		return fmt.Sprintf("command[%s] %s", runAs, strconv.Quote(opt("cmd")))
	case "message":
		return "message " + strconv.Quote(opt("text"))
	case "delay":
		millis := opt("millis")
		if millis == "" {
			millis = "0"
		}
		return "delay " + millis + "ms"
	case "transfer":
		line := "transfer -> " + opt("target")
		if msg := opt("message"); msg != "" {
			line += " " + strconv.Quote(msg)
		}
		return line
	}

	keys := make([]string, 0, len(step.Options))
	for k := range step.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, step.Options[k]))
	}
	if kind == "" {
		kind = "<missing type>"
	}
	return strings.TrimSpace(kind + " " + strings.Join(parts, " "))
}

// Describe renders a macro's steps, one per line, numbered from 1.
func Describe(spec models.MacroSpec) []string {
	lines := make([]string, 0, len(spec.Actions))
	for i, step := range spec.Actions {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, DescribeStep(step)))
	}
	return lines
}
