package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ourisland/litemacro/internal/models"
)

func TestWriteStats(t *testing.T) {
	plainOutput(t)

	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := StatsReport{
		Total: &models.InvocationSummary{Invocations: 5, Steps: 14, FailedSteps: 1, Invokers: 2},
		Macros: []*models.InvocationSummary{
			{Macro: "hello", Invocations: 4, Steps: 12, Invokers: 2, LastRun: &last},
			{Macro: "goto", Invocations: 1, Steps: 2, FailedSteps: 1, Invokers: 1},
		},
		Events: map[models.EventType]int64{
			models.EventTypeMacroDenied:      2,
			models.EventTypeRegistryReloaded: 1,
			models.EventTypeMacroInvoked:     5,
		},
	}

	var buf bytes.Buffer
	if err := writeStats(&buf, report); err != nil {
		t.Fatalf("writeStats: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"MACRO", "hello", "goto", "total", "2 denied, 1 reloads"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "transfer failures") {
		t.Errorf("zero counts should be omitted:\n%s", out)
	}
}

func TestWriteStatsEmpty(t *testing.T) {
	plainOutput(t)

	var buf bytes.Buffer
	if err := writeStats(&buf, StatsReport{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no invocations recorded") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteInvocations(t *testing.T) {
	plainOutput(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	records := []*models.InvocationRecord{
		{Macro: "hello", Alias: "hi", Invoker: "Steve", Args: []string{"a", "b"}, Steps: 4, StartedAt: started, FinishedAt: &finished},
		{Macro: "goto", Invoker: "Alex", Steps: 2, FailedSteps: 1, StartedAt: started},
	}

	var buf bytes.Buffer
	if err := writeInvocations(&buf, records); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"hello (hi)", "a b", "ok", "running", "1/2 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
