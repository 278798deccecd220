package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ourisland/litemacro/internal/macros"
)

const testMacros = `lang: en_US
macros:
  greet:
    description: "Greet and wait"
    aliases: [g]
    actions:
      - type: message
        options:
          text: "Hi {player}, arg {arg0}"
      - type: delay
        options:
          millis: 30
      - type: message
        options:
          text: "bye {player}"
  broken:
    actions:
      - type: teleport
        options:
          to: spawn
`

func writeMacros(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), macros.FileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// plainOutput turns off JSON, color and progress for the test.
func plainOutput(t *testing.T) {
	t.Helper()
	origJSON, origJSONL, origColor, origProgress := jsonOutput, jsonlOutput, noColor, noProgress
	jsonOutput, jsonlOutput, noColor, noProgress = false, false, true, true
	t.Cleanup(func() {
		jsonOutput, jsonlOutput, noColor, noProgress = origJSON, origJSONL, origColor, origProgress
	})
}

func TestValidateFile(t *testing.T) {
	report, err := validateFile(writeMacros(t, testMacros))
	if err != nil {
		t.Fatalf("validateFile: %v", err)
	}
	if report.OK() {
		t.Fatal("expected broken to be excluded")
	}
	if len(report.Macros) != 1 || report.Macros[0] != "greet" {
		t.Errorf("Macros = %v", report.Macros)
	}
	if report.Names != 2 {
		t.Errorf("Names = %d, want greet and its alias", report.Names)
	}
	if len(report.Excluded) != 1 || !strings.Contains(report.Excluded[0], "broken") {
		t.Errorf("Excluded = %v", report.Excluded)
	}

	if _, err := validateFile(writeMacros(t, "macros: [oops]\n")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidateBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), macros.FileName)
	if err := macros.WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	report, err := validateFile(path)
	if err != nil || !report.OK() {
		t.Fatalf("default macros should compile: %+v %v", report, err)
	}
}

func TestLocalMacroRows(t *testing.T) {
	plainOutput(t)
	rows, err := localMacroRows(writeMacros(t, testMacros))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Name != "greet" || rows[0].Steps != 3 {
		t.Fatalf("rows = %+v", rows)
	}

	var buf bytes.Buffer
	if err := writeMacroRows(&buf, rows); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"NAME", "ALIASES", "greet", "g", "Greet and wait", "broken"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestShowCommand(t *testing.T) {
	plainOutput(t)
	path := writeMacros(t, testMacros)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"show", "--file", path, "G"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		macrosFile = ""
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("show: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"greet (g)", `1. message "Hi {player}, arg {arg0}"`, "2. delay 30ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	rootCmd.SetArgs([]string{"show", "--file", path, "nope"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected an error for an unknown macro")
	}
}
