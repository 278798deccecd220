package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ourisland/litemacro/internal/config"
	"github.com/ourisland/litemacro/internal/macros"
)

func withConfigDir(t *testing.T, dir string, force bool) {
	t.Helper()
	origDir, origForce := configDirFunc, initForce
	configDirFunc = func() string { return dir }
	initForce = force
	t.Cleanup(func() {
		configDirFunc, initForce = origDir, origForce
	})
}

func TestCreateConfigFile(t *testing.T) {
	dir := t.TempDir()
	withConfigDir(t, dir, true)

	result := createConfigFile()
	if result.status != "done" {
		t.Fatalf("expected status 'done', got %q: %s", result.status, result.message)
	}

	path := filepath.Join(dir, configFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if !strings.HasPrefix(string(content), "# litemacro configuration") {
		t.Error("config file doesn't start with the expected header")
	}

	// The template must load as a valid config.
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load(template): %v", err)
	}
	if cfg.Daemon.Port != 50071 || !cfg.Watch.Enabled {
		t.Errorf("unexpected defaults: %+v", cfg.Daemon)
	}
	if got := cfg.BackendAddresses()["survival"]; got != "127.0.0.1:25566" {
		t.Errorf("survival backend = %q", got)
	}
	if perms := cfg.Permissions["steve"]; len(perms) != 2 {
		t.Errorf("steve permissions = %v", perms)
	}
}

func TestCreateConfigFile_ExistingNoForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatalf("failed to create existing config: %v", err)
	}
	withConfigDir(t, dir, false)

	result := createConfigFile()
	if result.status != "skipped" {
		t.Errorf("expected status 'skipped', got %q: %s", result.status, result.message)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "existing" {
		t.Error("existing config was modified")
	}
}

func TestCreateMacrosFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MacrosFile = filepath.Join(t.TempDir(), "data", macros.FileName)

	if r := createMacrosFile(cfg); r.status != "done" {
		t.Fatalf("first run: %+v", r)
	}
	if r := checkMacros(cfg); r.status != "done" || !strings.Contains(r.message, "3 macros") {
		t.Errorf("checkMacros = %+v", r)
	}
	if r := createMacrosFile(cfg); r.status != "skipped" {
		t.Errorf("second run: %+v", r)
	}
}

func TestCheckMacrosReportsExcluded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MacrosFile = filepath.Join(t.TempDir(), macros.FileName)
	data := "macros:\n  bad:\n    actions:\n      - type: teleport\n"
	if err := os.WriteFile(cfg.MacrosFile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := checkMacros(cfg); r.status != "failed" {
		t.Errorf("checkMacros = %+v, want failed", r)
	}
}

func TestDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if dir := defaultConfigDir(); dir != filepath.Join("/custom/config", "litemacro") {
		t.Errorf("defaultConfigDir() = %s", dir)
	}

	t.Setenv("XDG_CONFIG_HOME", "")
	home, _ := os.UserHomeDir()
	if dir := defaultConfigDir(); dir != filepath.Join(home, ".config", "litemacro") {
		t.Errorf("defaultConfigDir() = %s", dir)
	}
}

func TestConfigTemplateSections(t *testing.T) {
	for _, section := range []string{
		"logging:", "daemon:", "http:", "history:", "watch:",
		"rate_limit:", "redis:", "move:", "backends:", "permissions:",
	} {
		if !strings.Contains(configTemplate, section) {
			t.Errorf("config template missing section: %s", section)
		}
	}
}
