package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_NoLayersReturnsDefaultConfig(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()

	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Config.Preset != PresetStandard {
		t.Errorf("Preset = %q, want standard default", loaded.Config.Preset)
	}
}

func TestLoad_ProjectLayerOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()

	writeFile(t, filepath.Join(home, ".config", "safesh", "config.json"), `{"timeout": 5000}`)
	writeFile(t, filepath.Join(cwd, ".config", "safesh", "config.json"), `{"timeout": 9000}`)

	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Config.TimeoutMS != 9000 {
		t.Errorf("TimeoutMS = %d, want project layer (9000) to win", loaded.Config.TimeoutMS)
	}
}

func TestLoad_LayerDeclaredPresetRebasesFold(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()

	writeFile(t, filepath.Join(cwd, ".config", "safesh", "config.json"), `{"preset": "strict"}`)

	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded.Config.Permissions.Run) != 0 {
		t.Errorf("expected strict preset re-base to clear Run, got %v", loaded.Config.Permissions.Run)
	}
}

func TestLoad_MCPArgsOverrideProjectDir(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()
	projDir := t.TempDir()

	mcp := &MCPArgs{ProjectDir: projDir, AllowProjectCommands: true}
	loaded, err := Load(home, cwd, mcp, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Config.ProjectDir != projDir {
		t.Errorf("ProjectDir = %q, want %q", loaded.Config.ProjectDir, projDir)
	}
	if !loaded.Config.AllowProjectCommands {
		t.Error("expected AllowProjectCommands from MCP args")
	}
}

func TestLoad_FatalValidationFailsUnlessSkipped(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()

	writeFile(t, filepath.Join(cwd, ".config", "safesh", "config.json"), `{"permissions": {"run": ["*"]}}`)

	if _, err := Load(home, cwd, nil, slog.Default()); err == nil {
		t.Error("expected fatal validation error")
	}

	writeFile(t, filepath.Join(cwd, ".config", "safesh", "config.json"), `{"permissions": {"run": ["*"]}, "skipValidation": true}`)
	if _, err := Load(home, cwd, nil, slog.Default()); err != nil {
		t.Errorf("expected skipValidation to suppress the fatal error, got %v", err)
	}
}

func TestLoadLocalLayer_SupportsShorthandAndObjectForms(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, LocalConfigPath(cwd), `{"allowedCommands": ["cargo", {"name": "npm", "subcommands": ["install", "run"]}]}`)

	home := t.TempDir()
	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := map[string]bool{}
	for _, r := range loaded.Config.Permissions.Run {
		found[r] = true
	}
	if !found["cargo"] || !found["npm"] {
		t.Errorf("expected both shorthand and object entries admitted into Run, got %v", loaded.Config.Permissions.Run)
	}

	npmPol, ok := loaded.Config.External["npm"]
	if !ok {
		t.Fatal("expected npm external policy to be set")
	}
	if npmPol.AllowAll {
		t.Error("expected npm subcommands to be restricted, not AllowAll")
	}
}

func TestSaveToLocalJson_IdempotentMerge(t *testing.T) {
	cwd := t.TempDir()

	if err := SaveToLocalJson(cwd, []string{"git"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SaveToLocalJson(cwd, []string{"git", "curl"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	home := t.TempDir()
	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count := 0
	for _, r := range loaded.Config.Permissions.Run {
		if r == "git" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("git appeared %d times, want 1 (idempotent merge)", count)
	}
	found := false
	for _, r := range loaded.Config.Permissions.Run {
		if r == "curl" {
			found = true
		}
	}
	if !found {
		t.Error("expected curl to be present after the second save")
	}
}

func TestLoadExplicitFile_JSONAndYAML(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()
	loaded, err := Load(home, cwd, nil, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jsonPath := filepath.Join(cwd, "explicit.json")
	writeFile(t, jsonPath, `{"timeout": 4242}`)
	cfg, err := LoadExplicitFile(jsonPath, *loaded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TimeoutMS != 4242 {
		t.Errorf("TimeoutMS = %d, want 4242", cfg.TimeoutMS)
	}

	yamlPath := filepath.Join(cwd, "explicit.yaml")
	writeFile(t, yamlPath, "timeout: 7777\n")
	cfg, err = LoadExplicitFile(yamlPath, *loaded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TimeoutMS != 7777 {
		t.Errorf("TimeoutMS = %d, want 7777", cfg.TimeoutMS)
	}
}

func TestWatchLocalConfig_FiresOnChange(t *testing.T) {
	cwd := t.TempDir()
	if err := SaveToLocalJson(cwd, []string{"git"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changed := make(chan struct{}, 1)
	w, err := WatchLocalConfig(cwd, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()

	if err := SaveToLocalJson(cwd, []string{"curl"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
}
