package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v, want defaults", cfg)
	}
}

func TestLoadParsesTOMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bedrock.toml")
	src := `
[agent]
model = "gpt-5"
provider = "openai"

[kernel]
max_concurrency = 8
`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Model != "gpt-5" || cfg.Agent.Provider != "openai" {
		t.Fatalf("got agent %+v", cfg.Agent)
	}
	if cfg.Kernel.MaxConcurrency != 8 {
		t.Fatalf("got max_concurrency %d, want 8", cfg.Kernel.MaxConcurrency)
	}
	// Untouched sections retain their defaults.
	if cfg.Harness.ScriptName != "main.lua" {
		t.Fatalf("got script_name %q, want main.lua", cfg.Harness.ScriptName)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bedrock.toml")
	src := "[agent]\nprovider = \"acme\"\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyOverrides("gpt-5", "openai"); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Agent.Model != "gpt-5" || cfg.Agent.Provider != "openai" {
		t.Fatalf("got %+v", cfg.Agent)
	}
}

func TestApplyOverridesRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	if err := cfg.ApplyOverrides("", "acme"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestApplyOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	cfg := Default()
	original := cfg.Agent.Model
	if err := cfg.ApplyOverrides("", "openai"); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Agent.Model != original {
		t.Fatalf("got model %q, want unchanged %q", cfg.Agent.Model, original)
	}
}

func TestValidateRequiresNonEmptyFields(t *testing.T) {
	cfg := Default()
	cfg.Agent.Model = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty model")
	}

	cfg = Default()
	cfg.Persistence.DatabasePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty database_path")
	}
}
