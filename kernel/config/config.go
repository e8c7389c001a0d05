// ABOUTME: Kernel configuration: a TOML document with agent, kernel, harness, and persistence sections.
// ABOUTME: CLI --model/--provider overrides re-validate provider compatibility after loading.

package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/haasonsaas/bedrockkernel/kernel/errs"
)

// knownProviders mirrors the provider names llm.FromEnv recognizes.
var knownProviders = map[string]bool{
	"anthropic": true,
	"openai":    true,
	"gemini":    true,
}

// AgentConfig is the agent.* section: model and provider selection.
type AgentConfig struct {
	Model    string `toml:"model"`
	Provider string `toml:"provider"`
}

// KernelConfig is the kernel.* section.
type KernelConfig struct {
	WorkspaceRoot          string `toml:"workspace_root"`
	FailTurnOnPersistError bool   `toml:"fail_turn_on_persist_error"`
	MaxConcurrency         int    `toml:"max_concurrency"`
}

// HarnessConfig is the harness.* section.
type HarnessConfig struct {
	Directory     string `toml:"directory"`
	ScriptName    string `toml:"script_name"`
	HookTimeoutMs int    `toml:"hook_timeout_ms"`
	Watch         bool   `toml:"watch"`
}

// PersistenceConfig is the persistence.* section.
type PersistenceConfig struct {
	DatabasePath string `toml:"database_path"`
}

// Config is the full kernel configuration document.
type Config struct {
	Agent       AgentConfig       `toml:"agent"`
	Kernel      KernelConfig      `toml:"kernel"`
	Harness     HarnessConfig     `toml:"harness"`
	Persistence PersistenceConfig `toml:"persistence"`
}

// Default returns a Config with the documented defaults for anything not
// set by a loaded file, per spec.md §6.
func Default() Config {
	return Config{
		Agent: AgentConfig{Model: "claude-sonnet-4-5", Provider: "anthropic"},
		Kernel: KernelConfig{
			WorkspaceRoot:  ".",
			MaxConcurrency: 4,
		},
		Harness: HarnessConfig{
			Directory:     "./harness",
			ScriptName:    "main.lua",
			HookTimeoutMs: 2000,
		},
		Persistence: PersistenceConfig{DatabasePath: "./bedrock.db"},
	}
}

// Load reads a TOML config file at path, merging it over Default(). A
// missing path is not an error: Default() alone is returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errs.NewConfigError(fmt.Sprintf("read config %s", path), err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.NewConfigError(fmt.Sprintf("parse config %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyOverrides sets CLI-supplied model/provider overrides, then
// re-validates provider compatibility, per spec.md §6 ("CLI --model/
// --provider override agent fields; override must re-validate provider
// compatibility").
func (c *Config) ApplyOverrides(model, provider string) error {
	if model != "" {
		c.Agent.Model = model
	}
	if provider != "" {
		c.Agent.Provider = provider
	}
	return c.Validate()
}

// Validate checks required fields and known-provider compatibility.
func (c *Config) Validate() error {
	if c.Agent.Model == "" {
		return errs.NewConfigError("agent.model must not be empty", nil)
	}
	if c.Agent.Provider == "" {
		return errs.NewConfigError("agent.provider must not be empty", nil)
	}
	if !knownProviders[c.Agent.Provider] {
		return errs.NewConfigError(fmt.Sprintf("unknown agent.provider %q", c.Agent.Provider), nil)
	}
	if c.Kernel.WorkspaceRoot == "" {
		return errs.NewConfigError("kernel.workspace_root must not be empty", nil)
	}
	if c.Persistence.DatabasePath == "" {
		return errs.NewConfigError("persistence.database_path must not be empty", nil)
	}
	return nil
}
