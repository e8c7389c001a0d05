// ABOUTME: Kernel ties the Event Bus, State Store, Tool Registry, Harness, and Sessions together.
// ABOUTME: Exposes the public operations init_state/init_clients/init_harness/reload_harness/run/run_script/end_session.

package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/bedrockkernel/kernel/bus"
	"github.com/haasonsaas/bedrockkernel/kernel/config"
	"github.com/haasonsaas/bedrockkernel/kernel/errs"
	"github.com/haasonsaas/bedrockkernel/kernel/harness"
	"github.com/haasonsaas/bedrockkernel/kernel/store"
	"github.com/haasonsaas/bedrockkernel/kernel/tool"
	"github.com/haasonsaas/bedrockkernel/llm"
)

// SystemPrompt is used for every inference call until a caller overrides it.
const SystemPrompt = "You are a helpful agent running inside the bedrock kernel."

// Kernel owns the Bus, Store, Harness, tool Registry, inference Client,
// and the set of live Sessions. It is the only component permitted to
// hold both the Bus and Sessions, avoiding the cyclic-ownership trap
// spec.md §9 calls out.
type Kernel struct {
	cfg config.Config

	store   *store.Store
	bus     *bus.Bus
	harness *harness.Harness
	tools   *tool.Registry
	client  *llm.Client
	watcher *Watcher
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New constructs a Kernel from a loaded Config. Call InitState,
// InitClients, and InitHarness before Run.
func New(cfg config.Config, logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{
		cfg:      cfg,
		tools:    tool.NewRegistry(),
		logger:   logger.With("component", "kernel"),
		sessions: make(map[string]*Session),
	}
}

// InitState opens the State Store and starts the Event Bus.
func (k *Kernel) InitState() error {
	st, err := store.Open(k.cfg.Persistence.DatabasePath)
	if err != nil {
		return err
	}
	k.store = st
	k.harness = harness.New(st, k.logger)
	k.bus = bus.New(st, k.harness, k.logger)
	return nil
}

// InitClients registers the inference client and the built-in tool set.
// It opens no MCP clients; those register into the registry returned by
// Tools.
func (k *Kernel) InitClients(client *llm.Client) {
	k.client = client
	for _, t := range tool.Builtins() {
		_ = k.tools.Register(t)
	}
}

// InitHarness loads the configured harness script. Failure here is
// fatal at startup, per spec.md §7.
func (k *Kernel) InitHarness() error {
	if k.harness == nil {
		return errs.NewConfigError("init_harness called before init_state", nil)
	}
	path := k.cfg.Harness.Directory + "/" + k.cfg.Harness.ScriptName
	return k.harness.Load(path)
}

// ReloadHarness swaps the active script atomically and emits
// HarnessReloaded, per spec.md §4.5. A reload failure keeps the
// previous script and is not fatal.
func (k *Kernel) ReloadHarness(sessionID string) error {
	if err := k.harness.Reload(); err != nil {
		k.logger.Error("harness reload failed, keeping previous script", "error", err)
		return err
	}
	k.bus.Emit(sessionID, bus.EventHarnessReloaded, nil)
	return nil
}

// StartWatcher starts the optional filesystem watcher that
// auto-reloads the harness on script change, per spec.md §4.8.
func (k *Kernel) StartWatcher(ctx context.Context) error {
	if !k.cfg.Harness.Watch {
		return nil
	}
	w, err := NewWatcher(k.cfg.Harness.Directory, func() {
		_ = k.ReloadHarness("")
	}, k.logger)
	if err != nil {
		return err
	}
	k.watcher = w
	go w.Run(ctx)
	return nil
}

// NewSession creates and registers a fresh in-memory session, emitting
// AgentStart.
func (k *Kernel) NewSession() *Session {
	s := NewSession(k.bus)
	k.mu.Lock()
	k.sessions[s.ID] = s
	k.mu.Unlock()
	k.bus.Emit(s.ID, bus.EventAgentStart, nil)
	return s
}

// RehydrateSession loads a session's history from the event log and
// registers it for continued use.
func (k *Kernel) RehydrateSession(ctx context.Context, sessionID string) (*Session, error) {
	s, err := Rehydrate(ctx, k.store, k.bus, sessionID)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.sessions[s.ID] = s
	k.mu.Unlock()
	return s, nil
}

// Run processes one prompt to completion on the given session via a
// Runner built from the Kernel's current configuration.
func (k *Kernel) Run(ctx context.Context, session *Session, prompt string) error {
	runner := NewRunner(RunnerConfig{
		Model:                  k.cfg.Agent.Model,
		Provider:               k.cfg.Agent.Provider,
		WorkspaceRoot:          k.cfg.Kernel.WorkspaceRoot,
		MaxConcurrency:         k.cfg.Kernel.MaxConcurrency,
		FailTurnOnPersistError: k.cfg.Kernel.FailTurnOnPersistError,
	}, k.client, k.tools, k.harness, k.bus, SystemPrompt)
	return runner.RunTurn(ctx, session, prompt)
}

// RunScript evaluates harness script source once against a fresh
// in-memory Lua state, without touching the active loaded script. Used
// by the `script` CLI subcommand and tests, per spec.md §4.8.
func (k *Kernel) RunScript(text string) error {
	h := harness.New(k.store, k.logger)
	return h.LoadSource("<script>", text)
}

// EndSession marks the session Ended, removes it from the live set, and
// emits AgentEnd. It closes no tool clients and does not wait for the
// bus to drain; Shutdown drains the bus.
func (k *Kernel) EndSession(sessionID string) {
	k.mu.Lock()
	s, ok := k.sessions[sessionID]
	if ok {
		delete(k.sessions, sessionID)
	}
	k.mu.Unlock()
	if !ok {
		return
	}
	s.State = StateEnded
	k.bus.Emit(sessionID, bus.EventAgentEnd, nil)
}

// ListSessions returns session ids known to the State Store, most
// recently active first. Supplements the core spec with direct CLI
// exposure via `bedrock sessions`.
func (k *Kernel) ListSessions(ctx context.Context, limit, offset int) ([]string, error) {
	return k.store.ListSessions(ctx, limit, offset)
}

// Tools exposes the Kernel's tool registry for MCP client registration.
func (k *Kernel) Tools() *tool.Registry { return k.tools }

// Shutdown drains the Event Bus and closes the State Store.
func (k *Kernel) Shutdown() error {
	if k.watcher != nil {
		k.watcher.Close()
	}
	if k.bus != nil {
		k.bus.Shutdown(0)
	}
	k.harness.Close()
	if k.store != nil {
		if err := k.store.Close(); err != nil {
			return fmt.Errorf("close state store: %w", err)
		}
	}
	return nil
}
