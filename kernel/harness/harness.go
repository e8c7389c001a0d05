// ABOUTME: Lua-scripted Harness: observes every event and gates tool calls with a Verdict.
// ABOUTME: Grounded on original_source's Lua script path, implemented on github.com/yuin/gopher-lua.

package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/haasonsaas/bedrockkernel/kernel/bus"
	"github.com/haasonsaas/bedrockkernel/kernel/errs"
)

// DefaultHookTimeout is the per-hook-invocation bound, per spec.md §4.5.
const DefaultHookTimeout = 2 * time.Second

// VerdictKind discriminates the harness's decision on a tool call.
type VerdictKind string

const (
	Allow     VerdictKind = "allow"
	Reject    VerdictKind = "reject"
	Rewrite   VerdictKind = "rewrite"
	Substitute VerdictKind = "substitute"
)

// Verdict is the harness's decision for one on_tool_call invocation.
type Verdict struct {
	Kind      VerdictKind
	Reason    string         // set when Kind == Reject
	NewArgs   map[string]any // set when Kind == Rewrite
	Output    string         // set when Kind == Substitute
}

// ToolCall is what the harness sees for on_tool_call.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// KVStore is the subset of the State Store the harness's Lua bindings need.
type KVStore interface {
	KVSet(ctx context.Context, key, value string, expiresAt *time.Time) error
	KVGet(ctx context.Context, key string) (string, bool, error)
	KVDelete(ctx context.Context, key string) error
}

// Harness loads a Lua script exposing on_event/on_tool_call hooks and
// invokes them with a bounded timeout, swapping scripts atomically on
// Reload. The runtime is single-threaded; invocations are serialized via
// an internal mutex, per spec.md §4.8.
type Harness struct {
	mu     sync.Mutex
	state  *lua.LState
	kv     KVStore
	logger *slog.Logger
	path   string

	hookTimeout time.Duration
}

// New creates a Harness with no script loaded. Call Load before use.
func New(kv KVStore, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		kv:          kv,
		logger:      logger.With("component", "kernel.harness"),
		hookTimeout: DefaultHookTimeout,
	}
}

// Load reads and executes the script at path, binding the bedrock.* API
// table before running it. A load failure is fatal at startup, per
// spec.md §7 (HarnessError).
func (h *Harness) Load(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return errs.NewHarnessError(fmt.Sprintf("read harness script %s", path), err)
	}
	return h.LoadSource(path, string(src))
}

// LoadSource compiles and runs script source directly, used by run_script
// for single-shot evaluation against a fresh session and by Load.
func (h *Harness) LoadSource(path, src string) error {
	state := lua.NewState()
	h.registerAPI(state)

	if err := state.DoString(src); err != nil {
		state.Close()
		return errs.NewHarnessError(fmt.Sprintf("load harness script %s", path), err)
	}

	h.mu.Lock()
	old := h.state
	h.state = state
	h.path = path
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Reload re-reads the script at the currently loaded path. A failure
// leaves the previous script in place, per spec.md §7.
func (h *Harness) Reload() error {
	h.mu.Lock()
	path := h.path
	h.mu.Unlock()
	if path == "" {
		return errs.NewHarnessError("reload_harness called before init_harness", nil)
	}
	return h.Load(path)
}

// OnEvent invokes the script's on_event hook, if defined, with a bounded
// timeout. Pure observation: the return value is ignored. A timeout or
// panic is logged and swallowed, never propagated, per spec.md §4.5/§4.1.
func (h *Harness) OnEvent(ctx context.Context, sessionID string, event bus.Event) {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == nil {
		return
	}

	fn := state.GetGlobal("on_event")
	if fn == lua.LNil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event for on_event", "session_id", sessionID, "error", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("on_event hook panicked", "session_id", sessionID, "recover", r)
			}
		}()
		h.mu.Lock()
		defer h.mu.Unlock()
		if err := state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(sessionID), lua.LString(payload)); err != nil {
			h.logger.Error("on_event hook failed", "session_id", sessionID, "error", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(h.hookTimeout):
		h.logger.Warn("on_event hook exceeded timeout", "session_id", sessionID, "timeout", h.hookTimeout)
	}
}

// OnToolCall invokes the script's on_tool_call hook and parses its
// returned table into a Verdict. A missing hook, a timeout, or a script
// error default-allows, per spec.md §4.5/§7.
func (h *Harness) OnToolCall(ctx context.Context, sessionID string, call ToolCall) Verdict {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == nil {
		return Verdict{Kind: Allow}
	}

	fn := state.GetGlobal("on_tool_call")
	if fn == lua.LNil {
		return Verdict{Kind: Allow}
	}

	argsJSON, err := json.Marshal(call.Args)
	if err != nil {
		h.logger.Error("marshal tool call args", "session_id", sessionID, "tool", call.Name, "error", err)
		return Verdict{Kind: Allow}
	}

	type result struct {
		verdict Verdict
		ok      bool
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("on_tool_call hook panicked", "session_id", sessionID, "tool", call.Name, "recover", r)
				ch <- result{}
			}
		}()
		h.mu.Lock()
		defer h.mu.Unlock()

		err := state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
			lua.LString(sessionID), lua.LString(call.ID), lua.LString(call.Name), lua.LString(argsJSON))
		if err != nil {
			h.logger.Error("on_tool_call hook failed", "session_id", sessionID, "tool", call.Name, "error", err)
			ch <- result{}
			return
		}
		ret := state.Get(-1)
		state.Pop(1)
		v, parseErr := parseVerdict(ret)
		if parseErr != nil {
			h.logger.Error("on_tool_call returned unparseable verdict", "session_id", sessionID, "tool", call.Name, "error", parseErr)
			ch <- result{}
			return
		}
		ch <- result{verdict: v, ok: true}
	}()

	select {
	case r := <-ch:
		if !r.ok {
			return Verdict{Kind: Allow}
		}
		return r.verdict
	case <-time.After(h.hookTimeout):
		h.logger.Warn("on_tool_call hook exceeded timeout, defaulting to allow", "session_id", sessionID, "tool", call.Name)
		return Verdict{Kind: Allow}
	}
}

// parseVerdict reads the Lua return value of on_tool_call: either the
// bare string "allow", or a table {kind=..., reason=..., args=..., output=...}.
func parseVerdict(v lua.LValue) (Verdict, error) {
	if s, ok := v.(lua.LString); ok {
		return verdictFromKind(string(s), "", nil, "")
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return Verdict{}, fmt.Errorf("expected string or table, got %s", v.Type().String())
	}

	kind := tbl.RawGetString("kind")
	kindStr, ok := kind.(lua.LString)
	if !ok {
		return Verdict{}, fmt.Errorf("verdict table missing string field 'kind'")
	}

	reason := ""
	if r, ok := tbl.RawGetString("reason").(lua.LString); ok {
		reason = string(r)
	}
	output := ""
	if o, ok := tbl.RawGetString("output").(lua.LString); ok {
		output = string(o)
	}
	var newArgs map[string]any
	if a, ok := tbl.RawGetString("args").(*lua.LTable); ok {
		newArgs = luaTableToMap(a)
	}

	return verdictFromKind(string(kindStr), reason, newArgs, output)
}

func verdictFromKind(kind, reason string, newArgs map[string]any, output string) (Verdict, error) {
	switch VerdictKind(kind) {
	case Allow:
		return Verdict{Kind: Allow}, nil
	case Reject:
		return Verdict{Kind: Reject, Reason: reason}, nil
	case Rewrite:
		return Verdict{Kind: Rewrite, NewArgs: newArgs}, nil
	case Substitute:
		return Verdict{Kind: Substitute, Output: output}, nil
	default:
		return Verdict{}, fmt.Errorf("unknown verdict kind %q", kind)
	}
}

func luaTableToMap(tbl *lua.LTable) map[string]any {
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		out[k.String()] = luaValueToGo(v)
	})
	return out
}

func luaValueToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return luaTableToMap(val)
	default:
		return nil
	}
}

// Close releases the loaded script's Lua state.
func (h *Harness) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
}
