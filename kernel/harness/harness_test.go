package harness

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/bedrockkernel/kernel/bus"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) KVSet(_ context.Context, key, value string, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) KVGet(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) KVDelete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func TestOnToolCallDefaultAllowsWithNoScript(t *testing.T) {
	h := New(newFakeKV(), nil)
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "echo"})
	if v.Kind != Allow {
		t.Fatalf("got %v, want Allow", v.Kind)
	}
}

func TestOnToolCallAllowString(t *testing.T) {
	h := New(newFakeKV(), nil)
	if err := h.LoadSource("<test>", `function on_tool_call(session_id, id, name, args) return "allow" end`); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "echo"})
	if v.Kind != Allow {
		t.Fatalf("got %v, want Allow", v.Kind)
	}
}

func TestOnToolCallReject(t *testing.T) {
	h := New(newFakeKV(), nil)
	src := `function on_tool_call(session_id, id, name, args)
		return {kind="reject", reason="not allowed"}
	end`
	if err := h.LoadSource("<test>", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "shell"})
	if v.Kind != Reject || v.Reason != "not allowed" {
		t.Fatalf("got %+v, want Reject/not allowed", v)
	}
}

func TestOnToolCallRewrite(t *testing.T) {
	h := New(newFakeKV(), nil)
	src := `function on_tool_call(session_id, id, name, args)
		return {kind="rewrite", args={path="safe.txt"}}
	end`
	if err := h.LoadSource("<test>", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "read_file"})
	if v.Kind != Rewrite {
		t.Fatalf("got %v, want Rewrite", v.Kind)
	}
	if v.NewArgs["path"] != "safe.txt" {
		t.Fatalf("got args %+v", v.NewArgs)
	}
}

func TestOnToolCallSubstitute(t *testing.T) {
	h := New(newFakeKV(), nil)
	src := `function on_tool_call(session_id, id, name, args)
		return {kind="substitute", output="canned"}
	end`
	if err := h.LoadSource("<test>", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "shell"})
	if v.Kind != Substitute || v.Output != "canned" {
		t.Fatalf("got %+v, want Substitute/canned", v)
	}
}

func TestOnToolCallTimeoutDefaultsAllow(t *testing.T) {
	h := New(newFakeKV(), nil)
	h.hookTimeout = 20 * time.Millisecond
	src := `function on_tool_call(session_id, id, name, args)
		while true do end
	end`
	if err := h.LoadSource("<test>", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "shell"})
	if v.Kind != Allow {
		t.Fatalf("got %v, want Allow on timeout", v.Kind)
	}
}

func TestOnEventDoesNotPanicWithNoHook(t *testing.T) {
	h := New(newFakeKV(), nil)
	h.OnEvent(context.Background(), "s1", bus.Event{Kind: bus.EventUserMessage})
}

func TestLuaKVBindingsRoundTrip(t *testing.T) {
	kv := newFakeKV()
	h := New(kv, nil)
	src := `function on_tool_call(session_id, id, name, args)
		bedrock.kv_set("seen", "yes")
		local v = bedrock.kv_get("seen")
		if v == "yes" then
			return "allow"
		end
		return {kind="reject", reason="kv roundtrip failed"}
	end`
	if err := h.LoadSource("<test>", src); err != nil {
		t.Fatalf("load: %v", err)
	}
	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "echo"})
	if v.Kind != Allow {
		t.Fatalf("got %+v, want Allow", v)
	}
	if stored, ok, _ := kv.KVGet(context.Background(), "seen"); !ok || stored != "yes" {
		t.Fatalf("expected kv store to contain seen=yes, got %q ok=%v", stored, ok)
	}
}

func TestReloadFailureKeepsPreviousScript(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/main.lua"
	writeFile(t, path, `function on_tool_call(session_id, id, name, args) return "allow" end`)

	h := New(newFakeKV(), nil)
	if err := h.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	writeFile(t, path, `this is not valid lua (`)
	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error on invalid lua")
	}

	v := h.OnToolCall(context.Background(), "s1", ToolCall{Name: "echo"})
	if v.Kind != Allow {
		t.Fatalf("expected previous script to remain active, got %v", v.Kind)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
