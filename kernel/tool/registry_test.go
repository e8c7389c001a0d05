package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryRegisterGetHasNamesCount(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewEchoTool()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.Has("echo") {
		t.Fatal("expected echo to be registered")
	}
	if r.Count() != 1 {
		t.Fatalf("got count %d, want 1", r.Count())
	}
	if got := r.Get("echo"); got == nil {
		t.Fatal("expected non-nil tool")
	}
	if r.Get("missing") != nil {
		t.Fatal("expected nil for unregistered tool")
	}
	if r.Unregister("echo") != true {
		t.Fatal("expected unregister to report true")
	}
	if r.Has("echo") {
		t.Fatal("expected echo to be gone")
	}
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(namedTool{}); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

type namedTool struct{}

func (namedTool) Name() string                     { return "" }
func (namedTool) Description() string              { return "" }
func (namedTool) ParametersSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (namedTool) Execute(context.Context, map[string]any, Context) (Output, error) {
	return Output{}, nil
}

func TestEchoTool(t *testing.T) {
	out, err := NewEchoTool().Execute(context.Background(), map[string]any{"message": "hi"}, Context{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Content != "hi" {
		t.Fatalf("got %q, want %q", out.Content, "hi")
	}
}

func TestReadWriteFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	tc := Context{WorkspaceRoot: root}

	_, err := NewWriteFileTool().Execute(context.Background(), map[string]any{
		"file_path": "notes/a.txt", "content": "line1\nline2\nline3",
	}, tc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := NewReadFileTool().Execute(context.Background(), map[string]any{"file_path": "notes/a.txt"}, tc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "  1 | line1\n  2 | line2\n  3 | line3"
	if out.Content != want {
		t.Fatalf("got %q, want %q", out.Content, want)
	}
}

func TestReadFileRespectsOffsetAndLimit(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("a\nb\nc\nd\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := NewReadFileTool().Execute(context.Background(), map[string]any{
		"file_path": "f.txt", "offset": 1, "limit": 2,
	}, Context{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "  2 | b\n  3 | c"
	if out.Content != want {
		t.Fatalf("got %q, want %q", out.Content, want)
	}
}

func TestWriteFileRejectsEscapingWorkspace(t *testing.T) {
	root := t.TempDir()
	_, err := NewWriteFileTool().Execute(context.Background(), map[string]any{
		"file_path": "../escape.txt", "content": "x",
	}, Context{WorkspaceRoot: root})
	if err == nil {
		t.Fatal("expected error escaping workspace root")
	}
}

func TestShellToolReturnsOutput(t *testing.T) {
	root := t.TempDir()
	out, err := NewShellTool().Execute(context.Background(), map[string]any{"command": "echo hello"}, Context{WorkspaceRoot: root})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Content != "hello\n" {
		t.Fatalf("got %q, want %q", out.Content, "hello\n")
	}
}

func TestShellToolTimesOut(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err := NewShellTool().Execute(ctx, map[string]any{"command": "sleep 1"}, Context{WorkspaceRoot: root})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
