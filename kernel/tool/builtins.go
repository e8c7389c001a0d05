// ABOUTME: Reference built-in tools: echo, read_file, write_file, shell.
// ABOUTME: Argument-parsing helpers adapted verbatim from agent/tools_core.go (teacher).

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/bedrockkernel/kernel/errs"
)

func getStringArg(args map[string]any, key string, required bool) (string, error) {
	val, ok := args[key]
	if !ok || val == nil {
		if required {
			return "", errs.NewToolError(errs.ToolInvalidParams, fmt.Sprintf("missing required parameter: %s", key))
		}
		return "", nil
	}
	s, ok := val.(string)
	if !ok {
		return "", errs.NewToolError(errs.ToolInvalidParams, fmt.Sprintf("parameter %s must be a string, got %T", key, val))
	}
	return s, nil
}

func getIntArg(args map[string]any, key string, defaultVal int) (int, error) {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal, nil
	}
	switch v := val.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errs.NewToolError(errs.ToolInvalidParams, fmt.Sprintf("parameter %s must be an integer: %v", key, err))
		}
		return int(n), nil
	default:
		return 0, errs.NewToolError(errs.ToolInvalidParams, fmt.Sprintf("parameter %s must be a number, got %T", key, val))
	}
}

func formatLineNumbers(content string, startLine int) string {
	lines := strings.Split(content, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%3d | %s", startLine+i, line)
		if i < len(lines)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// echoTool is the minimal reference tool: returns its message argument
// verbatim, used to smoke-test the dispatch path end to end.
type echoTool struct{}

// NewEchoTool returns a tool that echoes its "message" argument.
func NewEchoTool() Tool { return echoTool{} }

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo a message back." }
func (echoTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"message": {"type": "string"}},
		"required": ["message"]
	}`)
}

func (echoTool) Execute(_ context.Context, args map[string]any, _ Context) (Output, error) {
	msg, err := getStringArg(args, "message", true)
	if err != nil {
		return Output{}, err
	}
	return Output{Content: msg}, nil
}

// readFileTool reads a file and returns its content with line numbers.
type readFileTool struct{}

// NewReadFileTool returns a tool that reads a file relative to the
// workspace root, returning line-numbered content.
func NewReadFileTool() Tool { return readFileTool{} }

func (readFileTool) Name() string { return "read_file" }
func (readFileTool) Description() string {
	return "Read a file from the filesystem. Returns line-numbered content."
}
func (readFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "Path to the file to read, relative to the workspace root"},
			"offset": {"type": "integer", "description": "Number of lines to skip before reading (default: 0 = beginning)"},
			"limit": {"type": "integer", "description": "Maximum number of lines to read (default: 2000)"}
		},
		"required": ["file_path"]
	}`)
}

func (readFileTool) Execute(_ context.Context, args map[string]any, tc Context) (Output, error) {
	filePath, err := getStringArg(args, "file_path", true)
	if err != nil {
		return Output{}, err
	}
	offset, err := getIntArg(args, "offset", 0)
	if err != nil {
		return Output{}, err
	}
	limit, err := getIntArg(args, "limit", 2000)
	if err != nil {
		return Output{}, err
	}

	resolved, err := resolveWorkspacePath(tc.WorkspaceRoot, filePath)
	if err != nil {
		return Output{}, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return Output{}, errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("read %s: %v", filePath, err))
	}

	lines := strings.Split(string(data), "\n")
	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := start + limit
	if limit <= 0 || end > len(lines) {
		end = len(lines)
	}

	return Output{Content: formatLineNumbers(strings.Join(lines[start:end], "\n"), start+1)}, nil
}

// writeFileTool writes content to a file, creating parent directories.
type writeFileTool struct{}

// NewWriteFileTool returns a tool that writes a file relative to the
// workspace root, creating parent directories as needed.
func NewWriteFileTool() Tool { return writeFileTool{} }

func (writeFileTool) Name() string { return "write_file" }
func (writeFileTool) Description() string {
	return "Write content to a file, creating parent directories as needed."
}
func (writeFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {"type": "string", "description": "Path to the file to write, relative to the workspace root"},
			"content": {"type": "string", "description": "Content to write"}
		},
		"required": ["file_path", "content"]
	}`)
}

func (writeFileTool) Execute(_ context.Context, args map[string]any, tc Context) (Output, error) {
	filePath, err := getStringArg(args, "file_path", true)
	if err != nil {
		return Output{}, err
	}
	content, err := getStringArg(args, "content", true)
	if err != nil {
		return Output{}, err
	}

	resolved, err := resolveWorkspacePath(tc.WorkspaceRoot, filePath)
	if err != nil {
		return Output{}, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Output{}, errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("create parent directories for %s: %v", filePath, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Output{}, errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("write %s: %v", filePath, err))
	}
	return Output{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), filePath)}, nil
}

// shellTool runs a shell command in the workspace root via /bin/sh -c.
type shellTool struct{}

// NewShellTool returns a tool that runs a command with /bin/sh -c,
// rooted at the workspace directory. Blocking and subject to the turn
// loop's per-call timeout via the context deadline.
func NewShellTool() Tool { return shellTool{} }

func (shellTool) Name() string        { return "shell" }
func (shellTool) Description() string { return "Run a shell command and return its combined output." }
func (shellTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"command": {"type": "string", "description": "Command to run via /bin/sh -c"}},
		"required": ["command"]
	}`)
}

func (shellTool) Execute(ctx context.Context, args map[string]any, tc Context) (Output, error) {
	command, err := getStringArg(args, "command", true)
	if err != nil {
		return Output{}, err
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = tc.WorkspaceRoot
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return Output{}, errs.NewToolError(errs.ToolTimeout, "tool timed out")
	}
	if err != nil {
		return Output{Content: string(out), Metadata: map[string]any{"exit_error": err.Error()}},
			errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("command failed: %v", err))
	}
	return Output{Content: string(out)}, nil
}

func resolveWorkspacePath(root, path string) (string, error) {
	if root == "" {
		root = "."
	}
	joined := filepath.Join(root, path)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("resolve workspace root: %v", err))
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("resolve path %s: %v", path, err))
	}
	if !strings.HasPrefix(absJoined, absRoot) {
		return "", errs.NewToolError(errs.ToolPermissionDenied, fmt.Sprintf("path %s escapes workspace root", path))
	}
	return absJoined, nil
}

// Builtins returns the reference tool set: echo, read_file, write_file, shell.
func Builtins() []Tool {
	return []Tool{NewEchoTool(), NewReadFileTool(), NewWriteFileTool(), NewShellTool()}
}
