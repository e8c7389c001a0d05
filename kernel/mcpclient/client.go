// ABOUTME: MCP stdio client: connects to an external tool server and registers its tools into the Tool Registry.
// ABOUTME: Adapted from sam-saffron-jarvis-term-llm's internal/mcp.Client Start/Stop/CallTool/refreshTools.

package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/haasonsaas/bedrockkernel/kernel/errs"
	"github.com/haasonsaas/bedrockkernel/kernel/tool"
)

// ServerConfig describes how to launch one MCP stdio server.
type ServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// Client wraps one MCP server connection, opened by Start and closed by
// Stop. The kernel's InitClients and EndSession do not call either.
type Client struct {
	name   string
	config ServerConfig

	mu      sync.RWMutex
	client  *mcp.Client
	session *mcp.ClientSession
	running bool
}

// NewClient creates an MCP client for the named server.
func NewClient(name string, config ServerConfig) *Client {
	return &Client{name: name, config: config}
}

// Name returns the server name this client was constructed for.
func (c *Client) Name() string { return c.name }

// Start connects to the MCP server over stdio.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	c.client = mcp.NewClient(&mcp.Implementation{Name: "bedrock", Version: "1.0.0"}, nil)

	cmd := exec.CommandContext(ctx, c.config.Command, c.config.Args...)
	for k, v := range c.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	transport := &mcp.CommandTransport{Command: cmd}
	session, err := c.client.Connect(ctx, transport, nil)
	if err != nil {
		return errs.NewConfigError(fmt.Sprintf("connect to MCP server %s", c.name), err)
	}
	c.session = session
	c.running = true
	return nil
}

// Stop closes the MCP server connection.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.running = false
	return err
}

// IsRunning reports whether the client is currently connected.
func (c *Client) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// RegisterTools lists the server's tools and registers each as a
// kernel/tool.Tool in reg, proxying Execute to CallTool.
func (c *Client) RegisterTools(ctx context.Context, reg *tool.Registry) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return errs.NewConfigError(fmt.Sprintf("MCP server %s is not running", c.name), nil)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return errs.NewConfigError(fmt.Sprintf("list tools from %s", c.name), err)
	}

	for _, t := range result.Tools {
		schema := json.RawMessage(`{"type":"object"}`)
		if t.InputSchema != nil {
			if encoded, err := json.Marshal(t.InputSchema); err == nil {
				schema = encoded
			}
		}
		if err := reg.Register(&remoteTool{
			name:        t.Name,
			description: t.Description,
			schema:      schema,
			client:      c,
		}); err != nil {
			return err
		}
	}
	return nil
}

// remoteTool adapts one MCP server tool to the kernel's Tool interface.
type remoteTool struct {
	name        string
	description string
	schema      json.RawMessage
	client      *Client
}

func (t *remoteTool) Name() string                        { return t.name }
func (t *remoteTool) Description() string                 { return t.description }
func (t *remoteTool) ParametersSchema() json.RawMessage    { return t.schema }

func (t *remoteTool) Execute(ctx context.Context, args map[string]any, _ tool.Context) (tool.Output, error) {
	t.client.mu.RLock()
	session := t.client.session
	running := t.client.running
	t.client.mu.RUnlock()
	if !running || session == nil {
		return tool.Output{}, errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("MCP server %s is not running", t.client.name))
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: t.name, Arguments: args})
	if err != nil {
		return tool.Output{}, errs.NewToolError(errs.ToolExecutionError, fmt.Sprintf("call tool %s: %v", t.name, err))
	}
	content := formatContent(result.Content)
	if result.IsError {
		return tool.Output{}, errs.NewToolError(errs.ToolExecutionError, content)
	}
	return tool.Output{Content: content}, nil
}

func formatContent(content []mcp.Content) string {
	var out string
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			out += v.Text
		default:
			if data, err := json.Marshal(c); err == nil {
				out += string(data)
			}
		}
	}
	return out
}
