package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClientInfo identifies this program to MCP servers
var ClientInfo = mcp.Implementation{Name: "mcp-local", Version: "dev"}

const (
	// closeGrace is how long a server may take to exit once its stdin closes
	closeGrace = 2 * time.Second

	maxStderrLine = 1 << 20
)

// mcpClient is the subset of the mcp-go client used here
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// ToolError is a result the server itself flagged as an error
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return "tool reported an error: " + e.Message
}

// Client represents a connection to one MCP server process
type Client struct {
	name   string
	client mcpClient
	kill   context.CancelFunc
}

// LaunchEnv returns the environment overlay for spec's process, envFile first
// and env on top, as sorted KEY=VALUE pairs
func LaunchEnv(spec *config.ServerSpec) ([]string, error) {
	env, err := spec.ProcessEnv()
	if err != nil {
		return nil, err
	}
	envs := make([]string, 0, len(env))
	for k, v := range env {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(envs)
	return envs, nil
}

// launchPaths expands "~" in the command and working directory
func launchPaths(spec *config.ServerSpec) (command, cwd string, err error) {
	if command, err = internal.ExpandHome(spec.Command); err != nil {
		return "", "", err
	}
	if cwd, err = internal.ExpandHome(spec.Cwd); err != nil {
		return "", "", err
	}
	return command, cwd, nil
}

// NewMCPClient launches spec's command as a stdio MCP server. The process runs
// in spec's working directory with its env overlaid on the inherited
// environment.
func NewMCPClient(spec *config.ServerSpec) (*Client, error) {
	if spec.Command == "" {
		return nil, errors.New("command is required for stdio transport")
	}
	command, cwd, err := launchPaths(spec)
	if err != nil {
		return nil, err
	}
	envs, err := LaunchEnv(spec)
	if err != nil {
		return nil, err
	}
	args := append([]string(nil), spec.Args...)

	procCtx, kill := context.WithCancel(context.Background())
	mcpClient, err := client.NewStdioMCPClientWithOptions(command, envs, args,
		transport.WithCommandFunc(func(_ context.Context, _ string, _ []string, _ []string) (*exec.Cmd, error) {
			cmd := exec.CommandContext(procCtx, command, args...)
			cmd.Dir = cwd
			cmd.Env = append(os.Environ(), envs...)
			return cmd, nil
		}),
	)
	if err != nil {
		kill()
		return nil, err
	}
	if stderr, ok := client.GetStderr(mcpClient); ok {
		go drainStderr(spec.Name, stderr)
	}

	internal.LogDebugWithFields("client", "Launched MCP server", map[string]interface{}{
		"server":  spec.Name,
		"command": command,
		"cwd":     cwd,
	})
	return &Client{name: spec.Name, client: mcpClient, kill: kill}, nil
}

// drainStderr forwards the server's stderr to the debug log until the pipe
// closes. A server blocks once its stderr pipe fills, so r is always read to
// the end.
func drainStderr(server string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStderrLine)
	for scanner.Scan() {
		internal.LogDebugWithFields("client", "Server stderr", map[string]interface{}{
			"server": server,
			"line":   scanner.Text(),
		})
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		internal.LogDebugWithFields("client", "Discarding server stderr", map[string]interface{}{
			"server": server,
			"error":  err.Error(),
		})
		_, _ = io.Copy(io.Discard, r)
	}
}

// Initialize performs the MCP handshake
func (c *Client) Initialize(ctx context.Context) error {
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = ClientInfo
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	if _, err := c.client.Initialize(ctx, initRequest); err != nil {
		return err
	}
	internal.Logf("<%s> Successfully initialized MCP client", c.name)
	return nil
}

// ListTools returns every tool the server advertises, following pagination
func (c *Client) ListTools(ctx context.Context) ([]config.ToolDescriptor, error) {
	var descriptors []config.ToolDescriptor
	toolsRequest := mcp.ListToolsRequest{}
	for {
		tools, err := c.client.ListTools(ctx, toolsRequest)
		if err != nil {
			return nil, err
		}
		if len(tools.Tools) == 0 {
			break
		}
		internal.LogDebug("<%s> Successfully listed %d tools", c.name, len(tools.Tools))
		for _, tool := range tools.Tools {
			descriptor, err := toDescriptor(tool)
			if err != nil {
				internal.LogWarn("<%s> Ignoring tool %s: %v", c.name, tool.Name, err)
				continue
			}
			descriptors = append(descriptors, descriptor)
		}
		if tools.NextCursor == "" {
			break
		}
		toolsRequest.Params.Cursor = tools.NextCursor
	}
	return descriptors, nil
}

func toDescriptor(tool mcp.Tool) (config.ToolDescriptor, error) {
	data, err := json.Marshal(tool)
	if err != nil {
		return config.ToolDescriptor{}, err
	}
	var descriptor config.ToolDescriptor
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return config.ToolDescriptor{}, err
	}
	return descriptor, nil
}

// CallTool calls a tool and returns its text output. Results flagged as errors
// are returned as *ToolError.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := c.client.CallTool(ctx, request)
	if err != nil {
		return "", err
	}
	text := resultText(result)
	if result.IsError {
		return "", &ToolError{Message: text}
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			data, err := json.Marshal(c)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// Ping checks that the server still answers
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close closes the server's stdin and waits for it to exit. A server still
// running after closeGrace is killed.
func (c *Client) Close() error {
	if c.kill != nil {
		timer := time.AfterFunc(closeGrace, c.kill)
		defer timer.Stop()
		defer c.kill()
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
