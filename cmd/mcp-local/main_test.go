package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = "mcp_config.json"
		initForce = false
		toolsDiscover = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGeneratedConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test-config.json")

	out, err := execute(t, "config-init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated default config at")

	result, err := config.ValidateFile(path)
	require.NoError(t, err)
	assert.Empty(t, result.Errors, "Generated config should have no validation errors")
	assert.Empty(t, result.Warnings, "Generated config should have no validation warnings")

	out, err = execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := execute(t, "config-init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "config-init", "--force", path)
	require.NoError(t, err)
}

func TestValidateReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm": "ollama/llama3.2", "mcpServers": {}}`), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, "error:")
}

func TestServersAndToolsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_config.json")
	require.NoError(t, config.WriteDefault(path))

	out, err := execute(t, "servers", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "MalwareBazaar")
	assert.Contains(t, out, "binja-lattice-mcp")

	out, err = execute(t, "tools", "MalwareBazaar", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "get_recent")
	assert.NotContains(t, out, "get_function_disassembly")

	_, err = execute(t, "tools", "nope", "--config", path)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, BuildVersion, strings.TrimSpace(out))
}

func TestReadCall(t *testing.T) {
	text, err := readCall(strings.NewReader("ignored"), `{"name": "get_recent", "arguments": {}}`)
	require.NoError(t, err)
	assert.Equal(t, `{"name": "get_recent", "arguments": {}}`, text)

	text, err = readCall(strings.NewReader(`{"name": "x", "arguments": {}}`), "-")
	require.NoError(t, err)
	assert.Equal(t, `{"name": "x", "arguments": {}}`, text)
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer
	printHistory(&out, []history.Entry{
		{Query: "recent malware", Server: "MalwareBazaar", Tool: "get_recent", CreatedAt: time.Now()},
		{Query: "wipe it", ErrorKind: "UnknownToolError", CreatedAt: time.Now()},
	})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "get_recent")
	assert.Contains(t, lines[1], "ok")
	assert.Contains(t, lines[2], "UnknownToolError")
}
