package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_Query(t *testing.T) {
	ollama, url := newFakeOllama(t, `{"name": "get_function_at", "arguments": {"address": "4160"}}`)
	env := newTestEnv(t, url)
	baseURL := env.serve(t)

	status, body := apiRequest(t, http.MethodPost, baseURL+"/query", `{"query": "which function is at address 4160?"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "binserver", body["server"])
	assert.Equal(t, "get_function_at", body["tool"])
	assert.Contains(t, body["response"], "## MCP Agent Response")
	assert.Contains(t, body["response"], "parse_header")
	assert.NotEmpty(t, body["id"])

	assert.Contains(t, ollama.prompt(), "- get_function_at: Name of the function containing an address")

	status, body = apiRequest(t, http.MethodGet, baseURL+"/history?limit=5", "")
	require.Equal(t, http.StatusOK, status)
	turns, ok := body["turns"].([]any)
	require.True(t, ok)
	require.Len(t, turns, 1)
	assert.Equal(t, "which function is at address 4160?", turns[0].(map[string]any)["query"])
}

func TestServe_QueryUnknownTool(t *testing.T) {
	_, url := newFakeOllama(t, `{"name": "format_disk", "arguments": {}}`)
	env := newTestEnv(t, url)
	baseURL := env.serve(t)

	status, body := apiRequest(t, http.MethodPost, baseURL+"/query", `{"query": "wipe the function table"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_tool", body["error"])
	assert.Contains(t, body["response"], "UnknownToolError")
}

func TestServe_Call(t *testing.T) {
	env := newTestEnv(t, "")
	baseURL := env.serve(t)

	status, body := apiRequest(t, http.MethodPost, baseURL+"/call", `{"name": "get_function_at", "arguments": {"address": "0x10A0"}}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "0x10A0: decrypt_config", body["output"])

	status, body = apiRequest(t, http.MethodPost, baseURL+"/call", `{"name": "get_function_at", "arguments": {"address": 2}}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body["message"], "no function at 0x2")
}

func TestServe_Servers(t *testing.T) {
	env := newTestEnv(t, "")
	baseURL := env.serve(t)

	status, body := apiRequest(t, http.MethodGet, baseURL+"/servers", "")
	require.Equal(t, http.StatusOK, status)
	servers, ok := body["servers"].([]any)
	require.True(t, ok)
	require.Len(t, servers, 2)

	bin := servers[0].(map[string]any)
	assert.Equal(t, "binserver", bin["name"])
	assert.Contains(t, bin["tools"], "get_function_at")
	assert.NotContains(t, bin, "command")
}

func TestServe_RequiresToken(t *testing.T) {
	env := newTestEnv(t, "")
	baseURL := env.serve(t)

	resp, err := http.Get(baseURL + "/servers")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
