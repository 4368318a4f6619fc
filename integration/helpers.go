package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

// testEnv is a config directory wired to the test servers
type testEnv struct {
	dir        string
	configPath string
	apiAddr    string
}

// newTestEnv writes a config with the stdio binserver and an exec echo server.
// ollamaURL may be empty for commands that never reach the model.
func newTestEnv(t *testing.T, ollamaURL string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "mcp_config.json"),
		apiAddr:    freeAddr(t),
	}

	if ollamaURL == "" {
		ollamaURL = "http://127.0.0.1:1"
	}

	cfg := map[string]any{
		"llm":        "ollama/test-model",
		"llmOptions": map[string]any{"baseURL": ollamaURL, "timeout": "10s"},
		"dispatch":   map[string]any{"timeout": "10s", "retries": 1, "maxReprompts": 1},
		"api":        map[string]any{"addr": env.apiAddr, "authTokens": []string{testToken}},
		"history":    map[string]any{"enabled": true, "path": filepath.Join(dir, "history.db")},
		"mcpServers": map[string]any{
			"binserver": map[string]any{
				"description":     "Symbol lookups in the loaded binary",
				"keywords":        []string{"function", "address", "symbol"},
				"format_hex_keys": true,
				"address_keys":    []string{"address"},
				"command":         binServerBin,
				"instructions":    []string{"You inspect binaries by calling exactly one tool."},
			},
			"echo": map[string]any{
				"description":   "Echoes the call back",
				"keywords":      []string{"echo"},
				"transportType": "exec",
				"command":       "/bin/sh",
				"args":          []string{"-c", "cat"},
				"instructions":  []string{"You repeat text."},
				"tools": []map[string]any{{
					"name":        "echo",
					"description": "Repeat text",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"text": map[string]any{"type": "string"}},
						"required":   []string{"text"},
					},
				}},
			},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.configPath, data, 0o600))
	return env
}

// setServerEnv rewrites the config so server runs with env
func (e *testEnv) setServerEnv(t *testing.T, server string, env map[string]string) {
	t.Helper()
	data, err := os.ReadFile(e.configPath)
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))

	spec, ok := cfg["mcpServers"].(map[string]any)[server].(map[string]any)
	require.True(t, ok, "no server %s in config", server)
	spec["env"] = env

	data, err = json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(e.configPath, data, 0o600))
}

// run executes mcp-local against the env's config
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, mcpLocalBin, append([]string{"--config", e.configPath}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		t.Logf("mcp-local %s stderr:\n%s", strings.Join(args, " "), stderr.String())
	}
	return stdout.String(), err
}

// serve starts `mcp-local serve` and waits until /health answers
func (e *testEnv) serve(t *testing.T) string {
	t.Helper()
	cmd := exec.Command(mcpLocalBin, "--config", e.configPath, "serve")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Start())

	t.Cleanup(func() {
		_ = cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() {
			_ = cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
		}
		if t.Failed() {
			t.Logf("mcp-local serve stderr:\n%s", stderr.String())
		}
	})

	baseURL := "http://" + e.apiAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 20*time.Second, 100*time.Millisecond, "server never became healthy")
	return baseURL
}

// apiRequest sends an authenticated request and decodes the JSON body
func apiRequest(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 30 * time.Second}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

// fakeOllama replays tool-selection replies for JSON requests and answers
// summary requests with a fixed prefix plus the tool output it was given
type fakeOllama struct {
	mu         sync.Mutex
	toolCalls  []string
	summaries  int
	lastPrompt string
}

func newFakeOllama(t *testing.T, toolCalls ...string) (*fakeOllama, string) {
	t.Helper()
	f := &fakeOllama{toolCalls: toolCalls}
	ts := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(ts.Close)
	return f, ts.URL
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Format   string `json:"format"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	var content string
	if req.Format == "json" {
		f.lastPrompt = req.Messages[0].Content
		if len(f.toolCalls) > 0 {
			content = f.toolCalls[0]
			f.toolCalls = f.toolCalls[1:]
		}
	} else {
		f.summaries++
		last := req.Messages[len(req.Messages)-1].Content
		content = fmt.Sprintf("Summary of `%s`", last[strings.LastIndex(last, "\n")+1:])
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    true,
	})
}

func (f *fakeOllama) prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}
