package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/llm"
	"github.com/dgellow/mcp-local/internal/registry"
	"github.com/dgellow/mcp-local/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays canned replies and remembers every request
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (m *scriptedModel) Chat(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return reply, nil
}

type fakeInvoker struct {
	output string
	err    error
	calls  []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any) (string, error) {
	f.calls = append(f.calls, spec.Name+"/"+tool)
	return f.output, f.err
}

type memoryRecorder struct {
	entries []*history.Entry
}

func (r *memoryRecorder) Record(ctx context.Context, e *history.Entry) error {
	e.ID = "turn-1"
	r.entries = append(r.entries, e)
	return nil
}

func newDispatcher(t *testing.T, inv dispatch.Invoker) *dispatch.Dispatcher {
	t.Helper()
	cfg := config.DefaultConfig()
	reg, err := registry.New(cfg.MCPServers)
	require.NoError(t, err)
	return dispatch.New(reg, inv)
}

func TestAsk_Success(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"name": "get_taginfo", "arguments": {"tag": "redline", "limit": 5}}`,
		"Found 5 RedLine samples, the newest is dropper.exe.",
	}}
	inv := &fakeInvoker{output: `{"data": []}`}
	rec := &memoryRecorder{}
	a := New(model, newDispatcher(t, inv), WithRecorder(rec))

	turn, err := a.Ask(context.Background(), "get taginfo for redline")
	require.NoError(t, err)

	assert.Equal(t, "MalwareBazaar", turn.Server)
	assert.Equal(t, "get_taginfo", turn.Call.Name)
	assert.Equal(t, `{"data": []}`, turn.Output)
	assert.Equal(t, "Found 5 RedLine samples, the newest is dropper.exe.", turn.Answer)
	assert.True(t, strings.HasPrefix(turn.Response, render.ResponseHeader))
	assert.Contains(t, turn.Response, "`dropper.exe`")
	assert.Equal(t, []string{"MalwareBazaar/get_taginfo"}, inv.calls)

	require.Len(t, model.requests, 2)
	first := model.requests[0]
	assert.True(t, first.JSON)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "malware intelligence assistant")
	assert.Contains(t, first.Messages[0].Content, "- get_taginfo")
	assert.Contains(t, first.Messages[0].Content, OutputContract)
	assert.False(t, model.requests[1].JSON)

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "get_taginfo", rec.entries[0].Tool)
	assert.JSONEq(t, `{"tag": "redline", "limit": 5}`, rec.entries[0].Arguments)
	assert.Empty(t, rec.entries[0].Error)
	assert.Equal(t, "turn-1", turn.ID)
}

func TestAsk_RoutesBinaryQueriesToBinja(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"name": "get_function_disassembly", "arguments": {"name": "_main"}}`,
		"push rbp",
	}}
	inv := &fakeInvoker{output: "push rbp"}
	a := New(model, newDispatcher(t, inv))

	turn, err := a.Ask(context.Background(), "show me the disassembly and pseudocode of _main")
	require.NoError(t, err)
	assert.Equal(t, "binja-lattice-mcp", turn.Server)
	assert.Contains(t, model.requests[0].Messages[0].Content, "Addresses (address, entry_point, start, end)")
}

func TestAsk_RepromptsOnParseError(t *testing.T) {
	model := &scriptedModel{replies: []string{
		"Sure! Here is the call: get_recent",
		`{"name": "get_recent", "arguments": {}}`,
		"summary",
	}}
	a := New(model, newDispatcher(t, &fakeInvoker{output: "ok"}), WithMaxReprompts(1))

	turn, err := a.Ask(context.Background(), "recent malware")
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Reprompts)

	retry := model.requests[1].Messages
	require.Len(t, retry, 4)
	assert.Equal(t, llm.RoleAssistant, retry[2].Role)
	assert.Equal(t, "Sure! Here is the call: get_recent", retry[2].Content)
	assert.Contains(t, retry[3].Content, "could not be used")
}

func TestAsk_RepromptsOnSchemaViolation(t *testing.T) {
	model := &scriptedModel{replies: []string{
		`{"name": "get_file", "arguments": {}}`,
		`{"name": "get_file", "arguments": {"sha256": "abc123"}}`,
		"done",
	}}
	inv := &fakeInvoker{output: "zip"}
	a := New(model, newDispatcher(t, inv))

	turn, err := a.Ask(context.Background(), "download sample abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, turn.Reprompts)
	assert.Len(t, inv.calls, 1, "invalid arguments never reach the server")
}

func TestAsk_ParseErrorAfterReprompts(t *testing.T) {
	model := &scriptedModel{replies: []string{"nope", "still nope"}}
	rec := &memoryRecorder{}
	a := New(model, newDispatcher(t, &fakeInvoker{}), WithMaxReprompts(1), WithRecorder(rec))

	turn, err := a.Ask(context.Background(), "recent malware")
	var parseErr *dispatch.ParseError
	require.True(t, errors.As(err, &parseErr))
	require.NotNil(t, turn)
	assert.True(t, strings.HasPrefix(turn.Response, render.ErrorHeader))
	assert.Contains(t, turn.Response, "ParseError")

	require.Len(t, rec.entries, 1)
	assert.Equal(t, "ParseError", rec.entries[0].ErrorKind)
}

func TestAsk_UnknownToolIsNotReprompted(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"name": "format_disk", "arguments": {}}`}}
	a := New(model, newDispatcher(t, &fakeInvoker{}), WithMaxReprompts(3))

	turn, err := a.Ask(context.Background(), "recent malware")
	var unknown *dispatch.UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Len(t, model.requests, 1)
	assert.Contains(t, turn.Response, "UnknownToolError")
}

func TestAsk_InvocationError(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"name": "get_recent", "arguments": {}}`}}
	inv := &fakeInvoker{err: errors.New("api key rejected")}
	a := New(model, newDispatcher(t, inv))

	turn, err := a.Ask(context.Background(), "recent malware")
	var invErr *dispatch.InvocationError
	require.True(t, errors.As(err, &invErr))
	assert.Contains(t, turn.Response, "api key rejected")
}

func TestAsk_SummaryFailureFallsBackToOutput(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"name": "get_recent", "arguments": {}}`}}
	a := New(model, newDispatcher(t, &fakeInvoker{output: "raw tool output"}))

	turn, err := a.Ask(context.Background(), "recent malware")
	require.NoError(t, err)
	assert.Equal(t, "raw tool output", turn.Answer)
}

func TestAsk_WithoutSummary(t *testing.T) {
	model := &scriptedModel{replies: []string{`{"name": "get_recent", "arguments": {}}`}}
	a := New(model, newDispatcher(t, &fakeInvoker{output: "raw"}), WithSummary(false))

	turn, err := a.Ask(context.Background(), "recent malware")
	require.NoError(t, err)
	assert.Equal(t, "raw", turn.Answer)
	assert.Len(t, model.requests, 1)
}

func TestAsk_ModelError(t *testing.T) {
	model := &scriptedModel{err: errors.New("connection refused")}
	a := New(model, newDispatcher(t, &fakeInvoker{}))

	turn, err := a.Ask(context.Background(), "recent malware")
	require.Error(t, err)
	assert.Contains(t, turn.Response, "connection refused")
}

func TestAsk_EmptyQuery(t *testing.T) {
	a := New(&scriptedModel{}, newDispatcher(t, &fakeInvoker{}))
	_, err := a.Ask(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSystemPrompt(t *testing.T) {
	spec := config.DefaultConfig().MCPServers.Get("MalwareBazaar")
	prompt := SystemPrompt(spec)

	assert.True(t, strings.HasPrefix(prompt, spec.Instructions[0]+"\n"+spec.Instructions[1]))
	assert.Contains(t, prompt, "- get_file: Download a sample as a password protected zip\n  - sha256 (string, required): SHA256 of the sample\n")
	assert.Contains(t, prompt, "- get_recent: List the most recent samples\n")
	assert.Contains(t, prompt, "  - limit (integer): maximum number of samples\n")
	assert.True(t, strings.HasSuffix(prompt, OutputContract))
	assert.NotContains(t, prompt, "replace-me", "secrets stay out of prompts")
}
