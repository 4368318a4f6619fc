package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockMCPClient implements mcpClient for testing
type mockMCPClient struct {
	mu       sync.Mutex
	closed   bool
	calls    int
	inflight int32
	maxSeen  int32
	pingErr  error
	callFn   func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	pages    [][]mcp.Tool
}

func (m *mockMCPClient) Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{}, nil
}

func (m *mockMCPClient) ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	page := 0
	if request.Params.Cursor != "" {
		_, _ = fmt.Sscanf(string(request.Params.Cursor), "page-%d", &page)
	}
	result := &mcp.ListToolsResult{}
	if page < len(m.pages) {
		result.Tools = m.pages[page]
	}
	if page+1 < len(m.pages) {
		result.NextCursor = mcp.Cursor(fmt.Sprintf("page-%d", page+1))
	}
	return result, nil
}

func (m *mockMCPClient) CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)
	for {
		seen := atomic.LoadInt32(&m.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&m.maxSeen, seen, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls++
	fn := m.callFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, request)
	}
	return mcp.NewToolResultText("called " + request.Params.Name), nil
}

func (m *mockMCPClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockMCPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockMCPClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockCreator struct {
	mu      sync.Mutex
	created []*mockMCPClient
	setup   func(*mockMCPClient)
	delay   time.Duration
	err     error
}

func (c *mockCreator) create(ctx context.Context, spec *config.ServerSpec) (*Client, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	m := &mockMCPClient{}
	if c.setup != nil {
		c.setup(m)
	}
	c.mu.Lock()
	c.created = append(c.created, m)
	c.mu.Unlock()
	return &Client{name: spec.Name, client: m}, nil
}

func (c *mockCreator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

func (c *mockCreator) get(i int) *mockMCPClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created[i]
}

var binja = &config.ServerSpec{Name: "binja-lattice-mcp", Command: "binja"}

func TestProcessManager_StartsLazilyAndReuses(t *testing.T) {
	creator := &mockCreator{}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	assert.Equal(t, 0, creator.count())

	out, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	require.NoError(t, err)
	assert.Equal(t, "called get_binary_info", out)

	_, err = pm.Invoke(context.Background(), binja, "get_all_function_names", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, creator.count())
	assert.Equal(t, 2, creator.get(0).calls)
	assert.Equal(t, []string{"binja-lattice-mcp"}, pm.Running())
}

func TestProcessManager_ConcurrentFirstUseStartsOnce(t *testing.T) {
	creator := &mockCreator{delay: 20 * time.Millisecond}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creator.count())
	assert.Equal(t, 10, creator.get(0).calls)
}

func TestProcessManager_SerializesCallsPerServer(t *testing.T) {
	creator := &mockCreator{setup: func(m *mockMCPClient) {
		m.callFn = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			time.Sleep(5 * time.Millisecond)
			return mcp.NewToolResultText("ok"), nil
		}
	}}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&creator.get(0).maxSeen))
}

func TestProcessManager_ToolErrorKeepsProcess(t *testing.T) {
	creator := &mockCreator{setup: func(m *mockMCPClient) {
		m.callFn = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("no such function"), nil
		}
	}}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	_, err := pm.Invoke(context.Background(), binja, "get_function_disassembly", map[string]any{"name": "nope"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "no such function", toolErr.Message)
	assert.False(t, errors.Is(err, dispatch.ErrUnavailable))
	assert.False(t, creator.get(0).IsClosed())
}

func TestProcessManager_DeadProcessIsRestarted(t *testing.T) {
	creator := &mockCreator{}
	creator.setup = func(m *mockMCPClient) {
		if creator.count() == 0 {
			m.pingErr = errors.New("broken pipe")
			m.callFn = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return nil, errors.New("transport error: broken pipe")
			}
		}
	}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	assert.ErrorIs(t, err, dispatch.ErrUnavailable)
	assert.True(t, creator.get(0).IsClosed())

	out, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	require.NoError(t, err)
	assert.Equal(t, "called get_binary_info", out)
	assert.Equal(t, 2, creator.count())
}

func TestProcessManager_StartFailureIsUnavailable(t *testing.T) {
	creator := &mockCreator{err: errors.New("exec: not found")}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	assert.ErrorIs(t, err, dispatch.ErrUnavailable)
	assert.Contains(t, err.Error(), "exec: not found")
}

func TestProcessManager_TimeoutDropsProcess(t *testing.T) {
	creator := &mockCreator{setup: func(m *mockMCPClient) {
		m.callFn = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pm.Invoke(ctx, binja, "get_binary_info", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, creator.get(0).IsClosed())
	assert.Empty(t, pm.Running())
}

func TestProcessManager_ReapsIdleProcesses(t *testing.T) {
	creator := &mockCreator{}
	pm := NewProcessManager(
		WithClientCreator(creator.create),
		WithIdleTimeout(20*time.Millisecond),
		WithCleanupInterval(5*time.Millisecond),
	)
	defer pm.Shutdown()

	_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return creator.get(0).IsClosed()
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, pm.Running())

	_, err = pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, creator.count())
}

func TestProcessManager_Shutdown(t *testing.T) {
	creator := &mockCreator{}
	pm := NewProcessManager(WithClientCreator(creator.create))

	other := &config.ServerSpec{Name: "MalwareBazaar", Command: "mb"}
	_, err := pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	require.NoError(t, err)
	_, err = pm.Invoke(context.Background(), other, "get_recent", nil)
	require.NoError(t, err)

	pm.Shutdown()
	assert.True(t, creator.get(0).IsClosed())
	assert.True(t, creator.get(1).IsClosed())

	_, err = pm.Invoke(context.Background(), binja, "get_binary_info", nil)
	assert.ErrorIs(t, err, ErrManagerClosed)

	// idempotent
	pm.Shutdown()
}

func TestProcessManager_ListToolsFollowsPages(t *testing.T) {
	creator := &mockCreator{setup: func(m *mockMCPClient) {
		m.pages = [][]mcp.Tool{
			{mcp.NewTool("get_binary_info", mcp.WithDescription("Summary of the open binary"))},
			{mcp.NewTool("get_function_disassembly", mcp.WithString("name", mcp.Required()))},
		}
	}}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	tools, err := pm.ListTools(context.Background(), binja)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "Summary of the open binary", tools[0].Description)
	require.NotNil(t, tools[1].InputSchema)
	assert.True(t, tools[1].InputSchema.Type.Has("object"))
	assert.Equal(t, []string{"name"}, tools[1].InputSchema.Required)
	assert.Contains(t, tools[1].InputSchema.Properties, "name")
}

func TestDiscover(t *testing.T) {
	creator := &mockCreator{setup: func(m *mockMCPClient) {
		m.pages = [][]mcp.Tool{{mcp.NewTool("live_tool")}}
	}}
	pm := NewProcessManager(WithClientCreator(creator.create))
	defer pm.Shutdown()

	specs := []*config.ServerSpec{
		binja,
		{Name: "configured", Command: "c", Tools: []config.ToolDescriptor{{Name: "t"}}},
		{Name: "script", Command: "/bin/sh", TransportType: config.TransportExec},
	}
	found := Discover(context.Background(), pm, specs, func(*config.ServerSpec) time.Duration { return time.Second })

	require.Len(t, found, 1)
	require.Len(t, found["binja-lattice-mcp"], 1)
	assert.Equal(t, "live_tool", found["binja-lattice-mcp"][0].Name)
}

func TestDiscover_SkipsStalledServer(t *testing.T) {
	pm := NewProcessManager()
	defer pm.Shutdown()

	specs := []*config.ServerSpec{{Name: "mute", Command: "sleep", Args: []string{"30"}}}
	done := make(chan map[string][]config.ToolDescriptor, 1)
	go func() {
		done <- Discover(context.Background(), pm, specs, func(*config.ServerSpec) time.Duration {
			return 200 * time.Millisecond
		})
	}()

	select {
	case found := <-done:
		assert.Empty(t, found)
	case <-time.After(10 * time.Second):
		t.Fatal("discovery did not give up on a server that never answers initialize")
	}
	assert.Empty(t, pm.Running())
}
