package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"golang.org/x/sync/singleflight"
)

// ErrManagerClosed is returned for calls made after Shutdown
var ErrManagerClosed = errors.New("process manager is shut down")

const pingTimeout = 2 * time.Second

// ProcessManager owns one long-lived process per stdio server. Processes are
// started on first use, shared by later calls, and stopped when idle, dead, or
// on Shutdown. Calls to one server are serialized.
type ProcessManager struct {
	mu              sync.Mutex
	processes       map[string]*process
	starts          singleflight.Group
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	createClient    func(ctx context.Context, spec *config.ServerSpec) (*Client, error)
	runExec         func(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any) (string, error)
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	closed          bool
	wg              sync.WaitGroup
}

type process struct {
	client   *Client
	name     string
	started  time.Time
	lastUsed atomic.Pointer[time.Time]
	// one slot: holding it means a call is in flight
	busy chan struct{}
}

func (p *process) touch() {
	now := time.Now()
	p.lastUsed.Store(&now)
}

// ManagerOption configures the process manager
type ManagerOption func(*ProcessManager)

// WithIdleTimeout sets how long an unused process is kept alive
func WithIdleTimeout(timeout time.Duration) ManagerOption {
	return func(pm *ProcessManager) {
		pm.idleTimeout = timeout
	}
}

// WithCleanupInterval sets how often idle processes are looked for
func WithCleanupInterval(interval time.Duration) ManagerOption {
	return func(pm *ProcessManager) {
		pm.cleanupInterval = interval
	}
}

// WithClientCreator sets a custom client creator function (for testing)
func WithClientCreator(creator func(ctx context.Context, spec *config.ServerSpec) (*Client, error)) ManagerOption {
	return func(pm *ProcessManager) {
		pm.createClient = creator
	}
}

// NewProcessManager creates a process manager and starts its idle reaper
func NewProcessManager(opts ...ManagerOption) *ProcessManager {
	pm := &ProcessManager{
		processes:       make(map[string]*process),
		idleTimeout:     config.DefaultIdleTimeout,
		cleanupInterval: time.Minute,
		createClient:    startClient,
		runExec:         RunExec,
		stopCleanup:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pm)
	}
	if pm.cleanupInterval > pm.idleTimeout && pm.idleTimeout > 0 {
		pm.cleanupInterval = pm.idleTimeout
	}

	pm.wg.Add(1)
	go pm.startCleanupRoutine()
	return pm
}

func startClient(ctx context.Context, spec *config.ServerSpec) (*Client, error) {
	c, err := NewMCPClient(spec)
	if err != nil {
		return nil, err
	}
	if err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

// Invoke calls tool on spec's server. Exec servers run once per call; stdio
// servers reuse their process. Failures to reach the process wrap
// dispatch.ErrUnavailable.
func (pm *ProcessManager) Invoke(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any) (string, error) {
	if spec.Transport() == config.TransportExec {
		return pm.runExec(ctx, spec, tool, args)
	}

	p, err := pm.acquire(ctx, spec)
	if err != nil {
		return "", err
	}
	defer pm.release(p)

	output, err := p.client.CallTool(ctx, tool, args)
	if err == nil {
		return output, nil
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return "", err
	}
	if ctx.Err() != nil {
		// the process may still be working on the abandoned request
		pm.remove(p)
		return "", fmt.Errorf("%w: %v", ctx.Err(), err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if pingErr := p.client.Ping(pingCtx); pingErr != nil {
		internal.LogWarnWithFields("process_manager", "Server stopped answering", map[string]interface{}{
			"server": spec.Name,
			"error":  err.Error(),
		})
		pm.remove(p)
		return "", fmt.Errorf("%w: %v", dispatch.ErrUnavailable, err)
	}
	return "", err
}

// ListTools asks spec's server for its tool list
func (pm *ProcessManager) ListTools(ctx context.Context, spec *config.ServerSpec) ([]config.ToolDescriptor, error) {
	if spec.Transport() == config.TransportExec {
		return nil, fmt.Errorf("server %s uses the exec transport and cannot list tools", spec.Name)
	}
	p, err := pm.acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer pm.release(p)
	return p.client.ListTools(ctx)
}

// acquire returns the running process for spec, starting it if needed, and
// waits for exclusive use of it
func (pm *ProcessManager) acquire(ctx context.Context, spec *config.ServerSpec) (*process, error) {
	for {
		p, err := pm.getOrStart(ctx, spec)
		if err != nil {
			return nil, err
		}
		select {
		case p.busy <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// stopped while we waited
		if !pm.isCurrent(p) {
			<-p.busy
			continue
		}
		p.touch()
		return p, nil
	}
}

func (pm *ProcessManager) isCurrent(p *process) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.processes[p.name] == p
}

func (pm *ProcessManager) release(p *process) {
	p.touch()
	<-p.busy
}

func (pm *ProcessManager) getOrStart(ctx context.Context, spec *config.ServerSpec) (*process, error) {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil, ErrManagerClosed
	}
	p, ok := pm.processes[spec.Name]
	pm.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := pm.starts.Do(spec.Name, func() (interface{}, error) {
		pm.mu.Lock()
		if p, ok := pm.processes[spec.Name]; ok {
			pm.mu.Unlock()
			return p, nil
		}
		pm.mu.Unlock()

		start := time.Now()
		c, err := pm.createClient(ctx, spec)
		if err != nil {
			internal.LogErrorWithFields("process_manager", "Failed to start server", map[string]interface{}{
				"server": spec.Name,
				"error":  err.Error(),
			})
			return nil, fmt.Errorf("%w: starting %s: %v", dispatch.ErrUnavailable, spec.Name, err)
		}

		p := &process{client: c, name: spec.Name, started: start, busy: make(chan struct{}, 1)}
		p.touch()

		pm.mu.Lock()
		defer pm.mu.Unlock()
		if pm.closed {
			_ = c.Close()
			return nil, ErrManagerClosed
		}
		pm.processes[spec.Name] = p

		internal.LogInfoWithFields("process_manager", "Started server", map[string]interface{}{
			"server":  spec.Name,
			"startup": time.Since(start).String(),
		})
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*process), nil
}

// remove stops p if it is still the registered process for its server
func (pm *ProcessManager) remove(p *process) {
	pm.mu.Lock()
	current, ok := pm.processes[p.name]
	if ok && current == p {
		delete(pm.processes, p.name)
	}
	pm.mu.Unlock()

	if !ok || current != p {
		return
	}
	if err := p.client.Close(); err != nil {
		internal.LogErrorWithFields("process_manager", "Failed to close client", map[string]interface{}{
			"server": p.name,
			"error":  err.Error(),
		})
	}
	internal.LogInfoWithFields("process_manager", "Stopped server", map[string]interface{}{
		"server": p.name,
		"uptime": time.Since(p.started).String(),
	})
}

// Running returns the names of servers with a live process
func (pm *ProcessManager) Running() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	names := make([]string, 0, len(pm.processes))
	for name := range pm.processes {
		names = append(names, name)
	}
	return names
}

// Shutdown stops the reaper and every running process
func (pm *ProcessManager) Shutdown() {
	pm.stopOnce.Do(func() {
		close(pm.stopCleanup)
	})
	pm.wg.Wait()

	pm.mu.Lock()
	pm.closed = true
	processes := make([]*process, 0, len(pm.processes))
	for _, p := range pm.processes {
		processes = append(processes, p)
	}
	pm.mu.Unlock()

	for _, p := range processes {
		pm.remove(p)
	}
}

func (pm *ProcessManager) startCleanupRoutine() {
	defer pm.wg.Done()
	if pm.idleTimeout <= 0 {
		<-pm.stopCleanup
		return
	}

	ticker := time.NewTicker(pm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.cleanupIdleProcesses()
		case <-pm.stopCleanup:
			return
		}
	}
}

// cleanupIdleProcesses stops processes unused for longer than idleTimeout.
// A process with a call in flight is never idle.
func (pm *ProcessManager) cleanupIdleProcesses() {
	now := time.Now()

	pm.mu.Lock()
	idle := make([]*process, 0)
	for _, p := range pm.processes {
		lastUsed := p.lastUsed.Load()
		if lastUsed != nil && now.Sub(*lastUsed) > pm.idleTimeout {
			idle = append(idle, p)
		}
	}
	pm.mu.Unlock()

	for _, p := range idle {
		select {
		case p.busy <- struct{}{}:
		default:
			continue
		}
		internal.LogInfoWithFields("process_manager", "Stopping idle server", map[string]interface{}{
			"server":  p.name,
			"timeout": pm.idleTimeout.String(),
		})
		pm.remove(p)
		<-p.busy
	}
}
