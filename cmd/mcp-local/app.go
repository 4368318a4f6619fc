package main

import (
	"context"
	"fmt"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/agent"
	"github.com/dgellow/mcp-local/internal/client"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/llm"
	"github.com/dgellow/mcp-local/internal/registry"
)

// app holds everything a command needs to run turns
type app struct {
	cfg        *config.Config
	registry   *registry.Registry
	processes  *client.ProcessManager
	dispatcher *dispatch.Dispatcher
	history    *history.Store
}

// newApp loads the config and wires the registry, processes and dispatcher.
// Live tool lists are fetched for discoverable servers before returning.
func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.MCPServers)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		processes: client.NewProcessManager(client.WithIdleTimeout(cfg.Dispatch.IdleTimeout.Std())),
	}

	if discovered := client.Discover(ctx, a.processes, reg.ListAll(), cfg.ToolTimeout); len(discovered) > 0 {
		reg = reg.WithDiscovered(discovered)
	}
	a.registry = reg

	a.dispatcher = dispatch.New(reg, a.processes,
		dispatch.WithTimeout(cfg.Dispatch.Timeout.Std()),
		dispatch.WithRetries(config.IntOrDefault(cfg.Dispatch.Retries, config.DefaultRetries)),
	)

	if cfg.History.Enabled {
		store, err := history.New(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening history: %w", err)
		}
		a.history = store
	}

	internal.LogInfoWithFields("app", "Ready", map[string]interface{}{
		"servers": reg.Len(),
		"model":   cfg.LLM,
		"history": cfg.History.Enabled,
	})
	return a, nil
}

// agent builds the query pipeline on top of the dispatcher
func (a *app) agent() *agent.Agent {
	opts := []agent.Option{
		agent.WithMaxReprompts(config.IntOrDefault(a.cfg.Dispatch.MaxReprompts, config.DefaultMaxReprompts)),
	}
	if a.history != nil {
		opts = append(opts, agent.WithRecorder(a.history))
	}
	return agent.New(llm.NewOllama(a.cfg), a.dispatcher, opts...)
}

// Close stops every server process and closes the history database
func (a *app) Close() {
	a.processes.Shutdown()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			internal.LogError("Failed to close history: %v", err)
		}
	}
}

func (a *app) serverNames() []string {
	specs := a.registry.ListAll()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names
}
