// Package registry holds the immutable set of configured MCP servers and the
// tools they advertise.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
)

// ErrNotFound is returned when no server has the requested name
var ErrNotFound = errors.New("server not found")

type toolOwner struct {
	server string
	tool   config.ToolDescriptor
}

// Registry maps server names to specs and tool names to their server.
// A Registry is never modified after construction; WithDiscovered returns a
// new value.
type Registry struct {
	servers []*config.ServerSpec
	byName  map[string]*config.ServerSpec
	tools   map[string]toolOwner
}

// New builds a registry from servers in configuration order
func New(servers []*config.ServerSpec) (*Registry, error) {
	r := &Registry{
		servers: make([]*config.ServerSpec, 0, len(servers)),
		byName:  make(map[string]*config.ServerSpec, len(servers)),
		tools:   make(map[string]toolOwner),
	}
	for _, s := range servers {
		if s.Name == "" {
			return nil, &config.ConfigError{Field: "mcpServers", Err: fmt.Errorf("server name cannot be empty")}
		}
		if _, ok := r.byName[s.Name]; ok {
			return nil, &config.ConfigError{
				Field: "mcpServers." + s.Name,
				Err:   fmt.Errorf("%w: %q", config.ErrDuplicateServer, s.Name),
			}
		}
		spec := s.Clone()
		r.servers = append(r.servers, spec)
		r.byName[spec.Name] = spec

		for _, tool := range spec.Tools {
			if owner, ok := r.tools[tool.Name]; ok {
				return nil, &config.ConfigError{
					Field: "mcpServers." + s.Name + ".tools",
					Err:   fmt.Errorf("tool %q is already provided by server %s", tool.Name, owner.server),
				}
			}
			r.tools[tool.Name] = toolOwner{server: spec.Name, tool: tool}
		}
	}
	return r, nil
}

// Lookup returns a copy of the named server spec
func (r *Registry) Lookup(name string) (*config.ServerSpec, error) {
	spec, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return spec.Clone(), nil
}

// ListAll returns copies of all server specs in configuration order
func (r *Registry) ListAll() []*config.ServerSpec {
	out := make([]*config.ServerSpec, len(r.servers))
	for i, s := range r.servers {
		out[i] = s.Clone()
	}
	return out
}

// Len returns the number of servers
func (r *Registry) Len() int { return len(r.servers) }

// ToolOwner returns the server advertising tool, and the tool's descriptor
func (r *Registry) ToolOwner(tool string) (*config.ServerSpec, config.ToolDescriptor, bool) {
	owner, ok := r.tools[tool]
	if !ok {
		return nil, config.ToolDescriptor{}, false
	}
	return r.byName[owner.server].Clone(), owner.tool, true
}

// Tools returns the tools advertised by server, in declaration order
func (r *Registry) Tools(server string) []config.ToolDescriptor {
	spec, ok := r.byName[server]
	if !ok {
		return nil
	}
	return append([]config.ToolDescriptor(nil), spec.Tools...)
}

// Choose picks the server for a natural-language query: the first server,
// in configuration order, with a keyword contained in the lower-cased query.
// Without a match the first server is used.
func (r *Registry) Choose(query string) *config.ServerSpec {
	if len(r.servers) == 0 {
		return nil
	}
	q := strings.ToLower(query)
	for _, s := range r.servers {
		for _, kw := range s.Keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				return s.Clone()
			}
		}
	}
	return r.servers[0].Clone()
}

// WithDiscovered returns a registry whose servers also advertise the tools
// listed by the live servers. Configured descriptors take precedence; a tool
// already owned by another server is skipped.
func (r *Registry) WithDiscovered(discovered map[string][]config.ToolDescriptor) *Registry {
	next := &Registry{
		servers: make([]*config.ServerSpec, 0, len(r.servers)),
		byName:  make(map[string]*config.ServerSpec, len(r.servers)),
		tools:   make(map[string]toolOwner, len(r.tools)),
	}
	for name, owner := range r.tools {
		next.tools[name] = owner
	}

	for _, s := range r.servers {
		spec := s.Clone()
		for _, tool := range discovered[spec.Name] {
			if owner, ok := next.tools[tool.Name]; ok {
				if owner.server != spec.Name {
					internal.LogWarnWithFields("registry", "Skipping discovered tool owned by another server", map[string]interface{}{
						"tool":   tool.Name,
						"server": spec.Name,
						"owner":  owner.server,
					})
				}
				continue
			}
			spec.Tools = append(spec.Tools, tool)
			next.tools[tool.Name] = toolOwner{server: spec.Name, tool: tool}
		}
		next.servers = append(next.servers, spec)
		next.byName[spec.Name] = spec
	}
	return next
}
