package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ConfigError reports a configuration that cannot be used.
// It is fatal: the process should refuse to start.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load reads, decodes, resolves and validates the configuration at path.
// Every failure is a *ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("reading config file: %w", err)}
	}

	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Parse decodes a configuration document. YAML documents are converted to
// JSON first so both formats share one decoder.
func Parse(data []byte, yamlDoc bool) (*Config, error) {
	if yamlDoc {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parsing config YAML: %w", err)}
		}
		data = converted
	}

	// Required keys are checked on the raw document so that a missing
	// field is reported as missing rather than as an empty value
	var rawConfig map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing config JSON: %w", err)}
	}
	for _, field := range []string{"llm", "mcpServers"} {
		if _, ok := rawConfig[field]; !ok {
			return nil, &ConfigError{Field: field, Err: fmt.Errorf("field is required")}
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parsing config: %w", err)}
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ValidateConfig checks semantic constraints of a decoded configuration
func ValidateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.LLM) == "" {
		return &ConfigError{Field: "llm", Err: fmt.Errorf("model identifier is required")}
	}
	if len(cfg.MCPServers) == 0 {
		return &ConfigError{Field: "mcpServers", Err: fmt.Errorf("at least one server is required")}
	}

	toolOwners := make(map[string]string)
	seen := make(map[string]bool)
	for _, server := range cfg.MCPServers {
		field := "mcpServers." + server.Name
		if seen[server.Name] {
			return &ConfigError{Field: field, Err: fmt.Errorf("%w: %q", ErrDuplicateServer, server.Name)}
		}
		seen[server.Name] = true

		if err := validateServer(server); err != nil {
			return &ConfigError{Field: field, Err: err}
		}

		for _, tool := range server.Tools {
			if owner, ok := toolOwners[tool.Name]; ok {
				return &ConfigError{
					Field: field + ".tools",
					Err:   fmt.Errorf("tool %q is already provided by server %s", tool.Name, owner),
				}
			}
			toolOwners[tool.Name] = server.Name
		}
	}

	if cfg.Dispatch.Timeout < 0 || cfg.Dispatch.IdleTimeout < 0 || cfg.LLMOptions.Timeout < 0 {
		return &ConfigError{Field: "dispatch", Err: fmt.Errorf("timeouts must not be negative")}
	}
	if IntOrDefault(cfg.Dispatch.Retries, 0) < 0 || IntOrDefault(cfg.Dispatch.MaxReprompts, 0) < 0 {
		return &ConfigError{Field: "dispatch", Err: fmt.Errorf("retries and maxReprompts must not be negative")}
	}
	return nil
}

func validateServer(server *ServerSpec) error {
	if strings.TrimSpace(server.Command) == "" {
		return fmt.Errorf("command is required")
	}
	switch server.TransportType {
	case "", TransportStdio, TransportExec:
	default:
		return fmt.Errorf("invalid transportType: %s", server.TransportType)
	}
	if server.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	names := make(map[string]bool)
	for i, tool := range server.Tools {
		if tool.Name == "" {
			return fmt.Errorf("tools[%d]: name is required", i)
		}
		if names[tool.Name] {
			return fmt.Errorf("tools[%d]: duplicate tool %q", i, tool.Name)
		}
		names[tool.Name] = true
		if tool.InputSchema != nil && len(tool.InputSchema.Type) > 0 && !tool.InputSchema.Type.Has("object") {
			return fmt.Errorf("tools[%d]: inputSchema must describe an object", i)
		}
	}
	return nil
}
