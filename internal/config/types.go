package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type TransportType string

const (
	// TransportStdio keeps one MCP server process alive per server and talks
	// JSON-RPC to it over stdin/stdout.
	TransportStdio TransportType = "stdio"
	// TransportExec starts the command once per call, writes the tool call
	// JSON to stdin and returns stdout.
	TransportExec TransportType = "exec"
)

// ServerSpec is the launch and capability description of one MCP server
type ServerSpec struct {
	Name          string            `json:"-"`
	Description   string            `json:"description,omitempty"`
	Keywords      []string          `json:"keywords,omitempty"`
	FormatHexKeys bool              `json:"format_hex_keys,omitempty"`
	AddressKeys   []string          `json:"address_keys,omitempty"`
	TransportType TransportType     `json:"transportType,omitempty"`
	Command       string            `json:"command"`
	Args          []string          `json:"args,omitempty"`
	Cwd           string            `json:"cwd,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	EnvFile       string            `json:"envFile,omitempty"`
	Instructions  []string          `json:"instructions,omitempty"`
	Tools         []ToolDescriptor  `json:"tools,omitempty"`
	Discover      *bool             `json:"discover,omitempty"`
	Timeout       Duration          `json:"timeout,omitempty"`
}

// Transport returns the configured transport, stdio when unset
func (s *ServerSpec) Transport() TransportType {
	if s.TransportType == "" {
		return TransportStdio
	}
	return s.TransportType
}

// ShouldDiscover reports whether the live tool list should be fetched at startup.
// Servers without declared tools are discovered unless told otherwise.
func (s *ServerSpec) ShouldDiscover() bool {
	if s.Transport() != TransportStdio {
		return false
	}
	return BoolOrDefault(s.Discover, len(s.Tools) == 0)
}

// IsAddressKey reports whether arguments under key are rendered as hex
func (s *ServerSpec) IsAddressKey(key string) bool {
	if !s.FormatHexKeys {
		return false
	}
	for _, k := range s.AddressKeys {
		if k == key {
			return true
		}
	}
	return false
}

// InstructionText joins the instruction lines into a single prompt block
func (s *ServerSpec) InstructionText() string {
	return strings.Join(s.Instructions, "\n")
}

// Clone returns a deep copy so callers cannot mutate registry state
func (s *ServerSpec) Clone() *ServerSpec {
	c := *s
	c.Keywords = append([]string(nil), s.Keywords...)
	c.AddressKeys = append([]string(nil), s.AddressKeys...)
	c.Args = append([]string(nil), s.Args...)
	c.Instructions = append([]string(nil), s.Instructions...)
	c.Tools = append([]ToolDescriptor(nil), s.Tools...)
	if s.Env != nil {
		c.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			c.Env[k] = v
		}
	}
	if s.Discover != nil {
		c.Discover = BoolPtr(*s.Discover)
	}
	return &c
}

// ToolDescriptor describes one callable tool of a server
type ToolDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema *Schema `json:"inputSchema,omitempty"`
}

// Schema is the subset of JSON Schema used to check tool arguments
type Schema struct {
	Type                 SchemaType         `json:"type,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	AdditionalProperties json.RawMessage    `json:"additionalProperties,omitempty"`

	// raw keeps the schema as written, including keywords not modeled above
	raw json.RawMessage
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	type plain Schema
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Schema(p)
	s.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Document returns the schema as JSON. Schemas read from config or from a
// live server come back as written; schemas built in code are marshaled.
func (s *Schema) Document() ([]byte, error) {
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	return json.Marshal(s)
}

// AllowsAdditional is false only when additionalProperties is literally false
func (s *Schema) AllowsAdditional() bool {
	return string(bytes.TrimSpace(s.AdditionalProperties)) != "false"
}

// SchemaType holds "type", which JSON Schema allows as a string or a list
type SchemaType []string

func (t *SchemaType) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = SchemaType{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("schema type must be a string or a list of strings")
	}
	*t = many
	return nil
}

func (t SchemaType) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// Has reports whether name is one of the allowed types
func (t SchemaType) Has(name string) bool {
	for _, v := range t {
		if v == name {
			return true
		}
	}
	return false
}

// Duration is a time.Duration written as "30s" in config files
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	// bare numbers are seconds
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// LLMOptions tunes the connection to the local model runtime
type LLMOptions struct {
	BaseURL     string   `json:"baseURL,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// DispatchConfig controls tool invocation
type DispatchConfig struct {
	Timeout      Duration `json:"timeout,omitempty"`
	Retries      *int     `json:"retries,omitempty"`
	MaxReprompts *int     `json:"maxReprompts,omitempty"`
	IdleTimeout  Duration `json:"idleTimeout,omitempty"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	Addr           string   `json:"addr,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	AuthTokens     []string `json:"authTokens,omitempty"`
}

// HistoryConfig configures the local turn history database
type HistoryConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Config is the whole configuration file
type Config struct {
	LLM        string         `json:"llm"`
	LLMOptions LLMOptions     `json:"llmOptions"`
	Dispatch   DispatchConfig `json:"dispatch"`
	API        APIConfig      `json:"api"`
	History    HistoryConfig  `json:"history"`
	MCPServers ServerList     `json:"mcpServers"`
}

const (
	DefaultToolTimeout  = 60 * time.Second
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultLLMTimeout   = 120 * time.Second
	DefaultRetries      = 1
	DefaultMaxReprompts = 1
	DefaultAPIAddr      = ":7861"
	DefaultHistoryPath  = "~/.mcp-local/history.db"
)

// applyDefaults fills in zero values that have a documented default
func (c *Config) applyDefaults() {
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = Duration(DefaultToolTimeout)
	}
	if c.Dispatch.IdleTimeout == 0 {
		c.Dispatch.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.Dispatch.Retries == nil {
		c.Dispatch.Retries = IntPtr(DefaultRetries)
	}
	if c.Dispatch.MaxReprompts == nil {
		c.Dispatch.MaxReprompts = IntPtr(DefaultMaxReprompts)
	}
	if c.LLMOptions.Timeout == 0 {
		c.LLMOptions.Timeout = Duration(DefaultLLMTimeout)
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
	if c.History.Enabled && c.History.Path == "" {
		c.History.Path = DefaultHistoryPath
	}
}

// ToolTimeout returns the bounded wait for calls to spec
func (c *Config) ToolTimeout(spec *ServerSpec) time.Duration {
	if spec != nil && spec.Timeout > 0 {
		return spec.Timeout.Std()
	}
	if c.Dispatch.Timeout > 0 {
		return c.Dispatch.Timeout.Std()
	}
	return DefaultToolTimeout
}

// Helper functions for optional values
func BoolOrDefault(ptr *bool, defaultValue bool) bool {
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func BoolPtr(b bool) *bool {
	return &b
}

func IntOrDefault(ptr *int, defaultValue int) int {
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func IntPtr(i int) *int {
	return &i
}
