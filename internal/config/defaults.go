package config

import (
	"encoding/json"
	"fmt"
	"os"
)

func objectSchema(required []string, props map[string]*Schema) *Schema {
	return &Schema{Type: SchemaType{"object"}, Properties: props, Required: required}
}

func prop(typ, description string) *Schema {
	return &Schema{Type: SchemaType{typ}, Description: description}
}

// DefaultConfig returns a starter configuration wired to a MalwareBazaar
// lookup server and a Binary Ninja analysis server
func DefaultConfig() *Config {
	return &Config{
		LLM: "ollama/llama3.2",
		LLMOptions: LLMOptions{
			BaseURL: "http://localhost:11434",
			Timeout: Duration(DefaultLLMTimeout),
		},
		Dispatch: DispatchConfig{
			Timeout:      Duration(DefaultToolTimeout),
			Retries:      IntPtr(DefaultRetries),
			MaxReprompts: IntPtr(DefaultMaxReprompts),
			IdleTimeout:  Duration(DefaultIdleTimeout),
		},
		API: APIConfig{Addr: DefaultAPIAddr},
		MCPServers: ServerList{
			{
				Name:        "MalwareBazaar",
				Description: "Malware sample intelligence from abuse.ch MalwareBazaar",
				Keywords:    []string{"malware", "bazaar", "sample", "sha256", "yara", "signature"},
				Command:     "~/MalwareBazaar_MCP/.venv/bin/python",
				Args:        []string{"malwarebazaar_mcp.py"},
				Cwd:         "~/MalwareBazaar_MCP",
				Env:         map[string]string{"MALWAREBAZAAR_API_KEY": "replace-me"},
				Instructions: []string{
					"You are a malware intelligence assistant backed by MalwareBazaar.",
					"You answer by calling exactly one tool.",
					"Respond ONLY with a JSON object of the form {\"name\": \"<tool_name>\", \"arguments\": {...}}.",
					"Do not wrap the JSON in markdown and do not add any prose.",
				},
				Tools: []ToolDescriptor{
					{
						Name:        "get_recent",
						Description: "List the most recent samples",
						InputSchema: objectSchema(nil, map[string]*Schema{
							"selector": prop("string", "\"time\" for the last hour or \"100\" for the last 100 samples"),
						}),
					},
					{
						Name:        "get_info",
						Description: "Get metadata for a sample by hash",
						InputSchema: objectSchema([]string{"hash"}, map[string]*Schema{
							"hash": prop("string", "MD5, SHA1 or SHA256 of the sample"),
						}),
					},
					{
						Name:        "get_file",
						Description: "Download a sample as a password protected zip",
						InputSchema: objectSchema([]string{"sha256"}, map[string]*Schema{
							"sha256": prop("string", "SHA256 of the sample"),
						}),
					},
					{
						Name:        "get_taginfo",
						Description: "List samples carrying a tag",
						InputSchema: objectSchema([]string{"tag"}, map[string]*Schema{
							"tag":   prop("string", "tag name, for example redline"),
							"limit": prop("integer", "maximum number of samples"),
						}),
					},
				},
			},
			{
				Name:          "binja-lattice-mcp",
				Description:   "Binary Ninja analysis over the Lattice protocol",
				Keywords:      []string{"disassembly", "pseudocode", "binja", "binary ninja", "function", "decompile", "xref"},
				FormatHexKeys: true,
				AddressKeys:   []string{"address", "entry_point", "start", "end"},
				Command:       "~/binja-lattice-mcp/.venv/bin/python",
				Args:          []string{"mcp_server.py"},
				Cwd:           "~/binja-lattice-mcp",
				Env:           map[string]string{"BNJLAT": "replace-me"},
				Instructions: []string{
					"You are a reverse engineering assistant connected to Binary Ninja.",
					"Addresses are integers; they are shown to the server in hex.",
					"Respond ONLY with a JSON object of the form {\"name\": \"<tool_name>\", \"arguments\": {...}}.",
					"Do not wrap the JSON in markdown and do not add any prose.",
				},
				Tools: []ToolDescriptor{
					{Name: "get_binary_info", Description: "Summary of the open binary", InputSchema: objectSchema(nil, nil)},
					{Name: "get_all_function_names", Description: "Names of all functions", InputSchema: objectSchema(nil, nil)},
					{
						Name:        "get_function_disassembly",
						Description: "Disassembly of a function",
						InputSchema: objectSchema([]string{"name"}, map[string]*Schema{"name": prop("string", "function name")}),
					},
					{
						Name:        "get_function_pseudocode",
						Description: "High level IL pseudocode of a function",
						InputSchema: objectSchema([]string{"name"}, map[string]*Schema{"name": prop("string", "function name")}),
					},
					{
						Name:        "get_cross_references_to_function",
						Description: "Call sites of a function",
						InputSchema: objectSchema([]string{"name"}, map[string]*Schema{"name": prop("string", "function name")}),
					},
					{
						Name:        "add_comment_to_address",
						Description: "Attach a comment to an address",
						InputSchema: objectSchema([]string{"address", "comment"}, map[string]*Schema{
							"address": prop("integer", "target address"),
							"comment": prop("string", "comment text"),
						}),
					},
					{
						Name:        "update_function_name",
						Description: "Rename a function",
						InputSchema: objectSchema([]string{"name", "new_name"}, map[string]*Schema{
							"name":     prop("string", "current name"),
							"new_name": prop("string", "new name"),
						}),
					},
				},
			},
		},
	}
}

// WriteDefault writes DefaultConfig as indented JSON to path
func WriteDefault(path string) error {
	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
