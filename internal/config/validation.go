package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...interface{}) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// ValidateFile reports every structural problem of a config file without
// resolving environment references, so it also works on a machine that
// does not hold the secrets
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if isYAML(path) {
		converted, err := yamlToJSON(data)
		if err != nil {
			result := &ValidationResult{}
			result.addError("", "invalid YAML: %v", err)
			return result, nil
		}
		data = converted
	}
	return ValidateDocument(data), nil
}

// ValidateDocument validates a JSON configuration document
func ValidateDocument(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]interface{}
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	if llm, ok := rawConfig["llm"].(string); !ok || strings.TrimSpace(llm) == "" {
		result.addError("llm", "llm is required and must be a model identifier string")
	}

	var keys struct {
		MCPServers serverKeys `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &keys); err == nil {
		for _, name := range keys.MCPServers.duplicates {
			result.addError("mcpServers."+name, "server name %q is defined more than once", name)
		}
	}

	validateServersStructure(rawConfig, result)
	return result
}

// validateServersStructure checks MCP servers configuration
func validateServersStructure(rawConfig map[string]interface{}, result *ValidationResult) {
	servers, ok := rawConfig["mcpServers"].(map[string]interface{})
	if !ok {
		result.addError("mcpServers", "mcpServers field is required and must be an object")
		return
	}
	if len(servers) == 0 {
		result.addError("mcpServers", "at least one server is required")
		return
	}

	for name, server := range servers {
		path := "mcpServers." + name
		srv, ok := server.(map[string]interface{})
		if !ok {
			result.addError(path, "server must be an object")
			continue
		}

		if _, ok := srv["command"]; !ok {
			result.addError(path+".command", "command is required")
		}

		if transport, ok := srv["transportType"]; ok {
			switch transport {
			case string(TransportStdio), string(TransportExec):
			default:
				result.addError(path+".transportType", "invalid transportType: %v", transport)
			}
		}

		for _, field := range []string{"keywords", "address_keys", "args", "instructions", "tools"} {
			if v, ok := srv[field]; ok {
				if _, isList := v.([]interface{}); !isList {
					result.addError(path+"."+field, "%s must be a list", field)
				}
			}
		}

		if keywords, _ := srv["keywords"].([]interface{}); len(keywords) == 0 {
			result.addWarning(path+".keywords", "no keywords: this server is only chosen as the fallback when it is listed first")
		}

		if hex, _ := srv["format_hex_keys"].(bool); hex {
			if keys, _ := srv["address_keys"].([]interface{}); len(keys) == 0 {
				result.addWarning(path+".address_keys", "format_hex_keys is set but address_keys is empty")
			}
		}

		if instructions, _ := srv["instructions"].([]interface{}); len(instructions) == 0 {
			result.addWarning(path+".instructions", "no instructions: the model only sees the tool catalog")
		}

		if tools, ok := srv["tools"].([]interface{}); ok {
			for i, tool := range tools {
				t, ok := tool.(map[string]interface{})
				if !ok {
					result.addError(fmt.Sprintf("%s.tools[%d]", path, i), "tool must be an object")
					continue
				}
				if n, _ := t["name"].(string); n == "" {
					result.addError(fmt.Sprintf("%s.tools[%d].name", path, i), "tool name is required")
				}
			}
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value interface{}, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: values are passed to the server verbatim, no shell expands them", match, varName)
		}
	case map[string]interface{}:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		// prose sent to the model may legitimately mention variables
		for key, val := range v {
			if key == "instructions" || key == "description" {
				continue
			}
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []interface{}:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
