package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgellow/mcp-local/internal/config"
)

// OutputContract is appended to every tool-selection prompt
const OutputContract = `Respond ONLY with a JSON object of the form {"name": "<tool_name>", "arguments": {...}}. ` +
	`Do not wrap it in markdown and do not add any other text.`

const summaryPrompt = `You are a helpful analysis assistant. A tool was called to answer the user's request. ` +
	`Answer the request using only the tool output below. Be concise and keep identifiers, hashes and addresses exactly as they appear.`

// SystemPrompt builds the tool-selection prompt for spec: its instructions,
// the catalog of its tools, and the output contract
func SystemPrompt(spec *config.ServerSpec) string {
	var b strings.Builder
	if text := spec.InstructionText(); text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	if len(spec.Tools) > 0 {
		b.WriteString("Available tools:\n")
		for _, tool := range spec.Tools {
			writeTool(&b, tool)
		}
		b.WriteString("\n")
	}

	if spec.FormatHexKeys && len(spec.AddressKeys) > 0 {
		fmt.Fprintf(&b, "Addresses (%s) may be given as integers or hex strings.\n\n", strings.Join(spec.AddressKeys, ", "))
	}

	b.WriteString(OutputContract)
	return b.String()
}

func writeTool(b *strings.Builder, tool config.ToolDescriptor) {
	b.WriteString("- ")
	b.WriteString(tool.Name)
	if tool.Description != "" {
		b.WriteString(": ")
		b.WriteString(tool.Description)
	}
	b.WriteString("\n")

	schema := tool.InputSchema
	if schema == nil || len(schema.Properties) == 0 {
		b.WriteString("  arguments: none\n")
		return
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop := schema.Properties[name]
		var attrs []string
		if prop != nil && len(prop.Type) > 0 {
			attrs = append(attrs, strings.Join(prop.Type, "|"))
		}
		if required[name] {
			attrs = append(attrs, "required")
		}
		fmt.Fprintf(b, "  - %s", name)
		if len(attrs) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(attrs, ", "))
		}
		if prop != nil && prop.Description != "" {
			fmt.Fprintf(b, ": %s", prop.Description)
		}
		b.WriteString("\n")
	}
}

func repromptMessage(err error) string {
	return fmt.Sprintf("Your previous reply could not be used: %v. %s", err, OutputContract)
}

func summaryRequest(query, tool, output string) string {
	return fmt.Sprintf("Request: %s\n\nTool %s returned:\n%s", query, tool, output)
}
