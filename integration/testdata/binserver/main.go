// binserver is a small stdio MCP server used by the integration tests. It
// answers address lookups against a fixed symbol table.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var symbols = map[string]string{
	"0x1000": "_main",
	"0x1040": "parse_header",
	"0x10a0": "decrypt_config",
}

func main() {
	s := server.NewMCPServer("binserver", "test", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("get_function_at",
		mcp.WithDescription("Name of the function containing an address"),
		mcp.WithString("address", mcp.Required(), mcp.Description("hex address")),
	), getFunctionAt)

	s.AddTool(mcp.NewTool("get_all_function_names",
		mcp.WithDescription("Names of all functions"),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names := make([]string, 0, len(symbols))
		for _, name := range symbols {
			names = append(names, name)
		}
		return mcp.NewToolResultText(strings.Join(names, "\n")), nil
	})

	// BINSERVER_STDERR_BYTES makes the server log that much to stderr before
	// serving, like a chatty python server
	if n, _ := strconv.Atoi(os.Getenv("BINSERVER_STDERR_BYTES")); n > 0 {
		line := strings.Repeat("x", 99) + "\n"
		for written := 0; written < n; written += len(line) {
			fmt.Fprint(os.Stderr, line)
		}
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getFunctionAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address, _ := request.GetArguments()["address"].(string)
	name, ok := symbols[strings.ToLower(address)]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no function at %s", address)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s: %s", address, name)), nil
}
