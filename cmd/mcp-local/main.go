package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/client"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mcp-local",
	Short: "Drive local MCP servers with a local LLM",
	Long: `mcp-local routes natural-language requests to MCP servers declared in a
config file. A local model (Ollama) picks the tool, the dispatcher validates
and invokes it, and the model phrases the answer.`,
	Example: `  mcp-local config-init mcp_config.json   # Write a starter config
  mcp-local validate                       # Check the config
  mcp-local ask "recent malware samples"   # One-shot query
  mcp-local chat                           # Interactive terminal chat
  mcp-local serve                          # REST API`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			os.Setenv("LOG_LEVEL", logLevel)
			internal.SetLogOutput(os.Stderr)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcp_config.json", "path to config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug (overrides LOG_LEVEL)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Run Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspect Commands:"},
	)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	client.ClientInfo.Version = BuildVersion
	rootCmd.Version = BuildVersion

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		internal.LogError("%v", err)
		os.Exit(1)
	}
}
