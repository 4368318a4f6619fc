package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/llm"
	"github.com/dgellow/mcp-local/internal/tui"
	"github.com/spf13/cobra"
)

var chatLogFile string

var chatCmd = &cobra.Command{
	Use:     "chat",
	Short:   "Interactive terminal chat",
	GroupID: "run",
	Args:    cobra.NoArgs,
	RunE:    runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatLogFile, "log-file", "~/.mcp-local/chat.log", "where logs go while the chat owns the terminal")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	path, err := internal.ExpandHome(chatLogFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	internal.SetLogOutput(logFile)
	defer internal.SetLogOutput(os.Stderr)

	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	app := tui.New(cmd.Context(), a.agent(), llm.ModelName(a.cfg.LLM), a.serverNames())
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
