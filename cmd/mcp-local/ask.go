package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:     "ask <query>",
	Short:   "Answer one query and print the Markdown response",
	GroupID: "run",
	Example: `  mcp-local ask "get taginfo for redline"
  mcp-local ask "show me the pseudocode of _main"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var callCmd = &cobra.Command{
	Use:   "call <json>",
	Short: "Dispatch a tool call directly, without the model",
	Long: `Dispatches a tool call of the form {"name": "<tool>", "arguments": {...}}
and prints the raw tool output. Pass "-" to read the call from stdin.`,
	GroupID: "run",
	Example: `  mcp-local call '{"name": "get_recent", "arguments": {"limit": 5}}'`,
	Args:    cobra.ExactArgs(1),
	RunE:    runCall,
}

func init() {
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(callCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	turn, err := a.agent().Ask(cmd.Context(), strings.Join(args, " "))
	fmt.Fprintln(cmd.OutOrStdout(), turn.Response)
	return err
}

func runCall(cmd *cobra.Command, args []string) error {
	text, err := readCall(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.dispatcher.Dispatch(cmd.Context(), text)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Output)
	return nil
}

func readCall(stdin io.Reader, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading tool call: %w", err)
	}
	return string(data), nil
}
