package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dgellow/mcp-local/internal/client"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/registry"
	"github.com/spf13/cobra"
)

var (
	toolsDiscover bool
	historyLimit  int
	initForce     bool
)

var serversCmd = &cobra.Command{
	Use:     "servers",
	Short:   "List configured servers",
	GroupID: "inspect",
	Args:    cobra.NoArgs,
	RunE:    runServers,
}

var toolsCmd = &cobra.Command{
	Use:   "tools [server]",
	Short: "List the tools of each server",
	Long: `Lists the tools declared in the config. With --discover the servers are
started and their live tool lists are shown instead.`,
	GroupID: "inspect",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runTools,
}

var validateCmd = &cobra.Command{
	Use:     "validate",
	Short:   "Check the config file for errors and warnings",
	GroupID: "inspect",
	Args:    cobra.NoArgs,
	RunE:    runValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "config-init <path>",
	Short: "Write a starter config",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigInit,
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show recent turns",
	GroupID: "inspect",
	Args:    cobra.NoArgs,
	RunE:    runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
	},
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsDiscover, "discover", false, "start the servers and list their live tools")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of turns to show")
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")

	rootCmd.AddCommand(serversCmd, toolsCmd, validateCmd, configInitCmd, historyCmd, versionCmd)
}

// loadRegistry builds the registry from the config without starting anything
func loadRegistry() (*config.Config, *registry.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(cfg.MCPServers)
	if err != nil {
		return nil, nil, err
	}
	return cfg, reg, nil
}

func runServers(cmd *cobra.Command, args []string) error {
	_, reg, err := loadRegistry()
	if err != nil {
		return err
	}
	printServers(cmd.OutOrStdout(), reg)
	return nil
}

func printServers(w io.Writer, reg *registry.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTRANSPORT\tTOOLS\tKEYWORDS")
	for _, spec := range reg.ListAll() {
		tools := fmt.Sprint(len(spec.Tools))
		if len(spec.Tools) == 0 && spec.ShouldDiscover() {
			tools = "discover"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Name, spec.Transport(), tools, strings.Join(spec.Keywords, ", "))
	}
	tw.Flush()
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, reg, err := loadRegistry()
	if err != nil {
		return err
	}

	specs := reg.ListAll()
	if len(args) == 1 {
		spec, err := reg.Lookup(args[0])
		if err != nil {
			return err
		}
		specs = []*config.ServerSpec{spec}
	}

	if toolsDiscover {
		pm := client.NewProcessManager()
		defer pm.Shutdown()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		forced := make([]*config.ServerSpec, 0, len(specs))
		for _, spec := range specs {
			spec.Discover = config.BoolPtr(true)
			forced = append(forced, spec)
		}
		reg = reg.WithDiscovered(client.Discover(ctx, pm, forced, cfg.ToolTimeout))
	}

	for _, spec := range specs {
		printTools(cmd.OutOrStdout(), spec.Name, reg.Tools(spec.Name))
	}
	return nil
}

func printTools(w io.Writer, server string, tools []config.ToolDescriptor) {
	fmt.Fprintf(w, "%s (%d tools)\n", server, len(tools))
	for _, tool := range tools {
		if tool.Description != "" {
			fmt.Fprintf(w, "  %s: %s\n", tool.Name, tool.Description)
		} else {
			fmt.Fprintf(w, "  %s\n", tool.Name)
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	result, err := config.ValidateFile(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, e := range result.Errors {
		fmt.Fprintf(out, "error: %s: %s\n", e.Path, e.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s: %s\n", w.Path, w.Message)
	}
	if !result.IsValid() {
		return fmt.Errorf("%s: %d error(s)", configPath, len(result.Errors))
	}
	fmt.Fprintf(out, "%s is valid\n", configPath)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", path)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return errors.New("history is disabled in the config (set history.enabled)")
	}

	store, err := history.New(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), entries)
	return nil
}

func printHistory(w io.Writer, entries []history.Entry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSERVER\tTOOL\tSTATUS\tQUERY")
	for _, e := range entries {
		status := "ok"
		if e.ErrorKind != "" {
			status = e.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), dash(e.Server), dash(e.Tool), status, e.Query)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
