package main

import (
	"github.com/dgellow/mcp-local/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the REST API",
	GroupID: "run",
	Long: `Serves POST /query, POST /call, GET /servers, GET /history and GET /health.
Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides api.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := server.Options{
		Addr:           a.cfg.API.Addr,
		AllowedOrigins: a.cfg.API.AllowedOrigins,
		AuthTokens:     a.cfg.API.AuthTokens,
		Version:        BuildVersion,
	}
	if serveAddr != "" {
		opts.Addr = serveAddr
	}

	var hist server.HistoryLister
	if a.history != nil {
		hist = a.history
	}
	return server.New(opts, a.agent(), a.dispatcher, hist).Run(cmd.Context())
}
