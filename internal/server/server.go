// Package server exposes the agent and the dispatcher over a small REST API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/agent"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 30 * time.Second

// Asker answers natural-language queries
type Asker interface {
	Ask(ctx context.Context, query string) (*agent.Turn, error)
}

// Caller dispatches tool calls that did not come from the model
type Caller interface {
	Call(ctx context.Context, call *dispatch.ToolCall) (*dispatch.Result, error)
	Registry() *registry.Registry
}

// HistoryLister reads recorded turns
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options configures the HTTP server
type Options struct {
	Addr           string
	AllowedOrigins []string
	AuthTokens     []string
	Version        string
}

// Server is the REST front end
type Server struct {
	opts    Options
	asker   Asker
	caller  Caller
	history HistoryLister
	router  *chi.Mux
}

// New builds the router. hist may be nil when history is disabled.
func New(opts Options, asker Asker, caller Caller, hist HistoryLister) *Server {
	s := &Server{
		opts:    opts,
		asker:   asker,
		caller:  caller,
		history: hist,
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(loggerMiddleware("http"))
	s.router.Use(recoverMiddleware("http"))
	s.router.Use(corsMiddleware(opts.AllowedOrigins))

	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(newAuthMiddleware(opts.AuthTokens))
		r.Post("/query", s.handleQuery)
		r.Post("/call", s.handleCall)
		r.Get("/servers", s.handleServers)
		r.Get("/history", s.handleHistory)
	})

	return s
}

// Handler exposes the root HTTP handler
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled or the listener fails, then shuts down
// gracefully
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		internal.Logf("API server listening on %s", s.opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		internal.LogError("HTTP server error: %v", err)
		return err
	case <-ctx.Done():
		internal.Logf("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		internal.LogError("Server shutdown error: %v", err)
		return err
	}

	internal.Logf("Server shutdown complete")
	return nil
}
