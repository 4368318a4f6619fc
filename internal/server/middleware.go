package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/mcp-local/internal"
	jsonwriter "github.com/dgellow/mcp-local/internal/json"
	"github.com/go-chi/chi/v5/middleware"
)

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowedMap[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else if len(allowedOrigins) == 0 {
				// No allowed origins configured: local use, allow all
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggerMiddleware logs every request with the id assigned by chi
func loggerMiddleware(component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       ww.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				fields["request_id"] = id
			}
			internal.LogInfoWithFields(component, "request", fields)
		})
	}
}

// recoverMiddleware turns a panicking handler into a JSON 500
func recoverMiddleware(component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					internal.LogErrorWithFields(component, "Recovered from panic", map[string]interface{}{
						"path":  r.URL.Path,
						"panic": err,
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// newAuthMiddleware creates middleware for bearer token authentication.
// With no tokens configured every request passes.
func newAuthMiddleware(tokens []string) func(http.Handler) http.Handler {
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		tokenSet[token] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(tokens) != 0 {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok {
					jsonwriter.WriteUnauthorized(w, "missing bearer token")
					return
				}
				if _, ok := tokenSet[token]; !ok {
					jsonwriter.WriteUnauthorized(w, "invalid token")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
