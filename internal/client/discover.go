package client

import (
	"context"
	"sync"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"golang.org/x/sync/errgroup"
)

// ToolLister lists the tools of a live server
type ToolLister interface {
	ListTools(ctx context.Context, spec *config.ServerSpec) ([]config.ToolDescriptor, error)
}

// Discover lists the tools of every discoverable server concurrently. Each
// server gets timeout(spec) to start and answer. A server that fails or stalls
// is logged and left out of the result.
func Discover(ctx context.Context, lister ToolLister, specs []*config.ServerSpec, timeout func(*config.ServerSpec) time.Duration) map[string][]config.ToolDescriptor {
	var (
		mu    sync.Mutex
		found = make(map[string][]config.ToolDescriptor)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, spec := range specs {
		if !spec.ShouldDiscover() {
			continue
		}
		spec := spec
		g.Go(func() error {
			listCtx, cancel := context.WithTimeout(ctx, timeout(spec))
			defer cancel()
			tools, err := lister.ListTools(listCtx, spec)
			if err != nil {
				internal.LogWarnWithFields("discover", "Tool discovery failed", map[string]interface{}{
					"server": spec.Name,
					"error":  err.Error(),
				})
				return nil
			}
			internal.LogInfoWithFields("discover", "Discovered tools", map[string]interface{}{
				"server": spec.Name,
				"count":  len(tools),
			})
			mu.Lock()
			found[spec.Name] = tools
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return found
}
