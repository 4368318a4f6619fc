// Package dispatch turns model output into validated tool calls and routes
// them to the server that advertises the tool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/registry"
)

// Invoker forwards a tool call to a server process and returns its raw output.
// Implementations wrap ErrUnavailable when the process cannot be reached.
type Invoker interface {
	Invoke(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any) (string, error)
}

// Result is the outcome of a dispatched call
type Result struct {
	Call     *ToolCall
	Server   string
	Output   string
	Duration time.Duration
}

// Dispatcher resolves tool calls against a registry and invokes them
type Dispatcher struct {
	registry       *registry.Registry
	invoker        Invoker
	defaultTimeout time.Duration
	retries        int
	retryBackoff   time.Duration
}

// Option configures the dispatcher
type Option func(*Dispatcher)

// WithTimeout sets the wait bound for servers without their own timeout
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaultTimeout = timeout
	}
}

// WithRetries sets how many times an unreachable server is retried
func WithRetries(retries int) Option {
	return func(d *Dispatcher) {
		d.retries = retries
	}
}

// WithRetryBackoff sets the pause before each retry
func WithRetryBackoff(backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.retryBackoff = backoff
	}
}

// New creates a dispatcher over reg
func New(reg *registry.Registry, invoker Invoker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		invoker:        invoker,
		defaultTimeout: config.DefaultToolTimeout,
		retries:        config.DefaultRetries,
		retryBackoff:   200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the registry calls are resolved against
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// Resolve returns the spec of the server advertising call.Name
func (d *Dispatcher) Resolve(call *ToolCall) (*config.ServerSpec, error) {
	spec, _, ok := d.registry.ToolOwner(call.Name)
	if !ok {
		return nil, &UnknownToolError{Tool: call.Name}
	}
	return spec, nil
}

// Invoke validates and formats the call's arguments and forwards it to spec's
// server within the server's timeout
func (d *Dispatcher) Invoke(ctx context.Context, call *ToolCall, spec *config.ServerSpec) (string, error) {
	for _, tool := range spec.Tools {
		if tool.Name == call.Name {
			if err := ValidateArguments(tool, spec, call.Arguments); err != nil {
				var parseErr *ParseError
				if errors.As(err, &parseErr) {
					parseErr.Text = fmt.Sprintf("%s %v", call.Name, call.Arguments)
				}
				return "", err
			}
			break
		}
	}
	args := FormatArguments(spec, call.Arguments)

	timeout := spec.Timeout.Std()
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			internal.LogWarnWithFields("dispatch", "Retrying unreachable server", map[string]interface{}{
				"server":  spec.Name,
				"tool":    call.Name,
				"attempt": attempt,
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return "", d.invocationError(spec, call, ctx.Err())
			case <-time.After(d.retryBackoff):
			}
		}

		output, err := d.invokeOnce(ctx, spec, call.Name, args, timeout)
		if err == nil {
			return output, nil
		}
		lastErr = err
		if !errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return "", d.invocationError(spec, call, lastErr)
}

func (d *Dispatcher) invokeOnce(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := d.invoker.Invoke(ctx, spec, tool, args)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return output, err
}

type exitCoder interface {
	ExitCode() int
}

func (d *Dispatcher) invocationError(spec *config.ServerSpec, call *ToolCall, err error) error {
	invErr := &InvocationError{
		Server:  spec.Name,
		Tool:    call.Name,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		invErr.ExitCode = ec.ExitCode()
	}
	internal.LogErrorWithFields("dispatch", "Tool invocation failed", map[string]interface{}{
		"server":  invErr.Server,
		"tool":    invErr.Tool,
		"timeout": invErr.Timeout,
		"error":   err.Error(),
	})
	return invErr
}

// Dispatch parses text as a tool call, resolves it and invokes it
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (*Result, error) {
	call, err := Parse(text)
	if err != nil {
		return nil, err
	}
	return d.Call(ctx, call)
}

// Call resolves and invokes an already parsed tool call
func (d *Dispatcher) Call(ctx context.Context, call *ToolCall) (*Result, error) {
	spec, err := d.Resolve(call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output, err := d.Invoke(ctx, call, spec)
	if err != nil {
		return nil, err
	}

	internal.LogInfoWithFields("dispatch", "Tool call completed", map[string]interface{}{
		"server":   spec.Name,
		"tool":     call.Name,
		"duration": time.Since(start).String(),
	})
	return &Result{Call: call, Server: spec.Name, Output: output, Duration: time.Since(start)}, nil
}
