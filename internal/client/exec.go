package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
)

// RunExec runs spec's command once for a single tool call. The call is written
// to stdin as {"name": ..., "arguments": ...} and stdout is the result. Args
// may reference call arguments as templates, e.g. "{{.sha256}}" or "{{tool}}".
func RunExec(ctx context.Context, spec *config.ServerSpec, tool string, args map[string]any) (string, error) {
	command, cwd, err := launchPaths(spec)
	if err != nil {
		return "", err
	}
	envs, err := LaunchEnv(spec)
	if err != nil {
		return "", err
	}
	processedArgs, err := processTemplateArgs(spec.Args, tool, args)
	if err != nil {
		return "", fmt.Errorf("failed to process arguments: %w", err)
	}
	input, err := json.Marshal(dispatch.ToolCall{Name: tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("failed to encode tool call: %w", err)
	}

	cmd := exec.CommandContext(ctx, command, processedArgs...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), envs...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	internal.LogDebug("Executing tool %s: %s %s", tool, command, strings.Join(processedArgs, " "))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %v", ctxErr, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			internal.LogErrorWithFields("exec", "Tool execution failed", map[string]interface{}{
				"server": spec.Name,
				"tool":   tool,
				"error":  err.Error(),
				"stderr": stderr.String(),
			})
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return "", fmt.Errorf("%s: %w", msg, exitErr)
			}
			return "", exitErr
		}
		return "", fmt.Errorf("%w: %v", dispatch.ErrUnavailable, err)
	}

	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// processTemplateArgs expands templates in args against the call arguments
func processTemplateArgs(templateArgs []string, tool string, args map[string]any) ([]string, error) {
	processed := make([]string, 0, len(templateArgs))
	funcs := template.FuncMap{"tool": func() string { return tool }}

	for _, arg := range templateArgs {
		if !strings.Contains(arg, "{{") {
			processed = append(processed, arg)
			continue
		}
		tmpl, err := template.New("arg").Funcs(funcs).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template: %w", err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, args); err != nil {
			return nil, fmt.Errorf("failed to execute template: %w", err)
		}
		// empty results are dropped so optional arguments vanish
		if result := buf.String(); result != "" {
			processed = append(processed, result)
		}
	}
	return processed, nil
}
