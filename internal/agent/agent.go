// Package agent runs one natural-language turn: pick a server, let the model
// choose a tool, dispatch it and phrase the answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/dgellow/mcp-local/internal/history"
	"github.com/dgellow/mcp-local/internal/llm"
	"github.com/dgellow/mcp-local/internal/render"
)

// Recorder stores finished turns
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Turn is the outcome of one query
type Turn struct {
	ID        string             `json:"id,omitempty"`
	Query     string             `json:"query"`
	Server    string             `json:"server,omitempty"`
	Call      *dispatch.ToolCall `json:"call,omitempty"`
	Output    string             `json:"output,omitempty"`
	Answer    string             `json:"answer,omitempty"`
	Response  string             `json:"response"`
	Reprompts int                `json:"reprompts"`
	Duration  time.Duration      `json:"duration"`
}

// Agent answers queries with the model and the dispatcher
type Agent struct {
	model        llm.Model
	dispatcher   *dispatch.Dispatcher
	maxReprompts int
	summarize    bool
	recorder     Recorder
}

// Option configures the agent
type Option func(*Agent)

// WithMaxReprompts sets how often the model may retry an unusable tool call
func WithMaxReprompts(n int) Option {
	return func(a *Agent) {
		a.maxReprompts = n
	}
}

// WithRecorder stores every turn, failed or not
func WithRecorder(r Recorder) Option {
	return func(a *Agent) {
		a.recorder = r
	}
}

// WithSummary controls whether the model phrases the final answer. Without
// it the raw tool output is the answer.
func WithSummary(enabled bool) Option {
	return func(a *Agent) {
		a.summarize = enabled
	}
}

// New creates an agent
func New(model llm.Model, dispatcher *dispatch.Dispatcher, opts ...Option) *Agent {
	a := &Agent{
		model:        model,
		dispatcher:   dispatcher,
		maxReprompts: config.DefaultMaxReprompts,
		summarize:    true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask runs one turn. The returned Turn is never nil: on failure its Response
// holds the rendered error, and the error is returned as well.
func (a *Agent) Ask(ctx context.Context, query string) (*Turn, error) {
	start := time.Now()
	turn := &Turn{Query: query}

	err := a.run(ctx, turn)
	turn.Duration = time.Since(start)
	if err != nil {
		turn.Response = render.Error(err)
		internal.LogErrorWithFields("agent", "Turn failed", map[string]interface{}{
			"server": turn.Server,
			"kind":   dispatch.Kind(err),
			"error":  err.Error(),
		})
	} else {
		turn.Response = render.Markdown(turn.Answer)
	}
	a.record(ctx, turn, err)
	return turn, err
}

func (a *Agent) run(ctx context.Context, turn *Turn) error {
	if strings.TrimSpace(turn.Query) == "" {
		return errors.New("query is empty")
	}

	spec := a.dispatcher.Registry().Choose(turn.Query)
	if spec == nil {
		return errors.New("no servers configured")
	}
	turn.Server = spec.Name

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt(spec)},
		{Role: llm.RoleUser, Content: turn.Query},
	}

	var result *dispatch.Result
	for attempt := 0; ; attempt++ {
		reply, err := a.model.Chat(ctx, llm.Request{Messages: messages, JSON: true})
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}

		call, err := dispatch.Parse(reply)
		if err == nil {
			turn.Call = call
			result, err = a.dispatcher.Call(ctx, call)
		}
		if err == nil {
			break
		}

		var parseErr *dispatch.ParseError
		if !errors.As(err, &parseErr) || attempt >= a.maxReprompts {
			return err
		}
		internal.LogWarnWithFields("agent", "Reprompting after unusable tool call", map[string]interface{}{
			"server":  spec.Name,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		turn.Reprompts++
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleUser, Content: repromptMessage(err)},
		)
	}

	turn.Server = result.Server
	turn.Output = result.Output
	turn.Answer = a.answer(ctx, turn)
	return nil
}

// answer asks the model to phrase the tool output; the raw output is used
// when that fails
func (a *Agent) answer(ctx context.Context, turn *Turn) string {
	if !a.summarize || strings.TrimSpace(turn.Output) == "" {
		return turn.Output
	}
	reply, err := a.model.Chat(ctx, llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: summaryRequest(turn.Query, turn.Call.Name, turn.Output)},
	}})
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			internal.LogWarnWithFields("agent", "Summary failed, using raw tool output", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return turn.Output
	}
	return reply
}

func (a *Agent) record(ctx context.Context, turn *Turn, turnErr error) {
	if a.recorder == nil {
		return
	}
	entry := &history.Entry{
		Query:    turn.Query,
		Server:   turn.Server,
		Output:   turn.Output,
		Response: turn.Response,
		Duration: turn.Duration,
	}
	if turn.Call != nil {
		entry.Tool = turn.Call.Name
		if data, err := json.Marshal(turn.Call.Arguments); err == nil {
			entry.Arguments = string(data)
		}
	}
	if turnErr != nil {
		entry.ErrorKind = dispatch.Kind(turnErr)
		entry.Error = turnErr.Error()
	}

	// a cancelled request still gets its turn recorded
	if err := a.recorder.Record(context.WithoutCancel(ctx), entry); err != nil {
		internal.LogError("Failed to record turn: %v", err)
		return
	}
	turn.ID = entry.ID
}
