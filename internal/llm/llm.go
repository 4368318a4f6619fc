// Package llm talks to the local language model.
package llm

import (
	"context"
	"strings"
)

// Roles used in chat messages
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single non-streaming chat completion request
type Request struct {
	Messages []Message
	// JSON asks the model to emit a JSON object only
	JSON bool
}

// Model produces a reply for a conversation
type Model interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// ModelName strips the provider prefix from a model identifier, so
// "ollama/llama3.2" and "ollama:llama3.2" both become "llama3.2"
func ModelName(id string) string {
	for _, prefix := range []string{"ollama/", "ollama:"} {
		if strings.HasPrefix(id, prefix) {
			return strings.TrimPrefix(id, prefix)
		}
	}
	return id
}
