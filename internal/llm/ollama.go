package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgellow/mcp-local/internal"
	"github.com/dgellow/mcp-local/internal/config"
)

// DefaultOllamaURL is used when neither the config nor OLLAMA_HOST name a server
const DefaultOllamaURL = "http://localhost:11434"

// Ollama is a Model served by an Ollama daemon
type Ollama struct {
	Model       string
	BaseURL     string
	Temperature *float64
	client      *http.Client
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error"`
}

// NewOllama builds an Ollama model from the llm settings of cfg
func NewOllama(cfg *config.Config) *Ollama {
	timeout := cfg.LLMOptions.Timeout.Std()
	if timeout <= 0 {
		timeout = config.DefaultLLMTimeout
	}
	return &Ollama{
		Model:       ModelName(cfg.LLM),
		BaseURL:     baseURL(cfg.LLMOptions.BaseURL),
		Temperature: cfg.LLMOptions.Temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

func baseURL(configured string) string {
	url := configured
	if url == "" {
		url = os.Getenv("OLLAMA_HOST")
	}
	if url == "" {
		url = DefaultOllamaURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}

// Chat sends the conversation to /api/chat and returns the reply text
func (o *Ollama) Chat(ctx context.Context, req Request) (string, error) {
	body := ollamaChatRequest{
		Model:    o.Model,
		Messages: req.Messages,
		Stream:   false,
	}
	if req.JSON {
		body.Format = "json"
	}
	if o.Temperature != nil {
		body.Options = map[string]any{"temperature": *o.Temperature}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := o.client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to reach ollama at %s: %w", o.BaseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ollama response: %w", err)
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || chat.Error != "" {
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, chat.Error)
	}

	internal.LogDebugWithFields("llm", "Chat completed", map[string]interface{}{
		"model":    o.Model,
		"messages": len(req.Messages),
		"json":     req.JSON,
		"duration": time.Since(start).String(),
	})
	return chat.Message.Content, nil
}
