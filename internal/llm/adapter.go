// Package llm wraps chat-completion backends behind a single Adapter.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

// Message roles accepted in Request.Messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior or current conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single chat completion call.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// User is an opaque end-user id forwarded for abuse monitoring.
	User string
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens int64 `json:"completion_tokens,omitempty"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Response is the completed reply.
type Response struct {
	Text  string
	Model string
	Usage *Usage
}

// Adapter produces chat completions.
type Adapter interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
	// Client, when set, is reused instead of building a new SDK client.
	Client *openai.Client
	// Fallback names an adapter tried when the primary fails ("" or "mock").
	Fallback string
}

// NewAdapter builds the adapter selected by cfg.Mode (auto|openai|mock).
// auto uses OpenAI when an API key is configured and falls back to the mock
// otherwise. With cfg.Fallback set to "mock", an OpenAI primary is wrapped so
// failed calls are answered offline.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	var primary Adapter
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockAdapter(), nil
		}
		a, err := NewOpenAIAdapter(cfg)
		if err != nil {
			return nil, err
		}
		primary = a
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		a, err := NewOpenAIAdapter(cfg)
		if err != nil {
			return nil, err
		}
		primary = a
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported llm adapter mode %q", cfg.Mode)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Fallback)) {
	case "":
		return primary, nil
	case "mock":
		return NewFallbackAdapter(primary, NewMockAdapter()), nil
	default:
		return nil, fmt.Errorf("unsupported llm fallback %q", cfg.Fallback)
	}
}

// Name reports a short backend label for logs and metrics.
func Name(a Adapter) string {
	switch v := a.(type) {
	case *OpenAIAdapter:
		return "openai"
	case *MockAdapter:
		return "mock"
	case *FallbackAdapter:
		return Name(v.primary) + "+" + Name(v.fallback)
	case *LazyAdapter:
		return "lazy"
	default:
		return "custom"
	}
}
