package provider

import (
	"context"
	"fmt"

	"github.com/prasetya/mika/pkg/message"
	"github.com/prasetya/mika/pkg/stream"
)

// ToolSpec describes one tool to the model: a name, a human-readable
// description, and a JSON Schema for its arguments.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one provider round: the full conversation so far plus
// generation parameters.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []message.Message
	Tools        []ToolSpec
	MaxTokens    int
	Temperature  float64
}

// Provider streams model responses as deltas. Stream returns as soon as
// the request is dispatched; deltas arrive on the returned channel, which
// is closed after TurnEnd or ErrorDelta.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan stream.StreamDelta, error)
}

// Config holds the credentials and endpoint for one provider profile.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// New builds a provider from a profile config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}
