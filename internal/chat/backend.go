package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/callbridge/internal/conversation"
)

// Backend is the chat-completion collaborator: it receives the full ordered
// transcript and returns exactly one new turn.
type Backend interface {
	Complete(ctx context.Context, turns []conversation.Turn) (conversation.Turn, error)
}

// Config controls backend construction.
type Config struct {
	Mode           string
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

// NewBackend builds the configured backend. In auto mode OpenAI is used when
// an API key is present, otherwise the mock.
func NewBackend(cfg Config) (Backend, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockBackend(), "mock", nil
		}
		return newOpenAIWithRetry(cfg), "openai", nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, "", fmt.Errorf("openai api key is required for openai mode")
		}
		return newOpenAIWithRetry(cfg), "openai", nil
	case "mock":
		return NewMockBackend(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported chat provider %q", cfg.Mode)
	}
}

func newOpenAIWithRetry(cfg Config) Backend {
	b := NewOpenAIBackend(OpenAIConfig{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		RequestTimeout: cfg.RequestTimeout,
	})
	if cfg.MaxRetries <= 0 {
		return b
	}
	return NewRetryingBackend(b, cfg.MaxRetries, cfg.RetryBase, cfg.RetryCap)
}
