package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/antoniostano/callbridge/internal/conversation"
)

const defaultOpenAIModel = "gpt-3.5-turbo"

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// OpenAIBackend calls the OpenAI chat completions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries are owned by RetryingBackend.
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := openai.NewClient(opts...)
	return &OpenAIBackend{client: &client, model: model}
}

func (b *OpenAIBackend) Complete(ctx context.Context, turns []conversation.Turn) (conversation.Turn, error) {
	messages, err := toOpenAIMessages(turns)
	if err != nil {
		return conversation.Turn{}, err
	}
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    b.model,
		Messages: messages,
	})
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return conversation.Turn{}, errors.New("chat completion: no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return conversation.Turn{}, fmt.Errorf("chat completion refused: %s", msg.Refusal)
	}
	return conversation.Turn{Role: conversation.RoleAssistant, Content: msg.Content}, nil
}

func toOpenAIMessages(turns []conversation.Turn) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for i, turn := range turns {
		switch turn.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(turn.Content))
		case conversation.RoleUser:
			out = append(out, openai.UserMessage(turn.Content))
		case conversation.RoleAssistant:
			out = append(out, openai.AssistantMessage(turn.Content))
		default:
			return nil, fmt.Errorf("turn %d: unsupported role %q", i, turn.Role)
		}
	}
	return out, nil
}
