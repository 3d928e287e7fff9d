package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/callbridge/internal/conversation"
)

// MockBackend produces deterministic replies when no chat provider is configured.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Complete(ctx context.Context, turns []conversation.Turn) (conversation.Turn, error) {
	select {
	case <-ctx.Done():
		return conversation.Turn{}, ctx.Err()
	default:
	}

	var last string
	if n := len(turns); n > 0 && turns[n-1].Role == conversation.RoleUser {
		last = strings.TrimSpace(turns[n-1].Content)
	}
	text := "I am listening."
	if last != "" {
		text = fmt.Sprintf("You said: %s", last)
	}
	return conversation.Turn{Role: conversation.RoleAssistant, Content: text}, nil
}
