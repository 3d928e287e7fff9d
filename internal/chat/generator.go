package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoniostano/callbridge/internal/conversation"
)

var (
	// ErrGenerationFailed marks every failure of TurnGenerator.Generate.
	ErrGenerationFailed = errors.New("generation failed")

	ErrInvalidTranscript = errors.New("transcript must start with a system turn")
)

// TurnGenerator produces the next assistant turn from a transcript snapshot.
// It does not touch the transcript; the caller appends the result.
type TurnGenerator struct {
	backend Backend
}

func NewTurnGenerator(backend Backend) *TurnGenerator {
	return &TurnGenerator{backend: backend}
}

func (g *TurnGenerator) Generate(ctx context.Context, snapshot []conversation.Turn) (conversation.Turn, error) {
	ctx, span := tracer.Start(ctx, "chat.generate", trace.WithAttributes(
		attribute.Int("chat.turns", len(snapshot)),
	))
	defer span.End()

	turn, err := g.generate(ctx, snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return conversation.Turn{}, err
	}
	span.SetAttributes(attribute.Int("chat.reply_chars", len(turn.Content)))
	return turn, nil
}

func (g *TurnGenerator) generate(ctx context.Context, snapshot []conversation.Turn) (conversation.Turn, error) {
	if len(snapshot) == 0 || snapshot[0].Role != conversation.RoleSystem {
		return conversation.Turn{}, fmt.Errorf("%w: %w", ErrGenerationFailed, ErrInvalidTranscript)
	}
	if g.backend == nil {
		return conversation.Turn{}, fmt.Errorf("%w: no chat backend configured", ErrGenerationFailed)
	}

	turn, err := g.backend.Complete(ctx, snapshot)
	if err != nil {
		return conversation.Turn{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if turn.Role == "" {
		turn.Role = conversation.RoleAssistant
	}
	if turn.Role != conversation.RoleAssistant {
		return conversation.Turn{}, fmt.Errorf("%w: backend returned role %q", ErrGenerationFailed, turn.Role)
	}
	if strings.TrimSpace(turn.Content) == "" {
		return conversation.Turn{}, fmt.Errorf("%w: empty reply", ErrGenerationFailed)
	}
	return turn, nil
}
