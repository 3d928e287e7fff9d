package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/antoniostano/callbridge/internal/conversation"
)

type stubBackend struct {
	mu    sync.Mutex
	calls int
	got   []conversation.Turn
	reply conversation.Turn
	err   error
}

func (b *stubBackend) Complete(_ context.Context, turns []conversation.Turn) (conversation.Turn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.got = turns
	return b.reply, b.err
}

func (b *stubBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func seedTurns() []conversation.Turn {
	return conversation.NewTranscript("sys", "greet the caller").Snapshot()
}

func TestTurnGeneratorReturnsAssistantTurn(t *testing.T) {
	backend := &stubBackend{reply: conversation.Turn{Role: conversation.RoleAssistant, Content: "Hello there"}}
	g := NewTurnGenerator(backend)

	turn, err := g.Generate(context.Background(), seedTurns())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if turn.Role != conversation.RoleAssistant || turn.Content != "Hello there" {
		t.Fatalf("Generate() = %+v", turn)
	}
	if len(backend.got) != 2 {
		t.Fatalf("backend received %d turns, want 2", len(backend.got))
	}
}

func TestTurnGeneratorDefaultsMissingRole(t *testing.T) {
	g := NewTurnGenerator(&stubBackend{reply: conversation.Turn{Content: "ok"}})
	turn, err := g.Generate(context.Background(), seedTurns())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if turn.Role != conversation.RoleAssistant {
		t.Fatalf("Role = %q, want assistant", turn.Role)
	}
}

func TestTurnGeneratorFailures(t *testing.T) {
	cases := []struct {
		name     string
		backend  *stubBackend
		snapshot []conversation.Turn
	}{
		{"backend error", &stubBackend{err: errors.New("boom")}, seedTurns()},
		{"empty reply", &stubBackend{reply: conversation.Turn{Role: conversation.RoleAssistant, Content: "  "}}, seedTurns()},
		{"wrong role", &stubBackend{reply: conversation.Turn{Role: conversation.RoleUser, Content: "hi"}}, seedTurns()},
		{"missing system turn", &stubBackend{reply: conversation.Turn{Role: conversation.RoleAssistant, Content: "hi"}}, []conversation.Turn{{Role: conversation.RoleUser, Content: "x"}}},
		{"empty transcript", &stubBackend{reply: conversation.Turn{Role: conversation.RoleAssistant, Content: "hi"}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewTurnGenerator(tc.backend)
			_, err := g.Generate(context.Background(), tc.snapshot)
			if !errors.Is(err, ErrGenerationFailed) {
				t.Fatalf("Generate() error = %v, want ErrGenerationFailed", err)
			}
		})
	}
}

func TestTurnGeneratorSkipsBackendForInvalidTranscript(t *testing.T) {
	backend := &stubBackend{}
	g := NewTurnGenerator(backend)
	_, err := g.Generate(context.Background(), []conversation.Turn{{Role: conversation.RoleAssistant, Content: "x"}})
	if !errors.Is(err, ErrInvalidTranscript) {
		t.Fatalf("Generate() error = %v, want ErrInvalidTranscript", err)
	}
	if backend.Calls() != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.Calls())
	}
}
