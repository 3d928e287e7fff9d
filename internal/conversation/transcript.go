package conversation

import "sync"

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered, append-only turn log of one call. It is the only
// input sent to the chat backend.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewTranscript seeds the transcript with the persona instructions and the
// scripted opening prompt.
func NewTranscript(systemPrompt, openingPrompt string) *Transcript {
	return &Transcript{
		turns: []Turn{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: openingPrompt},
		},
	}
}

func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
}

// Snapshot returns a point-in-time copy; later appends do not affect it.
func (t *Transcript) Snapshot() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}
