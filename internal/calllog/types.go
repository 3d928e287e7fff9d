package calllog

import (
	"context"
	"time"
)

// Outcome describes how a call ended.
type Outcome string

const (
	OutcomeHangup             Outcome = "hangup"
	OutcomeCallerDisconnected Outcome = "caller_disconnected"
	OutcomeTransportError     Outcome = "transport_error"
)

// Record is the outcome of one call. Conversation text is never stored.
type Record struct {
	ID        string    `json:"id"`
	CallSID   string    `json:"call_sid"`
	StreamSID string    `json:"stream_sid"`
	UserTurns int       `json:"user_turns"`
	Outcome   Outcome   `json:"outcome"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Store persists call outcomes.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
