package session

import "time"

// State mirrors the orchestrator's per-call state machine.
type State string

const (
	StateAwaitingStart    State = "awaiting_start"
	StateActive           State = "active"
	StateAwaitingFarewell State = "awaiting_farewell_playback"
	StateTerminated       State = "terminated"
)

// Call is the registry view of one media stream connection.
type Call struct {
	ID             string    `json:"session_id"`
	StreamSID      string    `json:"stream_sid,omitempty"`
	CallSID        string    `json:"call_sid,omitempty"`
	AccountSID     string    `json:"account_sid,omitempty"`
	State          State     `json:"state"`
	UserTurns      int       `json:"user_turns"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
