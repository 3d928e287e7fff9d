package conversation

// TerminationPolicy decides when a call should wind down. It counts real
// caller turns only; the counter never decays or resets.
type TerminationPolicy struct {
	threshold        int
	enabled          bool
	farewellAppended bool
}

// NewTerminationPolicy returns a policy that asks for a farewell once the
// caller has spoken threshold times. A threshold <= 0 disables the farewell.
func NewTerminationPolicy(threshold int) *TerminationPolicy {
	return &TerminationPolicy{threshold: threshold, enabled: threshold > 0}
}

// NewCountingTerminationPolicy always offers the farewell once
// userTurnCount >= threshold. A threshold of zero says goodbye as soon as
// the opening has played.
func NewCountingTerminationPolicy(threshold int) *TerminationPolicy {
	return &TerminationPolicy{threshold: max(threshold, 0), enabled: true}
}

// ShouldHangupNow is true once a farewell has been issued and is the thing
// that just finished playing.
func (p *TerminationPolicy) ShouldHangupNow(hangupPending bool) bool {
	return hangupPending
}

// ShouldAppendFarewell reports whether the farewell prompt is due.
func (p *TerminationPolicy) ShouldAppendFarewell(userTurnCount int) bool {
	if !p.enabled || p.farewellAppended {
		return false
	}
	return userTurnCount >= p.threshold
}

// MarkFarewellAppended latches the policy so the farewell is offered once.
func (p *TerminationPolicy) MarkFarewellAppended() {
	p.farewellAppended = true
}
