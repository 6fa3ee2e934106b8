package gate

import "fmt"

// Result is the uniform return shape for every gate operation: both
// tamper errors and blocked outcomes return {status, reason, ...}
// records rather than being treated as exceptional control flow.
type Result struct {
	Status      string `json:"status"` // OK | ERROR | FAILED
	Reason      string `json:"reason,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
	Token       string `json:"token,omitempty"`
	Phase       string `json:"phase,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// GateBlockedError is returned when an agent fails authorization or a
// phase/field precondition — the fail-closed, deny-by-default path.
type GateBlockedError struct {
	AgentID string
	Reason  string
}

func (e *GateBlockedError) Error() string {
	return fmt.Sprintf("gate blocked for agent %s: %s", e.AgentID, e.Reason)
}
