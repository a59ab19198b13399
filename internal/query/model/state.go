package model

import "fmt"

// Phase is the lifecycle position of a query session.
type Phase string

const (
	PhaseIdle       Phase = "Idle"
	PhaseConnecting Phase = "Connecting"
	PhaseStreaming  Phase = "Streaming"
	PhaseCompleted  Phase = "Completed"
	PhaseFailed     Phase = "Failed"
	PhaseClosed     Phase = "Closed"
)

// IsTerminal reports whether no further messages are processed in this phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseClosed
}

// IsActive reports whether a connection is held in this phase.
func (p Phase) IsActive() bool {
	return p == PhaseConnecting || p == PhaseStreaming
}

// SessionState is the read-only projection of the state machine.
type SessionState struct {
	Phase      Phase
	Percentage float64
	// Reason is set in PhaseFailed.
	Reason string
}

func (s SessionState) String() string {
	switch s.Phase {
	case PhaseStreaming:
		return fmt.Sprintf("%s(%.0f%%)", s.Phase, s.Percentage)
	case PhaseFailed:
		return fmt.Sprintf("%s(%s)", s.Phase, s.Reason)
	}
	return string(s.Phase)
}
