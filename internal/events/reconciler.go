package events

import "time"

// Phase names a reconciliation phase.
type Phase string

const (
	PhaseAttach        Phase = "attach"
	PhaseInputsChanged Phase = "inputs_changed"
	PhaseDetach        Phase = "detach"
)

// PhaseStart is emitted before a reconciler runs a phase.
// Context carries the phase id.
type PhaseStart struct {
	Owner string
	Host  string
	Phase Phase
}

// PhaseFinish is emitted after a phase completes.
type PhaseFinish struct {
	Owner    string
	Host     string
	Phase    Phase
	Err      error
	Duration time.Duration
}

// SubscriptionStart is emitted after a slot was activated.
type SubscriptionStart struct {
	Owner  string
	Slot   int
	Manual bool
	Kind   string
}

// SubscriptionStop is emitted after a slot's handle was disposed.
type SubscriptionStop struct {
	Owner  string
	Slot   int
	Manual bool
	Kind   string
	Err    error
}
