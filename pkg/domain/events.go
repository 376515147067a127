package domain

import (
	"context"
	"time"
)

// Event is the immutable record of one realized transition.
// Events are passed by value; nothing in the kernel mutates one after AddEvent.
type Event struct {
	ID     int    `json:"id"`
	ItemID ItemID `json:"item_id"`

	AgentID    ItemID `json:"agent_id"`
	DelegateID ItemID `json:"delegate_id,omitempty"`
	AgentRole  string `json:"agent_role,omitempty"`

	StepName string `json:"step_name"`
	// StepPath is the activity's name path from the root, e.g. "workflow/Do".
	StepPath string `json:"step_path"`
	StepType string `json:"step_type"`

	StateMachineName    string `json:"state_machine_name"`
	StateMachineVersion int    `json:"state_machine_version"`
	TransitionID        int    `json:"transition_id"`
	OriginState         int    `json:"origin_state"`
	TargetState         int    `json:"target_state"`

	SchemaName    string `json:"schema_name,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	ViewName      string `json:"view_name,omitempty"`
	HasAttachment bool   `json:"has_attachment,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// HasOutcome reports whether the event references an outcome document.
func (e Event) HasOutcome() bool {
	return e.SchemaName != ""
}

// LifecycleHooks defines callbacks for kernel observability.
type LifecycleHooks struct {
	// OnTransition runs after the event is committed.
	OnTransition func(context.Context, Event)
	// OnRejected runs when a transition request fails validation.
	OnRejected func(context.Context, ItemID, string, error)
	OnCommit   func(context.Context, TransactionKey)
	OnAbort    func(context.Context, TransactionKey)
}
