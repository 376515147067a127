package loam

import (
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// Document kinds recognized in the "kind" key.
const (
	KindStateMachine = "state_machine"
	KindWorkflow     = "workflow"
)

// DocumentMetadata is the header of a description document.
// It uses "mapstructure" tags to match standard Frontmatter/YAML keys.
//
// A document is a state machine when it declares states and a workflow when
// it declares activities, unless "kind" says otherwise. Documents that are
// neither are ignored.
type DocumentMetadata struct {
	Kind    string `json:"kind" mapstructure:"kind"`
	Name    string `json:"name" mapstructure:"name"`
	Version int    `json:"version" mapstructure:"version"`

	// State machine fields
	Initial     int                       `json:"initial" mapstructure:"initial"`
	States      []statemachine.State      `json:"states" mapstructure:"states"`
	Transitions []statemachine.Transition `json:"transitions" mapstructure:"transitions"`

	// Workflow fields
	StateMachine        string                 `json:"state_machine" mapstructure:"state_machine"`
	StateMachineVersion int                    `json:"state_machine_version" mapstructure:"state_machine_version"`
	Activities          []workflow.ActivityDef `json:"activities" mapstructure:"activities"`
	Edges               []workflow.EdgeDef     `json:"edges" mapstructure:"edges"`
	Start               *int                   `json:"start,omitempty" mapstructure:"start"`
}

func (m DocumentMetadata) kind() string {
	switch {
	case m.Kind != "":
		return m.Kind
	case len(m.States) > 0:
		return KindStateMachine
	case len(m.Activities) > 0:
		return KindWorkflow
	}
	return ""
}

func (m DocumentMetadata) definition(name string) statemachine.Definition {
	return statemachine.Definition{
		Name:        name,
		Version:     m.Version,
		Initial:     m.Initial,
		States:      m.States,
		Transitions: m.Transitions,
	}
}

func (m DocumentMetadata) description(name string) workflow.Description {
	return workflow.Description{
		Name:                name,
		Version:             m.Version,
		StateMachine:        m.StateMachine,
		StateMachineVersion: m.StateMachineVersion,
		Activities:          m.Activities,
		Edges:               m.Edges,
		Start:               m.Start,
	}
}
