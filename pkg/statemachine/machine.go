package statemachine

import (
	"fmt"
	"sort"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/graph"
)

// State is a named state of a machine.
type State struct {
	ID       int    `json:"id" yaml:"id" mapstructure:"id"`
	Name     string `json:"name" yaml:"name" mapstructure:"name"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty" mapstructure:"terminal"`
}

// SchemaRef names a versioned outcome schema.
type SchemaRef struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Version int    `json:"version" yaml:"version" mapstructure:"version"`
}

func (r SchemaRef) String() string {
	return fmt.Sprintf("%s/%d", r.Name, r.Version)
}

// Transition is a legal move between two states.
type Transition struct {
	ID   int    `json:"id" yaml:"id" mapstructure:"id"`
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	From int    `json:"from" yaml:"from" mapstructure:"from"`
	To   int    `json:"to" yaml:"to" mapstructure:"to"`

	// OutcomeSchema, when set, requires an outcome document validated against it.
	OutcomeSchema *SchemaRef `json:"outcome_schema,omitempty" yaml:"outcome_schema,omitempty" mapstructure:"outcome_schema"`
	// RequiredRole restricts the transition to agents holding the role. Empty means any role.
	RequiredRole string `json:"required_role,omitempty" yaml:"required_role,omitempty" mapstructure:"required_role"`
	// Reinitialize resets child activities of a composite to their initial states.
	Reinitialize bool `json:"reinitialize,omitempty" yaml:"reinitialize,omitempty" mapstructure:"reinitialize"`
}

// Definition is the loadable form of a state machine.
type Definition struct {
	Name        string       `json:"name" yaml:"name" mapstructure:"name"`
	Version     int          `json:"version" yaml:"version" mapstructure:"version"`
	Initial     int          `json:"initial" yaml:"initial" mapstructure:"initial"`
	States      []State      `json:"states" yaml:"states" mapstructure:"states"`
	Transitions []Transition `json:"transitions" yaml:"transitions" mapstructure:"transitions"`
}

// StateMachine is an immutable, coherent machine shared by many activities.
// It holds no per-instance state and is safe for concurrent use.
type StateMachine struct {
	name    string
	version int
	initial int

	states      []State
	stateByID   map[int]State
	transitions []Transition
	transByID   map[int]Transition
	from        map[int][]Transition
}

// Compile checks a definition and builds the machine.
// Incoherent definitions are rejected with domain.ErrInvalidData.
func Compile(def Definition) (*StateMachine, error) {
	sm := &StateMachine{
		name:        def.Name,
		version:     def.Version,
		initial:     def.Initial,
		states:      append([]State(nil), def.States...),
		stateByID:   make(map[int]State, len(def.States)),
		transitions: make([]Transition, 0, len(def.Transitions)),
		transByID:   make(map[int]Transition, len(def.Transitions)),
		from:        make(map[int][]Transition),
	}
	for _, s := range sm.states {
		if _, dup := sm.stateByID[s.ID]; !dup {
			sm.stateByID[s.ID] = s
		}
	}
	for _, t := range def.Transitions {
		if t.OutcomeSchema != nil {
			ref := *t.OutcomeSchema
			t.OutcomeSchema = &ref
		}
		sm.transitions = append(sm.transitions, t)
		if _, dup := sm.transByID[t.ID]; !dup {
			sm.transByID[t.ID] = t
			sm.from[t.From] = append(sm.from[t.From], t)
		}
	}

	if err := sm.Validate(); err != nil {
		return nil, fmt.Errorf("state machine %s v%d: %w", def.Name, def.Version, err)
	}
	return sm, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and fixed definitions.
func MustCompile(def Definition) *StateMachine {
	sm, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return sm
}

func (sm *StateMachine) Name() string { return sm.name }
func (sm *StateMachine) Version() int { return sm.version }
func (sm *StateMachine) Initial() int { return sm.initial }

// State returns the state with the given id.
func (sm *StateMachine) State(id int) (State, bool) {
	s, ok := sm.stateByID[id]
	return s, ok
}

// States lists the states in declaration order.
func (sm *StateMachine) States() []State {
	return append([]State(nil), sm.states...)
}

// Transition returns the transition with the given id.
func (sm *StateMachine) Transition(id int) (Transition, bool) {
	t, ok := sm.transByID[id]
	return t, ok
}

// Transitions lists the transitions in declaration order.
func (sm *StateMachine) Transitions() []Transition {
	return append([]Transition(nil), sm.transitions...)
}

// TransitionsFrom lists the transitions leaving a state.
func (sm *StateMachine) TransitionsFrom(state int) []Transition {
	return append([]Transition(nil), sm.from[state]...)
}

// IsTerminal reports whether a state is marked terminal or has no way out.
func (sm *StateMachine) IsTerminal(state int) bool {
	s, ok := sm.stateByID[state]
	if !ok {
		return false
	}
	return s.Terminal || len(sm.from[state]) == 0
}

// IsCoherent reports whether Validate passes.
func (sm *StateMachine) IsCoherent() bool {
	return sm.Validate() == nil
}

// Validate checks that the machine can drive an activity:
// at least one state, unique ids, an existing initial state, transitions
// between existing states, and every non-initial state with a way out
// reachable from the initial state.
func (sm *StateMachine) Validate() error {
	var issues Issues

	if len(sm.states) == 0 {
		issues.Addf("states", "at least one state is required")
	}

	seen := make(map[int]bool, len(sm.states))
	for _, s := range sm.states {
		if seen[s.ID] {
			issues.Addf(fmt.Sprintf("state %d", s.ID), "duplicate id")
		}
		seen[s.ID] = true
	}
	if len(sm.states) > 0 && !seen[sm.initial] {
		issues.Addf("initial", "unknown state %d", sm.initial)
	}

	seenT := make(map[int]bool, len(sm.transitions))
	for _, t := range sm.transitions {
		key := fmt.Sprintf("transition %d", t.ID)
		if seenT[t.ID] {
			issues.Addf(key, "duplicate id")
		}
		seenT[t.ID] = true
		if !seen[t.From] {
			issues.Addf(key, "unknown origin state %d", t.From)
		}
		if !seen[t.To] {
			issues.Addf(key, "unknown target state %d", t.To)
		}
		if t.OutcomeSchema != nil && t.OutcomeSchema.Name == "" {
			issues.Addf(key, "outcome schema without a name")
		}
	}

	if err := issues.Err(); err != nil {
		return err
	}

	reachable := make(map[int]bool, len(sm.states))
	for _, v := range graph.Traverse(sm.stateGraph(), sm.initial, graph.Forward, false) {
		reachable[v.ID] = true
	}
	for _, s := range sm.states {
		if s.ID == sm.initial || reachable[s.ID] || len(sm.from[s.ID]) == 0 {
			continue
		}
		issues.Addf(fmt.Sprintf("state %d", s.ID), "%q is unreachable from the initial state", s.Name)
	}
	return issues.Err()
}

// stateGraph projects the machine onto a graph: states are vertices, transitions edges.
// Only called on structurally valid machines.
func (sm *StateMachine) stateGraph() *graph.Model {
	g := graph.NewModel()
	for _, s := range sm.states {
		_ = g.Add(&graph.Vertex{ID: s.ID, Name: s.Name})
	}
	for _, t := range sm.transitions {
		_, _ = g.Connect(t.From, t.To, t.Name, "transition")
	}
	return g
}

// Fire returns the transition to apply from the current state.
// It fails with domain.ErrInvalidTransition when the id is unknown or
// the transition does not leave current.
func (sm *StateMachine) Fire(current, transitionID int) (Transition, error) {
	t, ok := sm.transByID[transitionID]
	if !ok {
		return Transition{}, &domain.TransitionError{
			TransitionID: transitionID,
			CurrentState: current,
			Reason:       fmt.Sprintf("unknown transition in %s v%d", sm.name, sm.version),
		}
	}
	if t.From != current {
		return Transition{}, &domain.TransitionError{
			TransitionID: transitionID,
			CurrentState: current,
			Reason:       fmt.Sprintf("transition %q leaves state %d", t.Name, t.From),
		}
	}
	return t, nil
}

// Available lists the transitions that can fire from current, ordered by id.
func (sm *StateMachine) Available(current int) []Transition {
	out := sm.TransitionsFrom(current)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
