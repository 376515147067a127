package dsl

import (
	"errors"

	"github.com/aretw0/strata/pkg/statemachine"
)

// MachineBuilder provides a fluent API for configuring a state machine.
type MachineBuilder struct {
	def     statemachine.Definition
	states  map[string]int
	initial string
	pending []*TransitionBuilder
	errs    []error
}

// State adds a state. The first state added is the initial state unless Initial says otherwise.
func (m *MachineBuilder) State(name string) *MachineBuilder {
	if _, ok := m.states[name]; ok {
		m.errs = append(m.errs, invalidf("machine %s: duplicate state %q", m.def.Name, name))
		return m
	}
	id := len(m.def.States)
	m.states[name] = id
	m.def.States = append(m.def.States, statemachine.State{ID: id, Name: name})
	return m
}

// States adds several states in order.
func (m *MachineBuilder) States(names ...string) *MachineBuilder {
	for _, name := range names {
		m.State(name)
	}
	return m
}

// Initial selects the initial state.
func (m *MachineBuilder) Initial(name string) *MachineBuilder {
	m.initial = name
	return m
}

// Terminal marks states as terminal.
func (m *MachineBuilder) Terminal(names ...string) *MachineBuilder {
	for _, name := range names {
		id, ok := m.states[name]
		if !ok {
			m.errs = append(m.errs, invalidf("machine %s: terminal state %q is not declared", m.def.Name, name))
			continue
		}
		m.def.States[id].Terminal = true
	}
	return m
}

// Transition adds a transition between two named states.
func (m *MachineBuilder) Transition(name, from, to string) *TransitionBuilder {
	tb := &TransitionBuilder{
		machine: m,
		from:    from,
		to:      to,
		t:       statemachine.Transition{ID: len(m.pending), Name: name},
	}
	m.pending = append(m.pending, tb)
	return tb
}

// Go adds a plain transition and returns the machine builder.
func (m *MachineBuilder) Go(name, from, to string) *MachineBuilder {
	m.Transition(name, from, to)
	return m
}

// Definition resolves state names and returns the definition.
func (m *MachineBuilder) Definition() (statemachine.Definition, error) {
	errs := append([]error(nil), m.errs...)

	def := m.def
	def.States = append([]statemachine.State(nil), m.def.States...)
	if m.initial != "" {
		id, ok := m.states[m.initial]
		if !ok {
			errs = append(errs, invalidf("machine %s: initial state %q is not declared", def.Name, m.initial))
		}
		def.Initial = id
	}

	def.Transitions = make([]statemachine.Transition, 0, len(m.pending))
	for _, tb := range m.pending {
		t := tb.t
		from, okFrom := m.states[tb.from]
		to, okTo := m.states[tb.to]
		if !okFrom || !okTo {
			errs = append(errs, invalidf("machine %s: transition %q references undeclared state", def.Name, t.Name))
			continue
		}
		t.From, t.To = from, to
		def.Transitions = append(def.Transitions, t)
	}

	if err := errors.Join(errs...); err != nil {
		return statemachine.Definition{}, err
	}
	return def, nil
}

// TransitionBuilder configures one transition.
type TransitionBuilder struct {
	machine *MachineBuilder
	from    string
	to      string
	t       statemachine.Transition
}

// Requires restricts the transition to agents holding role.
func (t *TransitionBuilder) Requires(role string) *TransitionBuilder {
	t.t.RequiredRole = role
	return t
}

// Outcome requires an outcome document validated against the schema.
func (t *TransitionBuilder) Outcome(schema string, version int) *TransitionBuilder {
	t.t.OutcomeSchema = &statemachine.SchemaRef{Name: schema, Version: version}
	return t
}

// Reinitialize resets the children of a composite when the transition fires.
func (t *TransitionBuilder) Reinitialize() *TransitionBuilder {
	t.t.Reinitialize = true
	return t
}

// Machine returns the owning machine builder.
func (t *TransitionBuilder) Machine() *MachineBuilder {
	return t.machine
}
