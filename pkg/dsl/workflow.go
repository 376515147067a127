package dsl

import (
	"errors"
	"maps"

	"github.com/aretw0/strata/pkg/workflow"
)

// scope holds the activities declared under one composite (or the workflow root).
type scope struct {
	activities []*ActivityBuilder
	start      string
}

func (s *scope) add(name string) *ActivityBuilder {
	for _, ab := range s.activities {
		if ab.def.Name == name {
			return ab
		}
	}
	ab := &ActivityBuilder{
		def:   workflow.ActivityDef{ID: len(s.activities), Name: name},
		scope: s,
	}
	s.activities = append(s.activities, ab)
	return ab
}

// resolve turns named declarations into activity definitions, edges and the start id.
func (s *scope) resolve(owner string) ([]workflow.ActivityDef, []workflow.EdgeDef, *int, error) {
	ids := make(map[string]int, len(s.activities))
	for _, ab := range s.activities {
		ids[ab.def.Name] = ab.def.ID
	}

	var errs []error
	defs := make([]workflow.ActivityDef, 0, len(s.activities))
	var edges []workflow.EdgeDef
	for _, ab := range s.activities {
		def, err := ab.resolve()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)

		for _, e := range ab.edges {
			target, ok := ids[e.target]
			if !ok {
				errs = append(errs, invalidf("%s: edge %s -> %s targets an undeclared activity", owner, ab.def.Name, e.target))
				continue
			}
			edges = append(edges, workflow.EdgeDef{Source: ab.def.ID, Target: target, Alias: e.alias})
		}
	}

	var start *int
	if s.start != "" {
		id, ok := ids[s.start]
		if !ok {
			errs = append(errs, invalidf("%s: start activity %q is not declared", owner, s.start))
		}
		start = &id
	}
	return defs, edges, start, errors.Join(errs...)
}

// WorkflowBuilder provides a fluent API for configuring a workflow description.
type WorkflowBuilder struct {
	desc  workflow.Description
	scope *scope
}

// Version sets the description version.
func (w *WorkflowBuilder) Version(v int) *WorkflowBuilder {
	w.desc.Version = v
	return w
}

// Machine binds the root composite to a state machine.
func (w *WorkflowBuilder) Machine(name string, version int) *WorkflowBuilder {
	w.desc.StateMachine = name
	w.desc.StateMachineVersion = version
	return w
}

// Activity declares a top-level activity, or returns the existing one.
func (w *WorkflowBuilder) Activity(name string) *ActivityBuilder {
	return w.scope.add(name)
}

// Start selects the entry activity. Without it the first activity is the entry.
func (w *WorkflowBuilder) Start(name string) *WorkflowBuilder {
	w.scope.start = name
	return w
}

// Description resolves names and returns the description.
func (w *WorkflowBuilder) Description() (workflow.Description, error) {
	desc := w.desc
	activities, edges, start, err := w.scope.resolve("workflow " + desc.Name)
	if err != nil {
		return workflow.Description{}, err
	}
	desc.Activities, desc.Edges, desc.Start = activities, edges, start
	return desc, nil
}

type edgeDecl struct {
	target string
	alias  string
}

// ActivityBuilder provides a fluent API for configuring an activity.
type ActivityBuilder struct {
	def      workflow.ActivityDef
	scope    *scope
	edges    []edgeDecl
	children *scope
}

// Machine binds the activity to a state machine. Version 0 picks the latest.
func (a *ActivityBuilder) Machine(name string, version int) *ActivityBuilder {
	a.def.StateMachine = name
	a.def.Version = version
	return a
}

// Property sets a static activity property.
func (a *ActivityBuilder) Property(key string, value any) *ActivityBuilder {
	if a.def.Properties == nil {
		a.def.Properties = make(map[string]any)
	}
	a.def.Properties[key] = value
	return a
}

// Join marks the activity as a synchronization point.
func (a *ActivityBuilder) Join() *ActivityBuilder {
	a.def.IsJoin = true
	return a
}

// Loop marks the activity as the source of a back edge.
func (a *ActivityBuilder) Loop() *ActivityBuilder {
	a.def.IsLoop = true
	return a
}

// Go adds an edge to a sibling activity.
func (a *ActivityBuilder) Go(target string) *ActivityBuilder {
	return a.GoAs(target, "")
}

// GoAs adds an aliased edge to a sibling activity.
func (a *ActivityBuilder) GoAs(target, alias string) *ActivityBuilder {
	a.edges = append(a.edges, edgeDecl{target: target, alias: alias})
	return a
}

// Start makes the activity the entry of its parent.
func (a *ActivityBuilder) Start() *ActivityBuilder {
	a.scope.start = a.def.Name
	return a
}

// Composite marks the activity as composite even without children.
func (a *ActivityBuilder) Composite() *ActivityBuilder {
	a.def.Composite = true
	return a
}

// Activity declares a child activity, making this activity composite.
func (a *ActivityBuilder) Activity(name string) *ActivityBuilder {
	if a.children == nil {
		a.children = &scope{}
	}
	a.def.Composite = true
	return a.children.add(name)
}

func (a *ActivityBuilder) resolve() (workflow.ActivityDef, error) {
	def := a.def
	def.Properties = maps.Clone(a.def.Properties)
	if a.children == nil {
		return def, nil
	}
	children, edges, start, err := a.children.resolve("activity " + def.Name)
	if err != nil {
		return workflow.ActivityDef{}, err
	}
	def.Children, def.Edges, def.Start = children, edges, start
	return def, nil
}
