package workflow

import (
	"fmt"
	"maps"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/statemachine"
)

// EdgeDef connects two sibling activities by vertex id.
type EdgeDef struct {
	Source int    `json:"source" yaml:"source" mapstructure:"source"`
	Target int    `json:"target" yaml:"target" mapstructure:"target"`
	Alias  string `json:"alias,omitempty" yaml:"alias,omitempty" mapstructure:"alias"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
}

// ActivityDef describes one activity. Definitions with children, edges or
// Composite set produce composite activities.
type ActivityDef struct {
	ID         int            `json:"id" yaml:"id" mapstructure:"id"`
	Name       string         `json:"name" yaml:"name" mapstructure:"name"`
	Composite  bool           `json:"composite,omitempty" yaml:"composite,omitempty" mapstructure:"composite"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`

	// StateMachine and Version bind the activity. Version 0 picks the latest.
	StateMachine string `json:"state_machine,omitempty" yaml:"state_machine,omitempty" mapstructure:"state_machine"`
	Version      int    `json:"version,omitempty" yaml:"version,omitempty" mapstructure:"version"`

	IsJoin bool `json:"is_join,omitempty" yaml:"is_join,omitempty" mapstructure:"is_join"`
	IsLoop bool `json:"is_loop,omitempty" yaml:"is_loop,omitempty" mapstructure:"is_loop"`

	Children []ActivityDef `json:"children,omitempty" yaml:"children,omitempty" mapstructure:"children"`
	Edges    []EdgeDef     `json:"edges,omitempty" yaml:"edges,omitempty" mapstructure:"edges"`
	// Start is the entry child. Without it the first child is the entry.
	Start *int `json:"start,omitempty" yaml:"start,omitempty" mapstructure:"start"`
}

func (d ActivityDef) composite() bool {
	return d.Composite || len(d.Children) > 0 || len(d.Edges) > 0
}

// Description is the loadable form of a workflow: the root composite and its tree.
type Description struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Version int    `json:"version" yaml:"version" mapstructure:"version"`

	StateMachine        string `json:"state_machine,omitempty" yaml:"state_machine,omitempty" mapstructure:"state_machine"`
	StateMachineVersion int    `json:"state_machine_version,omitempty" yaml:"state_machine_version,omitempty" mapstructure:"state_machine_version"`

	Activities []ActivityDef `json:"activities" yaml:"activities" mapstructure:"activities"`
	Edges      []EdgeDef     `json:"edges,omitempty" yaml:"edges,omitempty" mapstructure:"edges"`
	Start      *int          `json:"start,omitempty" yaml:"start,omitempty" mapstructure:"start"`
}

// Root returns the description as the definition of the root composite.
func (d Description) Root() ActivityDef {
	return ActivityDef{
		ID:           RootID,
		Name:         RootName,
		Composite:    true,
		StateMachine: d.StateMachine,
		Version:      d.StateMachineVersion,
		Children:     d.Activities,
		Edges:        d.Edges,
		Start:        d.Start,
	}
}

// Resolver supplies compiled state machines. *statemachine.Registry satisfies it.
type Resolver interface {
	Get(name string, version int) (*statemachine.StateMachine, error)
}

// Workflow is the root composite activity of one item.
type Workflow struct {
	item domain.ItemID
	desc Description
	root *Activity
}

// Instantiate builds a workflow from a description. Every activity is bound to
// its machine and put in the machine's initial state; entry children are active.
// Any inconsistency fails the whole description with domain.ErrInvalidData.
func Instantiate(item domain.ItemID, desc Description, res Resolver) (*Workflow, error) {
	var issues statemachine.Issues
	root := build(desc.Root(), nil, res, &issues)
	if err := issues.Err(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", desc.Name, err)
	}
	root.active = true
	return &Workflow{item: item, desc: desc, root: root}, nil
}

// Validate checks a description without keeping the result.
func Validate(desc Description, res Resolver) error {
	_, err := Instantiate("", desc, res)
	return err
}

func build(def ActivityDef, parent *Activity, res Resolver, issues *statemachine.Issues) *Activity {
	a := &Activity{
		kind:   Leaf,
		parent: parent,
		vertex: &graph.Vertex{
			ID:         def.ID,
			Name:       def.Name,
			Properties: maps.Clone(def.Properties),
			IsJoin:     def.IsJoin,
			IsLoop:     def.IsLoop,
		},
	}
	if a.vertex.Properties == nil {
		a.vertex.Properties = make(map[string]any)
	}

	key := "activity " + def.Name
	if parent != nil {
		key = "activity " + parent.Path() + domain.PathSeparator + def.Name
	}
	if def.Name == "" {
		issues.Addf(fmt.Sprintf("activity id %d", def.ID), "missing name")
	}

	if def.StateMachine != "" {
		sm, err := res.Get(def.StateMachine, def.Version)
		if err != nil {
			issues.Addf(key, "state machine: %v", err)
		} else {
			a.machine = sm
			a.state = sm.Initial()
		}
	} else if !def.composite() {
		issues.Addf(key, "leaf activity needs a state machine")
	}

	if !def.composite() {
		return a
	}

	a.kind = Composite
	a.composite = &compositePayload{
		graph:    graph.NewModel(),
		children: make(map[int]*Activity, len(def.Children)),
	}
	for _, cd := range def.Children {
		child := build(cd, a, res, issues)
		if err := a.composite.graph.Add(child.vertex); err != nil {
			issues.Addf(key, "child %q: %v", cd.Name, err)
			continue
		}
		a.composite.children[cd.ID] = child
	}
	for _, e := range def.Edges {
		if _, err := a.composite.graph.Connect(e.Source, e.Target, e.Alias, e.Type); err != nil {
			issues.Addf(key, "edge %d->%d: %v", e.Source, e.Target, err)
		}
	}
	if def.Start != nil {
		if err := a.composite.graph.SetStart(*def.Start); err != nil {
			issues.Addf(key, "start: %v", err)
		}
	}
	a.composite.graph.InferTopology()

	if entry, ok := entryOf(a.composite.graph); ok {
		a.composite.children[entry].active = true
	}
	return a
}

// entryOf returns the start vertex of a graph, defaulting to the first vertex.
func entryOf(g *graph.Model) (int, bool) {
	if v, ok := g.Start(); ok {
		return v.ID, true
	}
	vs := g.Vertices()
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0].ID, true
}

// Item returns the item the workflow belongs to.
func (w *Workflow) Item() domain.ItemID { return w.item }

// Root returns the root composite activity.
func (w *Workflow) Root() *Activity { return w.root }

// Description returns the description the workflow was built from.
func (w *Workflow) Description() Description { return w.desc }

// Search resolves a path from the root.
func (w *Workflow) Search(path string) (*Activity, error) {
	return w.root.Search(path)
}

// Activities lists every activity depth-first, root included.
func (w *Workflow) Activities() []*Activity {
	var out []*Activity
	var walk func(a *Activity)
	walk = func(a *Activity) {
		out = append(out, a)
		for _, c := range a.Children() {
			walk(c)
		}
	}
	walk(w.root)
	return out
}
