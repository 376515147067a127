package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/statemachine"
)

// Kind discriminates leaf activities from composites.
type Kind int

const (
	Leaf Kind = iota
	Composite
)

func (k Kind) String() string {
	if k == Composite {
		return "CompositeActivity"
	}
	return "Activity"
}

// RootName is the name of every workflow's root activity, also accepted as a leading search segment.
const RootName = "workflow"

// RootID is the vertex id of the root activity.
const RootID = -1

// Activity is one step of a workflow bound to a state machine.
// Composite activities own a child graph of further activities.
type Activity struct {
	mu sync.Mutex

	kind    Kind
	vertex  *graph.Vertex
	machine *statemachine.StateMachine
	state   int
	active  bool
	parent  *Activity

	composite *compositePayload
}

type compositePayload struct {
	graph    *graph.Model
	children map[int]*Activity
}

// Change describes a validated transition awaiting persistence.
type Change struct {
	Activity   *Activity
	Transition statemachine.Transition
	Agent      domain.Agent
	Origin     int
}

// Recorder persists the event for a validated change.
// The activity only moves to the target state once Record succeeds.
// Record runs with the activity locked and must not call its state accessors.
type Recorder interface {
	Record(ctx context.Context, change Change) (domain.Event, error)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, change Change) (domain.Event, error)

func (f RecorderFunc) Record(ctx context.Context, change Change) (domain.Event, error) {
	return f(ctx, change)
}

func (a *Activity) ID() int               { return a.vertex.ID }
func (a *Activity) Name() string          { return a.vertex.Name }
func (a *Activity) Kind() Kind            { return a.kind }
func (a *Activity) IsComposite() bool     { return a.kind == Composite }
func (a *Activity) Parent() *Activity     { return a.parent }
func (a *Activity) Vertex() *graph.Vertex { return a.vertex }

// StateMachine returns the bound machine, or nil for an unbound composite.
func (a *Activity) StateMachine() *statemachine.StateMachine { return a.machine }

// Properties returns a copy of the activity's property bag.
func (a *Activity) Properties() map[string]any {
	return maps.Clone(a.vertex.Properties)
}

// Property returns a single property value.
func (a *Activity) Property(key string) (any, bool) {
	v, ok := a.vertex.Properties[key]
	return v, ok
}

// CurrentState returns the id of the activity's current state.
func (a *Activity) CurrentState() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// CurrentStateName returns the name of the current state, or "" when unbound.
func (a *Activity) CurrentStateName() string {
	if a.machine == nil {
		return ""
	}
	s, _ := a.machine.State(a.CurrentState())
	return s.Name
}

// Active reports whether the activity is enabled in the flow.
func (a *Activity) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Activity) setActive(active bool) {
	a.mu.Lock()
	a.active = active
	a.mu.Unlock()
}

// IsFinished reports whether the activity sits in a terminal state.
func (a *Activity) IsFinished() bool {
	return a.machine != nil && a.machine.IsTerminal(a.CurrentState())
}

// Graph returns the child graph of a composite, or nil for a leaf.
func (a *Activity) Graph() *graph.Model {
	if a.composite == nil {
		return nil
	}
	return a.composite.graph
}

// Children lists the child activities of a composite in insertion order.
func (a *Activity) Children() []*Activity {
	if a.composite == nil {
		return nil
	}
	vs := a.composite.graph.Vertices()
	out := make([]*Activity, 0, len(vs))
	for _, v := range vs {
		out = append(out, a.composite.children[v.ID])
	}
	return out
}

// Child returns the direct child with the given vertex id.
func (a *Activity) Child(id int) (*Activity, bool) {
	if a.composite == nil {
		return nil, false
	}
	c, ok := a.composite.children[id]
	return c, ok
}

// Root returns the workflow root above the activity.
func (a *Activity) Root() *Activity {
	cur := a
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Path returns the name path from the root, e.g. "workflow/domain/Pull".
func (a *Activity) Path() string {
	if a.parent == nil {
		return a.vertex.Name
	}
	return a.parent.Path() + domain.PathSeparator + a.vertex.Name
}

// IDPath returns the numeric path from the root, e.g. "-1/0/15".
func (a *Activity) IDPath() string {
	if a.parent == nil {
		return strconv.Itoa(a.vertex.ID)
	}
	return a.parent.IDPath() + domain.PathSeparator + strconv.Itoa(a.vertex.ID)
}

// RequestTransition fires a transition on the activity.
// Requests on one activity are serialized. Validation happens before the
// recorder runs; a failed validation or recording leaves the state untouched.
func (a *Activity) RequestTransition(ctx context.Context, transitionID int, agent domain.Agent, rec Recorder) (domain.Event, error) {
	a.mu.Lock()
	ev, next, err := a.transitionLocked(ctx, transitionID, agent, rec)
	a.mu.Unlock()
	if err != nil {
		return domain.Event{}, err
	}

	// Flow propagation runs outside the activity lock; siblings lock themselves.
	for _, n := range next {
		n.setActive(true)
	}
	return ev, nil
}

func (a *Activity) transitionLocked(ctx context.Context, transitionID int, agent domain.Agent, rec Recorder) (domain.Event, []*Activity, error) {
	if a.machine == nil {
		return domain.Event{}, nil, &domain.TransitionError{
			StepPath:     a.Path(),
			TransitionID: transitionID,
			CurrentState: a.state,
			Reason:       "activity has no state machine",
		}
	}

	t, err := a.machine.Fire(a.state, transitionID)
	if err != nil {
		var terr *domain.TransitionError
		if errors.As(err, &terr) {
			terr.StepPath = a.Path()
		}
		return domain.Event{}, nil, err
	}
	if t.RequiredRole != "" && t.RequiredRole != agent.Role {
		return domain.Event{}, nil, fmt.Errorf("%w: transition %q on %s requires role %q",
			domain.ErrAccessRights, t.Name, a.Path(), t.RequiredRole)
	}

	ev, err := rec.Record(ctx, Change{
		Activity:   a,
		Transition: t,
		Agent:      agent,
		Origin:     a.state,
	})
	if err != nil {
		return domain.Event{}, nil, err
	}

	a.state = t.To
	if t.Reinitialize && a.composite != nil {
		a.resetChildren()
	}

	var next []*Activity
	if a.machine.IsTerminal(a.state) {
		a.active = false
		next = a.Next()
	} else {
		a.active = true
	}
	return ev, next, nil
}

// resetChildren puts every descendant back to its initial state and start activation.
func (a *Activity) resetChildren() {
	entry, hasEntry := entryOf(a.composite.graph)
	for _, c := range a.Children() {
		c.mu.Lock()
		if c.machine != nil {
			c.state = c.machine.Initial()
		}
		c.active = hasEntry && entry == c.vertex.ID
		c.mu.Unlock()
		if c.composite != nil {
			c.resetChildren()
		}
	}
}

// Next lists the activities that follow this one in its parent graph.
func (a *Activity) Next() []*Activity {
	if a.parent == nil {
		return nil
	}
	return a.parent.lookup(a.parent.composite.graph.OutVertices(a.vertex.ID))
}

// Traverse walks the parent graph from this activity.
// The root has no parent graph and traverses to itself.
func (a *Activity) Traverse(dir graph.Direction, ignoreBackLinks bool) []*Activity {
	if a.parent == nil {
		return []*Activity{a}
	}
	return a.parent.lookup(graph.Traverse(a.parent.composite.graph, a.vertex.ID, dir, ignoreBackLinks))
}

func (a *Activity) lookup(vs []*graph.Vertex) []*Activity {
	out := make([]*Activity, 0, len(vs))
	for _, v := range vs {
		out = append(out, a.composite.children[v.ID])
	}
	return out
}
