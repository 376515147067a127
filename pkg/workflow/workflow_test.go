package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry(t *testing.T) *statemachine.Registry {
	t.Helper()
	r := statemachine.NewRegistry()
	_, err := r.Define(statemachine.Definition{
		Name:    "Default",
		Version: 1,
		Initial: 0,
		States: []statemachine.State{
			{ID: 0, Name: "Waiting"},
			{ID: 1, Name: "Started"},
			{ID: 2, Name: "Finished", Terminal: true},
		},
		Transitions: []statemachine.Transition{
			{ID: 0, Name: "Start", From: 0, To: 1},
			{ID: 1, Name: "Complete", From: 1, To: 2},
			{ID: 2, Name: "Approve", From: 1, To: 2, RequiredRole: "Admin"},
		},
	})
	require.NoError(t, err)
	_, err = r.Define(statemachine.Definition{
		Name:    "Composite",
		Version: 1,
		Initial: 0,
		States: []statemachine.State{
			{ID: 0, Name: "Waiting"},
			{ID: 1, Name: "Started"},
		},
		Transitions: []statemachine.Transition{
			{ID: 0, Name: "Start", From: 0, To: 1},
			{ID: 1, Name: "Restart", From: 1, To: 1, Reinitialize: true},
		},
	})
	require.NoError(t, err)
	return r
}

func intp(i int) *int { return &i }

// nestedDescription builds root -> domain(0) -> DomainWorkflow(15) -> StartSequence(10) -> Pull(0).
func nestedDescription() workflow.Description {
	return workflow.Description{
		Name:         "Module",
		Version:      1,
		StateMachine: "Composite",
		Activities: []workflow.ActivityDef{{
			ID: 0, Name: "domain", StateMachine: "Composite",
			Children: []workflow.ActivityDef{{
				ID: 15, Name: "DomainWorkflow", StateMachine: "Composite",
				Children: []workflow.ActivityDef{{
					ID: 10, Name: "StartSequence", StateMachine: "Composite",
					Children: []workflow.ActivityDef{
						{ID: 0, Name: "Pull", StateMachine: "Default"},
						{ID: 1, Name: "Push", StateMachine: "Default"},
					},
					Edges: []workflow.EdgeDef{{Source: 0, Target: 1}},
				}},
			}},
		}},
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []domain.Event
	fail   error
}

func (r *memRecorder) Record(_ context.Context, c workflow.Change) (domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return domain.Event{}, r.fail
	}
	ev := domain.Event{
		ID:           len(r.events),
		AgentID:      c.Agent.ID,
		StepName:     c.Activity.Name(),
		StepPath:     c.Activity.Path(),
		StepType:     c.Activity.Kind().String(),
		TransitionID: c.Transition.ID,
		OriginState:  c.Origin,
		TargetState:  c.Transition.To,
	}
	r.events = append(r.events, ev)
	return ev, nil
}

func TestSearch_NameAndIDPathsResolveSameActivity(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)

	byName, err := w.Search("domain/DomainWorkflow/StartSequence/Pull")
	require.NoError(t, err)
	byID, err := w.Search("-1/0/15/10/0")
	require.NoError(t, err)

	assert.Same(t, byName, byID)
	assert.Equal(t, "Pull", byName.Name())
	assert.Equal(t, "workflow/domain/DomainWorkflow/StartSequence/Pull", byName.Path())
	assert.Equal(t, "-1/0/15/10/0", byName.IDPath())
}

func TestSearch_RelativeAndSentinel(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)

	pull, err := w.Search("domain/DomainWorkflow/StartSequence/Pull")
	require.NoError(t, err)
	seq := pull.Parent()

	tests := []struct {
		name string
		from *workflow.Activity
		path string
		want string
	}{
		{"empty path is self", seq, "", "StartSequence"},
		{"sentinel jumps to root", pull, "workflow/domain", "domain"},
		{"sentinel alone is root", pull, "workflow", "workflow"},
		{"one ancestor up", seq, "-1", "DomainWorkflow"},
		{"two ancestors up", pull, "-2/StartSequence/Push", "Push"},
		{"climb is clamped at root", pull, "-99/domain", "domain"},
		{"root minus one is root", w.Root(), "-1", "workflow"},
		{"id fallback", seq, "1", "Push"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Search(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name())
		})
	}
}

func TestSearch_NotFound(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)

	for _, p := range []string{"nope", "domain/99", "domain/DomainWorkflow/StartSequence/Pull/deeper", "-1/x"} {
		_, err := w.Search(p)
		assert.ErrorIs(t, err, domain.ErrObjectNotFound, p)
	}
}

func TestSearch_DuplicateNamesFirstWins(t *testing.T) {
	desc := workflow.Description{
		Name:         "Dupes",
		StateMachine: "Composite",
		Activities: []workflow.ActivityDef{
			{ID: 4, Name: "step", StateMachine: "Default"},
			{ID: 2, Name: "step", StateMachine: "Default"},
		},
	}
	w, err := workflow.Instantiate("item", desc, registry(t))
	require.NoError(t, err)

	a, err := w.Search("step")
	require.NoError(t, err)
	assert.Equal(t, 4, a.ID())

	b, err := w.Search("2")
	require.NoError(t, err)
	assert.Equal(t, 2, b.ID())
}

func TestRequestTransition_CompletesStartedActivity(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)
	pull, err := w.Search("domain/DomainWorkflow/StartSequence/Pull")
	require.NoError(t, err)

	rec := &memRecorder{}
	agentA := domain.Agent{ID: "agent-a", Name: "A"}
	ctx := context.Background()

	_, err = pull.RequestTransition(ctx, 0, agentA, rec)
	require.NoError(t, err)
	assert.Equal(t, "Started", pull.CurrentStateName())
	before := len(rec.events) - 1

	ev, err := pull.RequestTransition(ctx, 1, agentA, rec)
	require.NoError(t, err)

	assert.Equal(t, "Finished", pull.CurrentStateName())
	assert.Equal(t, before+1, ev.ID)
	assert.Equal(t, 1, ev.TransitionID)
	assert.Equal(t, domain.ItemID("agent-a"), ev.AgentID)
	assert.Len(t, rec.events, 2)

	assert.False(t, pull.Active())
	push, _ := w.Search("domain/DomainWorkflow/StartSequence/Push")
	assert.True(t, push.Active(), "finishing a step activates its successors")
}

func TestRequestTransition_IllegalLeavesNoTrace(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)
	pull, _ := w.Search("domain/DomainWorkflow/StartSequence/Pull")

	rec := &memRecorder{}
	_, err = pull.RequestTransition(context.Background(), 1, domain.Agent{ID: "a"}, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	var terr *domain.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, pull.Path(), terr.StepPath)

	assert.Equal(t, 0, pull.CurrentState())
	assert.Empty(t, rec.events)
}

func TestRequestTransition_RoleAndRecorderFailure(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)
	pull, _ := w.Search("domain/DomainWorkflow/StartSequence/Pull")
	ctx := context.Background()

	rec := &memRecorder{}
	_, err = pull.RequestTransition(ctx, 0, domain.Agent{ID: "a"}, rec)
	require.NoError(t, err)

	_, err = pull.RequestTransition(ctx, 2, domain.Agent{ID: "a", Role: "User"}, rec)
	assert.ErrorIs(t, err, domain.ErrAccessRights)
	assert.Equal(t, 1, pull.CurrentState())

	rec.fail = errors.New("storage down")
	_, err = pull.RequestTransition(ctx, 2, domain.Agent{ID: "a", Role: "Admin"}, rec)
	assert.ErrorContains(t, err, "storage down")
	assert.Equal(t, 1, pull.CurrentState(), "state only moves after the event is recorded")
}

func TestRequestTransition_Serialized(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)
	pull, _ := w.Search("domain/DomainWorkflow/StartSequence/Pull")

	rec := &memRecorder{}
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pull.RequestTransition(context.Background(), 0, domain.Agent{ID: "a"}, rec)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, ok, "exactly one Start can fire from Waiting")
	assert.Len(t, rec.events, 1)
}

func TestReinitialize(t *testing.T) {
	w, err := workflow.Instantiate("item-1", nestedDescription(), registry(t))
	require.NoError(t, err)
	ctx := context.Background()
	rec := &memRecorder{}
	agent := domain.Agent{ID: "a"}

	seq, _ := w.Search("domain/DomainWorkflow/StartSequence")
	pull, _ := seq.Search("Pull")

	_, err = seq.RequestTransition(ctx, 0, agent, rec)
	require.NoError(t, err)
	_, err = pull.RequestTransition(ctx, 0, agent, rec)
	require.NoError(t, err)
	_, err = pull.RequestTransition(ctx, 1, agent, rec)
	require.NoError(t, err)
	require.True(t, pull.IsFinished())

	_, err = seq.RequestTransition(ctx, 1, agent, rec)
	require.NoError(t, err)
	assert.Equal(t, 0, pull.CurrentState())
	assert.True(t, pull.Active())
	push, _ := seq.Search("Push")
	assert.False(t, push.Active())
}

func TestInstantiate_Invalid(t *testing.T) {
	tests := []struct {
		name string
		desc workflow.Description
	}{
		{
			name: "unknown machine",
			desc: workflow.Description{Activities: []workflow.ActivityDef{{ID: 0, Name: "a", StateMachine: "Ghost"}}},
		},
		{
			name: "leaf without machine",
			desc: workflow.Description{Activities: []workflow.ActivityDef{{ID: 0, Name: "a"}}},
		},
		{
			name: "duplicate ids",
			desc: workflow.Description{Activities: []workflow.ActivityDef{
				{ID: 0, Name: "a", StateMachine: "Default"},
				{ID: 0, Name: "b", StateMachine: "Default"},
			}},
		},
		{
			name: "dangling edge",
			desc: workflow.Description{
				Activities: []workflow.ActivityDef{{ID: 0, Name: "a", StateMachine: "Default"}},
				Edges:      []workflow.EdgeDef{{Source: 0, Target: 3}},
			},
		},
		{
			name: "bad start",
			desc: workflow.Description{
				Activities: []workflow.ActivityDef{{ID: 0, Name: "a", StateMachine: "Default"}},
				Start:      intp(8),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := workflow.Instantiate("item", tt.desc, registry(t))
			assert.Nil(t, w)
			assert.ErrorIs(t, err, domain.ErrInvalidData)
		})
	}
}

func TestTraverseAndNext(t *testing.T) {
	desc := workflow.Description{
		Name:  "Loop",
		Start: intp(0),
		Activities: []workflow.ActivityDef{
			{ID: 0, Name: "S", StateMachine: "Default"},
			{ID: 1, Name: "J", StateMachine: "Default"},
			{ID: 2, Name: "X", StateMachine: "Default"},
			{ID: 3, Name: "L", StateMachine: "Default"},
			{ID: 4, Name: "E", StateMachine: "Default"},
		},
		Edges: []workflow.EdgeDef{
			{Source: 0, Target: 1}, {Source: 1, Target: 2}, {Source: 2, Target: 3},
			{Source: 3, Target: 1}, {Source: 3, Target: 4},
		},
	}
	w, err := workflow.Instantiate("item", desc, registry(t))
	require.NoError(t, err)

	names := func(as []*workflow.Activity) []string {
		out := make([]string, 0, len(as))
		for _, a := range as {
			out = append(out, a.Name())
		}
		return out
	}

	x, _ := w.Search("X")
	l, _ := w.Search("L")
	assert.True(t, l.Vertex().IsLoop)
	assert.Equal(t, []string{"X", "L", "E"}, names(x.Traverse(graph.Forward, true)))
	assert.Equal(t, []string{"X", "L", "J", "E"}, names(x.Traverse(graph.Forward, false)))
	assert.Equal(t, []string{"J", "E"}, names(l.Next()))
	assert.Equal(t, []string{"workflow"}, names(w.Root().Traverse(graph.Forward, false)))

	s, _ := w.Search("S")
	assert.True(t, s.Active())
	assert.False(t, x.Active())
	assert.Len(t, w.Activities(), 6)
}

func TestSnapshotRestore(t *testing.T) {
	reg := registry(t)
	w, err := workflow.Instantiate("item-1", nestedDescription(), reg)
	require.NoError(t, err)
	pull, _ := w.Search("domain/DomainWorkflow/StartSequence/Pull")
	_, err = pull.RequestTransition(context.Background(), 0, domain.Agent{ID: "a"}, &memRecorder{})
	require.NoError(t, err)

	raw, err := json.Marshal(w.Snapshot())
	require.NoError(t, err)

	var snap workflow.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	// A newer machine version must not rebind restored activities.
	_, err = reg.Define(statemachine.Definition{
		Name: "Default", Version: 2, Initial: 0,
		States: []statemachine.State{{ID: 0, Name: "Only"}},
	})
	require.NoError(t, err)

	restored, err := workflow.Restore(snap, reg)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemID("item-1"), restored.Item())

	got, err := restored.Search("-1/0/15/10/0")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentState())
	assert.Equal(t, 1, got.StateMachine().Version())
	assert.True(t, got.Active())

	snap.States["-1/0/15/10/0"] = workflow.ActivityState{State: 9, Version: 1}
	_, err = workflow.Restore(snap, reg)
	assert.ErrorIs(t, err, domain.ErrInvalidData)

	delete(snap.States, "-1/0/15/10/0")
	snap.States["-1/7"] = workflow.ActivityState{}
	_, err = workflow.Restore(snap, reg)
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}
