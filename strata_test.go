package strata_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/strata"
	"github.com/aretw0/strata/internal/adapters/file"
	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/dsl"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/outcome"
	"github.com/aretw0/strata/pkg/ports"
	"github.com/aretw0/strata/pkg/storage"
)

var none domain.TransactionKey

const verdictSchema = `{
	"type": "object",
	"required": ["score"],
	"properties": {"score": {"type": "integer"}}
}`

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func choreBuilder() *dsl.Builder {
	b := dsl.New()
	b.Machine("Task", 1).
		States("Ready", "Started", "Finished").
		Terminal("Finished").
		Go("Start", "Ready", "Started").
		Go("Complete", "Started", "Finished")
	b.Machine("Review", 1).States("Open", "Approved").Terminal("Approved").
		Transition("Approve", "Open", "Approved").
		Requires("reviewer").
		Outcome("Verdict", 1)

	chore := b.Workflow("Chore")
	chore.Activity("Do").Machine("Task", 1).Go("Check")
	chore.Activity("Check").Machine("Review", 1)
	return b
}

func newKernel(t *testing.T, opts ...strata.Option) *strata.Kernel {
	t.Helper()
	loader, err := choreBuilder().Build()
	require.NoError(t, err)

	schemas := outcome.NewRegistry()
	_, err = schemas.Register("Verdict", 1, []byte(verdictSchema))
	require.NoError(t, err)

	base := []strata.Option{
		strata.WithLoader(loader),
		strata.WithSchemas(schemas),
		strata.WithConfig(config.MapLookup{strata.ItemTypeKey("chore"): "Chore"}),
	}
	k, err := strata.New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	return k
}

func finishDo(t *testing.T, k *strata.Kernel, item domain.ItemID) {
	t.Helper()
	ctx := context.Background()
	agent := domain.Agent{ID: "agent-a"}
	_, err := k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 0, Agent: agent}, none)
	require.NoError(t, err)
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 1, Agent: agent}, none)
	require.NoError(t, err)
}

func TestKernel_CompletesStartedActivity(t *testing.T) {
	notifier := &recordingNotifier{}
	k := newKernel(t, strata.WithNotifier(notifier))
	ctx := context.Background()

	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	agentA := domain.Agent{ID: "agent-a", Name: "A"}
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 0, Agent: agentA}, none)
	require.NoError(t, err)

	do, err := k.Search(ctx, item, "Do", none)
	require.NoError(t, err)
	assert.Equal(t, "Started", do.CurrentStateName())
	before, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)

	ev, err := k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 1, Agent: agentA}, none)
	require.NoError(t, err)

	assert.Equal(t, before+1, ev.ID)
	assert.Equal(t, 1, ev.TransitionID)
	assert.Equal(t, domain.ItemID("agent-a"), ev.AgentID)
	assert.Equal(t, "Task", ev.StateMachineName)
	assert.Equal(t, "workflow/Do", ev.StepPath, "step paths are rooted")

	do, err = k.Search(ctx, item, "Do", none)
	require.NoError(t, err)
	assert.Equal(t, "Finished", do.CurrentStateName())
	check, err := k.Search(ctx, item, "workflow/Check", none)
	require.NoError(t, err)
	assert.True(t, check.Active(), "finishing Do activates Check")

	events, err := k.Events(ctx, item, none)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	stored, err := k.Event(ctx, item, ev.ID, none)
	require.NoError(t, err)
	assert.Equal(t, ev, stored)
	assert.Equal(t, 2, notifier.count())
}

func TestKernel_OutcomeViewPointAndAttachment(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)
	finishDo(t, k, item)

	ev, err := k.RequestTransition(ctx, strata.Request{
		Item:         item,
		Path:         "Check",
		TransitionID: 0,
		Agent:        domain.Agent{ID: "rev", Role: "reviewer"},
		Outcome:      []byte(`{"score": 5}`),
		ViewName:     "final",
		Attachment:   []byte("%PDF"),
	}, none)
	require.NoError(t, err)
	assert.True(t, ev.HasOutcome())
	assert.Equal(t, "Verdict", ev.SchemaName)
	assert.Equal(t, 1, ev.SchemaVersion)
	assert.True(t, ev.HasAttachment)

	score, err := k.Resolve(ctx, item, "ViewPoint/Verdict/final#score", none)
	require.NoError(t, err)
	assert.EqualValues(t, 5, score.Int())

	doc, err := k.Resolve(ctx, item, "Outcome/"+outcome.Path("Verdict", 1, ev.ID), none)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score": 5}`, doc.Raw)

	attachment, err := k.Storage().Get(ctx, item, domain.ClusterCollection, strata.AttachmentPath(ev.ID), none)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(attachment))
}

func TestKernel_RejectsBeforeWriting(t *testing.T) {
	var rejected []error
	k := newKernel(t, strata.WithLifecycleHooks(domain.LifecycleHooks{
		OnRejected: func(_ context.Context, _ domain.ItemID, _ string, err error) {
			rejected = append(rejected, err)
		},
	}))
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	// Complete is not legal from Ready.
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 1}, none)
	assert.True(t, domain.IsInvalidTransition(err), "got %v", err)

	finishDo(t, k, item)
	last, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)

	reviewer := domain.Agent{ID: "rev", Role: "reviewer"}
	tests := []struct {
		name string
		req  strata.Request
		want error
	}{
		{"missing outcome", strata.Request{Agent: reviewer}, domain.ErrInvalidData},
		{"invalid outcome", strata.Request{Agent: reviewer, Outcome: []byte(`{"score": "high"}`)}, domain.ErrInvalidData},
		{"wrong role", strata.Request{Agent: domain.Agent{ID: "x"}, Outcome: []byte(`{"score": 1}`)}, domain.ErrAccessRights},
		{"unknown activity", strata.Request{Path: "Nope", Agent: reviewer}, domain.ErrObjectNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Item = item
			if req.Path == "" {
				req.Path = "Check"
			}
			_, err := k.RequestTransition(ctx, req, none)
			assert.ErrorIs(t, err, tt.want)

			got, err := k.LastEventID(ctx, item, none)
			require.NoError(t, err)
			assert.Equal(t, last, got, "rejected requests append nothing")
		})
	}

	check, err := k.Search(ctx, item, "Check", none)
	require.NoError(t, err)
	assert.Equal(t, "Open", check.CurrentStateName())
	outcomes, err := k.Storage().List(ctx, item, domain.ClusterOutcome, "", none)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Len(t, rejected, len(tests)+1)
}

func TestKernel_CallerOwnedKey(t *testing.T) {
	notifier := &recordingNotifier{}
	var commits, aborts int
	k := newKernel(t,
		strata.WithNotifier(notifier),
		strata.WithLifecycleHooks(domain.LifecycleHooks{
			OnCommit: func(context.Context, domain.TransactionKey) { commits++ },
			OnAbort:  func(context.Context, domain.TransactionKey) { aborts++ },
		}),
	)
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)
	commits = 0

	start := strata.Request{Item: item, Path: "Do", TransitionID: 0, Agent: domain.Agent{ID: "a"}}

	// Aborted keys leave neither events nor state behind.
	tk := k.Begin()
	_, err = k.RequestTransition(ctx, start, tk)
	require.NoError(t, err)
	require.NoError(t, k.Abort(ctx, tk))
	last, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, -1, last)
	do, err := k.Search(ctx, item, "Do", none)
	require.NoError(t, err)
	assert.Equal(t, "Ready", do.CurrentStateName())

	tk = k.Begin()
	ev, err := k.RequestTransition(ctx, start, tk)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ID)

	last, err = k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, -1, last, "pending event is invisible without the key")
	last, err = k.LastEventID(ctx, item, tk)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Zero(t, notifier.count(), "nothing is published before commit")

	require.NoError(t, k.Commit(ctx, tk))
	last, err = k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, aborts)
}

func TestKernel_SecondKeyOnItemIsBusy(t *testing.T) {
	notifier := &recordingNotifier{}
	k := newKernel(t, strata.WithNotifier(notifier))
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	start := strata.Request{Item: item, Path: "Do", TransitionID: 0, Agent: domain.Agent{ID: "a"}}
	k1, k2 := k.Begin(), k.Begin()
	ev, err := k.RequestTransition(ctx, start, k1)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ID)

	_, err = k.RequestTransition(ctx, start, k2)
	assert.ErrorIs(t, err, domain.ErrItemBusy)
	_, err = k.RequestTransition(ctx, start, none)
	assert.ErrorIs(t, err, domain.ErrItemBusy, "kernel-owned keys wait for the holder too")

	require.NoError(t, k.Commit(ctx, k1))
	require.NoError(t, k.Abort(ctx, k2))

	last, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	assert.Equal(t, 1, notifier.count())

	// Committing the holder frees the item.
	k3 := k.Begin()
	ev, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 1, Agent: domain.Agent{ID: "a"}}, k3)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.ID)
	require.NoError(t, k.Commit(ctx, k3))
	assert.Equal(t, 2, notifier.count())
}

func TestKernel_FailedWriteFailsCallerCommit(t *testing.T) {
	support := ports.FullSupport()
	support[domain.ClusterCollection] = domain.CapRead
	mgr, err := storage.NewManager(storage.WithBackend("mem", memory.NewStore(memory.WithSupport(support))))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	var aborts int
	k := newKernel(t,
		strata.WithStorage(mgr),
		strata.WithNotifier(notifier),
		strata.WithLifecycleHooks(domain.LifecycleHooks{
			OnAbort: func(context.Context, domain.TransactionKey) { aborts++ },
		}),
	)
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	agent := domain.Agent{ID: "a"}
	tk := k.Begin()
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 0, Agent: agent}, tk)
	require.NoError(t, err)
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 1, Agent: agent, Attachment: []byte("%PDF")}, tk)
	require.ErrorIs(t, err, domain.ErrPersistency)

	err = k.Commit(ctx, tk)
	assert.ErrorIs(t, err, domain.ErrPersistency)
	assert.ErrorIs(t, err, storage.ErrAborted)
	assert.Zero(t, notifier.count(), "events of an aborted key are never published")
	assert.Equal(t, 1, aborts)

	last, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, -1, last)
	do, err := k.Search(ctx, item, "Do", none)
	require.NoError(t, err)
	assert.Equal(t, "Ready", do.CurrentStateName())
}

func TestKernel_Items(t *testing.T) {
	k := newKernel(t)
	ctx := context.Background()

	_, err := k.CreateItem(ctx, "unknown", nil, none)
	assert.True(t, domain.IsNotFound(err), "got %v", err)

	item, err := k.CreateItem(ctx, "chore", map[string]any{"owner": "bob", "priority": 2}, none)
	require.NoError(t, err)

	owner, err := k.Property(ctx, item, "owner", none)
	require.NoError(t, err)
	assert.JSONEq(t, `"bob"`, string(owner))
	names, err := k.Properties(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "priority"}, names)

	require.NoError(t, k.SetProperty(ctx, item, "owner", map[string]string{"name": "carol"}, none))
	name, err := k.Resolve(ctx, item, "Property/owner#name", none)
	require.NoError(t, err)
	assert.Equal(t, "carol", name.String())

	wf, err := k.Workflow(ctx, item, none)
	require.NoError(t, err)
	_, err = k.Instantiate(ctx, item, wf.Description(), none)
	assert.ErrorIs(t, err, domain.ErrInvalidData)

	_, err = k.Workflow(ctx, "missing", none)
	assert.True(t, domain.IsNotFound(err), "got %v", err)
}

func TestKernel_RestoresFromDurableStorage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	open := func() *strata.Kernel {
		m, err := storage.NewManager(storage.WithBackend("file", file.New(dir)))
		require.NoError(t, err)
		require.NoError(t, m.Open(ctx))
		t.Cleanup(func() { _ = m.Close(ctx) })
		return newKernel(t, strata.WithStorage(m))
	}

	k := open()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)
	finishDo(t, k, item)

	reopened := open()
	do, err := reopened.Search(ctx, item, "Do", none)
	require.NoError(t, err)
	assert.Equal(t, "Finished", do.CurrentStateName())
	events, err := reopened.Events(ctx, item, none)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestKernel_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	k := newKernel(t, strata.WithMetrics(metrics))
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	finishDo(t, k, item)
	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 0}, none)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("Task", "1", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transitions.WithLabelValues("Task", "0", "error")))
}

func TestKernel_NotifierFailureKeepsCommit(t *testing.T) {
	k := newKernel(t, strata.WithNotifier(failingNotifier{}))
	ctx := context.Background()
	item, err := k.CreateItem(ctx, "chore", nil, none)
	require.NoError(t, err)

	_, err = k.RequestTransition(ctx, strata.Request{Item: item, Path: "Do", TransitionID: 0}, none)
	require.NoError(t, err)
	last, err := k.LastEventID(ctx, item, none)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, domain.Event) error {
	return errors.New("broker down")
}
