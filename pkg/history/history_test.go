package history_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/history"
	"github.com/aretw0/strata/pkg/itemlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var none domain.TransactionKey

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHistory(t *testing.T) (*history.History, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	h := history.New(domain.NewItemID(), store, itemlock.NewManager(),
		history.WithClock(func() time.Time { return fixedNow }))
	return h, store
}

func entry(transition int) history.Entry {
	return history.Entry{
		Agent:            domain.Agent{ID: "agentA", Role: "reviewer"},
		StepName:         "Review",
		StepPath:         "workflow/Review",
		StepType:         "Activity",
		StateMachineName: "Default",
		TransitionID:     transition,
	}
}

func TestHistory_ContiguousIDs(t *testing.T) {
	ctx := context.Background()
	h, _ := newHistory(t)

	last, err := h.LastID(ctx, none)
	require.NoError(t, err)
	assert.Equal(t, -1, last)

	const n = 5
	for i := 0; i < n; i++ {
		ev, err := h.AddEvent(ctx, entry(i), none)
		require.NoError(t, err)
		assert.Equal(t, i, ev.ID)
		assert.Equal(t, h.Item(), ev.ItemID)
		assert.Equal(t, domain.ItemID("agentA"), ev.AgentID)
		assert.Equal(t, "reviewer", ev.AgentRole)
		assert.Equal(t, fixedNow, ev.Timestamp)

		last, err := h.LastID(ctx, none)
		require.NoError(t, err)
		assert.Equal(t, i, last)
	}

	size, err := h.Len(ctx, none)
	require.NoError(t, err)
	assert.Equal(t, n, size)

	tests := []struct {
		key  any
		want bool
	}{
		{0, true},
		{n - 1, true},
		{n, false},
		{-1, false},
		{"3", true},
		{"03", false},
		{"0", true},
		{"7", false},
		{"abc", false},
		{"-1", false},
		{2.0, false},
		{int64(4), true},
		{nil, false},
	}
	for _, tt := range tests {
		got, err := h.ContainsKey(ctx, tt.key, none)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ContainsKey(%#v)", tt.key)
	}
}

func TestHistory_GetAndRange(t *testing.T) {
	ctx := context.Background()
	h, _ := newHistory(t)
	for i := 0; i < 4; i++ {
		_, err := h.AddEvent(ctx, entry(10+i), none)
		require.NoError(t, err)
	}

	ev, err := h.Get(ctx, 2, none)
	require.NoError(t, err)
	assert.Equal(t, 12, ev.TransitionID)
	assert.Equal(t, "workflow/Review", ev.StepPath)

	_, err = h.Get(ctx, 4, none)
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	_, err = h.Get(ctx, -1, none)
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)

	evs, err := h.Range(ctx, -5, 1, none)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, 0, evs[0].ID)
	assert.Equal(t, 1, evs[1].ID)

	evs, err = h.Range(ctx, 2, 100, none)
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	evs, err = h.Range(ctx, 3, 1, none)
	require.NoError(t, err)
	assert.Empty(t, evs)

	all, err := h.All(ctx, none)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestHistory_ExplicitTimestamp(t *testing.T) {
	ctx := context.Background()
	h, _ := newHistory(t)

	at := time.Date(2020, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e := entry(1)
	e.Timestamp = at
	ev, err := h.AddEvent(ctx, e, none)
	require.NoError(t, err)
	assert.True(t, at.Equal(ev.Timestamp))

	stored, err := h.Get(ctx, ev.ID, none)
	require.NoError(t, err)
	assert.True(t, at.Equal(stored.Timestamp))
}

func TestHistory_RemoveUnsupported(t *testing.T) {
	ctx := context.Background()
	h, _ := newHistory(t)
	_, err := h.AddEvent(ctx, entry(1), none)
	require.NoError(t, err)

	err = h.Remove(ctx, 0, none)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	last, err := h.LastID(ctx, none)
	require.NoError(t, err)
	assert.Equal(t, 0, last)
	ev, err := h.Get(ctx, 0, none)
	require.NoError(t, err)
	assert.Equal(t, 1, ev.TransitionID)
}

func TestHistory_TransactionScope(t *testing.T) {
	ctx := context.Background()
	h, store := newHistory(t)

	tk := domain.NewTransactionKey()
	require.NoError(t, store.Begin(ctx, tk))
	ev, err := h.AddEvent(ctx, entry(1), tk)
	require.NoError(t, err)
	assert.Equal(t, 0, ev.ID)

	last, err := h.LastID(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	last, err = h.LastID(ctx, none)
	require.NoError(t, err)
	assert.Equal(t, -1, last, "uncommitted events are invisible outside the key")

	require.NoError(t, store.Commit(ctx, tk))
	ok, err := h.ContainsKey(ctx, 0, none)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHistory_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	locks := itemlock.NewManager()
	item := domain.NewItemID()

	const n = 50
	ids := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate views over the same item share the lock manager.
			h := history.New(item, store, locks)
			ev, err := h.AddEvent(ctx, entry(i), none)
			assert.NoError(t, err)
			ids <- ev.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	var got []int
	for id := range ids {
		got = append(got, id)
	}
	sort.Ints(got)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, got[i])
	}
	assert.Equal(t, 0, locks.Held())
}
