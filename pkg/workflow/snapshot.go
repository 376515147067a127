package workflow

import (
	"fmt"

	"github.com/aretw0/strata/pkg/domain"
)

// ActivityState is the persisted cursor of one activity.
type ActivityState struct {
	State   int  `json:"state"`
	Active  bool `json:"active"`
	Version int  `json:"version,omitempty"` // resolved machine version
}

// Snapshot is the persisted form of a workflow instance.
// States are keyed by activity id path.
type Snapshot struct {
	Item        domain.ItemID            `json:"item"`
	Description Description              `json:"description"`
	States      map[string]ActivityState `json:"states"`
}

// Snapshot captures the description and the current state of every activity.
func (w *Workflow) Snapshot() Snapshot {
	snap := Snapshot{
		Item:        w.item,
		Description: w.desc,
		States:      make(map[string]ActivityState),
	}
	for _, a := range w.Activities() {
		a.mu.Lock()
		st := ActivityState{State: a.state, Active: a.active}
		a.mu.Unlock()
		if a.machine != nil {
			st.Version = a.machine.Version()
		}
		snap.States[a.IDPath()] = st
	}
	return snap
}

// Restore rebuilds a workflow from a snapshot. Machines are rebound at the
// versions recorded in the snapshot.
func Restore(snap Snapshot, res Resolver) (*Workflow, error) {
	w, err := Instantiate(snap.Item, snap.Description, res)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*Activity)
	for _, a := range w.Activities() {
		byPath[a.IDPath()] = a
	}

	for path, st := range snap.States {
		a, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("%w: snapshot of %s references unknown activity %s", domain.ErrInvalidData, snap.Item, path)
		}
		if a.machine != nil && st.Version != 0 && st.Version != a.machine.Version() {
			sm, err := res.Get(a.machine.Name(), st.Version)
			if err != nil {
				return nil, fmt.Errorf("%w: activity %s: %w", domain.ErrInvalidData, a.Path(), err)
			}
			a.machine = sm
		}
		if a.machine != nil {
			if _, ok := a.machine.State(st.State); !ok {
				return nil, fmt.Errorf("%w: activity %s: unknown state %d", domain.ErrInvalidData, a.Path(), st.State)
			}
		}
		a.state = st.State
		a.active = st.Active
	}
	return w, nil
}
