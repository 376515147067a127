package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// Loader implements ports.DescriptionLoader from in-memory definitions.
type Loader struct {
	machines  []statemachine.Definition
	workflows map[string]workflow.Description
}

// NewLoader creates a loader over the given definitions.
// Workflows are registered under their Name.
func NewLoader(machines []statemachine.Definition, workflows ...workflow.Description) (*Loader, error) {
	l := &Loader{
		machines:  append([]statemachine.Definition(nil), machines...),
		workflows: make(map[string]workflow.Description, len(workflows)),
	}
	for _, w := range workflows {
		if w.Name == "" {
			return nil, fmt.Errorf("%w: workflow description missing name", domain.ErrInvalidData)
		}
		l.workflows[w.Name] = w
	}
	return l, nil
}

// StateMachines returns every state machine definition.
func (l *Loader) StateMachines(ctx context.Context) ([]statemachine.Definition, error) {
	return append([]statemachine.Definition(nil), l.machines...), nil
}

// Workflow returns the description registered under name.
func (l *Loader) Workflow(ctx context.Context, name string) (workflow.Description, error) {
	w, ok := l.workflows[name]
	if !ok {
		return workflow.Description{}, domain.NotFound("workflow", name)
	}
	return w, nil
}

// ListWorkflows returns all workflow names.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(l.workflows))
	for k := range l.workflows {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}
