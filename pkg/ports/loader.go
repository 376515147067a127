package ports

import (
	"context"

	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// DescriptionLoader retrieves state machine and workflow definitions.
// This keeps the document source (Loam, memory, files) decoupled from the kernel.
type DescriptionLoader interface {
	// StateMachines returns every state machine definition available.
	StateMachines(ctx context.Context) ([]statemachine.Definition, error)

	// Workflow returns the workflow description registered under name.
	// Returns domain.ErrObjectNotFound if it does not exist.
	Workflow(ctx context.Context, name string) (workflow.Description, error)

	// ListWorkflows returns the names of all workflow descriptions.
	// This is used for introspection tools (e.g. 'strata describe').
	ListWorkflows(ctx context.Context) ([]string, error)
}
