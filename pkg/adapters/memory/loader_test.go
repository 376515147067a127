package memory_test

import (
	"testing"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	contract "github.com/aretw0/strata/pkg/ports/tests"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLoader_Contract(t *testing.T) {
	machines := []statemachine.Definition{
		{Name: "Default", Version: 1, States: []statemachine.State{{ID: 0, Name: "Waiting"}}},
		{Name: "Composite", Version: 1, States: []statemachine.State{{ID: 0, Name: "Waiting"}}},
	}
	loader, err := memory.NewLoader(machines,
		workflow.Description{Name: "Order"},
		workflow.Description{Name: "Invoice"},
	)
	require.NoError(t, err)

	contract.DescriptionLoaderContractTest(t, loader, []string{"Default", "Composite"}, []string{"Order", "Invoice"})
}

func TestInMemoryLoader_RejectsUnnamed(t *testing.T) {
	_, err := memory.NewLoader(nil, workflow.Description{})
	assert.ErrorIs(t, err, domain.ErrInvalidData)
}
