package tests

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

// DescriptionLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.DescriptionLoader.
// machines lists the expected state machine names; workflows the expected workflow names.
func DescriptionLoaderContractTest(t *testing.T, loader ports.DescriptionLoader, machines, workflows []string) {
	t.Helper()
	ctx := context.Background()

	// 1. StateMachines
	t.Run("StateMachines", func(t *testing.T) {
		defs, err := loader.StateMachines(ctx)
		if err != nil {
			t.Fatalf("unexpected error loading state machines: %v", err)
		}
		got := make([]string, 0, len(defs))
		for _, d := range defs {
			got = append(got, d.Name)
		}
		sort.Strings(got)
		want := append([]string(nil), machines...)
		sort.Strings(want)
		if len(got) != len(want) {
			t.Fatalf("expected %d state machines, got %d (%v)", len(want), len(got), got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("state machine %d: got %q, want %q", i, got[i], want[i])
			}
		}
	})

	// 2. Workflow (Success)
	t.Run("Workflow_Success", func(t *testing.T) {
		for _, name := range workflows {
			desc, err := loader.Workflow(ctx, name)
			if err != nil {
				t.Fatalf("unexpected error getting workflow %s: %v", name, err)
			}
			if desc.Name != name {
				t.Errorf("name mismatch: got %q, want %q", desc.Name, name)
			}
		}
	})

	// 3. Workflow (NotFound)
	t.Run("Workflow_NotFound", func(t *testing.T) {
		_, err := loader.Workflow(ctx, "non-existent-workflow")
		if !errors.Is(err, domain.ErrObjectNotFound) {
			t.Errorf("expected ErrObjectNotFound, got %v", err)
		}
	})

	// 4. ListWorkflows
	t.Run("ListWorkflows", func(t *testing.T) {
		names, err := loader.ListWorkflows(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing workflows: %v", err)
		}
		if len(names) != len(workflows) {
			t.Errorf("expected %d workflows, got %d", len(workflows), len(names))
		}
		lookup := make(map[string]bool)
		for _, n := range names {
			lookup[n] = true
		}
		for _, n := range workflows {
			if !lookup[n] {
				t.Errorf("workflow %s missing from list", n)
			}
		}
	})
}
