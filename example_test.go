package strata_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/strata"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/dsl"
)

// ExampleKernel_RequestTransition builds a one-step workflow in memory and
// drives its only activity to completion.
func ExampleKernel_RequestTransition() {
	b := dsl.New()
	b.Machine("Task", 1).
		States("Started", "Finished").
		Terminal("Finished").
		Go("Complete", "Started", "Finished")
	b.Workflow("Chore").Activity("Do").Machine("Task", 1)

	loader, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	k, err := strata.New(ctx,
		strata.WithLoader(loader),
		strata.WithConfig(config.MapLookup{"item.chore.workflow": "Chore"}),
	)
	if err != nil {
		log.Fatal(err)
	}

	item, err := k.CreateItem(ctx, "chore", nil, domain.TransactionKey{})
	if err != nil {
		log.Fatal(err)
	}

	ev, err := k.RequestTransition(ctx, strata.Request{
		Item:         item,
		Path:         "Do",
		TransitionID: 0,
		Agent:        domain.Agent{ID: "alice"},
	}, domain.TransactionKey{})
	if err != nil {
		log.Fatal(err)
	}

	do, err := k.Search(ctx, item, "Do", domain.TransactionKey{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("event %d by %s: %s\n", ev.ID, ev.AgentID, do.CurrentStateName())
	// Output:
	// event 0 by alice: Finished
}
