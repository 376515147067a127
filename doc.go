/*
Package strata is a workflow kernel for long-lived business items.

Every item carries a workflow: a tree of activities, each bound to a
versioned state machine. Firing a transition appends an immutable event to
the item's history and may record an outcome document, a viewpoint and an
attachment. All writes of one request share a transaction key, so they
become visible together or not at all.

# Concept

Persisted objects are grouped in clusters (Property, Outcome, Collection,
History, ViewPoint, Workflow). The storage manager routes every cluster to
one or more backends (memory, files, SQL, Redis, blob buckets) and keeps a
single visibility contract across them: writes made under a key are seen
only by reads carrying the same key until the key is committed.

# Key Features

  - Versioned state machines with role-gated transitions and outcome schemas.
  - Composite activities with join and loop semantics, addressable by name or id path.
  - Append-only event history with gap-free ids per item.
  - Pluggable storage backends with encryption and redaction decorators.
  - Post-commit event notification.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/strata"
		"github.com/aretw0/strata/pkg/config"
		"github.com/aretw0/strata/pkg/domain"
		"github.com/aretw0/strata/pkg/dsl"
	)

	func main() {
		b := dsl.New()
		b.Machine("Task", 1).States("Started", "Finished").Terminal("Finished").
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
		log.Printf("event %d recorded", ev.ID)
	}
*/
package strata
