/*
Package dsl provides a Go DSL (Domain Specific Language) for programmatically constructing
state machines and workflow descriptions.

It allows developers to define machines and workflows using a type-safe, fluent builder pattern
instead of relying on external YAML or JSON documents. States, activities and edges are referenced
by name; ids are assigned in declaration order.

Example usage:

	b := dsl.New()

	review := b.Machine("Review", 1)
	review.States("Started", "Finished").Terminal("Finished")
	review.Transition("Finish", "Started", "Finished").
		Requires("reviewer").
		Outcome("Review", 1)

	b.Machine("Composite", 1).States("Open")

	order := b.Workflow("Order").Machine("Composite", 1)
	order.Activity("Draft").Machine("Review", 1).Go("Approve")
	order.Activity("Approve").Machine("Review", 1)

	// The result can be used as a ports.DescriptionLoader
	loader, err := b.Build()
*/
package dsl
