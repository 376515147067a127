/*
Package workflow implements activities and the workflow tree of an item.

An Activity is a vertex bound to a state machine and a current state. Composite
activities own a child graph, so a Workflow is a recursive tree whose root is
named "workflow" and has id -1. Activities are found by name or id paths:

	w.Search("domain/DomainWorkflow/StartSequence/Pull")
	w.Search("-1/0/15/10/0")

Transitions go through RequestTransition, which validates against the state
machine and hands the change to a Recorder before moving the activity.
*/
package workflow
