package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// Describe renders a workflow description and the machines it binds as markdown.
// Machines the resolver cannot supply are listed as unresolved instead of failing.
func Describe(desc workflow.Description, res workflow.Resolver) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Workflow %s (v%d)\n\n", desc.Name, desc.Version)
	if desc.StateMachine != "" {
		fmt.Fprintf(&sb, "Root machine: `%s`\n\n", ref(desc.StateMachine, desc.StateMachineVersion))
	}

	sb.WriteString("## Activities\n\n")
	sb.WriteString("| Path | Kind | Machine | Flags |\n|---|---|---|---|\n")
	type binding struct {
		name    string
		version int
	}
	var used []binding
	seen := make(map[binding]bool)

	var walk func(prefix string, defs []workflow.ActivityDef, start *int)
	walk = func(prefix string, defs []workflow.ActivityDef, start *int) {
		for i, d := range defs {
			path := d.Name
			if prefix != "" {
				path = prefix + "/" + d.Name
			}
			kind := workflow.Leaf
			if d.Composite || len(d.Children) > 0 || len(d.Edges) > 0 {
				kind = workflow.Composite
			}

			var flags []string
			if (start != nil && *start == d.ID) || (start == nil && i == 0) {
				flags = append(flags, "entry")
			}
			if d.IsJoin {
				flags = append(flags, "join")
			}
			if d.IsLoop {
				flags = append(flags, "loop")
			}

			machine := "-"
			if d.StateMachine != "" {
				machine = "`" + ref(d.StateMachine, d.Version) + "`"
				b := binding{d.StateMachine, d.Version}
				if !seen[b] {
					seen[b] = true
					used = append(used, b)
				}
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", path, kind, machine, strings.Join(flags, ", "))
			walk(path, d.Children, d.Start)
		}
	}
	walk("", desc.Activities, desc.Start)

	if len(used) == 0 {
		return sb.String()
	}
	sb.WriteString("\n## State machines\n")
	for _, b := range used {
		sm, err := res.Get(b.name, b.version)
		if err != nil {
			fmt.Fprintf(&sb, "\n### %s\n\n_unresolved: %v_\n", ref(b.name, b.version), err)
			continue
		}
		writeMachine(&sb, sm)
	}
	return sb.String()
}

func writeMachine(sb *strings.Builder, sm *statemachine.StateMachine) {
	fmt.Fprintf(sb, "\n### %s v%d\n\n", sm.Name(), sm.Version())

	names := make(map[int]string)
	var states []string
	for _, s := range sm.States() {
		names[s.ID] = s.Name
		label := s.Name
		switch {
		case s.ID == sm.Initial():
			label += " (initial)"
		case s.Terminal:
			label += " (terminal)"
		}
		states = append(states, label)
	}
	fmt.Fprintf(sb, "States: %s\n\n", strings.Join(states, ", "))

	sb.WriteString("| ID | Transition | From | To | Role | Outcome |\n|---|---|---|---|---|---|\n")
	for _, t := range sm.Transitions() {
		role, outcome := "-", "-"
		if t.RequiredRole != "" {
			role = t.RequiredRole
		}
		if t.OutcomeSchema != nil {
			outcome = t.OutcomeSchema.String()
		}
		fmt.Fprintf(sb, "| %d | %s | %s | %s | %s | %s |\n", t.ID, t.Name, names[t.From], names[t.To], role, outcome)
	}
}

func ref(name string, version int) string {
	if version == 0 {
		return name + "@latest"
	}
	return fmt.Sprintf("%s v%d", name, version)
}
