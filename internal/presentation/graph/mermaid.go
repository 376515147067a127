package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aretw0/strata/pkg/workflow"
)

// Overlay carries live activity state to highlight on the diagram.
// Keys are activity id paths, as stored in a workflow snapshot.
type Overlay struct {
	States   map[string]workflow.ActivityState
	Terminal func(idPath string) bool
}

// GenerateMermaid produces a Mermaid flowchart from a workflow description.
// It applies semantic styling:
// - Entry activity: ((Circle))
// - Composite: subgraph with its children
// - Join: {{Hexagon}}
// - Default: [Rectangle]
// Back edges leaving a loop activity are dotted. Aliases become edge labels.
func GenerateMermaid(desc workflow.Description, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	root := desc.Root()
	writeScope(&sb, strconv.Itoa(workflow.RootID), root.Children, root.Edges, root.Start, "    ")

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef finished fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef active fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		for _, idPath := range sortedKeys(overlay.States) {
			if idPath == strconv.Itoa(workflow.RootID) {
				continue
			}
			st := overlay.States[idPath]
			switch {
			case st.Active:
				sb.WriteString(fmt.Sprintf("    class %s active;\n", sanitizeMermaidID(idPath)))
			case overlay.Terminal != nil && overlay.Terminal(idPath):
				sb.WriteString(fmt.Sprintf("    class %s finished;\n", sanitizeMermaidID(idPath)))
			}
		}
	}
	return sb.String()
}

func writeScope(sb *strings.Builder, parent string, defs []workflow.ActivityDef, edges []workflow.EdgeDef, start *int, indent string) {
	entry := -1
	if start != nil {
		entry = *start
	} else if len(defs) > 0 {
		entry = defs[0].ID
	}

	loops := make(map[int]bool)
	for _, d := range defs {
		id := parent + "/" + strconv.Itoa(d.ID)
		safeID := sanitizeMermaidID(id)
		loops[d.ID] = d.IsLoop

		label := d.Name
		if d.StateMachine != "" {
			label = fmt.Sprintf("%s <br/> %s", d.Name, d.StateMachine)
		}

		if len(d.Children) > 0 || d.Composite {
			sb.WriteString(fmt.Sprintf("%ssubgraph %s[\"%s\"]\n", indent, safeID, escape(label)))
			writeScope(sb, id, d.Children, d.Edges, d.Start, indent+"    ")
			sb.WriteString(indent + "end\n")
			continue
		}

		opener, closer := "[", "]"
		switch {
		case d.ID == entry:
			opener, closer = "((", "))" // Circle
		case d.IsJoin:
			opener, closer = "{{", "}}" // Hexagon
		}
		sb.WriteString(fmt.Sprintf("%s%s%s\"%s\"%s\n", indent, safeID, opener, escape(label), closer))
	}

	for _, e := range edges {
		from := sanitizeMermaidID(parent + "/" + strconv.Itoa(e.Source))
		to := sanitizeMermaidID(parent + "/" + strconv.Itoa(e.Target))

		arrow := "-->"
		if loops[e.Source] {
			arrow = "-.->"
		}
		if e.Alias != "" {
			arrow = fmt.Sprintf("-- \"%s\" -->", escape(e.Alias))
			if loops[e.Source] {
				arrow = fmt.Sprintf("-. \"%s\" .->", escape(e.Alias))
			}
		}
		sb.WriteString(fmt.Sprintf("%s%s %s %s\n", indent, from, arrow, to))
	}
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, "-", "m")
	s = strings.ReplaceAll(s, "/", "_")
	return "a" + s
}

func sortedKeys(m map[string]workflow.ActivityState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
