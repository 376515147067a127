package graph

// Direction selects which edges a traversal follows.
type Direction int

const (
	// Forward follows outgoing edges.
	Forward Direction = iota
	// Reverse follows incoming edges.
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Traverse walks the graph depth-first from start and returns every reachable
// vertex exactly once, in visiting order.
//
// With ignoreBackLinks set, a join (Reverse) or loop (Forward) vertex only
// expands children that cannot reach back to it, which keeps cyclic workflows
// from re-entering the current path.
func Traverse(m *Model, start int, dir Direction, ignoreBackLinks bool) []*Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walk(start, -1, false, dir, ignoreBackLinks)
}

// TraversePath walks like Traverse but stops expanding at end.
// The end vertex is included when reached.
func TraversePath(m *Model, start, end int, dir Direction, ignoreBackLinks bool) []*Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walk(start, end, true, dir, ignoreBackLinks)
}

// walk must be called with the read lock held.
// Each call owns its tag map so nested sub-traversals never disturb the caller.
func (m *Model) walk(start, end int, bounded bool, dir Direction, ignoreBackLinks bool) []*Vertex {
	root, ok := m.vertices[start]
	if !ok {
		return nil
	}

	tags := make(map[int]struct{}, len(m.vertices))
	var result []*Vertex

	var visit func(v *Vertex)
	visit = func(v *Vertex) {
		tags[v.ID] = struct{}{}
		result = append(result, v)
		if bounded && v.ID == end {
			return
		}

		suppress := ignoreBackLinks && ((dir == Reverse && v.IsJoin) || (dir == Forward && v.IsLoop))
		for _, child := range m.neighbours(v.ID, dir) {
			if _, seen := tags[child.ID]; seen {
				continue
			}
			if suppress && m.reaches(child.ID, v.ID, dir) {
				continue
			}
			visit(child)
		}
	}
	visit(root)
	return result
}

// reaches runs an unsuppressed sub-traversal from src and reports whether target is in it.
func (m *Model) reaches(src, target int, dir Direction) bool {
	for _, v := range m.walk(src, -1, false, dir, false) {
		if v.ID == target {
			return true
		}
	}
	return false
}
