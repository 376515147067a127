package workflow

import (
	"strconv"

	"github.com/aretw0/strata/pkg/domain"
)

// Search resolves a "/"-separated path relative to the activity.
//
// A leading "workflow" segment restarts from the root and a leading negative
// integer -k climbs k ancestors, stopping at the root. Every other segment
// matches a child by name first, in insertion order, then by numeric vertex id.
func (a *Activity) Search(path string) (*Activity, error) {
	segments := domain.SplitPath(path)
	cur := a
	if len(segments) == 0 {
		return cur, nil
	}

	rest := segments
	switch first := segments[0]; {
	case first == RootName:
		cur = cur.Root()
		rest = segments[1:]
	case isNegative(first):
		k, _ := strconv.Atoi(first)
		for ; k < 0 && cur.parent != nil; k++ {
			cur = cur.parent
		}
		rest = segments[1:]
	}

	for _, seg := range rest {
		next, ok := cur.childBySegment(seg)
		if !ok {
			return nil, domain.NotFound("activity", path)
		}
		cur = next
	}
	return cur, nil
}

func (a *Activity) childBySegment(seg string) (*Activity, bool) {
	if a.composite == nil {
		return nil, false
	}
	if v, ok := a.composite.graph.VertexByName(seg); ok {
		return a.composite.children[v.ID], true
	}
	id, err := strconv.Atoi(seg)
	if err != nil {
		return nil, false
	}
	c, ok := a.composite.children[id]
	return c, ok
}

func isNegative(seg string) bool {
	n, err := strconv.Atoi(seg)
	return err == nil && n < 0
}
