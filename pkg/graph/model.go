package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/strata/pkg/domain"
)

// Vertex is a node of a Model, identified by an integer unique within its graph.
type Vertex struct {
	ID         int            `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// IsJoin marks a vertex with more than one incoming edge.
	IsJoin bool `json:"is_join,omitempty" yaml:"is_join,omitempty"`
	// IsLoop marks a vertex that owns a back-edge closing a cycle.
	IsLoop bool `json:"is_loop,omitempty" yaml:"is_loop,omitempty"`
}

// DirectedEdge connects Source to Target.
type DirectedEdge struct {
	ID     int    `json:"id" yaml:"id"`
	Source int    `json:"source" yaml:"source"`
	Target int    `json:"target" yaml:"target"`
	Alias  string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Type   string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Model is an arena of vertices and edges.
// Vertices keep insertion order; adjacency is held as edge id lists.
// A Model is safe for concurrent use: traversals share a read lock, mutations take the write lock.
type Model struct {
	mu sync.RWMutex

	vertices map[int]*Vertex
	order    []int
	edges    []*DirectedEdge
	out      map[int][]int // vertex id -> edge indexes
	in       map[int][]int

	start    int
	hasStart bool
}

// NewModel creates an empty graph.
func NewModel() *Model {
	return &Model{
		vertices: make(map[int]*Vertex),
		out:      make(map[int][]int),
		in:       make(map[int][]int),
	}
}

// Add inserts a vertex. Ids must be unique within the model.
func (m *Model) Add(v *Vertex) error {
	if v == nil {
		return fmt.Errorf("%w: nil vertex", domain.ErrInvalidData)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vertices[v.ID]; exists {
		return fmt.Errorf("%w: duplicate vertex id %d", domain.ErrInvalidData, v.ID)
	}
	m.vertices[v.ID] = v
	m.order = append(m.order, v.ID)
	return nil
}

// NewVertex creates and adds a vertex with the next free id.
func (m *Model) NewVertex(name string) *Vertex {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 0
	for id := range m.vertices {
		if id >= next {
			next = id + 1
		}
	}
	v := &Vertex{ID: next, Name: name}
	m.vertices[next] = v
	m.order = append(m.order, next)
	return v
}

// Connect adds an edge between two existing vertices.
func (m *Model) Connect(src, dst int, alias, typ string) (*DirectedEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vertices[src]; !ok {
		return nil, fmt.Errorf("%w: edge source %d", domain.ErrObjectNotFound, src)
	}
	if _, ok := m.vertices[dst]; !ok {
		return nil, fmt.Errorf("%w: edge target %d", domain.ErrObjectNotFound, dst)
	}

	e := &DirectedEdge{ID: len(m.edges), Source: src, Target: dst, Alias: alias, Type: typ}
	idx := len(m.edges)
	m.edges = append(m.edges, e)
	m.out[src] = append(m.out[src], idx)
	m.in[dst] = append(m.in[dst], idx)
	return e, nil
}

// Vertex returns the vertex with the given id.
func (m *Model) Vertex(id int) (*Vertex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vertices[id]
	return v, ok
}

// VertexByName returns the first vertex, in insertion order, with the given name.
func (m *Model) VertexByName(name string) (*Vertex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if v := m.vertices[id]; v.Name == name {
			return v, true
		}
	}
	return nil, false
}

// Vertices lists all vertices in insertion order.
func (m *Model) Vertices() []*Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Vertex, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.vertices[id])
	}
	return out
}

// Edges lists all edges in creation order.
func (m *Model) Edges() []*DirectedEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DirectedEdge, len(m.edges))
	copy(out, m.edges)
	return out
}

// Len returns the number of vertices.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// OutVertices returns the targets of the vertex's outgoing edges, in edge order.
func (m *Model) OutVertices(id int) []*Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.neighbours(id, Forward)
}

// InVertices returns the sources of the vertex's incoming edges, in edge order.
func (m *Model) InVertices(id int) []*Vertex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.neighbours(id, Reverse)
}

// neighbours must be called with the read lock held.
func (m *Model) neighbours(id int, dir Direction) []*Vertex {
	var idxs []int
	if dir == Reverse {
		idxs = m.in[id]
	} else {
		idxs = m.out[id]
	}
	out := make([]*Vertex, 0, len(idxs))
	for _, idx := range idxs {
		e := m.edges[idx]
		other := e.Target
		if dir == Reverse {
			other = e.Source
		}
		out = append(out, m.vertices[other])
	}
	return out
}

// SetStart designates the entry vertex.
func (m *Model) SetStart(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vertices[id]; !ok {
		return fmt.Errorf("%w: start vertex %d", domain.ErrObjectNotFound, id)
	}
	m.start = id
	m.hasStart = true
	return nil
}

// Start returns the entry vertex, if one was set.
func (m *Model) Start() (*Vertex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasStart {
		return nil, false
	}
	v, ok := m.vertices[m.start]
	return v, ok
}

// InferTopology derives the IsJoin and IsLoop flags from the edges.
// Joins are vertices with more than one incoming edge. Loops are the sources
// of back-edges found by a depth-first walk from the start vertex (or from
// every root when no start is set). Flags already set are preserved.
func (m *Model) InferTopology() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, v := range m.vertices {
		if len(m.in[id]) > 1 {
			v.IsJoin = true
		}
	}

	const (
		unseen = iota
		onStack
		done
	)
	state := make(map[int]int, len(m.vertices))
	var dfs func(id int)
	dfs = func(id int) {
		state[id] = onStack
		for _, idx := range m.out[id] {
			target := m.edges[idx].Target
			switch state[target] {
			case unseen:
				dfs(target)
			case onStack:
				m.vertices[id].IsLoop = true
			}
		}
		state[id] = done
	}

	if m.hasStart {
		dfs(m.start)
	}
	for _, id := range m.order {
		if state[id] == unseen {
			dfs(id)
		}
	}
}

// Validate checks the structural consistency of the graph.
func (m *Model) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, e := range m.edges {
		if _, ok := m.vertices[e.Source]; !ok {
			errs = append(errs, fmt.Errorf("edge %d: unknown source %d", e.ID, e.Source))
		}
		if _, ok := m.vertices[e.Target]; !ok {
			errs = append(errs, fmt.Errorf("edge %d: unknown target %d", e.ID, e.Target))
		}
	}
	if m.hasStart {
		if _, ok := m.vertices[m.start]; !ok {
			errs = append(errs, fmt.Errorf("unknown start vertex %d", m.start))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidData, errors.Join(errs...))
	}
	return nil
}
