package statemachine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/strata/pkg/domain"
)

// Registry holds compiled machines by name and version.
// Versions start at 1; version 0 in a lookup means the latest one.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]map[int]*StateMachine
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		machines: make(map[string]map[int]*StateMachine),
	}
}

// Register adds a machine to the registry.
// If a machine with the same name and version exists, it is overwritten.
func (r *Registry) Register(sm *StateMachine) error {
	if sm == nil {
		return fmt.Errorf("%w: nil state machine", domain.ErrInvalidData)
	}
	if sm.Version() < 1 {
		return fmt.Errorf("%w: state machine %s has version %d, want >= 1", domain.ErrInvalidData, sm.Name(), sm.Version())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.machines[sm.Name()]
	if !ok {
		versions = make(map[int]*StateMachine)
		r.machines[sm.Name()] = versions
	}
	versions[sm.Version()] = sm
	return nil
}

// Define compiles and registers a definition.
func (r *Registry) Define(def Definition) (*StateMachine, error) {
	sm, err := Compile(def)
	if err != nil {
		return nil, err
	}
	if err := r.Register(sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// Get looks up a machine by name and version. Version 0 resolves to the latest.
func (r *Registry) Get(name string, version int) (*StateMachine, error) {
	if version == 0 {
		return r.Latest(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sm, ok := r.machines[name][version]
	if !ok {
		return nil, domain.NotFound("state machine", fmt.Sprintf("%s v%d", name, version))
	}
	return sm, nil
}

// Latest returns the highest registered version of a machine.
func (r *Registry) Latest(name string) (*StateMachine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *StateMachine
	for v, sm := range r.machines[name] {
		if latest == nil || v > latest.Version() {
			latest = sm
		}
	}
	if latest == nil {
		return nil, domain.NotFound("state machine", name)
	}
	return latest, nil
}

// Names lists registered machine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.machines))
	for name := range r.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
