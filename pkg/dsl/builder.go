package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// Builder manages the construction of machines and workflows.
type Builder struct {
	machines  []*MachineBuilder
	workflows []*WorkflowBuilder
}

// New creates a new builder.
func New() *Builder {
	return &Builder{}
}

// Machine starts a state machine definition.
// If the name and version already exist, it returns the existing builder.
func (b *Builder) Machine(name string, version int) *MachineBuilder {
	for _, mb := range b.machines {
		if mb.def.Name == name && mb.def.Version == version {
			return mb
		}
	}
	mb := &MachineBuilder{
		def:    statemachine.Definition{Name: name, Version: version},
		states: make(map[string]int),
	}
	b.machines = append(b.machines, mb)
	return mb
}

// Workflow starts a workflow description.
// If the workflow already exists, it returns the existing builder.
func (b *Builder) Workflow(name string) *WorkflowBuilder {
	for _, wb := range b.workflows {
		if wb.desc.Name == name {
			return wb
		}
	}
	wb := &WorkflowBuilder{
		desc:  workflow.Description{Name: name, Version: 1},
		scope: &scope{},
	}
	b.workflows = append(b.workflows, wb)
	return wb
}

// Definitions resolves every machine builder into its definition.
func (b *Builder) Definitions() ([]statemachine.Definition, error) {
	defs := make([]statemachine.Definition, 0, len(b.machines))
	var errs []error
	for _, mb := range b.machines {
		def, err := mb.Definition()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return defs, nil
}

// Descriptions resolves every workflow builder into its description.
func (b *Builder) Descriptions() ([]workflow.Description, error) {
	descs := make([]workflow.Description, 0, len(b.workflows))
	var errs []error
	for _, wb := range b.workflows {
		desc, err := wb.Description()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descs = append(descs, desc)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return descs, nil
}

// Registry compiles every machine into a new registry.
func (b *Builder) Registry() (*statemachine.Registry, error) {
	defs, err := b.Definitions()
	if err != nil {
		return nil, err
	}
	reg := statemachine.NewRegistry()
	for _, def := range defs {
		if _, err := reg.Define(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Build compiles the machines and workflows into a memory.Loader.
func (b *Builder) Build() (*memory.Loader, error) {
	defs, err := b.Definitions()
	if err != nil {
		return nil, err
	}
	descs, err := b.Descriptions()
	if err != nil {
		return nil, err
	}

	loader, err := memory.NewLoader(defs, descs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build memory loader: %w", err)
	}
	return loader, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidData, fmt.Sprintf(format, args...))
}
