package loam

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

// Loader adapts the Loam library to the ports.DescriptionLoader interface.
type Loader struct {
	Repo *loam.TypedRepository[DocumentMetadata]
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[DocumentMetadata]) *Loader {
	return &Loader{
		Repo: repo,
	}
}

// Open initializes a read-only Loam repository at dir and wraps it.
func Open(dir string, opts ...loam.Option) (*Loader, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	// Strict mode keeps numbers as json.Number instead of float64.
	// The kernel never modifies descriptions, only reads them.
	opts = append([]loam.Option{
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	}, opts...)
	repo, err := loam.Init(absPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[DocumentMetadata](repo)), nil
}

type entry struct {
	name string
	meta DocumentMetadata
}

// scan lists the repository and indexes documents by kind and name.
func (l *Loader) scan(ctx context.Context) (map[string][]entry, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	byKind := make(map[string][]entry)
	seen := make(map[string]string)
	for _, doc := range docs {
		kind := doc.Data.kind()
		switch kind {
		case KindStateMachine, KindWorkflow:
		case "":
			continue
		default:
			return nil, fmt.Errorf("%w: document %s has unknown kind %q", domain.ErrInvalidData, doc.ID, kind)
		}

		// Use the name from metadata if available, otherwise the file name
		name := doc.Data.Name
		if name == "" {
			name = trimExtension(doc.ID)
		}

		// Machines may share a name across versions; workflows may not.
		key := kind + "/" + name
		if kind == KindStateMachine {
			key = fmt.Sprintf("%s@%d", key, doc.Data.Version)
		}
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("collision detected: %s '%s' is defined in both '%s' and '%s'", kind, name, existing, doc.ID)
		}
		seen[key] = doc.ID

		byKind[kind] = append(byKind[kind], entry{name: name, meta: doc.Data})
	}
	return byKind, nil
}

// StateMachines returns every state machine document, ordered by name and version.
func (l *Loader) StateMachines(ctx context.Context) ([]statemachine.Definition, error) {
	byKind, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	entries := byKind[KindStateMachine]
	defs := make([]statemachine.Definition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.meta.definition(e.name))
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].Version < defs[j].Version
	})
	return defs, nil
}

// Workflow returns the workflow document registered under name.
func (l *Loader) Workflow(ctx context.Context, name string) (workflow.Description, error) {
	byKind, err := l.scan(ctx)
	if err != nil {
		return workflow.Description{}, err
	}
	for _, e := range byKind[KindWorkflow] {
		if e.name == name {
			return e.meta.description(e.name), nil
		}
	}
	return workflow.Description{}, domain.NotFound("workflow", name)
}

// ListWorkflows lists the names of all workflow documents.
func (l *Loader) ListWorkflows(ctx context.Context) ([]string, error) {
	byKind, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(byKind[KindWorkflow]))
	for _, e := range byKind[KindWorkflow] {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

// Watch reports the ids of changed description documents until ctx is done.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				// Loam debounces bursts itself.
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
