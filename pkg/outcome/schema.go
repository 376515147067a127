package outcome

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/statemachine"
)

// Schema is a named, versioned JSON Schema for outcome documents.
type Schema struct {
	Name     string          `json:"name" yaml:"name" mapstructure:"name"`
	Version  int             `json:"version" yaml:"version" mapstructure:"version"`
	Document json.RawMessage `json:"document" yaml:"-" mapstructure:"-"`

	compiled *gojsonschema.Schema
}

// Compile parses the schema document.
func Compile(name string, version int, document []byte) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: outcome schema requires a name", domain.ErrInvalidData)
	}
	if version < 1 {
		return nil, fmt.Errorf("%w: outcome schema %s has version %d, want >= 1", domain.ErrInvalidData, name, version)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, fmt.Errorf("%w: outcome schema %s v%d: %v", domain.ErrInvalidData, name, version, err)
	}
	return &Schema{
		Name:     name,
		Version:  version,
		Document: append(json.RawMessage(nil), document...),
		compiled: compiled,
	}, nil
}

// Validate checks a JSON document against the schema.
// Failures are reported as a *statemachine.AggregateError, one entry per violated field.
func (s *Schema) Validate(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return fmt.Errorf("%w: outcome for %s v%d is not valid JSON", domain.ErrInvalidData, s.Name, s.Version)
	}
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: validate outcome for %s v%d: %v", domain.ErrInvalidData, s.Name, s.Version, err)
	}
	if result.Valid() {
		return nil
	}
	var issues statemachine.Issues
	for _, e := range result.Errors() {
		issues.Addf(e.Field(), "%s", e.Description())
	}
	return issues.Err()
}

// Path returns the Outcome cluster path of the document recorded by an event.
func Path(schema string, version, eventID int) string {
	return domain.JoinPath(schema, strconv.Itoa(version), strconv.Itoa(eventID))
}

// Registry holds outcome schemas by name and version.
// Version 0 in a lookup means the latest one.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]map[int]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]map[int]*Schema)}
}

// Register compiles and stores a schema, replacing any previous one with the same name and version.
func (r *Registry) Register(name string, version int, document []byte) (*Schema, error) {
	s, err := Compile(name, version, document)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.schemas[name]
	if !ok {
		versions = make(map[int]*Schema)
		r.schemas[name] = versions
	}
	versions[version] = s
	return s, nil
}

// Get looks up a schema.
func (r *Registry) Get(name string, version int) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.schemas[name]
	if version == 0 {
		for v := range versions {
			version = max(version, v)
		}
	}
	s, ok := versions[version]
	if !ok {
		return nil, domain.NotFound("outcome schema", fmt.Sprintf("%s/%d", name, version))
	}
	return s, nil
}

// Names lists the registered schema names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate resolves the schema and checks doc against it.
func (r *Registry) Validate(name string, version int, doc []byte) (*Schema, error) {
	s, err := r.Get(name, version)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(doc); err != nil {
		return nil, err
	}
	return s, nil
}
