package statemachine

import (
	"fmt"
	"strings"

	"github.com/aretw0/strata/pkg/domain"
)

// ValidationError represents a single coherence failure in a definition.
type ValidationError struct {
	Key    string // Element at fault, e.g. "transition 3"
	Reason string // Human-readable reason for failure
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

// AggregateError represents multiple validation failures.
// It matches domain.ErrInvalidData.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

func (e *AggregateError) Is(target error) bool {
	return target == domain.ErrInvalidData
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// ValidationErrors returns all validation errors if err is an AggregateError.
// Otherwise returns nil.
func ValidationErrors(err error) []error {
	if aggr, ok := err.(*AggregateError); ok {
		return aggr.Errors
	}
	return nil
}

// Issues collects validation errors while a definition is checked.
type Issues struct {
	errs []error
}

// Addf records a failure for key.
func (i *Issues) Addf(key, format string, args ...any) {
	i.errs = append(i.errs, &ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)})
}

// Add records an arbitrary error.
func (i *Issues) Add(err error) {
	if err != nil {
		i.errs = append(i.errs, err)
	}
}

// Err returns nil when nothing was recorded, otherwise an *AggregateError.
func (i *Issues) Err() error {
	if len(i.errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: i.errs}
}
