package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the kernel. Callers match them with errors.Is.
var (
	// ErrInvalidTransition is returned when a transition is not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrObjectNotFound is returned when a vertex, path, event or persisted object is absent.
	ErrObjectNotFound = errors.New("object not found")

	// ErrPersistency is returned on backend I/O failures and capability mismatches.
	ErrPersistency = errors.New("persistency failure")

	// ErrInvalidData is returned for structurally inconsistent definitions or payloads.
	ErrInvalidData = errors.New("invalid data")

	// ErrAccessRights is surfaced unchanged from the authorization collaborator.
	ErrAccessRights = errors.New("access rights")

	// ErrCannotManage is surfaced unchanged from the authorization collaborator.
	ErrCannotManage = errors.New("cannot manage")

	// ErrUnsupportedOperation is returned for operations a component refuses by contract.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrItemBusy is returned when an item has uncommitted writes under another transaction key.
	ErrItemBusy = errors.New("item busy")
)

// PersistencyError wraps storage failures with the routing context.
type PersistencyError struct {
	Op      string      // Operation being performed (e.g. "put", "get", "commit")
	Cluster ClusterType // Category addressed, if any
	Backend string      // Backend name, if known
	Path    string      // Category-relative path, if any
	Err     error       // Underlying error
}

func (e *PersistencyError) Error() string {
	target := string(e.Cluster)
	if e.Path != "" {
		target += "/" + e.Path
	}
	op := e.Op
	if target != "" {
		op += " " + target
	}
	if e.Backend != "" {
		return fmt.Sprintf("%s on backend %s: %v", op, e.Backend, e.Err)
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

func (e *PersistencyError) Unwrap() error {
	return e.Err
}

// Is reports every PersistencyError as ErrPersistency.
func (e *PersistencyError) Is(target error) bool {
	return target == ErrPersistency
}

// NewPersistencyError builds a PersistencyError for a backend operation.
func NewPersistencyError(op string, cluster ClusterType, backend, path string, err error) *PersistencyError {
	return &PersistencyError{
		Op:      op,
		Cluster: cluster,
		Backend: backend,
		Path:    path,
		Err:     err,
	}
}

// TransitionError describes a rejected transition request.
type TransitionError struct {
	StepPath     string
	TransitionID int
	CurrentState int
	Reason       string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %d not allowed on %s in state %d: %s",
		e.TransitionID, e.StepPath, e.CurrentState, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFoundError names the kind and key of an absent object.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrObjectNotFound
}

// NotFound returns a NotFoundError for the given kind and key.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsInvalidTransition checks if an error indicates an illegal transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsNotFound checks if an error indicates an absent object.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

// IsPersistency checks if an error indicates a storage failure.
func IsPersistency(err error) bool {
	return errors.Is(err, ErrPersistency)
}

// IsInvalidData checks if an error indicates an inconsistent definition or payload.
func IsInvalidData(err error) bool {
	return errors.Is(err, ErrInvalidData)
}
