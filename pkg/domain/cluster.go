package domain

import (
	"fmt"
	"strings"
)

// ClusterType is a namespace of persisted object kinds, routed independently to backends.
type ClusterType string

const (
	ClusterProperty   ClusterType = "Property"
	ClusterOutcome    ClusterType = "Outcome"
	ClusterCollection ClusterType = "Collection"
	ClusterHistory    ClusterType = "History"
	ClusterViewPoint  ClusterType = "ViewPoint"
	ClusterWorkflow   ClusterType = "Workflow"
)

// Clusters lists every known cluster type.
func Clusters() []ClusterType {
	return []ClusterType{
		ClusterProperty,
		ClusterOutcome,
		ClusterCollection,
		ClusterHistory,
		ClusterViewPoint,
		ClusterWorkflow,
	}
}

// ParseClusterType resolves a cluster name case-insensitively.
func ParseClusterType(name string) (ClusterType, error) {
	for _, c := range Clusters() {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown cluster type %q", ErrInvalidData, name)
}

// Capability is the level of support a backend declares for a cluster type.
type Capability int

const (
	CapNone Capability = iota
	CapRead
	CapWrite
	CapReadWrite
)

// CanRead reports whether get/list calls are allowed.
func (c Capability) CanRead() bool {
	return c == CapRead || c == CapReadWrite
}

// CanWrite reports whether put/delete calls are allowed.
func (c Capability) CanWrite() bool {
	return c == CapWrite || c == CapReadWrite
}

func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapWrite:
		return "write"
	case CapReadWrite:
		return "readwrite"
	default:
		return "none"
	}
}

// ParseCapability accepts the names produced by String.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CapNone, nil
	case "read", "r":
		return CapRead, nil
	case "write", "w":
		return CapWrite, nil
	case "readwrite", "rw":
		return CapReadWrite, nil
	}
	return CapNone, fmt.Errorf("%w: unknown capability %q", ErrInvalidData, s)
}
