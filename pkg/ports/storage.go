package ports

import (
	"context"

	"github.com/aretw0/strata/pkg/domain"
)

// ClusterStorage is the contract every storage backend plugin honors.
//
// Objects are addressed by item, cluster and a "/"-separated path relative to
// the cluster. Calls carrying a zero TransactionKey use the backend's
// immediate-commit behavior. Calls carrying a key stage their effect so that
// only reads presented with the same key observe it until Commit.
type ClusterStorage interface {
	// Open establishes the backend session. It fails fast when the backend is unreachable.
	Open(ctx context.Context) error
	// Close releases resources, even when the backend is in an error state.
	Close(ctx context.Context) error

	// Support declares the capability for a cluster type. It must be constant for the backend's lifetime.
	Support(cluster domain.ClusterType) domain.Capability

	// Get returns the object or domain.ErrObjectNotFound.
	Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error)
	// Put creates or replaces the object.
	Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error
	// Delete removes the object. Deleting an absent object is not an error.
	Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error
	// List returns the paths under prefix, sorted ascending.
	List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error)

	// Begin opens a transaction scope for the key.
	Begin(ctx context.Context, tk domain.TransactionKey) error
	// Commit makes the key's writes visible to every reader and forgets the key.
	Commit(ctx context.Context, tk domain.TransactionKey) error
	// Abort discards the key's writes and forgets the key.
	Abort(ctx context.Context, tk domain.TransactionKey) error
}

// Support is a per-cluster capability table, the usual way backends answer ClusterStorage.Support.
type Support map[domain.ClusterType]domain.Capability

// Of returns the capability for a cluster; absent clusters are unsupported.
func (s Support) Of(cluster domain.ClusterType) domain.Capability {
	return s[cluster]
}

// FullSupport declares read-write access to every cluster type.
func FullSupport() Support {
	s := make(Support)
	for _, c := range domain.Clusters() {
		s[c] = domain.CapReadWrite
	}
	return s
}
