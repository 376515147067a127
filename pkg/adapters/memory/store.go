package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/strata/internal/staging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

const backendName = "memory"

// Store implements ports.ClusterStorage in memory.
// Safe for concurrent use.
type Store struct {
	support ports.Support
	pending *staging.Buffer

	mu   sync.RWMutex
	data map[staging.Key][]byte
}

// Option configures the Store.
type Option func(*Store)

// WithSupport overrides the declared capabilities. The default is read-write on every cluster.
func WithSupport(s ports.Support) Option {
	return func(st *Store) {
		st.support = s
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		support: ports.FullSupport(),
		pending: staging.New(),
		data:    make(map[staging.Key][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Open(ctx context.Context) error  { return nil }
func (s *Store) Close(ctx context.Context) error { return nil }

// Support declares the capability for a cluster.
func (s *Store) Support(cluster domain.ClusterType) domain.Capability {
	return s.support.Of(cluster)
}

// Get retrieves an object, preferring the key's pending writes.
func (s *Store) Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error) {
	if err := ports.CheckRead(backendName, s.support, "get", cluster, path); err != nil {
		return nil, err
	}
	k := staging.Key{Item: item, Cluster: cluster, Path: path}
	if !tk.IsZero() {
		if op, ok := s.pending.Lookup(tk, k); ok {
			if op.Deleted {
				return nil, domain.NotFound(string(cluster), path)
			}
			return op.Data, nil
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[k]
	if !ok {
		return nil, domain.NotFound(string(cluster), path)
	}
	// Copy on read so callers can't mutate store state
	return append([]byte(nil), data...), nil
}

// Put stores an object, or stages it under the key.
func (s *Store) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "put", cluster, path); err != nil {
		return err
	}
	k := staging.Key{Item: item, Cluster: cluster, Path: path}
	if !tk.IsZero() {
		s.pending.Put(tk, k, data)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = append([]byte(nil), data...)
	return nil
}

// Delete removes an object, or stages the removal under the key.
func (s *Store) Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "delete", cluster, path); err != nil {
		return err
	}
	k := staging.Key{Item: item, Cluster: cluster, Path: path}
	if !tk.IsZero() {
		s.pending.Delete(tk, k)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, k)
	return nil
}

// List returns the object paths under prefix.
func (s *Store) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	if err := ports.CheckRead(backendName, s.support, "list", cluster, prefix); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var paths []string
	for k := range s.data {
		if k.Item == item && k.Cluster == cluster && domain.HasPathPrefix(k.Path, prefix) {
			paths = append(paths, k.Path)
		}
	}
	s.mu.RUnlock()

	if !tk.IsZero() {
		return s.pending.Overlay(tk, item, cluster, prefix, paths), nil
	}
	sort.Strings(paths)
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// Begin opens a transaction scope.
func (s *Store) Begin(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Begin(tk)
	return nil
}

// Commit applies the key's pending writes atomically.
func (s *Store) Commit(ctx context.Context, tk domain.TransactionKey) error {
	ops := s.pending.Take(tk)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Deleted {
			delete(s.data, op.Key)
		} else {
			s.data[op.Key] = op.Data
		}
	}
	return nil
}

// Abort discards the key's pending writes.
func (s *Store) Abort(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Drop(tk)
	return nil
}
