package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/aretw0/strata/internal/staging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

const backendName = "blob"

// Store implements ports.ClusterStorage on a gocloud.dev bucket
// (mem://, file://, and any provider whose driver is linked in).
//
// Objects live at <prefix><item>/<cluster>/<path>. Writes under a
// transaction key are staged in memory and written on Commit.
type Store struct {
	url     string
	prefix  string
	support ports.Support
	pending *staging.Buffer

	bucket *blob.Bucket
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix inside the bucket.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithSupport overrides the declared capabilities. The default is read-write on every cluster.
func WithSupport(support ports.Support) Option {
	return func(s *Store) {
		s.support = support
	}
}

// New creates a store for a bucket URL. The bucket is opened by Open.
func New(bucketURL string, opts ...Option) *Store {
	s := &Store{
		url:     bucketURL,
		support: ports.FullSupport(),
		pending: staging.New(),
		owned:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromBucket wraps an already open bucket. Close leaves it open.
func NewFromBucket(bucket *blob.Bucket, opts ...Option) *Store {
	s := New("", opts...)
	s.bucket = bucket
	s.owned = false
	return s
}

// Open opens the bucket and checks that it is reachable.
func (s *Store) Open(ctx context.Context) error {
	if s.bucket == nil {
		bucket, err := blob.OpenBucket(ctx, s.url)
		if err != nil {
			return fmt.Errorf("open bucket %q: %w", s.url, err)
		}
		s.bucket = bucket
	}
	if _, err := s.bucket.IsAccessible(ctx); err != nil {
		return fmt.Errorf("bucket %q is not accessible: %w", s.url, err)
	}
	return nil
}

// Close closes the bucket if the store opened it.
func (s *Store) Close(ctx context.Context) error {
	if s.bucket == nil || !s.owned {
		return nil
	}
	err := s.bucket.Close()
	s.bucket = nil
	return err
}

// Support declares the capability for a cluster.
func (s *Store) Support(cluster domain.ClusterType) domain.Capability {
	return s.support.Of(cluster)
}

func (s *Store) clusterKey(item domain.ItemID, cluster domain.ClusterType) string {
	return s.prefix + url.PathEscape(string(item)) + "/" + string(cluster) + "/"
}

func (s *Store) keyFor(item domain.ItemID, cluster domain.ClusterType, path string) string {
	return s.clusterKey(item, cluster) + domain.JoinPath(path)
}

func (s *Store) open(op string, cluster domain.ClusterType, path string) (*blob.Bucket, error) {
	if s.bucket == nil {
		return nil, domain.NewPersistencyError(op, cluster, backendName, path, errors.New("bucket is not open"))
	}
	return s.bucket, nil
}

// Get retrieves an object, preferring the key's pending writes.
func (s *Store) Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error) {
	if err := ports.CheckRead(backendName, s.support, "get", cluster, path); err != nil {
		return nil, err
	}
	if !tk.IsZero() {
		if op, ok := s.pending.Lookup(tk, staging.Key{Item: item, Cluster: cluster, Path: path}); ok {
			if op.Deleted {
				return nil, domain.NotFound(string(cluster), path)
			}
			return op.Data, nil
		}
	}
	bucket, err := s.open("get", cluster, path)
	if err != nil {
		return nil, err
	}

	data, err := bucket.ReadAll(ctx, s.keyFor(item, cluster, path))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, domain.NotFound(string(cluster), path)
		}
		return nil, domain.NewPersistencyError("get", cluster, backendName, path, err)
	}
	return data, nil
}

// Put stores an object, or stages it under the key.
func (s *Store) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "put", cluster, path); err != nil {
		return err
	}
	if !tk.IsZero() {
		s.pending.Put(tk, staging.Key{Item: item, Cluster: cluster, Path: path}, data)
		return nil
	}
	bucket, err := s.open("put", cluster, path)
	if err != nil {
		return err
	}
	if err := bucket.WriteAll(ctx, s.keyFor(item, cluster, path), data, nil); err != nil {
		return domain.NewPersistencyError("put", cluster, backendName, path, err)
	}
	return nil
}

// Delete removes an object, or stages the removal under the key.
func (s *Store) Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "delete", cluster, path); err != nil {
		return err
	}
	if !tk.IsZero() {
		s.pending.Delete(tk, staging.Key{Item: item, Cluster: cluster, Path: path})
		return nil
	}
	bucket, err := s.open("delete", cluster, path)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, bucket, s.keyFor(item, cluster, path)); err != nil {
		return domain.NewPersistencyError("delete", cluster, backendName, path, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, bucket *blob.Bucket, key string) error {
	err := bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// List returns the object paths under prefix.
func (s *Store) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	if err := ports.CheckRead(backendName, s.support, "list", cluster, prefix); err != nil {
		return nil, err
	}
	bucket, err := s.open("list", cluster, prefix)
	if err != nil {
		return nil, err
	}

	base := s.clusterKey(item, cluster)
	it := bucket.List(&blob.ListOptions{Prefix: base + domain.JoinPath(prefix)})
	paths := []string{}
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.NewPersistencyError("list", cluster, backendName, prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if p := strings.TrimPrefix(obj.Key, base); domain.HasPathPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}

	if !tk.IsZero() {
		return s.pending.Overlay(tk, item, cluster, prefix, paths), nil
	}
	sort.Strings(paths)
	return paths, nil
}

// Begin opens a transaction scope.
func (s *Store) Begin(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Begin(tk)
	return nil
}

// Commit writes the key's pending objects one by one.
// A failure midway leaves the earlier objects written.
func (s *Store) Commit(ctx context.Context, tk domain.TransactionKey) error {
	ops := s.pending.Take(tk)
	if len(ops) == 0 {
		return nil
	}
	bucket, err := s.open("commit", "", tk.String())
	if err != nil {
		return err
	}
	for _, op := range ops {
		k := op.Key
		key := s.keyFor(k.Item, k.Cluster, k.Path)
		if op.Deleted {
			err = s.remove(ctx, bucket, key)
		} else {
			err = bucket.WriteAll(ctx, key, op.Data, nil)
		}
		if err != nil {
			return domain.NewPersistencyError("commit", k.Cluster, backendName, k.Path, err)
		}
	}
	return nil
}

// Abort discards the key's pending writes.
func (s *Store) Abort(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Drop(tk)
	return nil
}
