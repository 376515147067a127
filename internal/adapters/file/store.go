package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/strata/internal/staging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

const (
	backendName = "file"
	objectExt   = ".obj"
)

// Store implements ports.ClusterStorage using the local filesystem.
//
// Each object is a file at <base>/<item>/<cluster>/<path>.obj, one directory
// per path segment. Writes are atomic (temp file, fsync, rename). Writes
// under a transaction key are staged in memory until Commit.
type Store struct {
	BasePath string

	support ports.Support
	pending *staging.Buffer
}

// Option configures the Store.
type Option func(*Store)

// WithSupport overrides the declared capabilities. The default is read-write on every cluster.
func WithSupport(s ports.Support) Option {
	return func(st *Store) {
		st.support = s
	}
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".strata/data".
func New(basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = filepath.Join(".strata", "data")
	}
	s := &Store{
		BasePath: basePath,
		support:  ports.FullSupport(),
		pending:  staging.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open ensures the base directory exists and is writable.
func (s *Store) Open(ctx context.Context) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure data directory: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// Support declares the capability for a cluster.
func (s *Store) Support(cluster domain.ClusterType) domain.Capability {
	return s.support.Of(cluster)
}

func (s *Store) clusterDir(item domain.ItemID, cluster domain.ClusterType) string {
	return filepath.Join(s.BasePath, escapeSegment(string(item)), string(cluster))
}

// objectPath maps an object path to its file. Segments are escaped so that
// no path can leave the cluster directory.
func (s *Store) objectPath(item domain.ItemID, cluster domain.ClusterType, path string) (string, error) {
	segs := domain.SplitPath(path)
	if len(segs) == 0 {
		return "", domain.NewPersistencyError("resolve", cluster, backendName, path, fmt.Errorf("%w: empty path", domain.ErrInvalidData))
	}
	parts := make([]string, 0, len(segs)+1)
	parts = append(parts, s.clusterDir(item, cluster))
	for i, seg := range segs {
		seg = escapeSegment(seg)
		if i == len(segs)-1 {
			seg += objectExt
		}
		parts = append(parts, seg)
	}
	return filepath.Join(parts...), nil
}

func escapeSegment(seg string) string {
	switch seg {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(seg)
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

	file, err := s.objectPath(item, cluster, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
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
	file, err := s.objectPath(item, cluster, path)
	if err != nil {
		return err
	}
	if !tk.IsZero() {
		s.pending.Put(tk, staging.Key{Item: item, Cluster: cluster, Path: path}, data)
		return nil
	}
	if err := writeAtomic(file, data); err != nil {
		return domain.NewPersistencyError("put", cluster, backendName, path, err)
	}
	return nil
}

// Delete removes an object, or stages the removal under the key.
func (s *Store) Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "delete", cluster, path); err != nil {
		return err
	}
	file, err := s.objectPath(item, cluster, path)
	if err != nil {
		return err
	}
	if !tk.IsZero() {
		s.pending.Delete(tk, staging.Key{Item: item, Cluster: cluster, Path: path})
		return nil
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return domain.NewPersistencyError("delete", cluster, backendName, path, err)
	}
	return nil
}

// List returns the object paths under prefix.
func (s *Store) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	if err := ports.CheckRead(backendName, s.support, "list", cluster, prefix); err != nil {
		return nil, err
	}

	root := s.clusterDir(item, cluster)
	paths := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), objectExt) {
			return nil
		}
		rel, err := filepath.Rel(root, strings.TrimSuffix(p, objectExt))
		if err != nil {
			return err
		}
		segs := strings.Split(filepath.ToSlash(rel), "/")
		for i, seg := range segs {
			if segs[i], err = url.PathUnescape(seg); err != nil {
				return err
			}
		}
		if path := domain.JoinPath(segs...); domain.HasPathPrefix(path, prefix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewPersistencyError("list", cluster, backendName, prefix, err)
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

// Commit applies the key's pending writes file by file.
// A failure midway leaves the earlier files in place.
func (s *Store) Commit(ctx context.Context, tk domain.TransactionKey) error {
	for _, op := range s.pending.Take(tk) {
		k := op.Key
		file, err := s.objectPath(k.Item, k.Cluster, k.Path)
		if err != nil {
			return err
		}
		if op.Deleted {
			err = os.Remove(file)
			if os.IsNotExist(err) {
				err = nil
			}
		} else {
			err = writeAtomic(file, op.Data)
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

// writeAtomic writes to a temp file in the destination directory, syncs it
// and renames it over the destination.
func writeAtomic(destPath string, data []byte) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure object directory: %w", err)
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing object for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
