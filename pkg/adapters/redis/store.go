package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

const backendName = "redis"

// Staged operations are stored in a per-key hash, one field per object.
// The value carries a one-byte marker: putMark followed by the data, or delMark.
const (
	putMark  = 'P'
	delMark  = 'D'
	fieldSep = "\x1f"
)

// Store implements ports.ClusterStorage using Redis.
//
// Objects live in string keys "<prefix>{<item>}:<cluster>:<path>", with a
// sorted-set index per item and cluster. Writes under a transaction key are
// staged in the hash "<prefix>tx:<key>" and applied in one MULTI/EXEC on commit.
type Store struct {
	client  *backend.Client
	prefix  string
	txTTL   time.Duration
	support ports.Support
	owned   bool
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTxTTL bounds how long an abandoned transaction's staged writes survive.
func WithTxTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.txTTL = ttl
	}
}

// WithSupport overrides the declared capabilities. The default is read-write on every cluster.
func WithSupport(support ports.Support) Option {
	return func(s *Store) {
		s.support = support
	}
}

// New creates a new Redis store with options. The store owns the client and closes it on Close.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	store := NewFromClient(rdb, opts...)
	store.owned = true
	return store
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:  client,
		prefix:  "strata:",
		txTTL:   time.Hour,
		support: ports.FullSupport(),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) objectKey(item domain.ItemID, cluster domain.ClusterType, path string) string {
	return fmt.Sprintf("%s{%s}:%s:%s", s.prefix, item, cluster, path)
}

func (s *Store) indexKey(item domain.ItemID, cluster domain.ClusterType) string {
	return fmt.Sprintf("%s{%s}:%s:index", s.prefix, item, cluster)
}

func (s *Store) txKey(tk domain.TransactionKey) string {
	return s.prefix + "tx:" + tk.String()
}

func field(item domain.ItemID, cluster domain.ClusterType, path string) string {
	return string(item) + fieldSep + string(cluster) + fieldSep + path
}

func splitField(f string) (domain.ItemID, domain.ClusterType, string, bool) {
	parts := strings.SplitN(f, fieldSep, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return domain.ItemID(parts[0]), domain.ClusterType(parts[1]), parts[2], true
}

// Open checks the connection.
func (s *Store) Open(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Close closes the redis client if the store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Support declares the capability for a cluster.
func (s *Store) Support(cluster domain.ClusterType) domain.Capability {
	return s.support.Of(cluster)
}

// Get retrieves an object, preferring the key's staged write.
func (s *Store) Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error) {
	if err := ports.CheckRead(backendName, s.support, "get", cluster, path); err != nil {
		return nil, err
	}
	if !tk.IsZero() {
		staged, err := s.client.HGet(ctx, s.txKey(tk), field(item, cluster, path)).Bytes()
		switch {
		case err == nil && len(staged) > 0:
			if staged[0] == delMark {
				return nil, domain.NotFound(string(cluster), path)
			}
			return staged[1:], nil
		case err != nil && !errors.Is(err, backend.Nil):
			return nil, domain.NewPersistencyError("get", cluster, backendName, path, err)
		}
	}

	val, err := s.client.Get(ctx, s.objectKey(item, cluster, path)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.NotFound(string(cluster), path)
		}
		return nil, domain.NewPersistencyError("get", cluster, backendName, path, err)
	}
	return val, nil
}

// Put stores an object, or stages it under the key.
func (s *Store) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(backendName, s.support, "put", cluster, path); err != nil {
		return err
	}
	if !tk.IsZero() {
		return s.stage(ctx, tk, field(item, cluster, path), append([]byte{putMark}, data...))
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.objectKey(item, cluster, path), data, 0)
	pipe.ZAdd(ctx, s.indexKey(item, cluster), backend.Z{Score: 0, Member: path})
	if _, err := pipe.Exec(ctx); err != nil {
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
		return s.stage(ctx, tk, field(item, cluster, path), []byte{delMark})
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.objectKey(item, cluster, path))
	pipe.ZRem(ctx, s.indexKey(item, cluster), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewPersistencyError("delete", cluster, backendName, path, err)
	}
	return nil
}

func (s *Store) stage(ctx context.Context, tk domain.TransactionKey, f string, value []byte) error {
	key := s.txKey(tk)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, f, value)
	if s.txTTL > 0 {
		pipe.Expire(ctx, key, s.txTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewPersistencyError("stage", "", backendName, tk.String(), err)
	}
	return nil
}

// List returns the object paths under prefix, overlaying the key's staged writes.
func (s *Store) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	if err := ports.CheckRead(backendName, s.support, "list", cluster, prefix); err != nil {
		return nil, err
	}
	members, err := s.client.ZRange(ctx, s.indexKey(item, cluster), 0, -1).Result()
	if err != nil {
		return nil, domain.NewPersistencyError("list", cluster, backendName, prefix, err)
	}
	set := make(map[string]bool, len(members))
	for _, p := range members {
		if domain.HasPathPrefix(p, prefix) {
			set[p] = true
		}
	}

	if !tk.IsZero() {
		staged, err := s.client.HGetAll(ctx, s.txKey(tk)).Result()
		if err != nil {
			return nil, domain.NewPersistencyError("list", cluster, backendName, prefix, err)
		}
		for f, v := range staged {
			i, c, p, ok := splitField(f)
			if !ok || i != item || c != cluster || !domain.HasPathPrefix(p, prefix) || v == "" {
				continue
			}
			set[p] = v[0] == putMark
		}
	}

	out := make([]string, 0, len(set))
	for p, present := range set {
		if present {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Begin opens a transaction scope. Staged writes create the hash lazily.
func (s *Store) Begin(ctx context.Context, tk domain.TransactionKey) error {
	return nil
}

// Commit applies the staged writes in one MULTI/EXEC and drops the staging hash.
func (s *Store) Commit(ctx context.Context, tk domain.TransactionKey) error {
	key := s.txKey(tk)
	staged, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.NewPersistencyError("commit", "", backendName, tk.String(), err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for f, v := range staged {
			item, cluster, path, ok := splitField(f)
			if !ok || v == "" {
				continue
			}
			if v[0] == delMark {
				pipe.Del(ctx, s.objectKey(item, cluster, path))
				pipe.ZRem(ctx, s.indexKey(item, cluster), path)
				continue
			}
			pipe.Set(ctx, s.objectKey(item, cluster, path), v[1:], 0)
			pipe.ZAdd(ctx, s.indexKey(item, cluster), backend.Z{Score: 0, Member: path})
		}
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return domain.NewPersistencyError("commit", "", backendName, tk.String(), err)
	}
	return nil
}

// Abort drops the staged writes.
func (s *Store) Abort(ctx context.Context, tk domain.TransactionKey) error {
	if err := s.client.Del(ctx, s.txKey(tk)).Err(); err != nil {
		return domain.NewPersistencyError("abort", "", backendName, tk.String(), err)
	}
	return nil
}
