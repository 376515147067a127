package storage

import (
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/strata/internal/adapters/file"
	"github.com/aretw0/strata/pkg/adapters/blob"
	"github.com/aretw0/strata/pkg/adapters/memory"
	"github.com/aretw0/strata/pkg/adapters/redis"
	"github.com/aretw0/strata/pkg/adapters/sql"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/persistence/middleware"
	"github.com/aretw0/strata/pkg/ports"
)

// SupportOf turns the configured capability table into a ports.Support.
// An empty table means read-write on every cluster.
func SupportOf(bc config.BackendConfig) (ports.Support, error) {
	if len(bc.Support) == 0 {
		return ports.FullSupport(), nil
	}
	s := make(ports.Support, len(bc.Support))
	for name, capability := range bc.Support {
		cluster, err := domain.ParseClusterType(name)
		if err != nil {
			return nil, err
		}
		c, err := domain.ParseCapability(capability)
		if err != nil {
			return nil, fmt.Errorf("backend %s: cluster %s: %w", bc.Name, cluster, err)
		}
		s[cluster] = c
	}
	return s, nil
}

// NewBackend builds the backend described by bc, wrapped with the redaction
// and encryption decorators it asks for. The backend is not opened.
func NewBackend(bc config.BackendConfig) (ports.ClusterStorage, error) {
	support, err := SupportOf(bc)
	if err != nil {
		return nil, err
	}

	var store ports.ClusterStorage
	switch bc.Kind {
	case "memory":
		store = memory.NewStore(memory.WithSupport(support))
	case "file":
		store = file.New(bc.DSN, file.WithSupport(support))
	case "redis":
		store, err = newRedis(bc, support)
	case "sqlite", "postgres":
		store, err = newSQL(bc, support)
	case "blob":
		if bc.DSN == "" {
			return nil, fmt.Errorf("%w: backend %s needs a bucket URL", domain.ErrInvalidData, bc.Name)
		}
		store = blob.New(bc.DSN, blob.WithPrefix(bc.Prefix), blob.WithSupport(support))
	default:
		return nil, fmt.Errorf("%w: backend %s has unknown kind %q", domain.ErrInvalidData, bc.Name, bc.Kind)
	}
	if err != nil {
		return nil, err
	}

	var mws []middleware.Middleware
	if bc.EncryptionKey != "" {
		key, err := middleware.ParseKey(bc.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	if len(bc.Redact) > 0 {
		pii, err := middleware.NewPIIMiddleware(bc.Redact)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", bc.Name, err)
		}
		mws = append(mws, pii)
	}
	return middleware.Wrap(store, mws...), nil
}

func newRedis(bc config.BackendConfig, support ports.Support) (ports.ClusterStorage, error) {
	opts := []redis.Option{redis.WithSupport(support)}
	if bc.Prefix != "" {
		opts = append(opts, redis.WithPrefix(bc.Prefix))
	}
	if !strings.HasPrefix(bc.DSN, "redis://") && !strings.HasPrefix(bc.DSN, "rediss://") {
		return redis.New(bc.DSN, "", 0, opts...), nil
	}
	parsed, err := goredis.ParseURL(bc.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: backend %s: %v", domain.ErrInvalidData, bc.Name, err)
	}
	return redis.New(parsed.Addr, parsed.Password, parsed.DB, opts...), nil
}

func newSQL(bc config.BackendConfig, support ports.Support) (ports.ClusterStorage, error) {
	dialect, err := sql.ParseDialect(bc.Kind)
	if err != nil {
		return nil, err
	}
	dsn := bc.DSN
	if dialect == sql.SQLite && !strings.HasPrefix(dsn, "file:") {
		dsn = sql.SQLiteDSN(dsn)
	}
	opts := []sql.Option{sql.WithSupport(support)}
	if bc.Prefix != "" {
		opts = append(opts, sql.WithTable(bc.Prefix))
	}
	return sql.New(dialect, dsn, opts...), nil
}

// FromConfig builds a manager over every configured backend, routed by
// cfg.Storage. Extra options are applied after the configured ones.
func FromConfig(cfg config.Config, opts ...Option) (*Manager, error) {
	all := make([]Option, 0, len(cfg.Backends)+len(opts)+1)
	for _, bc := range cfg.Backends {
		b, err := NewBackend(bc)
		if err != nil {
			return nil, err
		}
		all = append(all, WithBackend(bc.Name, b))
	}
	all = append(all, WithRoutes(cfg.Lookup()))
	all = append(all, opts...)
	return NewManager(all...)
}
