package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aretw0/strata/internal/staging"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

// Dialect selects the driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" and "postgres" (or "postgresql").
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("%w: unknown sql dialect %q", domain.ErrInvalidData, s)
}

const defaultTable = "cluster_objects"

// Store implements ports.ClusterStorage on a relational database.
//
// Objects are rows of (item, cluster, path, data). Writes under a
// transaction key are staged in memory and applied in one database
// transaction on commit.
type Store struct {
	dialect Dialect
	dsn     string
	table   string
	support ports.Support
	pending *staging.Buffer

	db *sql.DB
}

type Option func(*Store)

// WithTable overrides the table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithSupport overrides the declared capabilities. The default is read-write on every cluster.
func WithSupport(support ports.Support) Option {
	return func(s *Store) {
		s.support = support
	}
}

// New creates a store. The connection is established by Open.
func New(dialect Dialect, dsn string, opts ...Option) *Store {
	s := &Store{
		dialect: dialect,
		dsn:     dsn,
		table:   defaultTable,
		support: ports.FullSupport(),
		pending: staging.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SQLiteDSN builds a modernc sqlite DSN for a database file with WAL and a busy timeout.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *Store) name() string {
	return string(s.dialect)
}

// bind rewrites "?" placeholders for the dialect.
func (s *Store) bind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Open connects, pings and creates the table if needed.
func (s *Store) Open(ctx context.Context) error {
	db, err := sql.Open(string(s.dialect), s.dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.dialect, err)
	}
	if s.dialect == SQLite {
		// One writer at a time; sqlite serializes them anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping %s: %w", s.dialect, err)
	}
	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == Postgres {
		blob = "BYTEA"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		item TEXT NOT NULL,
		cluster TEXT NOT NULL,
		path TEXT NOT NULL,
		data %s NOT NULL,
		PRIMARY KEY (item, cluster, path)
	)`, s.table, blob)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Support declares the capability for a cluster.
func (s *Store) Support(cluster domain.ClusterType) domain.Capability {
	return s.support.Of(cluster)
}

func (s *Store) conn(op string, cluster domain.ClusterType, path string) (*sql.DB, error) {
	if s.db == nil {
		return nil, domain.NewPersistencyError(op, cluster, s.name(), path, errors.New("store is not open"))
	}
	return s.db, nil
}

// Get retrieves an object, preferring the key's pending write.
func (s *Store) Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error) {
	if err := ports.CheckRead(s.name(), s.support, "get", cluster, path); err != nil {
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
	db, err := s.conn("get", cluster, path)
	if err != nil {
		return nil, err
	}

	var data []byte
	q := s.bind(fmt.Sprintf(`SELECT data FROM %s WHERE item = ? AND cluster = ? AND path = ?`, s.table))
	err = db.QueryRowContext(ctx, q, string(item), string(cluster), path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(string(cluster), path)
		}
		return nil, domain.NewPersistencyError("get", cluster, s.name(), path, err)
	}
	return data, nil
}

// Put stores an object, or stages it under the key.
func (s *Store) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(s.name(), s.support, "put", cluster, path); err != nil {
		return err
	}
	k := staging.Key{Item: item, Cluster: cluster, Path: path}
	if !tk.IsZero() {
		s.pending.Put(tk, k, data)
		return nil
	}
	db, err := s.conn("put", cluster, path)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.upsert(), string(item), string(cluster), path, data); err != nil {
		return domain.NewPersistencyError("put", cluster, s.name(), path, err)
	}
	return nil
}

func (s *Store) upsert() string {
	return s.bind(fmt.Sprintf(`INSERT INTO %s (item, cluster, path, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (item, cluster, path) DO UPDATE SET data = excluded.data`, s.table))
}

func (s *Store) remove() string {
	return s.bind(fmt.Sprintf(`DELETE FROM %s WHERE item = ? AND cluster = ? AND path = ?`, s.table))
}

// Delete removes an object, or stages the removal under the key.
func (s *Store) Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error {
	if err := ports.CheckWrite(s.name(), s.support, "delete", cluster, path); err != nil {
		return err
	}
	if !tk.IsZero() {
		s.pending.Delete(tk, staging.Key{Item: item, Cluster: cluster, Path: path})
		return nil
	}
	db, err := s.conn("delete", cluster, path)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, s.remove(), string(item), string(cluster), path); err != nil {
		return domain.NewPersistencyError("delete", cluster, s.name(), path, err)
	}
	return nil
}

// List returns the object paths under prefix.
func (s *Store) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	if err := ports.CheckRead(s.name(), s.support, "list", cluster, prefix); err != nil {
		return nil, err
	}
	db, err := s.conn("list", cluster, prefix)
	if err != nil {
		return nil, err
	}

	q := s.bind(fmt.Sprintf(`SELECT path FROM %s WHERE item = ? AND cluster = ? ORDER BY path`, s.table))
	rows, err := db.QueryContext(ctx, q, string(item), string(cluster))
	if err != nil {
		return nil, domain.NewPersistencyError("list", cluster, s.name(), prefix, err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, domain.NewPersistencyError("list", cluster, s.name(), prefix, err)
		}
		if domain.HasPathPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewPersistencyError("list", cluster, s.name(), prefix, err)
	}

	if !tk.IsZero() {
		return s.pending.Overlay(tk, item, cluster, prefix, paths), nil
	}
	return paths, nil
}

// Begin opens a transaction scope.
func (s *Store) Begin(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Begin(tk)
	return nil
}

// Commit applies the key's pending writes in one database transaction.
// On failure nothing is applied and the writes are discarded.
func (s *Store) Commit(ctx context.Context, tk domain.TransactionKey) (err error) {
	ops := s.pending.Take(tk)
	if len(ops) == 0 {
		return nil
	}
	db, err := s.conn("commit", "", tk.String())
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewPersistencyError("commit", "", s.name(), tk.String(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	upsert, remove := s.upsert(), s.remove()
	for _, op := range ops {
		k := op.Key
		if op.Deleted {
			_, err = tx.ExecContext(ctx, remove, string(k.Item), string(k.Cluster), k.Path)
		} else {
			_, err = tx.ExecContext(ctx, upsert, string(k.Item), string(k.Cluster), k.Path, op.Data)
		}
		if err != nil {
			return domain.NewPersistencyError("commit", k.Cluster, s.name(), k.Path, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.NewPersistencyError("commit", "", s.name(), tk.String(), err)
	}
	return nil
}

// Abort discards the key's pending writes.
func (s *Store) Abort(ctx context.Context, tk domain.TransactionKey) error {
	s.pending.Drop(tk)
	return nil
}
