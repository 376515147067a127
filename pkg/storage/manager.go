package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/ports"
)

// ErrAborted is returned for a key the manager aborted after a failed write.
var ErrAborted = errors.New("transaction key aborted after a failed write")

// RouteKey returns the configuration key naming the backends of a cluster.
func RouteKey(cluster domain.ClusterType) string {
	return "storage.route." + string(cluster)
}

type backend struct {
	name string
	impl ports.ClusterStorage
}

type route struct {
	names    []string
	explicit bool
}

// txState tracks the backends a key has touched, in join order.
type txState struct {
	mu     sync.Mutex
	joined []string
	set    map[string]bool
}

// Manager routes cluster operations to backends and enforces one
// transaction visibility contract across all of them.
type Manager struct {
	backends []backend
	byName   map[string]ports.ClusterStorage
	lookup   config.Lookup
	routes   map[domain.ClusterType]route

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu  sync.Mutex
	txs map[domain.TransactionKey]*txState
	// aborted holds keys the manager aborted itself until the caller closes them.
	aborted map[domain.TransactionKey]error
}

// Option configures the Manager.
type Option func(*Manager)

// WithBackend registers a backend under name. Registration order is the read preference order.
func WithBackend(name string, b ports.ClusterStorage) Option {
	return func(m *Manager) {
		m.backends = append(m.backends, backend{name: name, impl: b})
	}
}

// WithRoutes sets the configuration consulted for "storage.route.<Cluster>" keys.
func WithRoutes(l config.Lookup) Option {
	return func(m *Manager) {
		m.lookup = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records backend calls and transaction outcomes.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer opens a span per backend call.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// NewManager builds a manager and resolves the route of every cluster.
// Routes naming unknown backends fail with ErrInvalidData.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		byName: make(map[string]ports.ClusterStorage),
		lookup: config.Empty,
		routes: make(map[domain.ClusterType]route),
		logger: logging.NewNop(),
		tracer: observability.NopTracer(),
		txs:    make(map[domain.TransactionKey]*txState),

		aborted: make(map[domain.TransactionKey]error),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, b := range m.backends {
		if b.name == "" || b.impl == nil {
			return nil, fmt.Errorf("%w: backend requires a name and an implementation", domain.ErrInvalidData)
		}
		if _, dup := m.byName[b.name]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %q", domain.ErrInvalidData, b.name)
		}
		m.byName[b.name] = b.impl
	}

	for _, cluster := range domain.Clusters() {
		names := config.List(m.lookup, RouteKey(cluster))
		if len(names) == 0 {
			for _, b := range m.backends {
				if b.impl.Support(cluster) != domain.CapNone {
					names = append(names, b.name)
				}
			}
			m.routes[cluster] = route{names: names}
			continue
		}
		for _, n := range names {
			if _, ok := m.byName[n]; !ok {
				return nil, fmt.Errorf("%w: %s references unknown backend %q", domain.ErrInvalidData, RouteKey(cluster), n)
			}
		}
		m.routes[cluster] = route{names: names, explicit: true}
	}
	return m, nil
}

// Backends returns the registered backend names in registration order.
func (m *Manager) Backends() []string {
	names := make([]string, len(m.backends))
	for i, b := range m.backends {
		names[i] = b.name
	}
	return names
}

// Route returns the backends routed for a cluster.
func (m *Manager) Route(cluster domain.ClusterType) []string {
	return append([]string(nil), m.routes[cluster].names...)
}

// Capability reports what a backend declares for a cluster.
func (m *Manager) Capability(backendName string, cluster domain.ClusterType) (domain.Capability, error) {
	b, ok := m.byName[backendName]
	if !ok {
		return domain.CapNone, domain.NotFound("backend", backendName)
	}
	return b.Support(cluster), nil
}

// Open opens every backend in registration order. On the first failure the
// already-opened backends are closed again.
func (m *Manager) Open(ctx context.Context) error {
	for i, b := range m.backends {
		if err := b.impl.Open(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if cerr := m.backends[j].impl.Close(ctx); cerr != nil {
					m.logger.Warn("Failed to close backend after open failure", logging.Backend(m.backends[j].name), logging.Error(cerr))
				}
			}
			return persistency("open", "", b.name, "", err)
		}
		m.logger.Debug("Backend opened", logging.Backend(b.name))
	}
	return nil
}

// Close closes every backend, joining their errors.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for _, b := range m.backends {
		if err := b.impl.Close(ctx); err != nil {
			errs = append(errs, persistency("close", "", b.name, "", err))
		}
	}
	return errors.Join(errs...)
}

// Begin creates a transaction key. Backends join it on first use.
func (m *Manager) Begin() domain.TransactionKey {
	tk := domain.NewTransactionKey()
	m.state(tk, true)
	return tk
}

func (m *Manager) state(tk domain.TransactionKey, create bool) *txState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.txs[tk]
	if !ok && create {
		st = &txState{set: make(map[string]bool)}
		m.txs[tk] = st
	}
	return st
}

func (m *Manager) take(tk domain.TransactionKey) *txState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.txs[tk]
	delete(m.txs, tk)
	return st
}

// tombstone reports why a key was aborted by the manager, and forgets it when clear is set.
func (m *Manager) tombstone(tk domain.TransactionKey, clear bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cause, ok := m.aborted[tk]
	if ok && clear {
		delete(m.aborted, tk)
	}
	return cause
}

// Joined returns the backends a key has touched, in join order.
func (m *Manager) Joined(tk domain.TransactionKey) []string {
	st := m.state(tk, false)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.joined...)
}

func (m *Manager) join(ctx context.Context, tk domain.TransactionKey, name string, b ports.ClusterStorage) error {
	if tk.IsZero() {
		return nil
	}
	if cause := m.tombstone(tk, false); cause != nil {
		return persistency("begin", "", name, "", fmt.Errorf("%w: %v", ErrAborted, cause))
	}
	st := m.state(tk, true)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.set[name] {
		return nil
	}
	if err := b.Begin(ctx, tk); err != nil {
		return persistency("begin", "", name, "", err)
	}
	st.set[name] = true
	st.joined = append(st.joined, name)
	return nil
}

// Commit commits the key on every backend it touched, in join order, and
// forgets the key. When a backend fails, the remaining ones are aborted and
// the failure is returned; backends committed before it stay committed.
// A key the manager already aborted fails with ErrAborted.
func (m *Manager) Commit(ctx context.Context, tk domain.TransactionKey) error {
	if tk.IsZero() {
		return nil
	}
	if cause := m.tombstone(tk, true); cause != nil {
		return persistency("commit", "", "", "", fmt.Errorf("%w: %v", ErrAborted, cause))
	}
	st := m.take(tk)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	joined := append([]string(nil), st.joined...)
	st.mu.Unlock()

	for i, name := range joined {
		err := m.call(ctx, "commit", name, "", "", func(ctx context.Context) error {
			return m.byName[name].Commit(ctx, tk)
		})
		if err != nil {
			m.logger.Error("Commit failed, aborting remaining backends", logging.Tx(tk), logging.Backend(name), logging.Error(err))
			for _, rest := range joined[i+1:] {
				if aerr := m.byName[rest].Abort(ctx, tk); aerr != nil {
					m.logger.Warn("Abort after failed commit failed", logging.Tx(tk), logging.Backend(rest), logging.Error(aerr))
				}
			}
			m.metrics.ObserveTransaction(observability.OutcomeAbort)
			return persistency("commit", "", name, "", err)
		}
	}
	m.metrics.ObserveTransaction(observability.OutcomeCommit)
	m.logger.Debug("Transaction committed", logging.Tx(tk), slog.Int("backends", len(joined)))
	return nil
}

// Abort discards the key's writes on every backend it touched and forgets the key.
func (m *Manager) Abort(ctx context.Context, tk domain.TransactionKey) error {
	if tk.IsZero() {
		return nil
	}
	m.tombstone(tk, true)
	return m.abort(ctx, tk)
}

func (m *Manager) abort(ctx context.Context, tk domain.TransactionKey) error {
	st := m.take(tk)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	joined := append([]string(nil), st.joined...)
	st.mu.Unlock()

	var errs []error
	for _, name := range joined {
		err := m.call(ctx, "abort", name, "", "", func(ctx context.Context) error {
			return m.byName[name].Abort(ctx, tk)
		})
		if err != nil {
			errs = append(errs, persistency("abort", "", name, "", err))
		}
	}
	m.metrics.ObserveTransaction(observability.OutcomeAbort)
	m.logger.Debug("Transaction aborted", logging.Tx(tk), slog.Int("backends", len(joined)))
	return errors.Join(errs...)
}

// readers returns the backends serving reads of a cluster.
// An explicitly routed backend that cannot read is an error.
func (m *Manager) readers(op string, cluster domain.ClusterType, path string) ([]backend, error) {
	r := m.routes[cluster]
	var out []backend
	for _, name := range r.names {
		b := m.byName[name]
		if !b.Support(cluster).CanRead() {
			if r.explicit {
				return nil, persistency(op, cluster, name, path,
					fmt.Errorf("%w: backend declares %s", domain.ErrUnsupportedOperation, b.Support(cluster)))
			}
			continue
		}
		out = append(out, backend{name: name, impl: b})
	}
	if len(out) == 0 {
		return nil, persistency(op, cluster, "", path, fmt.Errorf("%w: no readable backend", domain.ErrUnsupportedOperation))
	}
	return out, nil
}

// writers returns the backends receiving writes of a cluster.
// An explicitly routed backend that cannot write is an error.
func (m *Manager) writers(op string, cluster domain.ClusterType, path string) ([]backend, error) {
	r := m.routes[cluster]
	var out []backend
	for _, name := range r.names {
		b := m.byName[name]
		if !b.Support(cluster).CanWrite() {
			if r.explicit {
				return nil, persistency(op, cluster, name, path,
					fmt.Errorf("%w: backend declares %s", domain.ErrUnsupportedOperation, b.Support(cluster)))
			}
			continue
		}
		out = append(out, backend{name: name, impl: b})
	}
	if len(out) == 0 {
		return nil, persistency(op, cluster, "", path, fmt.Errorf("%w: no writable backend", domain.ErrUnsupportedOperation))
	}
	return out, nil
}

// Get returns the object from the first routed backend holding it.
func (m *Manager) Get(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) ([]byte, error) {
	bs, err := m.readers("get", cluster, path)
	if err != nil {
		return nil, err
	}
	for _, b := range bs {
		if err := m.join(ctx, tk, b.name, b.impl); err != nil {
			return nil, err
		}
		var data []byte
		err := m.call(ctx, "get", b.name, cluster, path, func(ctx context.Context) error {
			var err error
			data, err = b.impl.Get(ctx, item, cluster, path, tk)
			return err
		})
		if err == nil {
			return data, nil
		}
		if !domain.IsNotFound(err) {
			return nil, persistency("get", cluster, b.name, path, err)
		}
	}
	return nil, domain.NotFound(string(cluster), path)
}

// List returns the union of the paths under prefix across routed backends, sorted.
func (m *Manager) List(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, prefix string, tk domain.TransactionKey) ([]string, error) {
	bs, err := m.readers("list", cluster, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := []string{}
	for _, b := range bs {
		if err := m.join(ctx, tk, b.name, b.impl); err != nil {
			return nil, err
		}
		var paths []string
		err := m.call(ctx, "list", b.name, cluster, prefix, func(ctx context.Context) error {
			var err error
			paths, err = b.impl.List(ctx, item, cluster, prefix, tk)
			return err
		})
		if err != nil {
			return nil, persistency("list", cluster, b.name, prefix, err)
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Put writes the object to every routed backend. Under a key, a failure
// aborts the key before the error is returned.
func (m *Manager) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	return m.write(ctx, "put", item, cluster, path, tk, func(ctx context.Context, b ports.ClusterStorage) error {
		return b.Put(ctx, item, cluster, path, data, tk)
	})
}

// Delete removes the object from every routed backend, with Put's failure handling.
func (m *Manager) Delete(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey) error {
	return m.write(ctx, "delete", item, cluster, path, tk, func(ctx context.Context, b ports.ClusterStorage) error {
		return b.Delete(ctx, item, cluster, path, tk)
	})
}

func (m *Manager) write(ctx context.Context, op string, item domain.ItemID, cluster domain.ClusterType, path string, tk domain.TransactionKey, fn func(context.Context, ports.ClusterStorage) error) error {
	err := m.fanOut(ctx, op, cluster, path, tk, fn)
	if err != nil && !tk.IsZero() {
		m.logger.Warn("Write failed, aborting transaction", logging.Item(item), logging.Cluster(cluster), logging.Path(path), logging.Tx(tk), logging.Error(err))
		if aerr := m.abort(ctx, tk); aerr != nil {
			m.logger.Error("Abort failed", logging.Tx(tk), logging.Error(aerr))
		}
		m.mu.Lock()
		if _, ok := m.aborted[tk]; !ok {
			m.aborted[tk] = err
		}
		m.mu.Unlock()
	}
	return err
}

func (m *Manager) fanOut(ctx context.Context, op string, cluster domain.ClusterType, path string, tk domain.TransactionKey, fn func(context.Context, ports.ClusterStorage) error) error {
	bs, err := m.writers(op, cluster, path)
	if err != nil {
		return err
	}
	for _, b := range bs {
		if err := m.join(ctx, tk, b.name, b.impl); err != nil {
			return err
		}
		err := m.call(ctx, op, b.name, cluster, path, func(ctx context.Context) error {
			return fn(ctx, b.impl)
		})
		if err != nil {
			return persistency(op, cluster, b.name, path, err)
		}
	}
	return nil
}

// call instruments one backend call.
func (m *Manager) call(ctx context.Context, op, name string, cluster domain.ClusterType, path string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, m.tracer, "storage."+op,
		attribute.String(observability.BackendKey, name),
		attribute.String(observability.ClusterKey, string(cluster)),
		attribute.String(observability.PathKey, path),
	)
	start := time.Now()
	err := fn(ctx)
	m.metrics.ObserveStorage(name, string(cluster), op, time.Since(start), err)
	if domain.IsNotFound(err) {
		observability.EndSpan(span, nil)
	} else {
		observability.EndSpan(span, err)
	}
	return err
}

// persistency wraps err as a PersistencyError unless it already is one.
func persistency(op string, cluster domain.ClusterType, name, path string, err error) error {
	var perr *domain.PersistencyError
	if errors.As(err, &perr) {
		return err
	}
	return domain.NewPersistencyError(op, cluster, name, path, err)
}
