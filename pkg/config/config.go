package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/strata/pkg/domain"
)

// Config is the typed bootstrap configuration of a strata process.
type Config struct {
	LogLevel string          `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Lock     LockConfig      `mapstructure:"lock"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
	Backends []BackendConfig `mapstructure:"backends" validate:"dive"`
	Storage  StorageConfig   `mapstructure:"storage"`

	// Items binds item types to workflow descriptions, keyed by type name.
	Items map[string]ItemConfig `mapstructure:"item" validate:"dive"`
}

// LockConfig configures single-writer-per-item locking.
type LockConfig struct {
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// Redis enables distributed locking when set (host:port).
	Redis string `mapstructure:"redis" validate:"omitempty,hostname_port"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// BackendConfig declares one storage backend.
type BackendConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Kind string `mapstructure:"kind" validate:"required,oneof=memory file redis sqlite postgres blob"`
	// DSN is the kind-specific locator: directory, redis address, SQL DSN or bucket URL.
	DSN    string `mapstructure:"dsn"`
	Prefix string `mapstructure:"prefix"`

	// Support maps cluster names to capabilities ("read", "write", "rw").
	// Empty means read-write on every cluster.
	Support map[string]string `mapstructure:"support"`

	// EncryptionKey is a 32-byte AES key, hex encoded. Empty disables encryption.
	EncryptionKey string `mapstructure:"encryption_key" validate:"omitempty,hexadecimal,len=64"`
	// Redact lists JSON field names masked before writes.
	Redact []string `mapstructure:"redact"`
}

// ItemConfig binds an item type.
type ItemConfig struct {
	Workflow string `mapstructure:"workflow" validate:"required"`
}

// StorageConfig holds cluster routes.
type StorageConfig struct {
	// Route maps a cluster name to a comma-separated list of backend names.
	Route map[string]string `mapstructure:"route"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		Lock:     LockConfig{TTL: 30 * time.Second},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Tracing:  TracingConfig{ServiceName: "strata", SampleRatio: 1},
	}
}

// Decode maps a nested document onto out. Durations accept Go duration strings.
func Decode(tree map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(tree); err != nil {
		return fmt.Errorf("%w: decode config: %v", domain.ErrInvalidData, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross references between routes and backends.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidData, err)
	}

	names := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if names[b.Name] {
			return fmt.Errorf("%w: backends[%d].name is duplicated: %s", domain.ErrInvalidData, i, b.Name)
		}
		names[b.Name] = true
		for cluster, capability := range b.Support {
			if _, err := domain.ParseClusterType(cluster); err != nil {
				return fmt.Errorf("backends[%d].support: %w", i, err)
			}
			if _, err := domain.ParseCapability(capability); err != nil {
				return fmt.Errorf("backends[%d].support.%s: %w", i, cluster, err)
			}
		}
	}

	for cluster, route := range c.Storage.Route {
		if _, err := domain.ParseClusterType(cluster); err != nil {
			return fmt.Errorf("storage.route: %w", err)
		}
		for _, name := range List(MapLookup{"r": route}, "r") {
			if !names[name] {
				return fmt.Errorf("%w: storage.route.%s references unknown backend %q", domain.ErrInvalidData, cluster, name)
			}
		}
	}
	return nil
}

// Lookup exposes the routes and item bindings as dotted keys,
// the form consumed by the storage manager and the kernel.
func (c Config) Lookup() MapLookup {
	out := MapLookup{}
	for cluster, route := range c.Storage.Route {
		if ct, err := domain.ParseClusterType(cluster); err == nil {
			cluster = string(ct)
		}
		out["storage.route."+cluster] = route
	}
	for typ, item := range c.Items {
		out["item."+typ+".workflow"] = item.Workflow
	}
	return out
}
