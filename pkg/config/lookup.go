package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Lookup is the key→value configuration surface the kernel consumes.
// Keys are dotted, e.g. "storage.route.Outcome" or "item.Order.workflow".
type Lookup interface {
	Lookup(key string) (string, bool)
}

// MapLookup serves keys from a flat map.
type MapLookup map[string]string

func (m MapLookup) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Keys returns the keys under prefix, sorted.
func (m MapLookup) Keys(prefix string) []string {
	var out []string
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// EnvLookup serves keys from environment variables.
// "storage.route.Outcome" with prefix "STRATA" reads STRATA_STORAGE_ROUTE_OUTCOME.
type EnvLookup struct {
	Prefix string
}

func (e EnvLookup) Lookup(key string) (string, bool) {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if e.Prefix != "" {
		name = strings.ToUpper(e.Prefix) + "_" + name
	}
	return os.LookupEnv(name)
}

// Chain consults each lookup in order and returns the first hit.
type Chain []Lookup

func (c Chain) Lookup(key string) (string, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if v, ok := l.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Empty is a Lookup with no keys.
var Empty Lookup = MapLookup{}

// String returns the value for key or def.
func String(l Lookup, key, def string) string {
	if l == nil {
		return def
	}
	if v, ok := l.Lookup(key); ok {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when absent or malformed.
func Int(l Lookup, key string, def int) int {
	v := String(l, key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Duration returns the duration value for key, or def when absent or malformed.
func Duration(l Lookup, key string, def time.Duration) time.Duration {
	v := String(l, key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// List splits a comma-separated value, dropping blanks.
func List(l Lookup, key string) []string {
	v := String(l, key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
