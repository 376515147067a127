package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format names a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format from the file extension. Unknown extensions are read as YAML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// File is a parsed configuration document.
// It serves its values as a Lookup over dotted keys.
type File struct {
	Path string
	tree map[string]any
	flat MapLookup
}

// Load reads and parses a configuration file.
// A missing file yields an empty File, so callers can treat the file as optional.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &File{Path: path, tree: map[string]any{}, flat: MapLookup{}}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, err
	}
	f.Path = path
	return f, nil
}

// Parse decodes a configuration document in the given format.
func Parse(data []byte, format Format) (*File, error) {
	tree := map[string]any{}
	if len(strings.TrimSpace(string(data))) > 0 {
		switch format {
		case FormatTOML:
			if err := toml.Unmarshal(data, &tree); err != nil {
				return nil, fmt.Errorf("decode toml: %w", err)
			}
		case FormatYAML:
			if err := yaml.Unmarshal(data, &tree); err != nil {
				return nil, fmt.Errorf("decode yaml: %w", err)
			}
		default:
			return nil, fmt.Errorf("unsupported config format %q", format)
		}
	}
	flat := MapLookup{}
	flatten("", tree, flat)
	return &File{tree: tree, flat: flat}, nil
}

func (f *File) Lookup(key string) (string, bool) {
	return f.flat.Lookup(key)
}

// Keys returns every dotted key under prefix, sorted.
func (f *File) Keys(prefix string) []string {
	return f.flat.Keys(prefix)
}

// Tree returns the nested document.
func (f *File) Tree() map[string]any {
	return f.tree
}

// Config decodes and validates the typed bootstrap configuration,
// starting from Default.
func (f *File) Config() (Config, error) {
	cfg := Default()
	if err := Decode(f.tree, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flatten writes scalar leaves as dotted keys. Scalar lists become
// comma-separated values; lists of tables are indexed ("backends.0.name").
func flatten(prefix string, v any, out MapLookup) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(join(k), val[k], out)
		}
	case map[any]any:
		for k, child := range val {
			flatten(join(fmt.Sprint(k)), child, out)
		}
	case []any:
		if scalars(val) {
			parts := make([]string, len(val))
			for i, e := range val {
				parts[i] = scalar(e)
			}
			out[prefix] = strings.Join(parts, ",")
			return
		}
		for i, e := range val {
			flatten(join(strconv.Itoa(i)), e, out)
		}
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = scalar(val)
	}
}

func scalars(list []any) bool {
	for _, e := range list {
		switch e.(type) {
		case map[string]any, map[any]any, []any:
			return false
		}
	}
	return true
}

func scalar(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
