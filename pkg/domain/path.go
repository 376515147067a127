package domain

import (
	"strconv"
	"strings"
)

// PathSeparator delimits segments of category-relative object paths and workflow paths.
const PathSeparator = "/"

// JoinPath joins non-empty segments with PathSeparator.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, PathSeparator)
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, PathSeparator)
}

// SplitPath splits a path into its non-empty segments.
func SplitPath(path string) []string {
	raw := strings.Split(path, PathSeparator)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasPathPrefix reports whether path lies under prefix, segment-wise.
// An empty prefix matches everything.
func HasPathPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, PathSeparator)
	if prefix == "" {
		return true
	}
	path = strings.Trim(path, PathSeparator)
	return path == prefix || strings.HasPrefix(path, prefix+PathSeparator)
}

// ParseSequenceID interprets a key as a non-negative sequence id.
// Only integer types and canonical decimal strings qualify: "0" is accepted,
// "01" and "00" are not, so a key maps to at most one stored event.
func ParseSequenceID(key any) (int, bool) {
	var id int
	switch v := key.(type) {
	case int:
		id = v
	case int32:
		id = int(v)
	case int64:
		id = int(v)
	case uint:
		id = int(v)
	case uint32:
		id = int(v)
	case uint64:
		id = int(v)
	case string:
		if v == "" || strings.TrimLeft(v, "0123456789") != "" {
			return 0, false
		}
		if len(v) > 1 && v[0] == '0' {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		id = n
	default:
		return 0, false
	}
	if id < 0 {
		return 0, false
	}
	return id, true
}
