package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	ports.ClusterStorage
	patterns []*regexp.Regexp
	clusters map[domain.ClusterType]bool
}

// NewPIIMiddleware creates a middleware that masks values of JSON fields whose
// names match the patterns before they reach the backend. With clusters given,
// only objects of those clusters are masked. Non-JSON payloads pass through.
func NewPIIMiddleware(patternStrings []string, clusters ...domain.ClusterType) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: redact pattern %q: %v", domain.ErrInvalidData, p, err)
		}
		patterns[i] = re
	}
	var only map[domain.ClusterType]bool
	if len(clusters) > 0 {
		only = make(map[domain.ClusterType]bool, len(clusters))
		for _, c := range clusters {
			only[c] = true
		}
	}
	return func(next ports.ClusterStorage) ports.ClusterStorage {
		return &piiMiddleware{ClusterStorage: next, patterns: patterns, clusters: only}
	}, nil
}

func (m *piiMiddleware) Put(ctx context.Context, item domain.ItemID, cluster domain.ClusterType, path string, data []byte, tk domain.TransactionKey) error {
	if len(m.patterns) > 0 && (m.clusters == nil || m.clusters[cluster]) {
		data = m.mask(data)
	}
	return m.ClusterStorage.Put(ctx, item, cluster, path, data, tk)
}

// mask returns a masked copy of data. The caller's slice is never modified.
func (m *piiMiddleware) mask(data []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return data
	}
	if !maskValue(doc, m.patterns) {
		return data
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return data
	}
	return out
}

// Helpers

// maskValue masks in place and reports whether anything changed.
func maskValue(v any, patterns []*regexp.Regexp) bool {
	changed := false
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			if matchAny(k, patterns) {
				val[k] = Mask
				changed = true
				continue
			}
			if maskValue(sub, patterns) {
				changed = true
			}
		}
	case []any:
		for _, sub := range val {
			if maskValue(sub, patterns) {
				changed = true
			}
		}
	}
	return changed
}

func matchAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
