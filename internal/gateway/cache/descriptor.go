package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Descriptor is the canonical shape of one cacheable request. Method, URL,
// and the vary-relevant headers all participate in the cache key.
type Descriptor struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Hash computes a deterministic FNV-1a digest of the descriptor. Headers are
// sorted by name so the digest is stable; excludeHeaders removes
// session-specific headers (correlation IDs, tracing) case-insensitively.
func (d Descriptor) Hash(excludeHeaders ...string) string {
	h := fnv.New64a()

	exclude := make(map[string]bool, len(excludeHeaders))
	for _, name := range excludeHeaders {
		exclude[strings.ToLower(name)] = true
	}

	_, _ = h.Write([]byte(d.Method))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(d.URL))
	_, _ = h.Write([]byte("|"))

	if len(d.Headers) > 0 {
		keys := make([]string, 0, len(d.Headers))
		for k := range d.Headers {
			if exclude[strings.ToLower(k)] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s:%s", k, d.Headers[k]))
		}
		_, _ = h.Write([]byte(strings.Join(parts, "|")))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}
