package gateway

import "fmt"

// Strategy governs how a classified request is served relative to cache and
// origin. The zero value is CacheFirst.
type Strategy uint8

const (
	// CacheFirst serves cached entries and only reaches the origin on a miss.
	CacheFirst Strategy = iota
	// NetworkFirst prefers a fresh origin response and falls back to cache.
	NetworkFirst
	// StaleWhileRevalidate serves cached entries immediately and refreshes
	// them in the background.
	StaleWhileRevalidate
)

// ParseStrategy maps the configured strategy name onto its variant.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "cache-first":
		return CacheFirst, nil
	case "network-first":
		return NetworkFirst, nil
	case "stale-while-revalidate":
		return StaleWhileRevalidate, nil
	default:
		return CacheFirst, fmt.Errorf("gateway: unknown strategy %q", name)
	}
}

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}
