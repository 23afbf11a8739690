package cache

import (
	"strconv"
	"strings"
	"time"
)

// Directive holds the Cache-Control values relevant to caching decisions
// parsed from an origin response.
type Directive struct {
	MaxAge  *int
	SMaxAge *int
	NoCache bool
	NoStore bool
	Private bool
}

// ParseCacheControl extracts the supported directives from a Cache-Control
// header. Unknown directives are silently ignored.
func ParseCacheControl(header string) Directive {
	directive := Directive{}
	if header == "" {
		return directive
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			key := strings.TrimSpace(strings.ToLower(kv[0]))
			value := strings.TrimSpace(kv[1])
			switch key {
			case "max-age":
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			case "s-maxage":
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.SMaxAge = &seconds
				}
			}
			continue
		}
		switch strings.ToLower(part) {
		case "no-cache":
			directive.NoCache = true
		case "no-store":
			directive.NoStore = true
		case "private":
			directive.Private = true
		}
	}

	return directive
}

// TTL derives the cache lifetime from the directive. Don't-cache directives
// win, then s-maxage, then max-age. A nil result means no directive was
// present and the caller falls back to the configured category TTL.
func (d Directive) TTL() *time.Duration {
	if d.NoCache || d.NoStore || d.Private {
		zero := time.Duration(0)
		return &zero
	}
	if d.SMaxAge != nil {
		ttl := time.Duration(*d.SMaxAge) * time.Second
		return &ttl
	}
	if d.MaxAge != nil {
		ttl := time.Duration(*d.MaxAge) * time.Second
		return &ttl
	}
	return nil
}

// EffectiveTTL computes how long a captured response may live. When
// followCacheControl is set and the origin sent a directive, the directive
// wins; otherwise the category TTL applies. The server-wide ceiling caps
// either source, and 0 means the response is not cached at all.
func EffectiveTTL(categoryTTL, serverMax time.Duration, followCacheControl bool, headers map[string]string) time.Duration {
	ttl := categoryTTL
	if followCacheControl {
		if header, ok := lookupHeader(headers, "cache-control"); ok {
			if directiveTTL := ParseCacheControl(header).TTL(); directiveTTL != nil {
				ttl = *directiveTTL
			}
		}
	}
	if ttl <= 0 {
		return 0
	}
	if serverMax > 0 && serverMax < ttl {
		return serverMax
	}
	return ttl
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
